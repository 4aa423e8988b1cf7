package manager

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/modacct/internal/ir"
)

// State is the storage one account's manager owns.
// *store.AccountState implements it; lookups of absent rows return
// store.ErrNotFound and duplicate migration entries store.ErrAlreadyExists.
type State interface {
	ModuleAddr(ctx context.Context, id ir.ModuleID) (ir.Addr, error)
	SetModuleAddr(ctx context.Context, id ir.ModuleID, addr ir.Addr) error
	DeleteModuleAddr(ctx context.Context, id ir.ModuleID) error
	ModuleAddrs(ctx context.Context) ([]ir.ModuleAddress, error)

	Dependents(ctx context.Context, id ir.ModuleID) ([]ir.ModuleID, error)
	AddDependent(ctx context.Context, id, dependent ir.ModuleID) error
	RemoveDependent(ctx context.Context, id, dependent ir.ModuleID) error

	AppendMigrationEntry(ctx context.Context, batchID string, entry ir.MigrationEntry) error
	MigrationContext(ctx context.Context, batchID string) ([]ir.MigrationEntry, error)
	ClearMigrationContext(ctx context.Context, batchID string) error
}

// RegistryClient is the version registry's query surface.
type RegistryClient interface {
	Resolve(ctx context.Context, info ir.ModuleInfo) (ir.Module, error)
}

// ModuleData is the read-only metadata every deployed module exposes.
type ModuleData struct {
	Module       ir.ModuleID     `json:"module"`
	Version      string          `json:"version"`
	Dependencies ir.Dependencies `json:"dependencies"`
}

// Querier reads deployed components. Queries never mutate state.
type Querier interface {
	// ModuleData returns the metadata of the module deployed at addr.
	ModuleData(ctx context.Context, addr ir.Addr) (ModuleData, error)
	// AuthorizedAddresses returns the addresses api accepts calls from on
	// behalf of proxy.
	AuthorizedAddresses(ctx context.Context, api, proxy ir.Addr) ([]ir.Addr, error)
}

// Config identifies the account and its collaborators.
type Config struct {
	// Owner may install, uninstall, execute and upgrade.
	Owner ir.Addr
	// Self is the manager's own address. Self-addressed messages target it.
	Self ir.Addr
	// Factory is the module factory; only it may call Register.
	Factory ir.Addr
}

// Deps are the manager's injected capabilities.
type Deps struct {
	State    State
	Registry RegistryClient
	Querier  Querier
	BatchIDs BatchIDGenerator
}

// Manager is one account's manager, bound to one host transaction.
type Manager struct {
	cfg      Config
	state    State
	registry RegistryClient
	querier  Querier
	batchIDs BatchIDGenerator
	book     *AddressBook
	ledger   *Ledger
}

// New creates a manager. A nil BatchIDs defaults to UUIDv7Generator.
func New(cfg Config, deps Deps) *Manager {
	if deps.BatchIDs == nil {
		deps.BatchIDs = UUIDv7Generator{}
	}
	book := NewAddressBook(deps.State)
	return &Manager{
		cfg:      cfg,
		state:    deps.State,
		registry: deps.Registry,
		querier:  deps.Querier,
		batchIDs: deps.BatchIDs,
		book:     book,
		ledger:   NewLedger(deps.State, book, deps.Querier),
	}
}

// AddressBook returns the account's address book.
func (m *Manager) AddressBook() *AddressBook { return m.book }

// Install resolves info in the registry and asks the factory to deploy it.
// The module is only recorded once the factory calls Register.
func (m *Manager) Install(ctx context.Context, sender ir.Addr, info ir.ModuleInfo, initPayload ir.Payload) ([]ir.Msg, error) {
	if err := m.requireOwner(sender); err != nil {
		return nil, err
	}
	if err := info.Validate(); err != nil {
		return nil, err
	}
	installed, err := m.book.Has(ctx, info.ID())
	if err != nil {
		return nil, err
	}
	if installed {
		return nil, ir.ModuleError(ir.ErrCodeAlreadyInstalled, info.ID(), "module is already installed")
	}

	mod, err := m.registry.Resolve(ctx, info)
	if err != nil {
		return nil, err
	}
	if mod.Reference.Kind() == ir.KindAccountBase {
		return nil, ir.ModuleError(ir.ErrCodeInvalidReference, info.ID(), "account-base modules cannot be installed")
	}

	slog.Debug("install requested", "module", mod.Info.String(), "kind", mod.Reference.Kind())
	return []ir.Msg{ir.CreateModule{
		Factory:     m.cfg.Factory,
		Module:      mod.Info,
		Reference:   mod.Reference,
		InitPayload: initPayload,
	}}, nil
}

// Register is the factory callback reporting where a module was deployed.
// App and API modules must satisfy their declared dependencies and are
// recorded as dependents of each one.
func (m *Manager) Register(ctx context.Context, sender ir.Addr, id ir.ModuleID, addr ir.Addr, ref ir.ModuleReference) ([]ir.Msg, error) {
	if sender != m.cfg.Factory {
		return nil, ir.NewError(ir.ErrCodeNotFactory, fmt.Sprintf("%s is not the module factory", sender))
	}
	if err := id.Validate(); err != nil {
		return nil, err
	}
	if err := ir.ValidateAddr(addr); err != nil {
		return nil, err
	}
	installed, err := m.book.Has(ctx, id)
	if err != nil {
		return nil, err
	}
	if installed {
		return nil, ir.ModuleError(ir.ErrCodeAlreadyInstalled, id, "module is already installed")
	}

	switch ref.(type) {
	case ir.AppRef, ir.APIRef:
		deps, err := m.ledger.AssertInstallRequirements(ctx, id, addr)
		if err != nil {
			return nil, err
		}
		if err := m.ledger.SetAsDependent(ctx, id, deps); err != nil {
			return nil, err
		}
	case ir.AccountBaseRef, ir.StandaloneRef, ir.NativeRef:
	default:
		return nil, ir.ModuleError(ir.ErrCodeInvalidReference, id, fmt.Sprintf("unknown reference type %T", ref))
	}

	if err := m.book.Upsert(ctx, []ir.ModuleAddress{{ID: id, Addr: addr}}); err != nil {
		return nil, err
	}
	proxy, err := m.proxy(ctx)
	if err != nil {
		return nil, err
	}

	slog.Debug("module registered", "module", id, "addr", addr, "kind", ref.Kind())
	return []ir.Msg{ir.AddModuleToProxy{Proxy: proxy, Module: addr}}, nil
}

// Uninstall removes a module nothing depends on and de-whitelists it.
func (m *Manager) Uninstall(ctx context.Context, sender ir.Addr, id ir.ModuleID) ([]ir.Msg, error) {
	if err := m.requireOwner(sender); err != nil {
		return nil, err
	}
	if id == ir.ProxyID || id == ir.ManagerID {
		return nil, ir.ModuleError(ir.ErrCodeCannotRemoveProtected, id, "account-base modules cannot be uninstalled")
	}

	addr, err := m.book.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := m.ledger.AssertRemovable(ctx, id); err != nil {
		return nil, err
	}
	data, err := m.querier.ModuleData(ctx, addr)
	if err != nil {
		return nil, err
	}
	if err := m.ledger.RemoveAsDependent(ctx, id, data.Dependencies); err != nil {
		return nil, err
	}
	if err := m.book.Remove(ctx, []ir.ModuleID{id}); err != nil {
		return nil, err
	}
	proxy, err := m.proxy(ctx)
	if err != nil {
		return nil, err
	}

	slog.Debug("module uninstalled", "module", id, "addr", addr)
	return []ir.Msg{ir.RemoveModuleFromProxy{Proxy: proxy, Module: addr}}, nil
}

// ExecOnModule forwards payload to an installed module. No dependency or
// version checks apply.
func (m *Manager) ExecOnModule(ctx context.Context, sender ir.Addr, id ir.ModuleID, payload ir.Payload) ([]ir.Msg, error) {
	if err := m.requireOwner(sender); err != nil {
		return nil, err
	}
	addr, err := m.book.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return []ir.Msg{ir.ExecuteContract{Contract: addr, Payload: payload}}, nil
}

// UpdateModuleAddresses upserts address book rows. Callable by the owner
// and by the manager itself, which uses it to close an API replacement.
func (m *Manager) UpdateModuleAddresses(ctx context.Context, sender ir.Addr, updates []ir.ModuleAddress) ([]ir.Msg, error) {
	if sender != m.cfg.Self {
		if err := m.requireOwner(sender); err != nil {
			return nil, err
		}
	}
	for _, u := range updates {
		if u.ID == ir.ProxyID && sender != m.cfg.Self {
			return nil, ir.ModuleError(ir.ErrCodeCannotRemoveProtected, u.ID, "the proxy address cannot be rewritten")
		}
	}
	if err := m.book.Upsert(ctx, updates); err != nil {
		return nil, err
	}
	return nil, nil
}

// ModuleInfos returns the address book joined with each module's deployed
// metadata, ordered by module id.
func (m *Manager) ModuleInfos(ctx context.Context) ([]InstalledModule, error) {
	entries, err := m.book.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]InstalledModule, 0, len(entries))
	for _, e := range entries {
		data, err := m.querier.ModuleData(ctx, e.Addr)
		if err != nil {
			return nil, err
		}
		dependents, err := m.ledger.Dependents(ctx, e.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, InstalledModule{
			ID:           e.ID,
			Addr:         e.Addr,
			Version:      data.Version,
			Dependencies: data.Dependencies,
			Dependents:   dependents,
		})
	}
	return out, nil
}

// InstalledModule is one row of ModuleInfos.
type InstalledModule struct {
	ID           ir.ModuleID     `json:"id"`
	Addr         ir.Addr         `json:"addr"`
	Version      string          `json:"version"`
	Dependencies ir.Dependencies `json:"dependencies"`
	Dependents   []ir.ModuleID   `json:"dependents"`
}

func (m *Manager) requireOwner(sender ir.Addr) error {
	if sender != m.cfg.Owner {
		return ir.NewError(ir.ErrCodeNotOwner, fmt.Sprintf("%s is not the account owner", sender))
	}
	return nil
}

func (m *Manager) proxy(ctx context.Context) (ir.Addr, error) {
	return m.book.Get(ctx, ir.ProxyID)
}
