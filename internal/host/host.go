package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/modacct/internal/ir"
	"github.com/roach88/modacct/internal/manager"
	"github.com/roach88/modacct/internal/registry"
	"github.com/roach88/modacct/internal/store"
	"github.com/roach88/modacct/internal/version"
)

// DefaultAddressPrefix prefixes derived addresses.
const DefaultAddressPrefix = "mod"

// Config configures the host's collaborators.
type Config struct {
	// Factory is the module factory's address. Managers accept Register
	// callbacks only from it.
	Factory ir.Addr
	// AddressPrefix prefixes every derived address.
	AddressPrefix string
	// MaxSteps bounds the messages one transaction may dispatch.
	MaxSteps int
}

// TokenGenerator generates unique ids. manager.UUIDv7Generator and
// manager.FixedGenerator implement it.
type TokenGenerator interface {
	Generate() string
}

// Host runs account transactions against a store.
type Host struct {
	store    *store.Store
	registry *registry.Registry
	cfg      Config
	batchIDs TokenGenerator
	txTokens TokenGenerator
}

// Option configures a Host.
type Option func(*Host)

// WithBatchIDs sets the upgrade batch id generator.
// Use a manager.FixedGenerator for deterministic traces.
func WithBatchIDs(gen TokenGenerator) Option {
	return func(h *Host) {
		h.batchIDs = gen
	}
}

// WithTxTokens sets the transaction token generator.
func WithTxTokens(gen TokenGenerator) Option {
	return func(h *Host) {
		h.txTokens = gen
	}
}

// New creates a host.
func New(ctx context.Context, s *store.Store, reg *registry.Registry, cfg Config, opts ...Option) (*Host, error) {
	if cfg.AddressPrefix == "" {
		cfg.AddressPrefix = DefaultAddressPrefix
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if err := ir.ValidateAddr(cfg.Factory); err != nil {
		return nil, fmt.Errorf("factory address: %w", err)
	}

	h := &Host{
		store:    s,
		registry: reg,
		cfg:      cfg,
		batchIDs: manager.UUIDv7Generator{},
		txTokens: manager.UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Config returns the host configuration after defaults.
func (h *Host) Config() Config { return h.cfg }

// Registry returns the registry the host resolves against.
func (h *Host) Registry() *registry.Registry { return h.registry }

// CodeSpec describes code to upload.
type CodeSpec struct {
	Module       ir.ModuleID     `json:"module"`
	Version      string          `json:"version"`
	Dependencies ir.Dependencies `json:"dependencies"`
}

// Validate checks the module id, the version and every requirement.
func (c CodeSpec) Validate() error {
	if err := c.Module.Validate(); err != nil {
		return err
	}
	if err := version.Validate(c.Version); err != nil {
		return err
	}
	for _, d := range c.Dependencies {
		if err := d.ID.Validate(); err != nil {
			return err
		}
		if d.ID == c.Module {
			return ir.ModuleError(ir.ErrCodeInvalidModuleID, c.Module, "a module cannot depend on itself")
		}
		if err := version.ValidateRequirement(d.VersionReq); err != nil {
			return err
		}
	}
	return nil
}

// UploadCode stores a code template and returns its id.
func (h *Host) UploadCode(ctx context.Context, spec CodeSpec) (uint64, error) {
	if err := spec.Validate(); err != nil {
		return 0, err
	}
	var id uint64
	err := h.store.Update(ctx, func(tx *store.Tx) error {
		var err error
		id, err = h.uploadCode(ctx, tx, spec)
		return err
	})
	return id, err
}

func (h *Host) uploadCode(ctx context.Context, tx *store.Tx, spec CodeSpec) (uint64, error) {
	id, err := tx.UploadCode(ctx, spec.Module, spec.Version, spec.Dependencies)
	if err != nil {
		return 0, err
	}
	slog.Debug("code uploaded", "code_id", id, "module", spec.Module, "version", spec.Version)
	return id, nil
}

// InstantiateShared deploys a singleton instance (an API or native module)
// with no admin, so it can never be migrated.
func (h *Host) InstantiateShared(ctx context.Context, codeID uint64, label string) (ir.Addr, error) {
	var addr ir.Addr
	err := h.store.Update(ctx, func(tx *store.Tx) error {
		var err error
		addr, err = h.instantiate(ctx, tx, codeID, "", label)
		return err
	})
	return addr, err
}

func (h *Host) instantiate(ctx context.Context, tx *store.Tx, codeID uint64, admin ir.Addr, label string) (ir.Addr, error) {
	if _, err := tx.Code(ctx, codeID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ir.NewError(ir.ErrCodeNotFound, fmt.Sprintf("code %d does not exist", codeID))
		}
		return "", err
	}
	n, err := tx.CountInstances(ctx)
	if err != nil {
		return "", err
	}
	addr := ir.DeriveAddr(h.cfg.AddressPrefix, label, n)
	if err := tx.CreateInstance(ctx, store.Instance{Addr: addr, CodeID: codeID, Admin: admin, Label: label}); err != nil {
		return "", err
	}
	slog.Debug("contract instantiated", "addr", addr, "code_id", codeID, "label", label)
	return addr, nil
}

// CreateAccount instantiates a manager and a proxy from the latest platform
// registry entries and records the proxy in the new account's address book.
// The manager administers both instances.
func (h *Host) CreateAccount(ctx context.Context, owner ir.Addr) (store.Account, error) {
	if err := ir.ValidateAddr(owner); err != nil {
		return store.Account{}, err
	}

	var account store.Account
	err := h.store.Update(ctx, func(tx *store.Tx) error {
		managerCode, err := h.accountBaseCode(ctx, tx, ir.ManagerID)
		if err != nil {
			return err
		}
		proxyCode, err := h.accountBaseCode(ctx, tx, ir.ProxyID)
		if err != nil {
			return err
		}

		n, err := tx.CountInstances(ctx)
		if err != nil {
			return err
		}
		managerAddr := ir.DeriveAddr(h.cfg.AddressPrefix, "account/manager", n)
		proxyAddr := ir.DeriveAddr(h.cfg.AddressPrefix, "account/proxy", n+1)
		for _, inst := range []store.Instance{
			{Addr: managerAddr, CodeID: managerCode, Admin: managerAddr, Label: "account/manager"},
			{Addr: proxyAddr, CodeID: proxyCode, Admin: managerAddr, Label: "account/proxy"},
		} {
			if err := tx.CreateInstance(ctx, inst); err != nil {
				return err
			}
		}

		id, err := tx.CreateAccount(ctx, owner, managerAddr, proxyAddr)
		if err != nil {
			return err
		}
		if err := tx.Account(id).SetModuleAddr(ctx, ir.ProxyID, proxyAddr); err != nil {
			return err
		}
		account = store.Account{ID: id, Owner: owner, Manager: managerAddr, Proxy: proxyAddr}
		return nil
	})
	if err != nil {
		return store.Account{}, err
	}
	slog.Info("account created", "account", account.ID, "owner", owner, "manager", account.Manager)
	return account, nil
}

func (h *Host) accountBaseCode(ctx context.Context, tx *store.Tx, id ir.ModuleID) (uint64, error) {
	info, err := ir.NewModuleInfo(id, ir.Latest())
	if err != nil {
		return 0, err
	}
	mod, err := h.registry.Resolve(ctx, tx, info)
	if err != nil {
		return 0, err
	}
	ref, ok := mod.Reference.(ir.AccountBaseRef)
	if !ok {
		return 0, ir.ModuleError(ir.ErrCodeInvalidReference, id,
			fmt.Sprintf("expected account-base code, got %s", mod.Reference.Kind()))
	}
	return ref.CodeID, nil
}

// AddModules registers modules in the registry on behalf of sender.
func (h *Host) AddModules(ctx context.Context, sender ir.Addr, modules []ir.Module) error {
	return h.store.Update(ctx, func(tx *store.Tx) error {
		return h.registry.Add(ctx, tx, sender, modules)
	})
}

// RemoveModule removes (and optionally yanks) a registry entry.
func (h *Host) RemoveModule(ctx context.Context, sender ir.Addr, info ir.ModuleInfo, yank bool) error {
	return h.store.Update(ctx, func(tx *store.Tx) error {
		return h.registry.Remove(ctx, tx, sender, info, yank)
	})
}

// Resolve resolves a registry entry.
func (h *Host) Resolve(ctx context.Context, info ir.ModuleInfo) (ir.Module, error) {
	var mod ir.Module
	err := h.store.View(ctx, func(tx *store.Tx) error {
		var err error
		mod, err = h.registry.Resolve(ctx, tx, info)
		return err
	})
	return mod, err
}

// ListModules pages through live registry entries, or yanked ones.
func (h *Host) ListModules(ctx context.Context, filter registry.Filter, pageToken string, pageSize int, yanked bool) (registry.Page, error) {
	var page registry.Page
	err := h.store.View(ctx, func(tx *store.Tx) error {
		var err error
		if yanked {
			page, err = h.registry.ListYanked(ctx, tx, filter, pageToken, pageSize)
		} else {
			page, err = h.registry.List(ctx, tx, filter, pageToken, pageSize)
		}
		return err
	})
	return page, err
}

// Accounts lists every account.
func (h *Host) Accounts(ctx context.Context) ([]store.Account, error) {
	var accounts []store.Account
	err := h.store.View(ctx, func(tx *store.Tx) error {
		var err error
		accounts, err = tx.ListAccounts(ctx)
		return err
	})
	return accounts, err
}

// Account returns one account.
func (h *Host) Account(ctx context.Context, id int64) (store.Account, error) {
	var account store.Account
	err := h.store.View(ctx, func(tx *store.Tx) error {
		var err error
		account, err = h.account(ctx, tx, id)
		return err
	})
	return account, err
}

// AccountModules lists an account's installed modules with their deployed
// versions, declared dependencies and recorded dependents.
func (h *Host) AccountModules(ctx context.Context, accountID int64) ([]manager.InstalledModule, error) {
	var modules []manager.InstalledModule
	err := h.store.View(ctx, func(tx *store.Tx) error {
		account, err := h.account(ctx, tx, accountID)
		if err != nil {
			return err
		}
		modules, err = h.manager(tx, account).ModuleInfos(ctx)
		return err
	})
	return modules, err
}

// Whitelist returns the addresses on an account's proxy whitelist.
func (h *Host) Whitelist(ctx context.Context, accountID int64) ([]ir.Addr, error) {
	var addrs []ir.Addr
	err := h.store.View(ctx, func(tx *store.Tx) error {
		account, err := h.account(ctx, tx, accountID)
		if err != nil {
			return err
		}
		addrs, err = tx.Whitelist(ctx, account.Proxy)
		return err
	})
	return addrs, err
}

// Log returns an account's message log in execution order.
func (h *Host) Log(ctx context.Context, accountID int64) ([]store.LogEntry, error) {
	var entries []store.LogEntry
	err := h.store.View(ctx, func(tx *store.Tx) error {
		var err error
		entries, err = tx.LogByAccount(ctx, accountID)
		return err
	})
	return entries, err
}

// TxLog returns one transaction's messages in execution order.
func (h *Host) TxLog(ctx context.Context, token string) ([]store.LogEntry, error) {
	var entries []store.LogEntry
	err := h.store.View(ctx, func(tx *store.Tx) error {
		var err error
		entries, err = tx.LogByTx(ctx, token)
		return err
	})
	return entries, err
}

func (h *Host) account(ctx context.Context, tx *store.Tx, id int64) (store.Account, error) {
	account, err := tx.GetAccount(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return store.Account{}, ir.NewError(ir.ErrCodeNotFound, fmt.Sprintf("account %d does not exist", id))
	}
	return account, err
}

func (h *Host) manager(tx *store.Tx, account store.Account) *manager.Manager {
	return manager.New(manager.Config{
		Owner:   account.Owner,
		Self:    account.Manager,
		Factory: h.cfg.Factory,
	}, manager.Deps{
		State:    tx.Account(account.ID),
		Registry: h.registry.Client(tx),
		Querier:  querier{tx: tx},
		BatchIDs: h.batchIDs,
	})
}
