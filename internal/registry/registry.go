package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/modacct/internal/ir"
	"github.com/roach88/modacct/internal/store"
	"github.com/roach88/modacct/internal/version"
)

// Paging limits for List and ListYanked.
const (
	DefaultPageSize = 10
	MaxPageSize     = 20
)

// Config holds the registry's admission rights.
type Config struct {
	// Admin may add and remove entries outside the platform namespace.
	Admin ir.Addr
	// PlatformAdmin may add and remove every entry, including the
	// platform namespace that holds account-base code.
	PlatformAdmin ir.Addr
}

// Filter narrows a listing. Empty fields match everything.
type Filter struct {
	Provider string `json:"provider,omitempty"`
	Name     string `json:"name,omitempty"`
	Version  string `json:"version,omitempty"`
}

// Page is one page of a listing. Next is empty on the last page.
type Page struct {
	Modules []ir.Module `json:"modules"`
	Next    string      `json:"next,omitempty"`
}

// Registry implements the version registry on top of a store transaction.
type Registry struct {
	cfg Config
}

// New creates a registry with the given admission rights.
func New(cfg Config) *Registry {
	return &Registry{cfg: cfg}
}

// Config returns the registry's admission rights.
func (r *Registry) Config() Config {
	return r.cfg
}

// Add registers modules. Each entry must carry a concrete, parseable version
// and a valid reference, and must not exist in the live or yanked table.
// Entries under the platform namespace require the platform admin.
// Validation runs over every entry before the first insert.
func (r *Registry) Add(ctx context.Context, tx *store.Tx, sender ir.Addr, modules []ir.Module) error {
	for _, m := range modules {
		if err := r.authorize(sender, m.Info.Provider); err != nil {
			return err
		}
		if err := validateEntry(m); err != nil {
			return err
		}
	}

	for _, m := range modules {
		key := store.KeyOf(m.Info)
		yanked, err := tx.HasModule(ctx, store.YankedModules, key)
		if err != nil {
			return err
		}
		if yanked {
			return alreadyExists(m.Info, "yanked")
		}
		err = tx.InsertModule(ctx, store.LiveModules, key, m.Reference)
		if errors.Is(err, store.ErrAlreadyExists) {
			return alreadyExists(m.Info, "live")
		}
		if err != nil {
			return err
		}
		slog.Debug("registry entry added", "module", m.Info.String(), "kind", m.Reference.Kind())
	}
	return nil
}

// Remove deletes a live entry. With yank set the entry is first copied into
// the yanked table so that it stays listable.
func (r *Registry) Remove(ctx context.Context, tx *store.Tx, sender ir.Addr, info ir.ModuleInfo, yank bool) error {
	if err := r.authorize(sender, info.Provider); err != nil {
		return err
	}
	if info.Version.IsLatest() {
		return ir.ModuleError(ir.ErrCodeInvalidVersion, info.ID(), "remove requires a concrete version")
	}

	key := store.KeyOf(info)
	ref, err := tx.GetModule(ctx, store.LiveModules, key)
	if errors.Is(err, store.ErrNotFound) {
		return notFound(info)
	}
	if err != nil {
		return err
	}

	if yank {
		err := tx.InsertModule(ctx, store.YankedModules, key, ref)
		if errors.Is(err, store.ErrAlreadyExists) {
			return alreadyExists(info, "yanked")
		}
		if err != nil {
			return err
		}
	}
	if err := tx.DeleteModule(ctx, store.LiveModules, key); err != nil {
		return err
	}
	slog.Debug("registry entry removed", "module", info.String(), "yank", yank)
	return nil
}

// Resolve returns the live entry info refers to. A Latest version resolves
// to the highest live version of (provider, name).
func (r *Registry) Resolve(ctx context.Context, tx *store.Tx, info ir.ModuleInfo) (ir.Module, error) {
	if err := info.Validate(); err != nil {
		return ir.Module{}, err
	}

	if info.Version.IsLatest() {
		versions, err := tx.ModuleVersions(ctx, store.LiveModules, info.Provider, info.Name)
		if err != nil {
			return ir.Module{}, err
		}
		best, ok := version.Max(versions)
		if !ok {
			return ir.Module{}, notFound(info)
		}
		info = info.WithVersion(best)
	}

	ref, err := tx.GetModule(ctx, store.LiveModules, store.KeyOf(info))
	if errors.Is(err, store.ErrNotFound) {
		return ir.Module{}, notFound(info)
	}
	if err != nil {
		return ir.Module{}, err
	}
	return ir.Module{Info: info, Reference: ref}, nil
}

// List pages through live entries matching filter.
func (r *Registry) List(ctx context.Context, tx *store.Tx, filter Filter, pageToken string, pageSize int) (Page, error) {
	return list(ctx, tx, store.LiveModules, filter, pageToken, pageSize)
}

// ListYanked pages through yanked entries matching filter.
func (r *Registry) ListYanked(ctx context.Context, tx *store.Tx, filter Filter, pageToken string, pageSize int) (Page, error) {
	return list(ctx, tx, store.YankedModules, filter, pageToken, pageSize)
}

// Client binds the registry's query surface to one transaction.
func (r *Registry) Client(tx *store.Tx) *Client {
	return &Client{reg: r, tx: tx}
}

// Client is the read-only registry capability handed to account managers.
type Client struct {
	reg *Registry
	tx  *store.Tx
}

// Resolve resolves info within the bound transaction.
func (c *Client) Resolve(ctx context.Context, info ir.ModuleInfo) (ir.Module, error) {
	return c.reg.Resolve(ctx, c.tx, info)
}

// List lists live entries within the bound transaction.
func (c *Client) List(ctx context.Context, filter Filter, pageToken string, pageSize int) (Page, error) {
	return c.reg.List(ctx, c.tx, filter, pageToken, pageSize)
}

func list(ctx context.Context, tx *store.Tx, table store.RegistryTable, filter Filter, pageToken string, pageSize int) (Page, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	var after *store.ModuleKey
	if pageToken != "" {
		info, err := ir.ParseModuleInfo(pageToken)
		if err != nil {
			return Page{}, fmt.Errorf("invalid page token %q: %w", pageToken, err)
		}
		if info.Version.IsLatest() {
			return Page{}, ir.NewError(ir.ErrCodeInvalidVersion, fmt.Sprintf("invalid page token %q: missing version", pageToken))
		}
		key := store.KeyOf(info)
		after = &key
	}

	modules, err := tx.ListModules(ctx, table, store.ModuleFilter{
		Provider: filter.Provider,
		Name:     filter.Name,
		Version:  filter.Version,
	}, after, pageSize)
	if err != nil {
		return Page{}, err
	}

	page := Page{Modules: modules}
	if len(modules) == pageSize {
		page.Next = modules[len(modules)-1].Info.String()
	}
	return page, nil
}

func (r *Registry) authorize(sender ir.Addr, provider string) error {
	if r.cfg.PlatformAdmin != "" && sender == r.cfg.PlatformAdmin {
		return nil
	}
	if provider == ir.PlatformNamespace {
		return ir.NewError(ir.ErrCodeNotAdmin,
			fmt.Sprintf("%s may not manage %q entries", sender, ir.PlatformNamespace))
	}
	if r.cfg.Admin == "" || sender != r.cfg.Admin {
		return ir.NewError(ir.ErrCodeNotAdmin, fmt.Sprintf("%s is not the registry admin", sender))
	}
	return nil
}

func validateEntry(m ir.Module) error {
	if err := m.Info.Validate(); err != nil {
		return err
	}
	if m.Info.Version.IsLatest() {
		return ir.ModuleError(ir.ErrCodeInvalidVersion, m.Info.ID(), "only concrete versions may be registered")
	}
	if err := version.Validate(m.Info.Version.Concrete()); err != nil {
		return err
	}
	return ir.ValidateReference(m.Reference)
}

func notFound(info ir.ModuleInfo) error {
	return ir.ModuleError(ir.ErrCodeNotFound, info.ID(), fmt.Sprintf("module %s is not registered", info))
}

func alreadyExists(info ir.ModuleInfo, table string) error {
	return ir.ModuleError(ir.ErrCodeAlreadyExists, info.ID(),
		fmt.Sprintf("module %s is already registered", info)).WithDetail("table", table)
}
