package manager

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/modacct/internal/ir"
	"github.com/roach88/modacct/internal/registry"
	"github.com/roach88/modacct/internal/store"
)

var (
	owner     = ir.DeriveAddr("test", "owner", 0)
	self      = ir.DeriveAddr("test", "manager", 0)
	proxyAddr = ir.DeriveAddr("test", "proxy", 0)
	factory   = ir.DeriveAddr("test", "factory", 0)
	regAdmin  = ir.DeriveAddr("test", "admin", 0)
	stranger  = ir.DeriveAddr("test", "stranger", 0)
)

// fakeQuerier serves deployed module metadata from memory.
type fakeQuerier struct {
	modules    map[ir.Addr]ModuleData
	authorized map[[2]ir.Addr][]ir.Addr
}

func (q *fakeQuerier) ModuleData(_ context.Context, addr ir.Addr) (ModuleData, error) {
	d, ok := q.modules[addr]
	if !ok {
		return ModuleData{}, ir.NewError(ir.ErrCodeNotFound, "no contract at "+string(addr))
	}
	return d, nil
}

func (q *fakeQuerier) AuthorizedAddresses(_ context.Context, api, proxy ir.Addr) ([]ir.Addr, error) {
	return q.authorized[[2]ir.Addr{api, proxy}], nil
}

type testEnv struct {
	t         *testing.T
	store     *store.Store
	reg       *registry.Registry
	querier   *fakeQuerier
	accountID int64
	batchIDs  *FixedGenerator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	e := &testEnv{
		t:     t,
		store: s,
		reg:   registry.New(registry.Config{Admin: regAdmin, PlatformAdmin: regAdmin}),
		querier: &fakeQuerier{
			modules: map[ir.Addr]ModuleData{
				self:      {Module: ir.ManagerID, Version: "1.0.0", Dependencies: ir.Dependencies{}},
				proxyAddr: {Module: ir.ProxyID, Version: "1.0.0", Dependencies: ir.Dependencies{}},
			},
			authorized: map[[2]ir.Addr][]ir.Addr{},
		},
		batchIDs: NewFixedGenerator("batch-1", "batch-2", "batch-3", "batch-4"),
	}

	ctx := context.Background()
	require.NoError(t, s.Update(ctx, func(tx *store.Tx) error {
		id, err := tx.CreateAccount(ctx, owner, self, proxyAddr)
		if err != nil {
			return err
		}
		e.accountID = id
		return tx.Account(id).SetModuleAddr(ctx, ir.ProxyID, proxyAddr)
	}))
	return e
}

// run executes fn with a manager bound to one committed transaction. An
// error rolls the transaction back.
func (e *testEnv) run(fn func(ctx context.Context, m *Manager) error) error {
	ctx := context.Background()
	return e.store.Update(ctx, func(tx *store.Tx) error {
		m := New(Config{Owner: owner, Self: self, Factory: factory}, Deps{
			State:    tx.Account(e.accountID),
			Registry: e.reg.Client(tx),
			Querier:  e.querier,
			BatchIDs: e.batchIDs,
		})
		return fn(ctx, m)
	})
}

// msgs runs fn and returns the messages it produced.
func (e *testEnv) msgs(fn func(ctx context.Context, m *Manager) ([]ir.Msg, error)) ([]ir.Msg, error) {
	var out []ir.Msg
	err := e.run(func(ctx context.Context, m *Manager) error {
		var err error
		out, err = fn(ctx, m)
		return err
	})
	return out, err
}

// publish adds a registry entry.
func (e *testEnv) publish(info string, ref ir.ModuleReference) {
	e.t.Helper()
	parsed, err := ir.ParseModuleInfo(info)
	require.NoError(e.t, err)
	require.NoError(e.t, e.store.Update(context.Background(), func(tx *store.Tx) error {
		return e.reg.Add(context.Background(), tx, regAdmin, []ir.Module{{Info: parsed, Reference: ref}})
	}))
}

// deploy records the metadata of a contract at addr.
func (e *testEnv) deploy(addr ir.Addr, id ir.ModuleID, version string, deps ...ir.Dependency) {
	if deps == nil {
		deps = ir.Dependencies{}
	}
	e.querier.modules[addr] = ModuleData{Module: id, Version: version, Dependencies: deps}
}

// install deploys and registers an App module through the factory callback.
func (e *testEnv) install(id ir.ModuleID, version string, deps ...ir.Dependency) ir.Addr {
	e.t.Helper()
	addr := ir.DeriveAddr("test", string(id), 0)
	e.deploy(addr, id, version, deps...)
	_, err := e.msgs(func(ctx context.Context, m *Manager) ([]ir.Msg, error) {
		return m.Register(ctx, factory, id, addr, ir.AppRef{CodeID: 1})
	})
	require.NoError(e.t, err)
	return addr
}

func (e *testEnv) dependents(id ir.ModuleID) []ir.ModuleID {
	e.t.Helper()
	var out []ir.ModuleID
	require.NoError(e.t, e.store.View(context.Background(), func(tx *store.Tx) error {
		var err error
		out, err = tx.Account(e.accountID).Dependents(context.Background(), id)
		return err
	}))
	return out
}

func (e *testEnv) addr(id ir.ModuleID) (ir.Addr, error) {
	var out ir.Addr
	err := e.store.View(context.Background(), func(tx *store.Tx) error {
		var err error
		out, err = tx.Account(e.accountID).ModuleAddr(context.Background(), id)
		return err
	})
	return out, err
}

func (e *testEnv) pendingBatches() []string {
	e.t.Helper()
	var out []string
	require.NoError(e.t, e.store.View(context.Background(), func(tx *store.Tx) error {
		var err error
		out, err = tx.Account(e.accountID).PendingMigrationBatches(context.Background())
		return err
	}))
	return out
}

func dep(id ir.ModuleID, req ...string) ir.Dependency {
	return ir.Dependency{ID: id, VersionReq: req}
}

func info(s string) ir.ModuleInfo {
	i, err := ir.ParseModuleInfo(s)
	if err != nil {
		panic(err)
	}
	return i
}
