package registry

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/modacct/internal/ir"
	"github.com/roach88/modacct/internal/store"
)

const (
	admin         ir.Addr = "test1admin00"
	platformAdmin ir.Addr = "test1platform"
	stranger      ir.Addr = "test1stranger"
)

func setup(t *testing.T) (*Registry, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(Config{Admin: admin, PlatformAdmin: platformAdmin}), s
}

func mod(t *testing.T, s string, ref ir.ModuleReference) ir.Module {
	t.Helper()
	info, err := ir.ParseModuleInfo(s)
	require.NoError(t, err)
	return ir.Module{Info: info, Reference: ref}
}

func add(t *testing.T, r *Registry, s *store.Store, sender ir.Addr, modules ...ir.Module) error {
	t.Helper()
	return s.Update(context.Background(), func(tx *store.Tx) error {
		return r.Add(context.Background(), tx, sender, modules)
	})
}

func resolve(t *testing.T, r *Registry, s *store.Store, info string) (ir.Module, error) {
	t.Helper()
	var m ir.Module
	err := s.View(context.Background(), func(tx *store.Tx) error {
		parsed, err := ir.ParseModuleInfo(info)
		require.NoError(t, err)
		m, err = r.Client(tx).Resolve(context.Background(), parsed)
		return err
	})
	return m, err
}

func TestAdd_ThenResolveConcrete(t *testing.T) {
	r, s := setup(t)
	require.NoError(t, add(t, r, s, admin, mod(t, "acme:lending@1.0.0", ir.AppRef{CodeID: 3})))

	m, err := resolve(t, r, s, "acme:lending@1.0.0")
	require.NoError(t, err)
	assert.Equal(t, ir.AppRef{CodeID: 3}, m.Reference)
	assert.Equal(t, "1.0.0", m.Info.Version.Concrete())
}

func TestResolve_Unregistered(t *testing.T) {
	r, s := setup(t)

	_, err := resolve(t, r, s, "acme:lending@1.0.0")
	assert.True(t, ir.HasCode(err, ir.ErrCodeNotFound), "got %v", err)

	_, err = resolve(t, r, s, "acme:lending")
	assert.True(t, ir.HasCode(err, ir.ErrCodeNotFound), "got %v", err)
}

func TestAdd_TwiceFailsAlreadyExists(t *testing.T) {
	r, s := setup(t)
	m := mod(t, "acme:oracle@1.2.0", ir.APIRef{Addr: "test1oracle0"})
	require.NoError(t, add(t, r, s, admin, m))

	err := add(t, r, s, admin, m)
	assert.True(t, ir.HasCode(err, ir.ErrCodeAlreadyExists), "got %v", err)
}

func TestAdd_YankedKeyFailsAlreadyExists(t *testing.T) {
	r, s := setup(t)
	m := mod(t, "acme:oracle@1.2.0", ir.APIRef{Addr: "test1oracle0"})
	require.NoError(t, add(t, r, s, admin, m))
	require.NoError(t, s.Update(context.Background(), func(tx *store.Tx) error {
		return r.Remove(context.Background(), tx, admin, m.Info, true)
	}))

	err := add(t, r, s, admin, m)
	require.Error(t, err)
	var e *ir.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, ir.ErrCodeAlreadyExists, e.Code)
	assert.Equal(t, "yanked", e.Details["table"])
}

func TestAdd_LatestRejected(t *testing.T) {
	r, s := setup(t)
	err := add(t, r, s, admin, ir.Module{
		Info:      ir.ModuleInfo{Provider: "acme", Name: "lending", Version: ir.Latest()},
		Reference: ir.AppRef{CodeID: 1},
	})
	assert.True(t, ir.HasCode(err, ir.ErrCodeInvalidVersion), "got %v", err)
}

func TestAdd_UnparseableVersionRejected(t *testing.T) {
	r, s := setup(t)
	err := add(t, r, s, admin, mod(t, "acme:lending@one", ir.AppRef{CodeID: 1}))
	assert.True(t, ir.HasCode(err, ir.ErrCodeInvalidVersion), "got %v", err)
}

func TestAdd_InvalidReference(t *testing.T) {
	r, s := setup(t)
	err := add(t, r, s, admin, mod(t, "acme:lending@1.0.0", ir.AppRef{}))
	assert.True(t, ir.HasCode(err, ir.ErrCodeInvalidReference), "got %v", err)
}

func TestAdd_Admission(t *testing.T) {
	r, s := setup(t)

	err := add(t, r, s, stranger, mod(t, "acme:lending@1.0.0", ir.AppRef{CodeID: 1}))
	assert.True(t, ir.HasCode(err, ir.ErrCodeNotAdmin), "stranger: %v", err)

	err = add(t, r, s, admin, mod(t, "platform:manager@1.0.0", ir.AccountBaseRef{CodeID: 1}))
	assert.True(t, ir.HasCode(err, ir.ErrCodeNotAdmin), "general admin on platform: %v", err)

	require.NoError(t, add(t, r, s, platformAdmin, mod(t, "platform:manager@1.0.0", ir.AccountBaseRef{CodeID: 1})))
	require.NoError(t, add(t, r, s, platformAdmin, mod(t, "acme:lending@1.0.0", ir.AppRef{CodeID: 1})))
}

func TestAdd_BatchIsAtomic(t *testing.T) {
	r, s := setup(t)
	require.NoError(t, add(t, r, s, admin, mod(t, "acme:oracle@1.0.0", ir.AppRef{CodeID: 1})))

	err := add(t, r, s, admin,
		mod(t, "acme:lending@1.0.0", ir.AppRef{CodeID: 2}),
		mod(t, "acme:oracle@1.0.0", ir.AppRef{CodeID: 1}),
	)
	require.True(t, ir.HasCode(err, ir.ErrCodeAlreadyExists), "got %v", err)

	_, err = resolve(t, r, s, "acme:lending@1.0.0")
	assert.True(t, ir.HasCode(err, ir.ErrCodeNotFound), "first entry must roll back: %v", err)
}

// Latest compares versions structurally. A byte-wise scan would pick 9.0.0.
func TestResolve_LatestUsesSemverOrder(t *testing.T) {
	r, s := setup(t)
	require.NoError(t, add(t, r, s, admin,
		mod(t, "acme:lending@9.0.0", ir.AppRef{CodeID: 9}),
		mod(t, "acme:lending@10.0.0", ir.AppRef{CodeID: 10}),
		mod(t, "acme:lending@10.0.0-rc.1", ir.AppRef{CodeID: 11}),
	))

	m, err := resolve(t, r, s, "acme:lending")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0", m.Info.Version.Concrete())
	assert.Equal(t, ir.AppRef{CodeID: 10}, m.Reference)
}

func TestResolve_LatestSkipsYanked(t *testing.T) {
	r, s := setup(t)
	require.NoError(t, add(t, r, s, admin,
		mod(t, "acme:lending@1.0.0", ir.AppRef{CodeID: 1}),
		mod(t, "acme:lending@2.0.0", ir.AppRef{CodeID: 2}),
	))
	require.NoError(t, s.Update(context.Background(), func(tx *store.Tx) error {
		return r.Remove(context.Background(), tx, admin, ir.ModuleInfo{Provider: "acme", Name: "lending", Version: ir.Version("2.0.0")}, true)
	}))

	m, err := resolve(t, r, s, "acme:lending@latest")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", m.Info.Version.Concrete())
}

func TestRemove(t *testing.T) {
	r, s := setup(t)
	ctx := context.Background()
	info := ir.ModuleInfo{Provider: "acme", Name: "lending", Version: ir.Version("1.0.0")}
	require.NoError(t, add(t, r, s, admin, ir.Module{Info: info, Reference: ir.AppRef{CodeID: 1}}))

	err := s.Update(ctx, func(tx *store.Tx) error {
		return r.Remove(ctx, tx, stranger, info, false)
	})
	assert.True(t, ir.HasCode(err, ir.ErrCodeNotAdmin), "got %v", err)

	require.NoError(t, s.Update(ctx, func(tx *store.Tx) error {
		return r.Remove(ctx, tx, admin, info, false)
	}))

	err = s.Update(ctx, func(tx *store.Tx) error {
		return r.Remove(ctx, tx, admin, info, false)
	})
	assert.True(t, ir.HasCode(err, ir.ErrCodeNotFound), "got %v", err)

	// Plain removal leaves no yanked record, so the key can be reused.
	require.NoError(t, add(t, r, s, admin, ir.Module{Info: info, Reference: ir.AppRef{CodeID: 2}}))
}

func TestList_Paging(t *testing.T) {
	r, s := setup(t)
	ctx := context.Background()

	var modules []ir.Module
	for i := 0; i < 25; i++ {
		modules = append(modules, ir.Module{
			Info:      ir.ModuleInfo{Provider: "acme", Name: "m", Version: ir.Version(versionFor(i))},
			Reference: ir.AppRef{CodeID: uint64(i + 1)},
		})
	}
	require.NoError(t, add(t, r, s, admin, modules...))

	err := s.View(ctx, func(tx *store.Tx) error {
		page, err := r.List(ctx, tx, Filter{}, "", 0)
		require.NoError(t, err)
		assert.Len(t, page.Modules, DefaultPageSize)
		assert.NotEmpty(t, page.Next)

		page, err = r.List(ctx, tx, Filter{}, "", 100)
		require.NoError(t, err)
		assert.Len(t, page.Modules, MaxPageSize)

		seen := 0
		token := ""
		for {
			page, err := r.List(ctx, tx, Filter{Provider: "acme"}, token, 7)
			require.NoError(t, err)
			seen += len(page.Modules)
			if page.Next == "" {
				break
			}
			token = page.Next
		}
		assert.Equal(t, 25, seen)
		return nil
	})
	require.NoError(t, err)
}

func TestList_FilterAndYanked(t *testing.T) {
	r, s := setup(t)
	ctx := context.Background()
	require.NoError(t, add(t, r, s, admin,
		mod(t, "acme:lending@1.0.0", ir.AppRef{CodeID: 1}),
		mod(t, "acme:oracle@1.0.0", ir.AppRef{CodeID: 2}),
		mod(t, "beta:swap@1.0.0", ir.AppRef{CodeID: 3}),
	))
	require.NoError(t, s.Update(ctx, func(tx *store.Tx) error {
		return r.Remove(ctx, tx, admin, ir.ModuleInfo{Provider: "beta", Name: "swap", Version: ir.Version("1.0.0")}, true)
	}))

	err := s.View(ctx, func(tx *store.Tx) error {
		page, err := r.List(ctx, tx, Filter{Provider: "acme", Name: "oracle"}, "", 0)
		require.NoError(t, err)
		require.Len(t, page.Modules, 1)
		assert.Equal(t, ir.ModuleID("acme:oracle"), page.Modules[0].Info.ID())
		assert.Empty(t, page.Next)

		page, err = r.List(ctx, tx, Filter{Provider: "beta"}, "", 0)
		require.NoError(t, err)
		assert.Empty(t, page.Modules)

		page, err = r.ListYanked(ctx, tx, Filter{}, "", 0)
		require.NoError(t, err)
		require.Len(t, page.Modules, 1)
		assert.Equal(t, ir.AppRef{CodeID: 3}, page.Modules[0].Reference)
		return nil
	})
	require.NoError(t, err)
}

func TestList_BadPageToken(t *testing.T) {
	r, s := setup(t)
	ctx := context.Background()
	err := s.View(ctx, func(tx *store.Tx) error {
		_, err := r.List(ctx, tx, Filter{}, "acme:lending", 0)
		return err
	})
	assert.True(t, ir.HasCode(err, ir.ErrCodeInvalidVersion), "got %v", err)
}

func versionFor(i int) string {
	return fmt.Sprintf("1.%d.0", i)
}
