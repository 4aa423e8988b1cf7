package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/modacct/internal/ir"
)

func TestInsertModule_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	key := ModuleKey{Provider: "acme", Name: "lending", Version: "1.0.0"}

	mustUpdate(t, s, func(tx *Tx) error {
		return tx.InsertModule(ctx, LiveModules, key, ir.AppRef{CodeID: 7})
	})

	err := s.View(ctx, func(tx *Tx) error {
		ref, err := tx.GetModule(ctx, LiveModules, key)
		require.NoError(t, err)
		assert.Equal(t, ir.AppRef{CodeID: 7}, ref)
		return nil
	})
	require.NoError(t, err)
}

func TestInsertModule_Conflict(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	key := ModuleKey{Provider: "acme", Name: "oracle", Version: "1.0.0"}

	err := s.Update(ctx, func(tx *Tx) error {
		require.NoError(t, tx.InsertModule(ctx, LiveModules, key, ir.APIRef{Addr: "test1oracle0"}))
		return tx.InsertModule(ctx, LiveModules, key, ir.APIRef{Addr: "test1oracle1"})
	})
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestGetModule_NotFound(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	err := s.View(ctx, func(tx *Tx) error {
		_, err := tx.GetModule(ctx, YankedModules, ModuleKey{Provider: "a", Name: "b", Version: "1.0.0"})
		return err
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteModule(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	key := ModuleKey{Provider: "acme", Name: "lending", Version: "1.0.0"}

	mustUpdate(t, s, func(tx *Tx) error {
		return tx.InsertModule(ctx, LiveModules, key, ir.AppRef{CodeID: 1})
	})
	mustUpdate(t, s, func(tx *Tx) error {
		return tx.DeleteModule(ctx, LiveModules, key)
	})

	err := s.Update(ctx, func(tx *Tx) error {
		return tx.DeleteModule(ctx, LiveModules, key)
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestModuleVersions(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	mustUpdate(t, s, func(tx *Tx) error {
		for _, v := range []string{"9.0.0", "10.0.0", "1.2.0"} {
			key := ModuleKey{Provider: "acme", Name: "lending", Version: v}
			if err := tx.InsertModule(ctx, LiveModules, key, ir.AppRef{CodeID: 1}); err != nil {
				return err
			}
		}
		return tx.InsertModule(ctx, LiveModules, ModuleKey{Provider: "acme", Name: "oracle", Version: "3.0.0"}, ir.AppRef{CodeID: 2})
	})

	err := s.View(ctx, func(tx *Tx) error {
		versions, err := tx.ModuleVersions(ctx, LiveModules, "acme", "lending")
		require.NoError(t, err)
		// String order, not semver precedence.
		assert.Equal(t, []string{"1.2.0", "10.0.0", "9.0.0"}, versions)
		return nil
	})
	require.NoError(t, err)
}

func TestListModules_PagingAndFilter(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	keys := []ModuleKey{
		{Provider: "acme", Name: "lending", Version: "1.0.0"},
		{Provider: "acme", Name: "lending", Version: "2.0.0"},
		{Provider: "acme", Name: "oracle", Version: "1.0.0"},
		{Provider: "beta", Name: "swap", Version: "0.1.0"},
	}
	mustUpdate(t, s, func(tx *Tx) error {
		for i, k := range keys {
			if err := tx.InsertModule(ctx, LiveModules, k, ir.AppRef{CodeID: uint64(i + 1)}); err != nil {
				return err
			}
		}
		return nil
	})

	err := s.View(ctx, func(tx *Tx) error {
		page, err := tx.ListModules(ctx, LiveModules, ModuleFilter{}, nil, 2)
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, keys[0].Info(), page[0].Info)
		assert.Equal(t, keys[1].Info(), page[1].Info)

		last := KeyOf(page[1].Info)
		page, err = tx.ListModules(ctx, LiveModules, ModuleFilter{}, &last, 2)
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, keys[2].Info(), page[0].Info)
		assert.Equal(t, keys[3].Info(), page[1].Info)

		page, err = tx.ListModules(ctx, LiveModules, ModuleFilter{Provider: "acme", Name: "lending"}, nil, 10)
		require.NoError(t, err)
		assert.Len(t, page, 2)

		page, err = tx.ListModules(ctx, YankedModules, ModuleFilter{}, nil, 10)
		require.NoError(t, err)
		assert.Empty(t, page)
		return nil
	})
	require.NoError(t, err)
}
