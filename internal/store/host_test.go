package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/modacct/internal/ir"
)

func TestCodesAndInstances(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	deps := ir.Dependencies{{ID: "acme:oracle", VersionReq: []string{"^1.0.0"}}}

	err := s.Update(ctx, func(tx *Tx) error {
		v1, err := tx.UploadCode(ctx, "acme:lending", "1.0.0", deps)
		require.NoError(t, err)
		v2, err := tx.UploadCode(ctx, "acme:lending", "2.0.0", nil)
		require.NoError(t, err)
		assert.NotEqual(t, v1, v2)

		code, err := tx.Code(ctx, v1)
		require.NoError(t, err)
		assert.Equal(t, ir.ModuleID("acme:lending"), code.Module)
		assert.Equal(t, deps, code.Dependencies)

		_, err = tx.Code(ctx, 999)
		assert.ErrorIs(t, err, ErrNotFound)

		inst := Instance{Addr: "test1lending", CodeID: v1, Admin: "test1manager", Label: "lending"}
		require.NoError(t, tx.CreateInstance(ctx, inst))
		assert.ErrorIs(t, tx.CreateInstance(ctx, inst), ErrAlreadyExists)

		require.NoError(t, tx.SetInstanceCode(ctx, inst.Addr, v2))
		got, err := tx.Instance(ctx, inst.Addr)
		require.NoError(t, err)
		assert.Equal(t, v2, got.CodeID)
		assert.Equal(t, ir.Addr("test1manager"), got.Admin)

		n, err := tx.CountInstances(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		assert.ErrorIs(t, tx.SetInstanceCode(ctx, "test1missing", v2), ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestWhitelist(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	err := s.Update(ctx, func(tx *Tx) error {
		require.NoError(t, tx.WhitelistModule(ctx, "test1proxy00", "test1bbbbbb"))
		require.NoError(t, tx.WhitelistModule(ctx, "test1proxy00", "test1aaaaaa"))
		require.NoError(t, tx.WhitelistModule(ctx, "test1proxy00", "test1aaaaaa"))

		list, err := tx.Whitelist(ctx, "test1proxy00")
		require.NoError(t, err)
		assert.Equal(t, []ir.Addr{"test1aaaaaa", "test1bbbbbb"}, list)

		ok, err := tx.IsWhitelisted(ctx, "test1proxy00", "test1aaaaaa")
		require.NoError(t, err)
		assert.True(t, ok)

		require.NoError(t, tx.UnwhitelistModule(ctx, "test1proxy00", "test1aaaaaa"))
		assert.ErrorIs(t, tx.UnwhitelistModule(ctx, "test1proxy00", "test1aaaaaa"), ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestAuthorizations(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	err := s.Update(ctx, func(tx *Tx) error {
		require.NoError(t, tx.Authorize(ctx, "test1oracle0", "test1proxy00", "test1lending"))
		require.NoError(t, tx.Authorize(ctx, "test1oracle0", "test1proxy00", "test1dex0000"))
		require.NoError(t, tx.Authorize(ctx, "test1oracle0", "test1other00", "test1lending"))

		got, err := tx.Authorizations(ctx, "test1oracle0", "test1proxy00")
		require.NoError(t, err)
		assert.Equal(t, []ir.Addr{"test1dex0000", "test1lending"}, got)

		require.NoError(t, tx.Deauthorize(ctx, "test1oracle0", "test1proxy00", "test1dex0000"))
		require.NoError(t, tx.ClearAuthorizations(ctx, "test1oracle0", "test1proxy00"))
		got, err = tx.Authorizations(ctx, "test1oracle0", "test1proxy00")
		require.NoError(t, err)
		assert.Empty(t, got)

		// Other proxies keep their grants.
		got, err = tx.Authorizations(ctx, "test1oracle0", "test1other00")
		require.NoError(t, err)
		assert.Equal(t, []ir.Addr{"test1lending"}, got)
		return nil
	})
	require.NoError(t, err)
}

func TestMessageLog(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	entries := []LogEntry{
		{Seq: 1, TxToken: "tx-a", AccountID: 1, Depth: 0, Type: ir.MsgExecuteContract, Sender: "test1owner00", Target: "test1manager", Body: "{}"},
		{Seq: 2, TxToken: "tx-a", AccountID: 1, Depth: 1, Type: ir.MsgMigrateContract, Sender: "test1manager", Target: "test1lending", Body: "{}"},
		{Seq: 3, TxToken: "tx-b", AccountID: 2, Depth: 0, Type: ir.MsgExecuteContract, Sender: "test1owner01", Target: "test1manage1", Body: "{}"},
	}

	err := s.Update(ctx, func(tx *Tx) error {
		for _, e := range entries {
			require.NoError(t, tx.AppendLog(ctx, e))
		}
		assert.ErrorIs(t, tx.AppendLog(ctx, entries[0]), ErrAlreadyExists)

		seq, err := tx.MaxLogSeq(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), seq)

		byTx, err := tx.LogByTx(ctx, "tx-a")
		require.NoError(t, err)
		assert.Equal(t, entries[:2], byTx)

		byAccount, err := tx.LogByAccount(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, entries[2:], byAccount)
		return nil
	})
	require.NoError(t, err)
}
