package manager

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/modacct/internal/ir"
)

func TestInstall_EmitsCreateModule(t *testing.T) {
	e := newTestEnv(t)
	e.publish("acme:lending@1.0.0", ir.AppRef{CodeID: 4})
	e.publish("acme:lending@1.1.0", ir.AppRef{CodeID: 5})

	msgs, err := e.msgs(func(ctx context.Context, m *Manager) ([]ir.Msg, error) {
		return m.Install(ctx, owner, info("acme:lending"), ir.MustPayload(`{"rate":3}`))
	})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, ir.CreateModule{
		Factory:     factory,
		Module:      info("acme:lending@1.1.0"),
		Reference:   ir.AppRef{CodeID: 5},
		InitPayload: ir.MustPayload(`{"rate":3}`),
	}, msgs[0])
}

func TestInstall_Rejections(t *testing.T) {
	e := newTestEnv(t)
	e.publish("acme:lending@1.0.0", ir.AppRef{CodeID: 4})
	e.publish("platform:proxy@2.0.0", ir.AccountBaseRef{CodeID: 9})
	e.install("acme:oracle", "1.0.0")

	tests := []struct {
		name   string
		sender ir.Addr
		module string
		code   ir.ErrorCode
	}{
		{"not owner", stranger, "acme:lending", ir.ErrCodeNotOwner},
		{"already installed", owner, "acme:oracle", ir.ErrCodeAlreadyInstalled},
		{"unregistered", owner, "acme:missing", ir.ErrCodeNotFound},
		{"account base", owner, "platform:proxy@2.0.0", ir.ErrCodeAlreadyInstalled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.msgs(func(ctx context.Context, m *Manager) ([]ir.Msg, error) {
				return m.Install(ctx, tt.sender, info(tt.module), nil)
			})
			assert.True(t, ir.HasCode(err, tt.code), "got %v", err)
		})
	}
}

func TestInstall_AccountBaseRejected(t *testing.T) {
	e := newTestEnv(t)
	e.publish("platform:vault@1.0.0", ir.AccountBaseRef{CodeID: 9})

	_, err := e.msgs(func(ctx context.Context, m *Manager) ([]ir.Msg, error) {
		return m.Install(ctx, owner, info("platform:vault"), nil)
	})
	assert.True(t, ir.HasCode(err, ir.ErrCodeInvalidReference), "got %v", err)
}

func TestRegister_RecordsDependents(t *testing.T) {
	e := newTestEnv(t)
	oracle := e.install("acme:oracle", "1.2.0")

	addr := ir.DeriveAddr("test", "lending", 0)
	e.deploy(addr, "acme:lending", "1.0.0", dep("acme:oracle", ">=1.0.0", "<2.0.0"))
	msgs, err := e.msgs(func(ctx context.Context, m *Manager) ([]ir.Msg, error) {
		return m.Register(ctx, factory, "acme:lending", addr, ir.AppRef{CodeID: 1})
	})
	require.NoError(t, err)
	assert.Equal(t, []ir.Msg{ir.AddModuleToProxy{Proxy: proxyAddr, Module: addr}}, msgs)
	assert.Equal(t, []ir.ModuleID{"acme:lending"}, e.dependents("acme:oracle"))

	got, err := e.addr("acme:lending")
	require.NoError(t, err)
	assert.Equal(t, addr, got)
	assert.NotEqual(t, oracle, got)
}

func TestRegister_Rejections(t *testing.T) {
	e := newTestEnv(t)
	e.install("acme:oracle", "2.1.0")
	addr := ir.DeriveAddr("test", "lending", 0)

	t.Run("not factory", func(t *testing.T) {
		e.deploy(addr, "acme:lending", "1.0.0")
		_, err := e.msgs(func(ctx context.Context, m *Manager) ([]ir.Msg, error) {
			return m.Register(ctx, owner, "acme:lending", addr, ir.AppRef{CodeID: 1})
		})
		assert.True(t, ir.HasCode(err, ir.ErrCodeNotFactory), "got %v", err)
	})

	t.Run("dependency not installed", func(t *testing.T) {
		e.deploy(addr, "acme:lending", "1.0.0", dep("acme:pricefeed", ">=1.0.0"))
		_, err := e.msgs(func(ctx context.Context, m *Manager) ([]ir.Msg, error) {
			return m.Register(ctx, factory, "acme:lending", addr, ir.AppRef{CodeID: 1})
		})
		assert.True(t, ir.HasCode(err, ir.ErrCodeDependencyNotInstalled), "got %v", err)
	})

	t.Run("requirement not met", func(t *testing.T) {
		e.deploy(addr, "acme:lending", "1.0.0", dep("acme:oracle", ">=1.0.0", "<2.0.0"))
		_, err := e.msgs(func(ctx context.Context, m *Manager) ([]ir.Msg, error) {
			return m.Register(ctx, factory, "acme:lending", addr, ir.AppRef{CodeID: 1})
		})
		require.True(t, ir.HasCode(err, ir.ErrCodeRequirementNotMet), "got %v", err)
		var ierr *ir.Error
		require.ErrorAs(t, err, &ierr)
		assert.Equal(t, "<2.0.0", ierr.Details["comparator"])
		assert.Equal(t, "acme:lending", ierr.Details["dependent"])

		_, err = e.addr("acme:lending")
		assert.Error(t, err, "failed register must not write the address book")
		assert.Empty(t, e.dependents("acme:oracle"))
	})

	t.Run("standalone skips dependency checks", func(t *testing.T) {
		e.deploy(addr, "acme:lending", "1.0.0", dep("acme:pricefeed", ">=1.0.0"))
		_, err := e.msgs(func(ctx context.Context, m *Manager) ([]ir.Msg, error) {
			return m.Register(ctx, factory, "acme:lending", addr, ir.StandaloneRef{CodeID: 1})
		})
		require.NoError(t, err)
		assert.Empty(t, e.dependents("acme:pricefeed"))
	})
}

func TestUninstall(t *testing.T) {
	e := newTestEnv(t)
	e.install("acme:oracle", "1.2.0")
	lending := e.install("acme:lending", "1.0.0", dep("acme:oracle", ">=1.0.0"))

	_, err := e.msgs(func(ctx context.Context, m *Manager) ([]ir.Msg, error) {
		return m.Uninstall(ctx, owner, "acme:oracle")
	})
	require.True(t, ir.HasCode(err, ir.ErrCodeHasDependents), "got %v", err)
	var ierr *ir.Error
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, "acme:lending", ierr.Details["dependents"])

	_, err = e.msgs(func(ctx context.Context, m *Manager) ([]ir.Msg, error) {
		return m.Uninstall(ctx, stranger, "acme:lending")
	})
	assert.True(t, ir.HasCode(err, ir.ErrCodeNotOwner), "got %v", err)

	msgs, err := e.msgs(func(ctx context.Context, m *Manager) ([]ir.Msg, error) {
		return m.Uninstall(ctx, owner, "acme:lending")
	})
	require.NoError(t, err)
	assert.Equal(t, []ir.Msg{ir.RemoveModuleFromProxy{Proxy: proxyAddr, Module: lending}}, msgs)
	assert.Empty(t, e.dependents("acme:oracle"))

	_, err = e.msgs(func(ctx context.Context, m *Manager) ([]ir.Msg, error) {
		return m.Uninstall(ctx, owner, "acme:oracle")
	})
	require.NoError(t, err)

	_, err = e.msgs(func(ctx context.Context, m *Manager) ([]ir.Msg, error) {
		return m.Uninstall(ctx, owner, "acme:oracle")
	})
	assert.True(t, ir.HasCode(err, ir.ErrCodeNotFound), "got %v", err)
}

func TestUninstall_ProxyAlwaysProtected(t *testing.T) {
	e := newTestEnv(t)
	require.NoError(t, e.run(func(ctx context.Context, m *Manager) error {
		return m.state.AddDependent(ctx, ir.ProxyID, "acme:lending")
	}))

	for _, id := range []ir.ModuleID{ir.ProxyID, ir.ManagerID} {
		_, err := e.msgs(func(ctx context.Context, m *Manager) ([]ir.Msg, error) {
			return m.Uninstall(ctx, owner, id)
		})
		assert.True(t, ir.HasCode(err, ir.ErrCodeCannotRemoveProtected), "%s: %v", id, err)
	}
}

func TestExecOnModule(t *testing.T) {
	e := newTestEnv(t)
	oracle := e.install("acme:oracle", "1.2.0")

	msgs, err := e.msgs(func(ctx context.Context, m *Manager) ([]ir.Msg, error) {
		return m.ExecOnModule(ctx, owner, "acme:oracle", ir.MustPayload(`{"ping":true}`))
	})
	require.NoError(t, err)
	assert.Equal(t, []ir.Msg{ir.ExecuteContract{Contract: oracle, Payload: ir.MustPayload(`{"ping":true}`)}}, msgs)

	_, err = e.msgs(func(ctx context.Context, m *Manager) ([]ir.Msg, error) {
		return m.ExecOnModule(ctx, owner, "acme:unknown", ir.EmptyPayload())
	})
	assert.True(t, ir.HasCode(err, ir.ErrCodeNotFound), "got %v", err)
}

func TestUpdateModuleAddresses(t *testing.T) {
	e := newTestEnv(t)
	e.install("acme:oracle", "1.2.0")
	next := ir.DeriveAddr("test", "oracle-next", 0)

	_, err := e.msgs(func(ctx context.Context, m *Manager) ([]ir.Msg, error) {
		return m.UpdateModuleAddresses(ctx, stranger, []ir.ModuleAddress{{ID: "acme:oracle", Addr: next}})
	})
	assert.True(t, ir.HasCode(err, ir.ErrCodeNotOwner), "got %v", err)

	_, err = e.msgs(func(ctx context.Context, m *Manager) ([]ir.Msg, error) {
		return m.UpdateModuleAddresses(ctx, owner, []ir.ModuleAddress{{ID: "acme:oracle", Addr: "Not An Address"}})
	})
	assert.True(t, ir.HasCode(err, ir.ErrCodeInvalidAddress), "got %v", err)

	_, err = e.msgs(func(ctx context.Context, m *Manager) ([]ir.Msg, error) {
		return m.UpdateModuleAddresses(ctx, self, []ir.ModuleAddress{{ID: "acme:oracle", Addr: next}})
	})
	require.NoError(t, err)
	got, err := e.addr("acme:oracle")
	require.NoError(t, err)
	assert.Equal(t, next, got)
}

func TestAddressBook_RemoveProxy(t *testing.T) {
	e := newTestEnv(t)
	err := e.run(func(ctx context.Context, m *Manager) error {
		return m.AddressBook().Remove(ctx, []ir.ModuleID{"acme:lending", ir.ProxyID})
	})
	assert.True(t, ir.HasCode(err, ir.ErrCodeCannotRemoveProtected), "got %v", err)
}

func TestModuleInfos(t *testing.T) {
	e := newTestEnv(t)
	e.install("acme:oracle", "1.2.0")
	e.install("acme:lending", "1.0.0", dep("acme:oracle", ">=1.0.0"))

	var infos []InstalledModule
	require.NoError(t, e.run(func(ctx context.Context, m *Manager) error {
		var err error
		infos, err = m.ModuleInfos(ctx)
		return err
	}))
	require.Len(t, infos, 3)
	assert.Equal(t, ir.ModuleID("acme:lending"), infos[0].ID)
	assert.Equal(t, ir.ModuleID("acme:oracle"), infos[1].ID)
	assert.Equal(t, []ir.ModuleID{"acme:lending"}, infos[1].Dependents)
	assert.Equal(t, ir.ProxyID, infos[2].ID)
}
