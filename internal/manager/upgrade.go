package manager

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/modacct/internal/ir"
	"github.com/roach88/modacct/internal/version"
)

// UpgradeRequest is one entry of an upgrade batch. A nil Payload means the
// caller supplied none; an explicit "{}" counts as supplied.
type UpgradeRequest struct {
	Module  ir.ModuleInfo `json:"module"`
	Payload ir.Payload    `json:"payload,omitempty"`
}

// UpgradeBatch validates every entry and returns the messages that perform
// the upgrades, followed by a FinalizeUpgrade addressed to the manager.
//
// An entry naming the manager itself upgrades the manager alone: such a batch
// must contain no other entry and produces a single self-migration with no
// finalize step.
func (m *Manager) UpgradeBatch(ctx context.Context, sender ir.Addr, batch []UpgradeRequest) ([]ir.Msg, error) {
	if err := m.requireOwner(sender); err != nil {
		return nil, err
	}
	if len(batch) == 0 {
		return nil, ir.NewError(ir.ErrCodeEmptyBatch, "upgrade batch is empty")
	}

	seen := make(map[ir.ModuleID]bool, len(batch))
	for _, req := range batch {
		if err := req.Module.Validate(); err != nil {
			return nil, err
		}
		id := req.Module.ID()
		if seen[id] {
			return nil, duplicateMigration(id)
		}
		seen[id] = true
	}
	if seen[ir.ManagerID] {
		if len(batch) > 1 {
			return nil, ir.ModuleError(ir.ErrCodeMixedSelfUpgrade, ir.ManagerID,
				"a manager upgrade must be the only entry of its batch")
		}
		return m.upgradeSelf(ctx, batch[0])
	}

	mc := NewMigrationContext(m.state, m.batchIDs.Generate())
	var msgs []ir.Msg
	for _, req := range batch {
		out, err := m.upgradeModule(ctx, mc, req)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, out...)
	}
	msgs = append(msgs, ir.FinalizeUpgrade{Manager: m.cfg.Self, BatchID: mc.BatchID()})

	slog.Debug("upgrade batch dispatched", "batch", mc.BatchID(), "entries", len(batch), "messages", len(msgs))
	return msgs, nil
}

// Finalize consumes the batch's migration context. For every migrated module
// it drops the dependents links of its old dependency list, re-checks its
// new declared dependencies against what is installed now, and links those.
func (m *Manager) Finalize(ctx context.Context, sender ir.Addr, batchID string) ([]ir.Msg, error) {
	if sender != m.cfg.Self {
		return nil, ir.NewError(ir.ErrCodeNotSelf, fmt.Sprintf("%s may not finalize upgrades", sender))
	}

	mc := NewMigrationContext(m.state, batchID)
	entries, err := mc.Entries(ctx)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if err := m.ledger.RemoveAsDependent(ctx, e.Module, e.Dependencies); err != nil {
			return nil, err
		}
		addr, err := m.book.Get(ctx, e.Module)
		if err != nil {
			return nil, err
		}
		deps, err := m.ledger.AssertInstallRequirements(ctx, e.Module, addr)
		if err != nil {
			return nil, err
		}
		if err := m.ledger.SetAsDependent(ctx, e.Module, deps); err != nil {
			return nil, err
		}
	}
	if err := mc.Clear(ctx); err != nil {
		return nil, err
	}

	slog.Debug("upgrade batch finalized", "batch", batchID, "migrated", len(entries))
	return nil, nil
}

func (m *Manager) upgradeSelf(ctx context.Context, req UpgradeRequest) ([]ir.Msg, error) {
	target, err := m.resolveTarget(ctx, req.Module, m.cfg.Self)
	if err != nil {
		return nil, err
	}
	ref, ok := target.Reference.(ir.AccountBaseRef)
	if !ok {
		return nil, ir.ModuleError(ir.ErrCodeInvalidReference, ir.ManagerID,
			fmt.Sprintf("manager must upgrade to account-base code, got %s", target.Reference.Kind()))
	}

	slog.Debug("manager self-upgrade", "version", target.Info.Version.Concrete())
	return []ir.Msg{ir.MigrateContract{Contract: m.cfg.Self, CodeID: ref.CodeID, Payload: payloadOrEmpty(req.Payload)}}, nil
}

func (m *Manager) upgradeModule(ctx context.Context, mc *MigrationContext, req UpgradeRequest) ([]ir.Msg, error) {
	id := req.Module.ID()
	addr, err := m.book.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	target, err := m.resolveTarget(ctx, req.Module, addr)
	if err != nil {
		return nil, err
	}
	newVersion := target.Info.Version.Concrete()

	switch ref := target.Reference.(type) {
	case ir.APIRef:
		if err := m.recordMigration(ctx, mc, id, newVersion); err != nil {
			return nil, err
		}
		return m.replaceAPI(ctx, id, addr, ref.Addr)
	case ir.AppRef:
		if err := m.recordMigration(ctx, mc, id, newVersion); err != nil {
			return nil, err
		}
		return []ir.Msg{ir.MigrateContract{Contract: addr, CodeID: ref.CodeID, Payload: payloadOrEmpty(req.Payload)}}, nil
	case ir.AccountBaseRef:
		return migrateWithPayload(id, addr, ref.CodeID, req.Payload)
	case ir.StandaloneRef:
		return migrateWithPayload(id, addr, ref.CodeID, req.Payload)
	case ir.NativeRef:
		return nil, ir.ModuleError(ir.ErrCodeNotUpgradeable, id, "native modules cannot be upgraded")
	default:
		return nil, ir.ModuleError(ir.ErrCodeNotUpgradeable, id, fmt.Sprintf("unknown reference type %T", ref))
	}
}

// resolveTarget resolves the registry entry for info and rejects concrete
// targets older than the version deployed at addr. Latest targets skip the
// check since they already name the highest registered version.
func (m *Manager) resolveTarget(ctx context.Context, info ir.ModuleInfo, addr ir.Addr) (ir.Module, error) {
	current, err := m.querier.ModuleData(ctx, addr)
	if err != nil {
		return ir.Module{}, err
	}
	target, err := m.registry.Resolve(ctx, info)
	if err != nil {
		return ir.Module{}, err
	}
	if info.Version.IsLatest() {
		return target, nil
	}

	cmp, err := version.Compare(target.Info.Version.Concrete(), current.Version)
	if err != nil {
		return ir.Module{}, err
	}
	if cmp < 0 {
		return ir.Module{}, ir.ModuleError(ir.ErrCodeOlderVersion, info.ID(),
			fmt.Sprintf("cannot downgrade from %s to %s", current.Version, target.Info.Version.Concrete())).
			WithDetail("current", current.Version)
	}
	return target, nil
}

func (m *Manager) recordMigration(ctx context.Context, mc *MigrationContext, id ir.ModuleID, newVersion string) error {
	deps, err := m.ledger.AssertMigrateRequirements(ctx, id, newVersion)
	if err != nil {
		return err
	}
	return mc.Add(ctx, id, deps)
}

// replaceAPI swaps an API singleton for another instance. Authorizations move
// from the old instance to the new one, the proxy whitelist is updated and
// the address book is rewritten by a final self-addressed message.
func (m *Manager) replaceAPI(ctx context.Context, id ir.ModuleID, oldAddr, newAddr ir.Addr) ([]ir.Msg, error) {
	proxy, err := m.proxy(ctx)
	if err != nil {
		return nil, err
	}
	authorized, err := m.querier.AuthorizedAddresses(ctx, oldAddr, proxy)
	if err != nil {
		return nil, err
	}

	return []ir.Msg{
		ir.UpdateAuthorizedAddresses{API: oldAddr, Proxy: proxy, Remove: authorized},
		ir.DetachDependencies{API: oldAddr, Proxy: proxy},
		ir.UpdateAuthorizedAddresses{API: newAddr, Proxy: proxy, Add: authorized},
		ir.RemoveModuleFromProxy{Proxy: proxy, Module: oldAddr},
		ir.AddModuleToProxy{Proxy: proxy, Module: newAddr},
		ir.UpdateModuleAddresses{Manager: m.cfg.Self, Updates: []ir.ModuleAddress{{ID: id, Addr: newAddr}}},
	}, nil
}

func migrateWithPayload(id ir.ModuleID, addr ir.Addr, codeID uint64, payload ir.Payload) ([]ir.Msg, error) {
	if payload == nil {
		return nil, ir.ModuleError(ir.ErrCodeMissingMigratePayload, id, "a migrate payload is required for this module kind")
	}
	return []ir.Msg{ir.MigrateContract{Contract: addr, CodeID: codeID, Payload: payload}}, nil
}

func payloadOrEmpty(p ir.Payload) ir.Payload {
	if p == nil {
		return ir.EmptyPayload()
	}
	return p
}
