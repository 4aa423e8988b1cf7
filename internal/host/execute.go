package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/modacct/internal/ir"
	"github.com/roach88/modacct/internal/manager"
	"github.com/roach88/modacct/internal/store"
)

// Call is a request an external sender makes to an account's manager.
type Call interface {
	call()
}

// Install asks the manager to install a module.
type Install struct {
	Module      ir.ModuleInfo
	InitPayload ir.Payload
}

// Uninstall asks the manager to uninstall a module.
type Uninstall struct {
	Module ir.ModuleID
}

// ExecOnModule forwards a payload to an installed module.
type ExecOnModule struct {
	Module  ir.ModuleID
	Payload ir.Payload
}

// Upgrade submits an upgrade batch.
type Upgrade struct {
	Batch []manager.UpgradeRequest
}

// UpdateModuleAddresses rewrites address book rows.
type UpdateModuleAddresses struct {
	Updates []ir.ModuleAddress
}

func (Install) call()               {}
func (Uninstall) call()             {}
func (ExecOnModule) call()          {}
func (Upgrade) call()               {}
func (UpdateModuleAddresses) call() {}

// Result describes a committed transaction.
type Result struct {
	TxToken string           `json:"tx"`
	Trace   []store.LogEntry `json:"trace"`
}

// Execute runs call from sender against the account in one transaction.
// Any error, whether returned by the manager or raised while dispatching
// its messages, rolls back every write of the transaction.
func (h *Host) Execute(ctx context.Context, accountID int64, sender ir.Addr, c Call) (Result, error) {
	run := &execution{
		host:  h,
		token: h.txTokens.Generate(),
		quota: NewQuotaEnforcer(h.cfg.MaxSteps),
	}

	err := h.store.Update(ctx, func(tx *store.Tx) error {
		account, err := h.account(ctx, tx, accountID)
		if err != nil {
			return err
		}
		run.tx, run.account = tx, account
		if run.seq, err = startLogSeq(ctx, tx); err != nil {
			return err
		}

		msgs, err := run.invoke(ctx, sender, c)
		if err != nil {
			return err
		}
		if err := run.dispatchAll(ctx, account.Manager, msgs, 1); err != nil {
			return err
		}

		pending, err := tx.Account(account.ID).PendingMigrationBatches(ctx)
		if err != nil {
			return err
		}
		if len(pending) > 0 {
			return fmt.Errorf("upgrade batches left unfinalized: %v", pending)
		}
		return nil
	})
	if err != nil {
		slog.Warn("transaction aborted", "tx", run.token, "account", accountID, "steps", run.quota.Current(), "error", err)
		return Result{}, err
	}

	slog.Info("transaction committed", "tx", run.token, "account", accountID, "messages", len(run.trace))
	return Result{TxToken: run.token, Trace: run.trace}, nil
}

// execution is the state of one transaction.
type execution struct {
	host    *Host
	tx      *store.Tx
	account store.Account
	token   string
	quota   *QuotaEnforcer
	seq     *logSeq
	trace   []store.LogEntry
}

func (x *execution) manager() *manager.Manager {
	return x.host.manager(x.tx, x.account)
}

func (x *execution) invoke(ctx context.Context, sender ir.Addr, c Call) ([]ir.Msg, error) {
	m := x.manager()
	switch c := c.(type) {
	case Install:
		return m.Install(ctx, sender, c.Module, c.InitPayload)
	case Uninstall:
		return m.Uninstall(ctx, sender, c.Module)
	case ExecOnModule:
		return m.ExecOnModule(ctx, sender, c.Module, c.Payload)
	case Upgrade:
		return m.UpgradeBatch(ctx, sender, c.Batch)
	case UpdateModuleAddresses:
		return m.UpdateModuleAddresses(ctx, sender, c.Updates)
	default:
		return nil, ir.NewError(ir.ErrCodeUnknownMessage, fmt.Sprintf("unknown call %T", c))
	}
}

// dispatchAll runs msgs in order. Messages a handler produces run to
// completion before the next sibling starts.
func (x *execution) dispatchAll(ctx context.Context, sender ir.Addr, msgs []ir.Msg, depth int) error {
	for _, msg := range msgs {
		if err := x.dispatch(ctx, sender, msg, depth); err != nil {
			return err
		}
	}
	return nil
}

func (x *execution) dispatch(ctx context.Context, sender ir.Addr, msg ir.Msg, depth int) error {
	if err := x.quota.Check(x.token); err != nil {
		return err
	}
	if err := x.record(ctx, sender, msg, depth); err != nil {
		return err
	}

	children, childSender, err := x.handle(ctx, sender, msg)
	if err != nil {
		return fmt.Errorf("%s to %s: %w", msg.Type(), msg.Target(), err)
	}
	return x.dispatchAll(ctx, childSender, children, depth+1)
}

func (x *execution) record(ctx context.Context, sender ir.Addr, msg ir.Msg, depth int) error {
	fields, err := ir.EncodeMsg(msg)
	if err != nil {
		return err
	}
	body, err := ir.MarshalCanonical(fields)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Type(), err)
	}

	entry := store.LogEntry{
		Seq:       x.seq.next(),
		TxToken:   x.token,
		AccountID: x.account.ID,
		Depth:     depth,
		Type:      msg.Type(),
		Sender:    sender,
		Target:    msg.Target(),
		Body:      string(body),
	}
	if err := x.tx.AppendLog(ctx, entry); err != nil {
		return err
	}
	x.trace = append(x.trace, entry)
	slog.Debug("message dispatched", "tx", x.token, "seq", entry.Seq, "depth", depth, "type", msg.Type(), "target", msg.Target())
	return nil
}

// handle applies msg and returns any follow-up messages with their sender.
func (x *execution) handle(ctx context.Context, sender ir.Addr, msg ir.Msg) ([]ir.Msg, ir.Addr, error) {
	self := x.account.Manager
	switch m := msg.(type) {
	case ir.CreateModule:
		return x.createModule(ctx, sender, m)
	case ir.AddModuleToProxy:
		if err := x.requireProxyAdmin(sender, m.Proxy); err != nil {
			return nil, "", err
		}
		return nil, "", x.tx.WhitelistModule(ctx, m.Proxy, m.Module)
	case ir.RemoveModuleFromProxy:
		if err := x.requireProxyAdmin(sender, m.Proxy); err != nil {
			return nil, "", err
		}
		err := x.tx.UnwhitelistModule(ctx, m.Proxy, m.Module)
		if errors.Is(err, store.ErrNotFound) {
			return nil, "", ir.NewError(ir.ErrCodeNotFound, fmt.Sprintf("%s is not whitelisted", m.Module))
		}
		return nil, "", err
	case ir.MigrateContract:
		return nil, "", x.migrate(ctx, sender, m)
	case ir.ExecuteContract:
		// Leaf module business logic is not modelled; the call only has to
		// reach a live contract.
		_, err := querier{tx: x.tx}.instance(ctx, m.Contract)
		return nil, "", err
	case ir.UpdateAuthorizedAddresses:
		return nil, "", x.updateAuthorized(ctx, sender, m)
	case ir.DetachDependencies:
		return nil, "", x.detach(ctx, sender, m)
	case ir.UpdateModuleAddresses:
		if m.Manager != self {
			return nil, "", x.wrongManager(m.Manager)
		}
		out, err := x.manager().UpdateModuleAddresses(ctx, sender, m.Updates)
		return out, self, err
	case ir.FinalizeUpgrade:
		if m.Manager != self {
			return nil, "", x.wrongManager(m.Manager)
		}
		out, err := x.manager().Finalize(ctx, sender, m.BatchID)
		return out, self, err
	default:
		return nil, "", ir.NewError(ir.ErrCodeUnknownMessage, fmt.Sprintf("unknown message type %T", msg))
	}
}

// createModule plays the module factory: code variants get a fresh
// instance administered by the account's manager, address variants bind the
// existing singleton. The factory then reports back through Register.
func (x *execution) createModule(ctx context.Context, sender ir.Addr, m ir.CreateModule) ([]ir.Msg, ir.Addr, error) {
	if m.Factory != x.host.cfg.Factory {
		return nil, "", ir.NewError(ir.ErrCodeNotFactory, fmt.Sprintf("%s is not the module factory", m.Factory))
	}
	if sender != x.account.Manager {
		return nil, "", ir.NewError(ir.ErrCodeNotAdmin, fmt.Sprintf("%s may not create modules for account %d", sender, x.account.ID))
	}

	id := m.Module.ID()
	var addr ir.Addr
	switch ref := m.Reference.(type) {
	case ir.AppRef, ir.StandaloneRef:
		codeID, _ := ir.CodeID(ref)
		if err := x.requireCodeOf(ctx, codeID, id); err != nil {
			return nil, "", err
		}
		var err error
		addr, err = x.host.instantiate(ctx, x.tx, codeID, x.account.Manager, string(id))
		if err != nil {
			return nil, "", err
		}
	case ir.APIRef, ir.NativeRef:
		addr, _ = ir.RefAddr(ref)
		if _, err := (querier{tx: x.tx}).instance(ctx, addr); err != nil {
			return nil, "", err
		}
	default:
		return nil, "", ir.ModuleError(ir.ErrCodeInvalidReference, id,
			fmt.Sprintf("the factory cannot deploy %s references", m.Reference.Kind()))
	}

	out, err := x.manager().Register(ctx, x.host.cfg.Factory, id, addr, m.Reference)
	return out, x.account.Manager, err
}

// migrate swaps the code behind an instance. Only the instance admin may
// migrate it, and only to code of the same module.
func (x *execution) migrate(ctx context.Context, sender ir.Addr, m ir.MigrateContract) error {
	inst, err := querier{tx: x.tx}.instance(ctx, m.Contract)
	if err != nil {
		return err
	}
	if inst.Admin == "" || inst.Admin != sender {
		return ir.NewError(ir.ErrCodeNotAdmin, fmt.Sprintf("%s is not the admin of %s", sender, m.Contract))
	}
	current, err := x.tx.Code(ctx, inst.CodeID)
	if err != nil {
		return err
	}
	if err := x.requireCodeOf(ctx, m.CodeID, current.Module); err != nil {
		return err
	}
	return x.tx.SetInstanceCode(ctx, m.Contract, m.CodeID)
}

func (x *execution) updateAuthorized(ctx context.Context, sender ir.Addr, m ir.UpdateAuthorizedAddresses) error {
	if err := x.requireProxyAdmin(sender, m.Proxy); err != nil {
		return err
	}
	if _, err := (querier{tx: x.tx}).instance(ctx, m.API); err != nil {
		return err
	}
	for _, a := range m.Remove {
		if err := x.tx.Deauthorize(ctx, m.API, m.Proxy, a); err != nil {
			return err
		}
	}
	for _, a := range m.Add {
		if err := ir.ValidateAddr(a); err != nil {
			return err
		}
		if err := x.tx.Authorize(ctx, m.API, m.Proxy, a); err != nil {
			return err
		}
	}
	return nil
}

// detach releases the grants an API instance holds on the modules it
// depends on, for this account.
func (x *execution) detach(ctx context.Context, sender ir.Addr, m ir.DetachDependencies) error {
	if err := x.requireProxyAdmin(sender, m.Proxy); err != nil {
		return err
	}
	data, err := querier{tx: x.tx}.ModuleData(ctx, m.API)
	if err != nil {
		return err
	}
	state := x.tx.Account(x.account.ID)
	for _, d := range data.Dependencies {
		depAddr, err := state.ModuleAddr(ctx, d.ID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if err := x.tx.Deauthorize(ctx, depAddr, m.Proxy, m.API); err != nil {
			return err
		}
	}
	return nil
}

func (x *execution) requireCodeOf(ctx context.Context, codeID uint64, id ir.ModuleID) error {
	code, err := x.tx.Code(ctx, codeID)
	if errors.Is(err, store.ErrNotFound) {
		return ir.ModuleError(ir.ErrCodeInvalidReference, id, fmt.Sprintf("code %d does not exist", codeID))
	}
	if err != nil {
		return err
	}
	if code.Module != id {
		return ir.ModuleError(ir.ErrCodeInvalidReference, id,
			fmt.Sprintf("code %d belongs to %s", codeID, code.Module))
	}
	return nil
}

// requireProxyAdmin checks that proxy is this account's proxy and that the
// sender is its manager.
func (x *execution) requireProxyAdmin(sender, proxy ir.Addr) error {
	if proxy != x.account.Proxy {
		return ir.NewError(ir.ErrCodeNotFound, fmt.Sprintf("%s is not the proxy of account %d", proxy, x.account.ID))
	}
	if sender != x.account.Manager {
		return ir.NewError(ir.ErrCodeNotAdmin, fmt.Sprintf("%s does not administer proxy %s", sender, proxy))
	}
	return nil
}

func (x *execution) wrongManager(addr ir.Addr) error {
	return ir.NewError(ir.ErrCodeNotFound, fmt.Sprintf("%s is not the manager of account %d", addr, x.account.ID))
}
