package harness

import (
	"context"
	"fmt"

	"github.com/roach88/modacct/internal/catalog"
	"github.com/roach88/modacct/internal/host"
	"github.com/roach88/modacct/internal/ir"
	"github.com/roach88/modacct/internal/manager"
	"github.com/roach88/modacct/internal/registry"
	"github.com/roach88/modacct/internal/store"
)

// Fixed actors of every scenario.
var (
	Owner    = ir.DeriveAddr("test", "owner", 0)
	Stranger = ir.DeriveAddr("test", "stranger", 0)
	Admin    = ir.DeriveAddr("test", "admin", 0)
	Factory  = ir.DeriveAddr("test", "factory", 0)
)

// ErrCodeStepsExceeded is the expect code for a step that hit the quota.
const ErrCodeStepsExceeded = "STEPS_EXCEEDED"

// Harness runs one scenario with deterministic transaction tokens and batch
// ids.
type Harness struct {
	host    *host.Host
	account store.Account
	names   map[ir.Addr]string
}

// Run executes a scenario in a fresh in-memory database.
//
// Execution flow:
//  1. Publish the catalog as the registry admin
//  2. Create the owner's account
//  3. Run setup steps, which must succeed
//  4. Run flow steps and check their expectations
//  5. Evaluate assertions over the flow trace and final modules
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	// One token per step is enough: each step is one transaction and opens
	// at most one batch.
	steps := len(scenario.Setup) + len(scenario.Flow)
	reg := registry.New(registry.Config{Admin: Admin, PlatformAdmin: Admin})
	hst, err := host.New(ctx, st, reg,
		host.Config{Factory: Factory, MaxSteps: scenario.MaxSteps},
		host.WithTxTokens(fixedIDs("tx", steps)),
		host.WithBatchIDs(fixedIDs("batch", steps)),
	)
	if err != nil {
		return nil, err
	}

	h := &Harness{
		host: hst,
		names: map[ir.Addr]string{
			Owner:    "owner",
			Stranger: "stranger",
			Admin:    "admin",
			Factory:  "factory",
		},
	}

	cat, err := catalog.Load(scenario.Catalog)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	published, err := cat.Publish(ctx, hst, Admin)
	if err != nil {
		return nil, fmt.Errorf("failed to publish catalog: %w", err)
	}
	for _, m := range published {
		if addr, ok := ir.RefAddr(m.Reference); ok {
			h.names[addr] = m.Info.String()
		}
	}

	h.account, err = hst.CreateAccount(ctx, Owner)
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	h.names[h.account.Manager] = string(ir.ManagerID)
	h.names[h.account.Proxy] = string(ir.ProxyID)

	for i, step := range scenario.Setup {
		if _, err := h.runStep(ctx, step); err != nil {
			return nil, fmt.Errorf("setup[%d]: %w", i, err)
		}
	}

	result := NewResult()
	var trace []store.LogEntry
	for i, step := range scenario.Flow {
		res, err := h.runStep(ctx, step)
		checkExpectation(result, i, step, err)
		if err == nil {
			trace = append(trace, res.Trace...)
		}
	}

	// Names are resolved last so addresses that left the address book
	// during the flow keep the name they had.
	for _, e := range trace {
		result.Trace = append(result.Trace, TraceEvent{
			Seq:    e.Seq,
			Tx:     e.TxToken,
			Depth:  e.Depth,
			Type:   string(e.Type),
			Sender: h.name(e.Sender),
			Target: h.name(e.Target),
		})
	}

	result.Modules, err = hst.AccountModules(ctx, h.account.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read modules: %w", err)
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) runStep(ctx context.Context, step Step) (host.Result, error) {
	call, err := step.call()
	if err != nil {
		return host.Result{}, err
	}
	res, err := h.host.Execute(ctx, h.account.ID, h.sender(step.Sender), call)
	if err != nil {
		return res, err
	}
	return res, h.learnNames(ctx)
}

// learnNames names every address currently in the address book. Shared
// instances keep their versioned catalog name.
func (h *Harness) learnNames(ctx context.Context) error {
	modules, err := h.host.AccountModules(ctx, h.account.ID)
	if err != nil {
		return err
	}
	for _, m := range modules {
		if _, ok := h.names[m.Addr]; !ok {
			h.names[m.Addr] = string(m.ID)
		}
	}
	return nil
}

func (h *Harness) sender(name string) ir.Addr {
	switch name {
	case "", "owner":
		return Owner
	case "stranger":
		return Stranger
	default:
		return ir.Addr(name)
	}
}

func (h *Harness) name(addr ir.Addr) string {
	if n, ok := h.names[addr]; ok {
		return n
	}
	return string(addr)
}

func checkExpectation(result *Result, index int, step Step, err error) {
	got := errorCode(err)
	switch {
	case step.Expect == nil && err != nil:
		result.AddError(fmt.Sprintf("flow[%d]: unexpected error: %v", index, err))
	case step.Expect != nil && err == nil:
		result.AddError(fmt.Sprintf("flow[%d]: expected error %s, step succeeded", index, step.Expect.Error))
	case step.Expect != nil && got != step.Expect.Error:
		result.AddError(fmt.Sprintf("flow[%d]: expected error %s, got %s (%v)", index, step.Expect.Error, got, err))
	}
}

// errorCode maps an execution error to the code an expect clause names.
func errorCode(err error) string {
	if err == nil {
		return ""
	}
	if host.IsStepsExceededError(err) {
		return ErrCodeStepsExceeded
	}
	return string(ir.CodeOf(err))
}

func fixedIDs(prefix string, n int) *manager.FixedGenerator {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s-%d", prefix, i+1)
	}
	return manager.NewFixedGenerator(ids...)
}
