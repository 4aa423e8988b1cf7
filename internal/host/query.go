package host

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/modacct/internal/ir"
	"github.com/roach88/modacct/internal/manager"
	"github.com/roach88/modacct/internal/store"
)

// querier answers the manager's read-only queries from the host tables.
// A deployed contract reports the module id, version and dependencies of
// the code it currently runs.
type querier struct {
	tx *store.Tx
}

var _ manager.Querier = querier{}

func (q querier) ModuleData(ctx context.Context, addr ir.Addr) (manager.ModuleData, error) {
	inst, err := q.instance(ctx, addr)
	if err != nil {
		return manager.ModuleData{}, err
	}
	code, err := q.tx.Code(ctx, inst.CodeID)
	if err != nil {
		return manager.ModuleData{}, fmt.Errorf("load code %d of %s: %w", inst.CodeID, addr, err)
	}
	return manager.ModuleData{Module: code.Module, Version: code.Version, Dependencies: code.Dependencies}, nil
}

func (q querier) AuthorizedAddresses(ctx context.Context, api, proxy ir.Addr) ([]ir.Addr, error) {
	return q.tx.Authorizations(ctx, api, proxy)
}

func (q querier) instance(ctx context.Context, addr ir.Addr) (store.Instance, error) {
	inst, err := q.tx.Instance(ctx, addr)
	if errors.Is(err, store.ErrNotFound) {
		return store.Instance{}, ir.NewError(ir.ErrCodeNotFound, fmt.Sprintf("no contract at %s", addr))
	}
	return inst, err
}
