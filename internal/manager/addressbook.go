package manager

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/modacct/internal/ir"
	"github.com/roach88/modacct/internal/store"
)

// AddressBook maps installed module ids to their deployed addresses.
type AddressBook struct {
	state State
}

// NewAddressBook wraps the account state's address book.
func NewAddressBook(state State) *AddressBook {
	return &AddressBook{state: state}
}

// Upsert writes every entry, overwriting existing rows. All entries are
// validated before the first write.
func (b *AddressBook) Upsert(ctx context.Context, entries []ir.ModuleAddress) error {
	for _, e := range entries {
		if err := e.ID.Validate(); err != nil {
			return err
		}
		if err := ir.ValidateAddr(e.Addr); err != nil {
			return err
		}
	}
	for _, e := range entries {
		if err := b.state.SetModuleAddr(ctx, e.ID, e.Addr); err != nil {
			return err
		}
	}
	return nil
}

// Remove deletes every id. The proxy entry can never be removed.
func (b *AddressBook) Remove(ctx context.Context, ids []ir.ModuleID) error {
	for _, id := range ids {
		if id == ir.ProxyID {
			return ir.ModuleError(ir.ErrCodeCannotRemoveProtected, id, "the proxy cannot be removed")
		}
	}
	for _, id := range ids {
		err := b.state.DeleteModuleAddr(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return notInstalled(id)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Get returns the address of an installed module.
func (b *AddressBook) Get(ctx context.Context, id ir.ModuleID) (ir.Addr, error) {
	addr, err := b.state.ModuleAddr(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return "", notInstalled(id)
	}
	if err != nil {
		return "", err
	}
	return addr, nil
}

// Has reports whether id is installed.
func (b *AddressBook) Has(ctx context.Context, id ir.ModuleID) (bool, error) {
	_, err := b.state.ModuleAddr(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// List returns every entry ordered by module id.
func (b *AddressBook) List(ctx context.Context) ([]ir.ModuleAddress, error) {
	return b.state.ModuleAddrs(ctx)
}

func notInstalled(id ir.ModuleID) error {
	return ir.ModuleError(ir.ErrCodeNotFound, id, fmt.Sprintf("module %s is not installed", id))
}
