package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/modacct/internal/ir"
	"github.com/roach88/modacct/internal/store"
)

// BatchIDGenerator generates upgrade batch ids. Implemented by
// UUIDv7Generator (production) and FixedGenerator (tests).
type BatchIDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 batch ids.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
// Panics if UUID generation fails (should never happen in practice).
func (g UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined batch ids for testing, so that
// message traces are reproducible.
//
// Thread-safety: FixedGenerator is safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedGenerator creates a generator that returns ids in order.
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// Generate returns the next predetermined id.
//
// Panics if all ids have been consumed: the test asked for more batches than
// it declared.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("FixedGenerator: all batch ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}

// MigrationContext accumulates the pre-migration dependency snapshots of one
// upgrade batch. It is written while the batch is dispatched and consumed
// exactly once by Finalize.
//
// Rows live in the account state, so they commit or roll back together with
// the rest of the host transaction.
type MigrationContext struct {
	state   State
	batchID string
}

// NewMigrationContext binds the accumulator of batchID.
func NewMigrationContext(state State, batchID string) *MigrationContext {
	return &MigrationContext{state: state, batchID: batchID}
}

// BatchID returns the batch the context belongs to.
func (c *MigrationContext) BatchID() string { return c.batchID }

// Add records id's pre-migration dependencies. A module may appear at most
// once per batch.
func (c *MigrationContext) Add(ctx context.Context, id ir.ModuleID, deps ir.Dependencies) error {
	err := c.state.AppendMigrationEntry(ctx, c.batchID, ir.MigrationEntry{Module: id, Dependencies: deps})
	if errors.Is(err, store.ErrAlreadyExists) {
		return duplicateMigration(id)
	}
	return err
}

// Entries returns the recorded snapshots in insertion order.
func (c *MigrationContext) Entries(ctx context.Context) ([]ir.MigrationEntry, error) {
	return c.state.MigrationContext(ctx, c.batchID)
}

// Clear drops every snapshot of the batch.
func (c *MigrationContext) Clear(ctx context.Context) error {
	return c.state.ClearMigrationContext(ctx, c.batchID)
}

func duplicateMigration(id ir.ModuleID) error {
	return ir.ModuleError(ir.ErrCodeDuplicateModuleMigration, id,
		fmt.Sprintf("module %s appears more than once in the batch", id))
}
