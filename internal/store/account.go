package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/modacct/internal/ir"
)

// Account is one account instance: its owner and its manager/proxy addresses.
type Account struct {
	ID      int64   `json:"id"`
	Owner   ir.Addr `json:"owner"`
	Manager ir.Addr `json:"manager"`
	Proxy   ir.Addr `json:"proxy"`
}

// CreateAccount inserts an account record and returns its id.
func (t *Tx) CreateAccount(ctx context.Context, owner, manager, proxy ir.Addr) (int64, error) {
	res, err := t.exec(ctx, `
		INSERT INTO accounts (owner, manager_addr, proxy_addr) VALUES (?, ?, ?)
	`, string(owner), string(manager), string(proxy))
	if isConstraintViolation(err) {
		return 0, ErrAlreadyExists
	}
	if err != nil {
		return 0, fmt.Errorf("create account: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create account: last insert id: %w", err)
	}
	return id, nil
}

// GetAccount returns the account with the given id.
// Returns ErrNotFound if absent.
func (t *Tx) GetAccount(ctx context.Context, id int64) (Account, error) {
	return t.scanAccount(t.queryRow(ctx, `
		SELECT account_id, owner, manager_addr, proxy_addr FROM accounts WHERE account_id = ?
	`, id))
}

// AccountByManager returns the account whose manager lives at addr.
func (t *Tx) AccountByManager(ctx context.Context, addr ir.Addr) (Account, error) {
	return t.scanAccount(t.queryRow(ctx, `
		SELECT account_id, owner, manager_addr, proxy_addr FROM accounts WHERE manager_addr = ?
	`, string(addr)))
}

// ListAccounts returns all accounts ordered by id.
func (t *Tx) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := t.query(ctx, `
		SELECT account_id, owner, manager_addr, proxy_addr FROM accounts ORDER BY account_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	accounts := []Account{}
	for rows.Next() {
		var a Account
		var owner, manager, proxy string
		if err := rows.Scan(&a.ID, &owner, &manager, &proxy); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		a.Owner, a.Manager, a.Proxy = ir.Addr(owner), ir.Addr(manager), ir.Addr(proxy)
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return accounts, nil
}

func (t *Tx) scanAccount(row *sql.Row) (Account, error) {
	var a Account
	var owner, manager, proxy string
	if err := row.Scan(&a.ID, &owner, &manager, &proxy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, ErrNotFound
		}
		return Account{}, fmt.Errorf("scan account: %w", err)
	}
	a.Owner, a.Manager, a.Proxy = ir.Addr(owner), ir.Addr(manager), ir.Addr(proxy)
	return a, nil
}

// AccountState is the storage owned by one account's manager: its module
// address book, dependents ledger and migration context.
type AccountState struct {
	tx *Tx
	id int64
}

// Account scopes tx to the account with the given id.
func (t *Tx) Account(id int64) *AccountState {
	return &AccountState{tx: t, id: id}
}

// ID returns the account id the state is scoped to.
func (a *AccountState) ID() int64 { return a.id }

// ModuleAddr returns the address of an installed module.
// Returns ErrNotFound if the module is not installed.
func (a *AccountState) ModuleAddr(ctx context.Context, id ir.ModuleID) (ir.Addr, error) {
	var addr string
	err := a.tx.queryRow(ctx, `
		SELECT addr FROM account_modules WHERE account_id = ? AND module_id = ?
	`, a.id, string(id)).Scan(&addr)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get module addr: %w", err)
	}
	return ir.Addr(addr), nil
}

// SetModuleAddr inserts or overwrites the address of a module.
func (a *AccountState) SetModuleAddr(ctx context.Context, id ir.ModuleID, addr ir.Addr) error {
	_, err := a.tx.exec(ctx, `
		INSERT INTO account_modules (account_id, module_id, addr) VALUES (?, ?, ?)
		ON CONFLICT(account_id, module_id) DO UPDATE SET addr = excluded.addr
	`, a.id, string(id), string(addr))
	if err != nil {
		return fmt.Errorf("set module addr: %w", err)
	}
	return nil
}

// DeleteModuleAddr removes a module from the address book.
// Returns ErrNotFound if it was not installed.
func (a *AccountState) DeleteModuleAddr(ctx context.Context, id ir.ModuleID) error {
	res, err := a.tx.exec(ctx, `
		DELETE FROM account_modules WHERE account_id = ? AND module_id = ?
	`, a.id, string(id))
	if err != nil {
		return fmt.Errorf("delete module addr: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete module addr: rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ModuleAddrs returns the whole address book ordered by module id.
func (a *AccountState) ModuleAddrs(ctx context.Context) ([]ir.ModuleAddress, error) {
	rows, err := a.tx.query(ctx, `
		SELECT module_id, addr FROM account_modules
		WHERE account_id = ?
		ORDER BY module_id COLLATE BINARY ASC
	`, a.id)
	if err != nil {
		return nil, fmt.Errorf("list module addrs: %w", err)
	}
	defer rows.Close()

	entries := []ir.ModuleAddress{}
	for rows.Next() {
		var id, addr string
		if err := rows.Scan(&id, &addr); err != nil {
			return nil, fmt.Errorf("scan module addr: %w", err)
		}
		entries = append(entries, ir.ModuleAddress{ID: ir.ModuleID(id), Addr: ir.Addr(addr)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate module addrs: %w", err)
	}
	return entries, nil
}

// Dependents returns the modules that declared a dependency on id, sorted.
func (a *AccountState) Dependents(ctx context.Context, id ir.ModuleID) ([]ir.ModuleID, error) {
	rows, err := a.tx.query(ctx, `
		SELECT dependent_id FROM dependents
		WHERE account_id = ? AND module_id = ?
		ORDER BY dependent_id COLLATE BINARY ASC
	`, a.id, string(id))
	if err != nil {
		return nil, fmt.Errorf("list dependents: %w", err)
	}
	defer rows.Close()

	ids := []ir.ModuleID{}
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan dependent: %w", err)
		}
		ids = append(ids, ir.ModuleID(d))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dependents: %w", err)
	}
	return ids, nil
}

// AddDependent records that dependent depends on id. Idempotent.
func (a *AccountState) AddDependent(ctx context.Context, id, dependent ir.ModuleID) error {
	_, err := a.tx.exec(ctx, `
		INSERT INTO dependents (account_id, module_id, dependent_id) VALUES (?, ?, ?)
		ON CONFLICT DO NOTHING
	`, a.id, string(id), string(dependent))
	if err != nil {
		return fmt.Errorf("add dependent: %w", err)
	}
	return nil
}

// RemoveDependent drops dependent from id's dependents. Idempotent.
func (a *AccountState) RemoveDependent(ctx context.Context, id, dependent ir.ModuleID) error {
	_, err := a.tx.exec(ctx, `
		DELETE FROM dependents WHERE account_id = ? AND module_id = ? AND dependent_id = ?
	`, a.id, string(id), string(dependent))
	if err != nil {
		return fmt.Errorf("remove dependent: %w", err)
	}
	return nil
}

// AppendMigrationEntry appends entry to the batch's migration context.
// Returns ErrAlreadyExists if the module is already in this batch.
func (a *AccountState) AppendMigrationEntry(ctx context.Context, batchID string, entry ir.MigrationEntry) error {
	deps, err := ir.EncodeDependencies(entry.Dependencies)
	if err != nil {
		return fmt.Errorf("append migration entry: %w", err)
	}
	_, err = a.tx.exec(ctx, `
		INSERT INTO migration_context (account_id, batch_id, module_id, position, dependencies)
		VALUES (?, ?, ?, (
			SELECT COALESCE(MAX(position), 0) + 1 FROM migration_context
			WHERE account_id = ? AND batch_id = ?
		), ?)
	`, a.id, batchID, string(entry.Module), a.id, batchID, deps)
	if isConstraintViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("append migration entry: %w", err)
	}
	return nil
}

// MigrationContext returns the batch's entries in insertion order.
func (a *AccountState) MigrationContext(ctx context.Context, batchID string) ([]ir.MigrationEntry, error) {
	rows, err := a.tx.query(ctx, `
		SELECT module_id, dependencies FROM migration_context
		WHERE account_id = ? AND batch_id = ?
		ORDER BY position ASC
	`, a.id, batchID)
	if err != nil {
		return nil, fmt.Errorf("load migration context: %w", err)
	}
	defer rows.Close()

	entries := []ir.MigrationEntry{}
	for rows.Next() {
		var id, deps string
		if err := rows.Scan(&id, &deps); err != nil {
			return nil, fmt.Errorf("scan migration entry: %w", err)
		}
		decoded, err := ir.DecodeDependencies(deps)
		if err != nil {
			return nil, err
		}
		entries = append(entries, ir.MigrationEntry{Module: ir.ModuleID(id), Dependencies: decoded})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate migration context: %w", err)
	}
	return entries, nil
}

// ClearMigrationContext deletes every entry of the batch.
func (a *AccountState) ClearMigrationContext(ctx context.Context, batchID string) error {
	_, err := a.tx.exec(ctx, `
		DELETE FROM migration_context WHERE account_id = ? AND batch_id = ?
	`, a.id, batchID)
	if err != nil {
		return fmt.Errorf("clear migration context: %w", err)
	}
	return nil
}

// PendingMigrationBatches lists batch ids that still hold context rows.
// Non-empty only while a transaction is between dispatch and finalize.
func (a *AccountState) PendingMigrationBatches(ctx context.Context) ([]string, error) {
	rows, err := a.tx.query(ctx, `
		SELECT DISTINCT batch_id FROM migration_context
		WHERE account_id = ?
		ORDER BY batch_id COLLATE BINARY ASC
	`, a.id)
	if err != nil {
		return nil, fmt.Errorf("list pending batches: %w", err)
	}
	defer rows.Close()

	batches := []string{}
	for rows.Next() {
		var b string
		if err := rows.Scan(&b); err != nil {
			return nil, fmt.Errorf("scan batch id: %w", err)
		}
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending batches: %w", err)
	}
	return batches, nil
}
