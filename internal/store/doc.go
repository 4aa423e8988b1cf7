// Package store provides SQLite-backed durable storage for module accounts.
//
// Tables:
//   - registry_modules / yanked_modules: the module registry (live and yanked)
//   - accounts, account_modules: account records and module address books
//   - dependents: the per-account dependency ledger
//   - migration_context: per-batch pre-migration dependency snapshots
//   - codes, instances, proxy_modules, api_authorizations: host state
//   - message_log: every dispatched message, ordered by logical seq
//
// # Transactions
//
// All reads and writes go through a Tx obtained from Store.Update or
// Store.View. One host transaction maps to one sql.Tx: when any step fails the
// whole transaction rolls back, migration context rows included.
//
// # Deterministic Query Results
//
// Every list query carries an ORDER BY over its full key so results are
// identical across runs.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
