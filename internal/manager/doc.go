// Package manager implements the account manager: the component that owns
// an account's module address book, its dependents ledger and the migration
// context of in-flight upgrade batches.
//
// The manager never performs side effects on other components directly.
// Every operation validates synchronously and returns the outbound messages
// the host must dispatch, in order. A failing operation returns an *ir.Error
// before any message is built; failures after that point abort the host
// transaction.
//
// Upgrades run in two passes. UpgradeBatch checks every entry, records each
// migrated module's pre-migration dependency list in the batch's migration
// context and emits the migration messages followed by a self-addressed
// FinalizeUpgrade. Finalize runs once those messages have taken effect and
// rebuilds the dependents ledger from the recorded snapshots.
package manager
