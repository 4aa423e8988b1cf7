// Package registry maps (provider, name, version) to module references.
//
// Entries are immutable once added: a new version is a new key. Removing an
// entry may yank it, which moves it to a parallel table that is excluded from
// resolution and from new registrations but stays listable for audit.
//
// Latest resolution compares versions structurally, so 10.0.0 outranks
// 9.0.0 even though it sorts lower as a string.
package registry
