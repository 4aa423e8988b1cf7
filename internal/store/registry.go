package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/modacct/internal/ir"
)

// RegistryTable selects the live or the yanked registry table.
type RegistryTable string

const (
	LiveModules   RegistryTable = "registry_modules"
	YankedModules RegistryTable = "yanked_modules"
)

// ModuleKey is the primary key of a registry entry.
type ModuleKey struct {
	Provider string
	Name     string
	Version  string
}

// KeyOf returns the key of a concrete ModuleInfo.
func KeyOf(info ir.ModuleInfo) ModuleKey {
	return ModuleKey{Provider: info.Provider, Name: info.Name, Version: info.Version.Concrete()}
}

// Info converts the key back into a ModuleInfo.
func (k ModuleKey) Info() ir.ModuleInfo {
	return ir.ModuleInfo{Provider: k.Provider, Name: k.Name, Version: ir.Version(k.Version)}
}

// ModuleFilter narrows a registry listing. Empty fields match everything.
type ModuleFilter struct {
	Provider string
	Name     string
	Version  string
}

// InsertModule adds an entry to table. Returns ErrAlreadyExists on a key conflict.
func (t *Tx) InsertModule(ctx context.Context, table RegistryTable, key ModuleKey, ref ir.ModuleReference) error {
	rec := ir.EncodeReference(ref)
	_, err := t.exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (provider, name, version, kind, code_id, addr)
		VALUES (?, ?, ?, ?, ?, ?)
	`, table), key.Provider, key.Name, key.Version, string(rec.Kind), rec.CodeID, string(rec.Addr))
	if isConstraintViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert module: %w", err)
	}
	return nil
}

// GetModule returns the reference stored under key.
// Returns ErrNotFound if absent.
func (t *Tx) GetModule(ctx context.Context, table RegistryTable, key ModuleKey) (ir.ModuleReference, error) {
	row := t.queryRow(ctx, fmt.Sprintf(`
		SELECT kind, code_id, addr FROM %s
		WHERE provider = ? AND name = ? AND version = ?
	`, table), key.Provider, key.Name, key.Version)

	var rec ir.ReferenceRecord
	var kind, addr string
	if err := row.Scan(&kind, &rec.CodeID, &addr); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get module: %w", err)
	}
	rec.Kind, rec.Addr = ir.ReferenceKind(kind), ir.Addr(addr)
	return ir.DecodeReference(rec)
}

// HasModule reports whether key exists in table.
func (t *Tx) HasModule(ctx context.Context, table RegistryTable, key ModuleKey) (bool, error) {
	var count int
	err := t.queryRow(ctx, fmt.Sprintf(`
		SELECT COUNT(*) FROM %s WHERE provider = ? AND name = ? AND version = ?
	`, table), key.Provider, key.Name, key.Version).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("has module: %w", err)
	}
	return count > 0, nil
}

// DeleteModule removes key from table. Returns ErrNotFound if absent.
func (t *Tx) DeleteModule(ctx context.Context, table RegistryTable, key ModuleKey) error {
	res, err := t.exec(ctx, fmt.Sprintf(`
		DELETE FROM %s WHERE provider = ? AND name = ? AND version = ?
	`, table), key.Provider, key.Name, key.Version)
	if err != nil {
		return fmt.Errorf("delete module: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete module: rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ModuleVersions returns every stored version of (provider, name) in table,
// in string order. Callers needing semver precedence must sort themselves.
func (t *Tx) ModuleVersions(ctx context.Context, table RegistryTable, provider, name string) ([]string, error) {
	rows, err := t.query(ctx, fmt.Sprintf(`
		SELECT version FROM %s
		WHERE provider = ? AND name = ?
		ORDER BY version COLLATE BINARY ASC
	`, table), provider, name)
	if err != nil {
		return nil, fmt.Errorf("query module versions: %w", err)
	}
	defer rows.Close()

	versions := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan module version: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate module versions: %w", err)
	}
	return versions, nil
}

// ListModules returns up to limit entries of table matching filter whose key
// sorts strictly after `after` (nil starts from the beginning).
// Ordered by (provider, name, version) for stable pagination.
func (t *Tx) ListModules(ctx context.Context, table RegistryTable, filter ModuleFilter, after *ModuleKey, limit int) ([]ir.Module, error) {
	var where []string
	var args []any
	if filter.Provider != "" {
		where = append(where, "provider = ?")
		args = append(args, filter.Provider)
	}
	if filter.Name != "" {
		where = append(where, "name = ?")
		args = append(args, filter.Name)
	}
	if filter.Version != "" {
		where = append(where, "version = ?")
		args = append(args, filter.Version)
	}
	if after != nil {
		where = append(where, "(provider, name, version) > (?, ?, ?)")
		args = append(args, after.Provider, after.Name, after.Version)
	}

	query := fmt.Sprintf("SELECT provider, name, version, kind, code_id, addr FROM %s", table)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY provider COLLATE BINARY, name COLLATE BINARY, version COLLATE BINARY LIMIT ?"
	args = append(args, limit)

	rows, err := t.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list modules: %w", err)
	}
	defer rows.Close()

	modules := []ir.Module{}
	for rows.Next() {
		m, err := scanModule(rows)
		if err != nil {
			return nil, err
		}
		modules = append(modules, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate modules: %w", err)
	}
	return modules, nil
}

func scanModule(rows *sql.Rows) (ir.Module, error) {
	var key ModuleKey
	var kind, addr string
	var codeID uint64
	if err := rows.Scan(&key.Provider, &key.Name, &key.Version, &kind, &codeID, &addr); err != nil {
		return ir.Module{}, fmt.Errorf("scan module: %w", err)
	}
	ref, err := ir.DecodeReference(ir.ReferenceRecord{Kind: ir.ReferenceKind(kind), CodeID: codeID, Addr: ir.Addr(addr)})
	if err != nil {
		return ir.Module{}, err
	}
	return ir.Module{Info: key.Info(), Reference: ref}, nil
}
