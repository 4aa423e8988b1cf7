package store

import (
	"context"
	"database/sql"
	"strings"
)

// Tx is a store transaction. All table accessors hang off Tx so that every
// write of one host transaction commits or rolls back together.
type Tx struct {
	tx *sql.Tx
}

func (t *Tx) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, query, args...)
}

func (t *Tx) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, query, args...)
}

func (t *Tx) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, query, args...)
}

// isConstraintViolation reports whether err is a UNIQUE/PRIMARY KEY conflict.
func isConstraintViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
