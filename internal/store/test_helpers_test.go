package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/modacct/internal/ir"
)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// mustUpdate runs fn in a committed transaction and fails the test on error.
func mustUpdate(t *testing.T, s *Store, fn func(tx *Tx) error) {
	t.Helper()
	if err := s.Update(context.Background(), fn); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
}

// createTestAccount inserts an account with derived addresses and returns its id.
func createTestAccount(t *testing.T, s *Store, label string) int64 {
	t.Helper()
	var id int64
	mustUpdate(t, s, func(tx *Tx) error {
		var err error
		id, err = tx.CreateAccount(context.Background(),
			ir.DeriveAddr("test", label+"/owner", 0),
			ir.DeriveAddr("test", label+"/manager", 0),
			ir.DeriveAddr("test", label+"/proxy", 0),
		)
		return err
	})
	return id
}
