package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/dirtyread/internal/shape"
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// testColumns is the row type used by most tests.
var testColumns = []shape.Column{
	{Name: "id", Type: "int4"},
	{Name: "owner", Type: "text"},
}

// createTestRelation creates a relation with testColumns.
func createTestRelation(t *testing.T, s *Store, name string) Relation {
	t.Helper()
	rel, err := s.CreateRelation(t.Context(), name, testColumns)
	if err != nil {
		t.Fatalf("CreateRelation(%q) failed: %v", name, err)
	}
	return rel
}
