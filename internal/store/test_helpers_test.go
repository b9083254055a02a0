package store

import (
	"context"
	"path/filepath"
	"testing"
)

// createTestStore creates a new store in a temp dir for testing.
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

func testCtx(t *testing.T) context.Context {
	t.Helper()
	return t.Context()
}

// defineDog defines the Dog class used by most tests.
func defineDog(t *testing.T, s *Store) *Class {
	t.Helper()
	c, err := s.DefineClass(testCtx(t), "Dog", "name", "age", "owner")
	if err != nil {
		t.Fatalf("DefineClass() failed: %v", err)
	}
	return c
}

func createDog(t *testing.T, s *Store, name string, age int) string {
	t.Helper()
	var id string
	err := s.Write(testCtx(t), func(tx *Txn) error {
		var err error
		id, err = tx.Create("Dog", map[string]any{"name": name, "age": age})
		return err
	})
	if err != nil {
		t.Fatalf("create dog %q: %v", name, err)
	}
	return id
}

func setProp(t *testing.T, s *Store, id, prop string, value any) {
	t.Helper()
	err := s.Write(testCtx(t), func(tx *Txn) error {
		return tx.Set(id, prop, value)
	})
	if err != nil {
		t.Fatalf("set %s.%s: %v", id, prop, err)
	}
}

func deleteObject(t *testing.T, s *Store, id string) {
	t.Helper()
	err := s.Write(testCtx(t), func(tx *Txn) error {
		return tx.Delete(id)
	})
	if err != nil {
		t.Fatalf("delete %s: %v", id, err)
	}
}
