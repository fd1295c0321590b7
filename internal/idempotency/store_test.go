package idempotency

import (
	"context"
	"path/filepath"
	"testing"
)

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if ok, _ := store.Has(ctx, "missing"); ok {
		t.Fatalf("expected missing id to be absent")
	}

	if err := store.Add(ctx, "pay-1"); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	ok, err := store.Has(ctx, "pay-1")
	if err != nil {
		t.Fatalf("has failed: %v", err)
	}
	if !ok {
		t.Fatalf("expected pay-1 to be marked processed")
	}
}

func TestFileStorePersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "processed.json")

	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Add(ctx, "pay-42"); err != nil {
		t.Fatalf("add: %v", err)
	}

	store2, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("re-open store: %v", err)
	}

	ok, _ := store2.Has(ctx, "pay-42")
	if !ok {
		t.Fatalf("expected pay-42 to survive reopen")
	}
}
