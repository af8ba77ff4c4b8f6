package kvstore

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryGetMissing(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	_, err := store.Get(ctx, "credential.token")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemorySetGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	if err := store.Set(ctx, KeyCredentialToken, []byte("tok-123")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := store.Get(ctx, KeyCredentialToken)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "tok-123" {
		t.Errorf("expected tok-123, got %s", got)
	}
}

func TestMemoryOverwrite(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	store.Set(ctx, "k", []byte("old"))
	store.Set(ctx, "k", []byte("new"))

	got, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "new" {
		t.Errorf("expected new, got %s", got)
	}
}

func TestMemoryDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	store.Set(ctx, "k", []byte("v"))
	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	_, err := store.Get(ctx, "k")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryDeleteMissingIsNoop(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	if err := store.Delete(ctx, "absent"); err != nil {
		t.Errorf("expected nil for missing key, got %v", err)
	}
}

func TestMemoryCopiesValues(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	src := []byte("original")
	store.Set(ctx, "k", src)
	src[0] = 'X'

	got, _ := store.Get(ctx, "k")
	if string(got) != "original" {
		t.Errorf("stored value aliased caller slice: %s", got)
	}

	// Mutating the returned slice must not corrupt the store either.
	got[0] = 'Y'
	again, _ := store.Get(ctx, "k")
	if string(again) != "original" {
		t.Errorf("returned value aliased stored slice: %s", again)
	}
}
