package blob

import (
	"context"
	"testing"

	"github.com/vitaly-z/hybridgraph/internal/storage"
)

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := New(ctx, storage.NewMemory())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	hash, err := store.Put(ctx, "text", []byte("hello world"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	data, err := store.Get(ctx, hash)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) != "hello world" {
		t.Fatalf("expected %q, got %q", "hello world", data)
	}
}

func TestPutDedupesIdenticalContent(t *testing.T) {
	ctx := context.Background()
	adapter := storage.NewMemory()
	store, err := New(ctx, adapter)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	h1, err := store.Put(ctx, "text", []byte("same content"))
	if err != nil {
		t.Fatalf("Put 1: %v", err)
	}
	h2, err := store.Put(ctx, "text", []byte("same content"))
	if err != nil {
		t.Fatalf("Put 2: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("expected identical hashes for identical content, got %s and %s", h1, h2)
	}

	raw, err := adapter.Get(ctx, "blobmeta:"+h1)
	if err != nil || raw == nil {
		t.Fatalf("expected a descriptor for %s", h1)
	}
}

func TestGetDetectsTamperedContent(t *testing.T) {
	ctx := context.Background()
	adapter := storage.NewMemory()
	store, err := New(ctx, adapter)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	hash, err := store.Put(ctx, "zstd", []byte("untouched"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := adapter.Put(ctx, hash, []byte("corrupted")); err != nil {
		t.Fatalf("corrupt content: %v", err)
	}

	// Put cached the original bytes, so read through a fresh store whose
	// cache is empty and must fetch the tampered content from storage.
	fresh, err := New(ctx, adapter)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := fresh.Get(ctx, hash); err != ErrIntegrityCheckFailed {
		t.Fatalf("expected ErrIntegrityCheckFailed, got %v", err)
	}
}

func TestGCRemovesUnreferencedUnreachableBlobs(t *testing.T) {
	ctx := context.Background()
	store, err := New(ctx, storage.NewMemory())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	keep, err := store.Put(ctx, "text", []byte("kept by live set"))
	if err != nil {
		t.Fatalf("Put keep: %v", err)
	}
	drop, err := store.Put(ctx, "text", []byte("dropped"))
	if err != nil {
		t.Fatalf("Put drop: %v", err)
	}
	if err := store.Delete(ctx, drop); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	live := map[string]struct{}{keep: {}}
	removed, err := store.GC(ctx, live)
	if err != nil {
		t.Fatalf("GC: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 blob removed, got %d", removed)
	}

	if _, err := store.Get(ctx, keep); err != nil {
		t.Fatalf("expected kept blob to survive GC: %v", err)
	}
	if _, err := store.Get(ctx, drop); err == nil {
		t.Fatal("expected dropped blob to be gone after GC")
	}
}

func TestDeleteDecrementsRefCountWithoutImmediateRemoval(t *testing.T) {
	ctx := context.Background()
	store, err := New(ctx, storage.NewMemory())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	hash, err := store.Put(ctx, "text", []byte("still there"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Delete(ctx, hash); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	data, err := store.Get(ctx, hash)
	if err != nil {
		t.Fatalf("expected Get to still succeed before GC runs: %v", err)
	}
	if string(data) != "still there" {
		t.Fatalf("unexpected content: %q", data)
	}
}
