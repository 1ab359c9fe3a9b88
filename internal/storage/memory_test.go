package storage

import (
	"context"
	"testing"
)

func TestMemoryPutGetRoundTrip(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.Put(ctx, "k1", []byte("hello")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	v, err := m.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(v) != "hello" {
		t.Fatalf("expected %q, got %q", "hello", v)
	}
}

func TestMemoryGetMissReturnsNilNotError(t *testing.T) {
	m := NewMemory()
	v, err := m.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("expected nil error on miss, got %v", err)
	}
	if v != nil {
		t.Fatalf("expected nil value on miss, got %v", v)
	}
}

func TestMemoryNounCRUDAndList(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		n := &NounRecord{ID: idFor(i), Type: "person", Metadata: map[string]interface{}{"age": i}}
		if err := m.SaveNoun(ctx, n); err != nil {
			t.Fatalf("SaveNoun: %v", err)
		}
	}

	got, err := m.GetNounWithMetadata(ctx, idFor(2))
	if err != nil || got == nil {
		t.Fatalf("GetNounWithMetadata: got=%v err=%v", got, err)
	}
	if got.Metadata["age"] != 2 {
		t.Fatalf("expected age 2, got %v", got.Metadata["age"])
	}

	page, err := m.ListNouns(ctx, ListFilter{Type: "person", Limit: 2})
	if err != nil {
		t.Fatalf("ListNouns: %v", err)
	}
	if len(page.Nouns) != 2 || page.NextCursor == "" {
		t.Fatalf("expected a partial first page with a cursor, got %d nouns cursor=%q", len(page.Nouns), page.NextCursor)
	}

	if err := m.DeleteNoun(ctx, idFor(0)); err != nil {
		t.Fatalf("DeleteNoun: %v", err)
	}
	if err := m.DeleteNoun(ctx, idFor(0)); err == nil {
		t.Fatal("expected error deleting an already-removed noun")
	}
}

func TestMemoryChangesSinceReplaysFromCursor(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	m.Put(ctx, "a", []byte("1"))
	changes, cursor, err := m.ChangesSince(ctx, "")
	if err != nil {
		t.Fatalf("ChangesSince: %v", err)
	}
	if len(changes) != 1 {
		t.Fatalf("expected 1 change, got %d", len(changes))
	}

	m.Put(ctx, "b", []byte("2"))
	more, _, err := m.ChangesSince(ctx, cursor)
	if err != nil {
		t.Fatalf("ChangesSince from cursor: %v", err)
	}
	if len(more) != 1 || more[0].Key != "b" {
		t.Fatalf("expected only the post-cursor change for key b, got %+v", more)
	}
}

func TestMemoryBatchDeleteContinuesPastMissingKeys(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.Put(ctx, "present", []byte("x"))

	results := m.BatchDelete(ctx, []string{"present", "absent"}, DefaultRetryConfig())
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for _, r := range results {
		if r.Err != nil {
			t.Errorf("unexpected error for key %s: %v", r.Key, r.Err)
		}
	}
}

func idFor(i int) string {
	return "n-" + string(rune('a'+i))
}
