package hybridgraph

import (
	"context"
	"testing"

	"github.com/vitaly-z/hybridgraph/internal/cow"
	"github.com/vitaly-z/hybridgraph/internal/graph"
	"github.com/vitaly-z/hybridgraph/internal/query"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(),
		WithDimension(4),
		WithMemoryStorage(),
		WithMetrics(false),
	)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestAddAndGetRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	n, err := db.Add(ctx, &graph.Noun{
		Type:   graph.NounPerson,
		Vector: []float32{1, 0, 0, 0},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	got, err := db.Get(ctx, n.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Type != graph.NounPerson {
		t.Fatalf("expected NounPerson, got %v", got.Type)
	}
}

func TestAddRejectsWrongDimension(t *testing.T) {
	db := newTestDB(t)
	_, err := db.Add(context.Background(), &graph.Noun{
		Type:   graph.NounPerson,
		Vector: []float32{1, 2},
	})
	if err == nil {
		t.Fatal("expected dimension mismatch error")
	}
}

func TestDeleteRemovesFromIndex(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	n, err := db.Add(ctx, &graph.Noun{Type: graph.NounDocument, Vector: []float32{1, 0, 0, 0}})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := db.Delete(ctx, n.ID, graph.CascadeDelete); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := db.Get(ctx, n.ID); err == nil {
		t.Fatal("expected Get to fail after Delete")
	}
}

func TestRelateAndGetRelations(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	a, _ := db.Add(ctx, &graph.Noun{Type: graph.NounPerson, Vector: []float32{1, 0, 0, 0}})
	b, _ := db.Add(ctx, &graph.Noun{Type: graph.NounDocument, Vector: []float32{0, 1, 0, 0}})

	if _, err := db.Relate(ctx, &graph.Verb{
		SourceID: a.ID,
		TargetID: b.ID,
		Type:     graph.VerbAuthoredBy,
	}); err != nil {
		t.Fatalf("Relate: %v", err)
	}

	page, err := db.GetRelations(ctx, a.ID, graph.DirOut, graph.VerbUnknown, graph.Pagination{Limit: 10})
	if err != nil {
		t.Fatalf("GetRelations: %v", err)
	}
	if len(page.Verbs) != 1 {
		t.Fatalf("expected 1 relation, got %d", len(page.Verbs))
	}
}

func TestFindNearestReturnsClosestFirst(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	near, _ := db.Add(ctx, &graph.Noun{Type: graph.NounPerson, Vector: []float32{1, 0, 0, 0}})
	_, _ = db.Add(ctx, &graph.Noun{Type: graph.NounPerson, Vector: []float32{0, 0, 0, 1}})

	q, err := query.NewBuilder().WithVector([]float32{1, 0, 0, 0}).Limit(1).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	results, err := db.FindNearest(ctx, q)
	if err != nil {
		t.Fatalf("FindNearest: %v", err)
	}
	if len(results) != 1 || results[0].ID != near.ID {
		t.Fatalf("expected nearest noun %s first, got %+v", near.ID, results)
	}
}

func TestCommitAndGetHistory(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := db.Commit(ctx, "tester", "first commit"); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if _, err := db.Commit(ctx, "tester", "second commit"); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	history, err := db.GetHistory(ctx, cow.Filter{})
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 commits, got %d", len(history))
	}
	if history[0].Message != "second commit" {
		t.Fatalf("expected newest-first order, got %q first", history[0].Message)
	}
}

func TestCommitTreeDedupsUnchangedGraph(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	n, err := db.Add(ctx, &graph.Noun{Type: graph.NounPerson})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	first, err := db.Commit(ctx, "tester", "first commit")
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	second, err := db.Commit(ctx, "tester", "second commit")
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if first.RootTree != second.RootTree {
		t.Fatalf("expected unchanged graph to dedup to the same tree blob, got %q and %q", first.RootTree, second.RootTree)
	}

	if _, err := db.Add(ctx, &graph.Noun{Type: graph.NounDocument}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	third, err := db.Commit(ctx, "tester", "third commit")
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if third.RootTree == second.RootTree {
		t.Fatal("expected adding a noun to change the commit tree hash")
	}

	if _, err := db.Get(ctx, n.ID); err != nil {
		t.Fatalf("Get: %v", err)
	}
}

func TestGCKeepsTreesReachableFromMain(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := db.Commit(ctx, "tester", "only commit"); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	removed, err := db.GC(ctx)
	if err != nil {
		t.Fatalf("GC: %v", err)
	}
	if removed != 0 {
		t.Fatalf("expected nothing reclaimed while the tree is still reachable from main, got %d", removed)
	}
}

func TestTraverseReturnsPathAnnotatedHops(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	a, err := db.Add(ctx, &graph.Noun{Type: graph.NounPerson})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	b, err := db.Add(ctx, &graph.Noun{Type: graph.NounDocument})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	v, err := db.Relate(ctx, &graph.Verb{SourceID: a.ID, TargetID: b.ID, Type: graph.VerbAuthoredBy})
	if err != nil {
		t.Fatalf("Relate: %v", err)
	}

	hops, err := db.Traverse(ctx, a.ID, graph.DirOut, 2, nil)
	if err != nil {
		t.Fatalf("Traverse: %v", err)
	}
	if len(hops) != 1 || hops[0].Noun.ID != b.ID {
		t.Fatalf("expected to reach noun %s, got %+v", b.ID, hops)
	}
	if len(hops[0].Path) != 1 || hops[0].Path[0] != v.ID {
		t.Fatalf("expected path [%s], got %+v", v.ID, hops[0].Path)
	}
}

func TestOperationsFailAfterClose(t *testing.T) {
	db, err := Open(context.Background(), WithDimension(4), WithMemoryStorage(), WithMetrics(false))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := db.Add(context.Background(), &graph.Noun{Type: graph.NounPerson}); err != ErrDatabaseClosed {
		t.Fatalf("expected ErrDatabaseClosed, got %v", err)
	}
}
