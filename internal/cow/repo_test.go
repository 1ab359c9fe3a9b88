package cow

import (
	"context"
	"testing"
	"time"

	"github.com/vitaly-z/hybridgraph/internal/blob"
	"github.com/vitaly-z/hybridgraph/internal/storage"
)

func newTestRepo(t *testing.T) (*Repo, context.Context) {
	t.Helper()
	ctx := context.Background()
	adapter := storage.NewMemory()
	blobs, err := blob.New(ctx, adapter)
	if err != nil {
		t.Fatalf("blob.New: %v", err)
	}
	return New(blobs, adapter), ctx
}

func TestCommitChainAndGetHistoryOrder(t *testing.T) {
	r, ctx := newTestRepo(t)

	c1, err := r.Commit(ctx, "ada", "initial", "tree-1", "")
	if err != nil {
		t.Fatalf("commit 1: %v", err)
	}
	c2, err := r.Commit(ctx, "ada", "second", "tree-2", c1.Hash)
	if err != nil {
		t.Fatalf("commit 2: %v", err)
	}
	c3, err := r.Commit(ctx, "grace", "third", "tree-3", c2.Hash)
	if err != nil {
		t.Fatalf("commit 3: %v", err)
	}

	history, err := r.GetHistory(ctx, c3.Hash, Filter{})
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 commits, got %d", len(history))
	}
	if history[0].Hash != c3.Hash || history[1].Hash != c2.Hash || history[2].Hash != c1.Hash {
		t.Fatalf("expected history newest-first, got %+v", history)
	}
}

func TestGetHistoryFiltersByAuthor(t *testing.T) {
	r, ctx := newTestRepo(t)

	c1, _ := r.Commit(ctx, "ada", "initial", "tree-1", "")
	c2, _ := r.Commit(ctx, "grace", "second", "tree-2", c1.Hash)

	history, err := r.GetHistory(ctx, c2.Hash, Filter{Author: "grace"})
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(history) != 1 || history[0].Author != "grace" {
		t.Fatalf("expected only grace's commit, got %+v", history)
	}
}

func TestGetHistoryRespectsLimit(t *testing.T) {
	r, ctx := newTestRepo(t)

	c1, _ := r.Commit(ctx, "ada", "1", "t1", "")
	c2, _ := r.Commit(ctx, "ada", "2", "t2", c1.Hash)
	c3, _ := r.Commit(ctx, "ada", "3", "t3", c2.Hash)

	history, err := r.GetHistory(ctx, c3.Hash, Filter{Limit: 2})
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 commits with limit, got %d", len(history))
	}
}

func TestStreamHistoryStopsOnContextCancellation(t *testing.T) {
	r, ctx := newTestRepo(t)

	c1, _ := r.Commit(ctx, "ada", "1", "t1", "")
	c2, _ := r.Commit(ctx, "ada", "2", "t2", c1.Hash)
	r.Commit(ctx, "ada", "3", "t3", c2.Hash)

	cancelCtx, cancel := context.WithCancel(ctx)
	ch := r.StreamHistory(cancelCtx, c2.Hash, Filter{})

	first := <-ch
	if first == nil {
		t.Fatal("expected a first commit before cancellation")
	}
	cancel()

	// Draining to close must terminate promptly once cancelled, not hang
	// waiting on a prefetch that was never issued.
	done := make(chan struct{})
	go func() {
		for range ch {
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("StreamHistory did not stop promptly after context cancellation")
	}
}

func TestBranchPointerRoundTrip(t *testing.T) {
	r, ctx := newTestRepo(t)

	c1, _ := r.Commit(ctx, "ada", "1", "t1", "")
	if err := r.SetBranch(ctx, "main", c1.Hash); err != nil {
		t.Fatalf("SetBranch: %v", err)
	}
	got, err := r.GetBranch(ctx, "main")
	if err != nil {
		t.Fatalf("GetBranch: %v", err)
	}
	if got != c1.Hash {
		t.Fatalf("expected branch to point at %s, got %s", c1.Hash, got)
	}
}
