package query

import (
	"context"
	"testing"

	"github.com/vitaly-z/hybridgraph/internal/filter"
)

func TestBuildRequiresVectorAndLimit(t *testing.T) {
	if _, err := NewBuilder().Limit(5).Build(); err == nil {
		t.Fatal("expected error building without a vector")
	}
	if _, err := NewBuilder().WithVector([]float32{1, 2}).Build(); err == nil {
		t.Fatal("expected error building without a positive limit")
	}
}

func TestBuilderEqAndChainCompose(t *testing.T) {
	q, err := NewBuilder().
		WithVector([]float32{1, 2, 3}).
		Eq("type", "person").
		And().
		Gt("confidence", 0.5).
		Lt("confidence", 1.0).
		End().
		Limit(10).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(q.Filters) != 2 {
		t.Fatalf("expected one plain filter and one chained filter, got %d", len(q.Filters))
	}
}

func TestApplyFiltersNarrowsEntries(t *testing.T) {
	entries := []*filter.VectorEntry{
		{ID: "a", Metadata: map[string]interface{}{"type": "person"}},
		{ID: "b", Metadata: map[string]interface{}{"type": "document"}},
	}
	filters := []filter.Filter{filter.NewEqualityFilter("type", "person")}

	out, err := ApplyFilters(context.Background(), entries, filters)
	if err != nil {
		t.Fatalf("ApplyFilters: %v", err)
	}
	if len(out) != 1 || out[0].ID != "a" {
		t.Fatalf("expected only entry a to survive, got %+v", out)
	}
}

func TestSearchLimitWidensForSelectiveFilters(t *testing.T) {
	filters := []filter.Filter{filter.NewEqualityFilter("type", "person")}
	limit := SearchLimit(10, filters)
	if limit <= 10 {
		t.Fatalf("expected widened search limit, got %d", limit)
	}
}

func TestApplyThresholdDropsLowScores(t *testing.T) {
	entries := []*filter.VectorEntry{{ID: "a"}, {ID: "b"}}
	scores := map[string]float32{"a": 0.9, "b": 0.1}

	out := ApplyThreshold(entries, scores, 0.5)
	if len(out) != 1 || out[0].ID != "a" {
		t.Fatalf("expected only high-scoring entry to survive, got %+v", out)
	}
}
