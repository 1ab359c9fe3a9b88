package partition

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/vitaly-z/hybridgraph/internal/hnsw"
	"github.com/vitaly-z/hybridgraph/internal/vmath"
)

func testHNSWConfig(dim int) *hnsw.Config {
	return &hnsw.Config{
		Dimension:      dim,
		M:              8,
		EfConstruction: 48,
		EfSearch:       24,
		ML:             0.6,
		Metric:         vmath.L2,
		RandomSeed:     1,
	}
}

func randomVector(rng *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = rng.Float32()
	}
	return v
}

func TestHashRoutingDistributesAcrossPartitions(t *testing.T) {
	idx, err := NewIndex(&Config{
		Dimension:         8,
		Strategy:          Hash,
		FanOut:            Broadcast,
		InitialPartitions: 4,
		SplitThreshold:    100000,
		HNSW:              testHNSWConfig(8),
	})
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	ctx := context.Background()
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 80; i++ {
		id := fmt.Sprintf("n-%d", i)
		if err := idx.Insert(ctx, &VectorEntry{ID: id, Vector: randomVector(rng, 8)}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	if idx.Size() != 80 {
		t.Fatalf("expected size 80, got %d", idx.Size())
	}

	nonEmpty := 0
	for _, s := range idx.shards {
		if s.index.Size() > 0 {
			nonEmpty++
		}
	}
	if nonEmpty < 2 {
		t.Errorf("expected hash routing to spread inserts across multiple partitions, only %d used", nonEmpty)
	}
}

func TestInsertRejectsDuplicateIDAcrossPartitions(t *testing.T) {
	idx, err := NewIndex(&Config{
		Dimension:         4,
		Strategy:          Hash,
		FanOut:            Broadcast,
		InitialPartitions: 2,
		SplitThreshold:    1000,
		HNSW:              testHNSWConfig(4),
	})
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	ctx := context.Background()
	v := []float32{1, 2, 3, 4}
	if err := idx.Insert(ctx, &VectorEntry{ID: "a", Vector: v}); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := idx.Insert(ctx, &VectorEntry{ID: "a", Vector: v}); err == nil {
		t.Fatal("expected duplicate id rejection")
	}
}

func TestSearchFindsExactMatch(t *testing.T) {
	idx, err := NewIndex(&Config{
		Dimension:         16,
		Strategy:          Hash,
		FanOut:            Broadcast,
		InitialPartitions: 3,
		SplitThreshold:    100000,
		HNSW:              testHNSWConfig(16),
	})
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	ctx := context.Background()
	rng := rand.New(rand.NewSource(2))

	var target []float32
	for i := 0; i < 150; i++ {
		v := randomVector(rng, 16)
		id := fmt.Sprintf("n-%d", i)
		if i == 77 {
			target = v
		}
		if err := idx.Insert(ctx, &VectorEntry{ID: id, Vector: v}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	results, err := idx.Search(ctx, target, 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "n-77" {
		t.Fatalf("expected n-77 as nearest neighbor, got %+v", results)
	}
}

func TestDeleteRemovesFromOwningShard(t *testing.T) {
	idx, err := NewIndex(&Config{
		Dimension:         4,
		Strategy:          Hash,
		FanOut:            Broadcast,
		InitialPartitions: 3,
		SplitThreshold:    1000,
		HNSW:              testHNSWConfig(4),
	})
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	ctx := context.Background()
	rng := rand.New(rand.NewSource(5))
	for i := 0; i < 30; i++ {
		id := fmt.Sprintf("n-%d", i)
		if err := idx.Insert(ctx, &VectorEntry{ID: id, Vector: randomVector(rng, 4)}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	if err := idx.Delete(ctx, "n-15"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if idx.Size() != 29 {
		t.Fatalf("expected size 29, got %d", idx.Size())
	}
	if err := idx.Delete(ctx, "n-15"); err == nil {
		t.Fatal("expected error deleting an already-removed id")
	}
}

func TestSplitPreservesAllVectorsAndSearchability(t *testing.T) {
	idx, err := NewIndex(&Config{
		Dimension:         8,
		Strategy:          Semantic,
		FanOut:            Broadcast,
		InitialPartitions: 1,
		SplitThreshold:    20,
		HNSW:              testHNSWConfig(8),
	})
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	ctx := context.Background()
	rng := rand.New(rand.NewSource(8))

	ids := make([]string, 0, 60)
	vectors := make(map[string][]float32)
	for i := 0; i < 60; i++ {
		id := fmt.Sprintf("n-%d", i)
		v := randomVector(rng, 8)
		ids = append(ids, id)
		vectors[id] = v
		if err := idx.Insert(ctx, &VectorEntry{ID: id, Vector: v}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	if idx.PartitionCount() <= 1 {
		t.Fatalf("expected at least one split to have occurred, got %d partitions", idx.PartitionCount())
	}
	if idx.Size() != 60 {
		t.Fatalf("expected 60 vectors surviving split(s), got %d", idx.Size())
	}

	for _, id := range ids {
		results, err := idx.Search(ctx, vectors[id], 1)
		if err != nil {
			t.Fatalf("Search(%s): %v", id, err)
		}
		if len(results) != 1 || results[0].ID != id {
			t.Errorf("expected %s as its own nearest neighbor post-split, got %+v", id, results)
		}
	}
}

func TestHybridRoutingFallsBackToHashWithoutCentroids(t *testing.T) {
	idx, err := NewIndex(&Config{
		Dimension:         4,
		Strategy:          Hybrid,
		FanOut:            Broadcast,
		InitialPartitions: 3,
		SplitThreshold:    100000,
		HNSW:              testHNSWConfig(4),
	})
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	ctx := context.Background()
	rng := rand.New(rand.NewSource(13))
	for i := 0; i < 30; i++ {
		id := fmt.Sprintf("n-%d", i)
		if err := idx.Insert(ctx, &VectorEntry{ID: id, Vector: randomVector(rng, 4)}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	if idx.Size() != 30 {
		t.Fatalf("expected size 30, got %d", idx.Size())
	}
}
