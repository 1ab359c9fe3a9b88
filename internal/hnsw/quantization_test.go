package hnsw

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/vitaly-z/hybridgraph/internal/quant"
	"github.com/vitaly-z/hybridgraph/internal/vmath"
)

type fullVectorSource struct {
	vectors map[string][]float32
}

func (s *fullVectorSource) FetchVector(ctx context.Context, id string) ([]float32, error) {
	v, ok := s.vectors[id]
	if !ok {
		return nil, fmt.Errorf("no vector for %s", id)
	}
	return v, nil
}

func TestScalarQuantizationWithRerankFindsExactNearest(t *testing.T) {
	const dim = 16
	source := &fullVectorSource{vectors: make(map[string][]float32)}
	cfg := testConfig(dim)
	cfg.Quantization = &quant.QuantizationConfig{
		Type:       quant.ScalarQuantization,
		Bits:       8,
		TrainRatio: 1.0,
	}
	cfg.RerankMultiplier = 4
	cfg.Source = source
	cfg.Metric = vmath.L2

	idx, err := NewIndex(cfg)
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	ctx := context.Background()
	rng := rand.New(rand.NewSource(21))

	var targetID string
	var target []float32
	for i := 0; i < 300; i++ {
		v := randomVector(rng, dim)
		id := fmt.Sprintf("n-%d", i)
		source.vectors[id] = v
		if i == 150 {
			targetID = id
			target = v
		}
		if err := idx.Insert(ctx, &VectorEntry{ID: id, Vector: v}); err != nil {
			t.Fatalf("Insert(%s): %v", id, err)
		}
	}

	results, err := idx.Search(ctx, target, 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].ID != targetID {
		t.Errorf("expected %s as nearest neighbor after rerank, got %s", targetID, results[0].ID)
	}
}

func TestScalarQuantizationTrainsOnce(t *testing.T) {
	const dim = 8
	source := &fullVectorSource{vectors: make(map[string][]float32)}
	cfg := testConfig(dim)
	cfg.Quantization = quant.DefaultConfig(quant.ScalarQuantization)
	cfg.Source = source

	idx, err := NewIndex(cfg)
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	ctx := context.Background()
	rng := rand.New(rand.NewSource(5))

	threshold := idx.trainingThreshold()
	for i := 0; i < threshold+20; i++ {
		v := randomVector(rng, dim)
		id := fmt.Sprintf("n-%d", i)
		source.vectors[id] = v
		if err := idx.Insert(ctx, &VectorEntry{ID: id, Vector: v}); err != nil {
			t.Fatalf("Insert(%s): %v", id, err)
		}
	}

	if !idx.quantizationTrained {
		t.Fatal("expected quantizer to be trained after exceeding threshold")
	}

	lastID := fmt.Sprintf("n-%d", threshold+19)
	idx.mu.RLock()
	nodeIdx := idx.idToIndex[lastID]
	node := idx.nodes[nodeIdx]
	idx.mu.RUnlock()
	if node.CompressedVector == nil {
		t.Fatal("expected a post-training insert to store a compressed vector")
	}
	if node.Vector != nil {
		t.Fatal("expected a post-training insert to not retain the full vector")
	}
}
