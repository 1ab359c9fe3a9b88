package partition

import (
	"context"
	"fmt"

	"github.com/vitaly-z/hybridgraph/internal/vmath"
)

// maybeSplit re-clusters an overloaded shard into two new shards via
// 2-means, then atomically swaps it out of the partition table. A second
// insert racing to trigger the same split on the same shard is harmless:
// only the split that still finds the shard in the table swaps it out; the
// other discards the shards it built.
func (idx *Index) maybeSplit(ctx context.Context, s *shard) error {
	s.mu.Lock()
	if s.index.Size() < idx.config.SplitThreshold {
		s.mu.Unlock()
		return nil
	}
	entries, err := s.index.All(ctx)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to snapshot shard %d: %w", s.id, err)
	}
	if len(entries) < 2 {
		return nil
	}

	vectors := make([][]float32, len(entries))
	for i, e := range entries {
		vectors[i] = e.Vector
	}
	centroids := vmath.KMeans(vectors, 2, idx.distance, idx.rng, 50, 1e-4)
	if len(centroids) < 2 {
		return nil
	}

	idx.mu.Lock()
	left, err := idx.newShard()
	if err != nil {
		idx.mu.Unlock()
		return err
	}
	right, err := idx.newShard()
	if err != nil {
		idx.mu.Unlock()
		return err
	}
	left.centroid = centroids[0]
	right.centroid = centroids[1]
	idx.mu.Unlock()

	for _, e := range entries {
		target := left
		if vmath.NearestCentroid(e.Vector, centroids, idx.distance) == 1 {
			target = right
		}
		if err := target.index.Insert(ctx, e); err != nil {
			return fmt.Errorf("failed to re-insert %q during split: %w", e.ID, err)
		}
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	newShards := make([]*shard, 0, len(idx.shards)+1)
	replaced := false
	for _, existing := range idx.shards {
		if existing.id == s.id {
			replaced = true
			continue
		}
		newShards = append(newShards, existing)
	}
	if !replaced {
		left.index.Close()
		right.index.Close()
		return nil
	}
	idx.shards = append(newShards, left, right)

	for _, e := range entries {
		if _, owned := idx.idOwner[e.ID]; !owned {
			continue
		}
		target := left
		if vmath.NearestCentroid(e.Vector, centroids, idx.distance) == 1 {
			target = right
		}
		idx.idOwner[e.ID] = target.id
	}

	s.index.Close()
	return nil
}
