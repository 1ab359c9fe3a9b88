package partition

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"

	"github.com/vitaly-z/hybridgraph/internal/hnsw"
	"github.com/vitaly-z/hybridgraph/internal/vmath"
)

// VectorEntry is what callers insert.
type VectorEntry = hnsw.VectorEntry

// SearchResult is what Search returns.
type SearchResult = hnsw.SearchResult

// shard wraps one partition's HNSW index with its own insert lock and,
// for Semantic/Hybrid routing, the centroid it was assigned.
type shard struct {
	mu       sync.Mutex
	id       int
	index    *hnsw.Index
	centroid []float32
}

// Index routes vectors across a set of independently-locked HNSW shards.
type Index struct {
	mu       sync.RWMutex
	config   *Config
	shards   []*shard
	distance vmath.Func
	rng      *rand.Rand
	nextID   int
	idOwner  map[string]int // id -> shard id, for delete/update routing
}

// NewIndex creates a partitioned index with config.InitialPartitions
// empty shards, ready to accept inserts under the configured strategy.
func NewIndex(config *Config) (*Index, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	distFn, err := vmath.Lookup(config.HNSW.Metric)
	if err != nil {
		return nil, fmt.Errorf("partition: unsupported metric: %w", err)
	}

	idx := &Index{
		config:   config,
		distance: distFn,
		rng:      rand.New(rand.NewSource(config.RandomSeed)),
		idOwner:  make(map[string]int),
	}

	for i := 0; i < config.InitialPartitions; i++ {
		s, err := idx.newShard()
		if err != nil {
			return nil, err
		}
		idx.shards = append(idx.shards, s)
	}
	return idx, nil
}

func (idx *Index) newShard() (*shard, error) {
	cfg := *idx.config.HNSW
	cfg.Dimension = idx.config.Dimension
	hnswIdx, err := hnsw.NewIndex(&cfg)
	if err != nil {
		return nil, fmt.Errorf("partition: failed to create shard: %w", err)
	}
	s := &shard{id: idx.nextID, index: hnswIdx}
	idx.nextID++
	return s, nil
}

// Insert routes entry to a shard by the configured strategy and inserts it
// there under that shard's own lock, then checks for a split.
func (idx *Index) Insert(ctx context.Context, entry *VectorEntry) error {
	if len(entry.Vector) != idx.config.Dimension {
		return fmt.Errorf("partition: vector dimension %d does not match index dimension %d", len(entry.Vector), idx.config.Dimension)
	}

	idx.mu.RLock()
	if _, exists := idx.idOwner[entry.ID]; exists {
		idx.mu.RUnlock()
		return fmt.Errorf("partition: id %q already exists", entry.ID)
	}
	s := idx.route(entry.ID, entry.Vector)
	idx.mu.RUnlock()

	s.mu.Lock()
	err := s.index.Insert(ctx, entry)
	count := s.index.Size()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	idx.mu.Lock()
	idx.idOwner[entry.ID] = s.id
	idx.mu.Unlock()

	if count >= idx.config.SplitThreshold {
		if err := idx.maybeSplit(ctx, s); err != nil {
			return fmt.Errorf("partition: split failed after insert: %w", err)
		}
	}
	return nil
}

// route picks the shard entry belongs to, without mutating state. Callers
// must hold at least idx.mu.RLock().
func (idx *Index) route(id string, vector []float32) *shard {
	switch idx.config.Strategy {
	case Semantic:
		return idx.routeSemantic(vector)
	case Hybrid:
		return idx.routeHybrid(id, vector)
	default:
		return idx.routeHash(id)
	}
}

func (idx *Index) routeHash(id string) *shard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return idx.shards[int(h.Sum32())%len(idx.shards)]
}

// routeSemantic picks the nearest-centroid shard. Until a shard has split
// at least once it has no centroid yet, so everything routes to the first
// shard in that state — the centroid table only exists downstream of a
// 2-means split.
func (idx *Index) routeSemantic(vector []float32) *shard {
	best, bestDist := idx.shards[0], float32(-1)
	for _, s := range idx.shards {
		if s.centroid == nil {
			continue
		}
		d := idx.distance(vector, s.centroid)
		if bestDist < 0 || d < bestDist {
			best, bestDist = s, d
		}
	}
	return best
}

// routeHybrid narrows to shards sharing the vector's nearest centroid
// (there may be more than one after a hash-of-bucket split), then hashes
// within that group.
func (idx *Index) routeHybrid(id string, vector []float32) *shard {
	hasCentroids := false
	for _, s := range idx.shards {
		if s.centroid != nil {
			hasCentroids = true
			break
		}
	}
	if !hasCentroids {
		return idx.routeHash(id)
	}

	nearest := idx.routeSemantic(vector)
	group := make([]*shard, 0, 1)
	for _, s := range idx.shards {
		if s.centroid != nil && sameCentroid(s.centroid, nearest.centroid) {
			group = append(group, s)
		}
	}
	if len(group) <= 1 {
		return nearest
	}
	h := fnv.New32a()
	h.Write([]byte(id))
	return group[int(h.Sum32())%len(group)]
}

func sameCentroid(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Search fans out to shards per the configured FanOut strategy and merges
// results by score.
func (idx *Index) Search(ctx context.Context, query []float32, k int) ([]*SearchResult, error) {
	if len(query) != idx.config.Dimension {
		return nil, fmt.Errorf("partition: query dimension %d does not match index dimension %d", len(query), idx.config.Dimension)
	}
	if k <= 0 {
		return nil, fmt.Errorf("partition: k must be positive")
	}

	idx.mu.RLock()
	targets := idx.searchTargets(query)
	idx.mu.RUnlock()

	return idx.fanOutSearch(ctx, query, k, targets)
}

// searchTargets orders shards by relevance to query; Adaptive fan-out will
// stop early once enough results accumulate, Broadcast always exhausts it.
func (idx *Index) searchTargets(query []float32) []*shard {
	if idx.config.FanOut == Broadcast || idx.config.Strategy == Hash {
		out := make([]*shard, len(idx.shards))
		copy(out, idx.shards)
		return out
	}

	type scored struct {
		s *shard
		d float32
	}
	scoredShards := make([]scored, len(idx.shards))
	for i, s := range idx.shards {
		d := float32(0)
		if s.centroid != nil {
			d = idx.distance(query, s.centroid)
		}
		scoredShards[i] = scored{s, d}
	}
	for i := 1; i < len(scoredShards); i++ {
		for j := i; j > 0 && scoredShards[j].d < scoredShards[j-1].d; j-- {
			scoredShards[j], scoredShards[j-1] = scoredShards[j-1], scoredShards[j]
		}
	}
	out := make([]*shard, len(scoredShards))
	for i, s := range scoredShards {
		out[i] = s.s
	}
	return out
}

func (idx *Index) fanOutSearch(ctx context.Context, query []float32, k int, targets []*shard) ([]*SearchResult, error) {
	var merged []*SearchResult
	var mu sync.Mutex

	probe := func(batch []*shard) error {
		var wg sync.WaitGroup
		errCh := make(chan error, len(batch))
		for _, s := range batch {
			wg.Add(1)
			go func(s *shard) {
				defer wg.Done()
				results, err := s.index.Search(ctx, query, k)
				if err != nil {
					errCh <- err
					return
				}
				mu.Lock()
				merged = append(merged, results...)
				mu.Unlock()
			}(s)
		}
		wg.Wait()
		close(errCh)
		for err := range errCh {
			if err != nil {
				return err
			}
		}
		return nil
	}

	if idx.config.FanOut == Broadcast || idx.config.Strategy == Hash {
		if err := probe(targets); err != nil {
			return nil, err
		}
	} else {
		for i := 0; i < len(targets); {
			end := i + 1
			if end > len(targets) {
				end = len(targets)
			}
			if err := probe(targets[i:end]); err != nil {
				return nil, err
			}
			if len(merged) >= k {
				break
			}
			i = end
		}
	}

	sortResults(merged)
	if len(merged) > k {
		merged = merged[:k]
	}
	return merged, nil
}

func sortResults(results []*SearchResult) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].Score < results[j-1].Score; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}

// Delete removes id from whichever shard owns it.
func (idx *Index) Delete(ctx context.Context, id string) error {
	idx.mu.Lock()
	shardID, exists := idx.idOwner[id]
	if !exists {
		idx.mu.Unlock()
		return fmt.Errorf("partition: id %q not found", id)
	}
	delete(idx.idOwner, id)
	var target *shard
	for _, s := range idx.shards {
		if s.id == shardID {
			target = s
			break
		}
	}
	idx.mu.Unlock()

	if target == nil {
		return fmt.Errorf("partition: owning shard %d no longer exists", shardID)
	}
	target.mu.Lock()
	defer target.mu.Unlock()
	return target.index.Delete(ctx, id)
}

// Size returns the total node count across all shards.
func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	total := 0
	for _, s := range idx.shards {
		total += s.index.Size()
	}
	return total
}

// PartitionCount returns the current number of shards.
func (idx *Index) PartitionCount() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.shards)
}

// Close releases every shard's resources.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, s := range idx.shards {
		s.index.Close()
	}
	idx.shards = nil
	return nil
}
