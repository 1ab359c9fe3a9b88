// Package hnsw implements the Hierarchical Navigable Small World index
// shared by the noun index and every verb-type index: a layered proximity
// graph supporting approximate nearest-neighbor insert, search, and delete,
// optional SQ8 rerank, and a lazy vector mode that defers to a
// caller-supplied VectorSource instead of holding every vector in memory.
package hnsw

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vitaly-z/hybridgraph/internal/quant"
	"github.com/vitaly-z/hybridgraph/internal/vmath"
)

// VectorSource resolves the canonical vector for an id when the index is
// running in lazy mode (node.Vector == nil && node.CompressedVector == nil).
// Implemented by the storage adapter.
type VectorSource interface {
	FetchVector(ctx context.Context, id string) ([]float32, error)
}

// VectorEntry is what callers insert.
type VectorEntry struct {
	ID       string
	Vector   []float32
	Metadata map[string]interface{}
}

// SearchResult is what Search returns.
type SearchResult struct {
	ID       string
	Score    float32
	Vector   []float32
	Metadata map[string]interface{}
}

// HealthMetrics summarizes index shape for monitoring and capacity planning.
type HealthMetrics struct {
	NodeCount           int
	MaxLevel            int
	EntryPointID        string
	AvgConnectionsLevel0 float64
	NodesPerLevel       []int
}

// Config holds HNSW construction parameters.
type Config struct {
	Dimension      int
	M              int
	EfConstruction int
	EfSearch       int
	ML             float64
	Metric         vmath.Metric
	RandomSeed     int64

	// Quantization, optional: when set, vectors are stored as payloads of
	// the configured codec (SQ8 or product quantization) instead of full
	// f32 once the training threshold is reached.
	Quantization *quant.QuantizationConfig

	// RerankMultiplier > 1 enables two-phase rerank: the quantized search
	// returns RerankMultiplier*k candidates, which are then re-scored
	// against exact vectors pulled through VectorSource before truncating
	// to k. 0 or 1 disables rerank.
	RerankMultiplier int

	// Lazy enables lazy vector mode: nodes never hold a vector at all;
	// every distance computation goes through VectorSource, fronted by an
	// LRU cache of LazyCacheSize entries.
	Lazy          bool
	LazyCacheSize int

	Source VectorSource
}

func (c *Config) validate() error {
	if c.Dimension <= 0 {
		return fmt.Errorf("hnsw: dimension must be positive")
	}
	if c.M <= 0 {
		return fmt.Errorf("hnsw: M must be positive")
	}
	if c.EfConstruction <= 0 {
		return fmt.Errorf("hnsw: EfConstruction must be positive")
	}
	if c.EfSearch <= 0 {
		return fmt.Errorf("hnsw: EfSearch must be positive")
	}
	if c.ML <= 0 {
		return fmt.Errorf("hnsw: ML must be positive")
	}
	if c.Quantization != nil {
		if err := c.Quantization.Validate(); err != nil {
			return fmt.Errorf("hnsw: invalid quantization config: %w", err)
		}
	}
	if c.Lazy && c.Source == nil {
		return fmt.Errorf("hnsw: lazy mode requires a VectorSource")
	}
	return nil
}

// Index implements the HNSW ANN algorithm.
type Index struct {
	mu                   sync.RWMutex
	config               *Config
	nodes                []*Node
	entryPoint           uint32
	hasEntryPoint        bool
	maxLevel             int
	levelGenerator       *rand.Rand
	distance             vmath.Func
	size                 int
	idToIndex            map[string]uint32
	entryPointCandidates []uint32
	neighborSelector     *NeighborSelector

	quantizer           quant.Quantizer
	trainingVectors     [][]float32
	quantizationTrained bool

	lazyCache *lru.Cache[string, []float32]
}

// NewIndex creates an empty HNSW index.
func NewIndex(config *Config) (*Index, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}

	distFn, err := vmath.Lookup(config.Metric)
	if err != nil {
		return nil, fmt.Errorf("hnsw: unsupported metric: %w", err)
	}

	idx := &Index{
		config:               config,
		levelGenerator:       rand.New(rand.NewSource(config.RandomSeed)),
		distance:             distFn,
		idToIndex:            make(map[string]uint32),
		entryPointCandidates: make([]uint32, 0),
		trainingVectors:      make([][]float32, 0),
		neighborSelector:     NewNeighborSelector(config.M, 2.0),
	}

	if config.Quantization != nil {
		q, err := quant.New(config.Quantization)
		if err != nil {
			return nil, fmt.Errorf("hnsw: failed to create quantizer: %w", err)
		}
		idx.quantizer = q
	}

	if config.Lazy {
		size := config.LazyCacheSize
		if size <= 0 {
			size = 4096
		}
		cache, err := lru.New[string, []float32](size)
		if err != nil {
			return nil, fmt.Errorf("hnsw: failed to create lazy cache: %w", err)
		}
		idx.lazyCache = cache
	}

	return idx, nil
}

// Insert adds entry to the index. Duplicate ids are rejected; callers that
// want the update semantics described in DESIGN.md must Delete then Insert.
func (h *Index) Insert(ctx context.Context, entry *VectorEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(entry.Vector) != h.config.Dimension {
		return fmt.Errorf("hnsw: vector dimension %d does not match index dimension %d", len(entry.Vector), h.config.Dimension)
	}
	if _, exists := h.idToIndex[entry.ID]; exists {
		return fmt.Errorf("hnsw: node with id %q already exists", entry.ID)
	}

	if h.quantizer != nil && !h.quantizationTrained {
		vecCopy := make([]float32, len(entry.Vector))
		copy(vecCopy, entry.Vector)
		h.trainingVectors = append(h.trainingVectors, vecCopy)
		if len(h.trainingVectors) >= h.trainingThreshold() {
			if err := h.trainQuantizer(ctx); err != nil {
				return fmt.Errorf("hnsw: quantizer training failed: %w", err)
			}
		}
	}

	level := h.generateLevel()
	node := &Node{
		ID:       entry.ID,
		Level:    level,
		Metadata: entry.Metadata,
		Links:    make([][]uint32, level+1),
	}
	for i := 0; i <= level; i++ {
		node.Links[i] = make([]uint32, 0, h.config.M)
	}

	switch {
	case h.config.Lazy:
		// Node stores nothing; canonical vector lives in storage.
		if h.lazyCache != nil {
			h.lazyCache.Add(entry.ID, entry.Vector)
		}
	case h.quantizer != nil && h.quantizationTrained:
		compressed, err := h.quantizer.Compress(entry.Vector)
		if err != nil {
			return fmt.Errorf("hnsw: failed to compress vector: %w", err)
		}
		node.CompressedVector = compressed
	default:
		node.Vector = make([]float32, len(entry.Vector))
		copy(node.Vector, entry.Vector)
	}

	nodeID := uint32(len(h.nodes))
	h.nodes = append(h.nodes, node)
	h.idToIndex[entry.ID] = nodeID
	if level >= 2 {
		h.entryPointCandidates = append(h.entryPointCandidates, nodeID)
	}

	if !h.hasEntryPoint {
		h.entryPoint = nodeID
		h.hasEntryPoint = true
		h.maxLevel = level
		h.size++
		return nil
	}

	if err := h.insertNode(ctx, entry.Vector, node, nodeID); err != nil {
		h.nodes = h.nodes[:len(h.nodes)-1]
		delete(h.idToIndex, entry.ID)
		if level >= 2 && len(h.entryPointCandidates) > 0 {
			last := len(h.entryPointCandidates) - 1
			if h.entryPointCandidates[last] == nodeID {
				h.entryPointCandidates = h.entryPointCandidates[:last]
			}
		}
		return fmt.Errorf("hnsw: insert failed: %w", err)
	}

	h.size++
	if level > h.maxLevel {
		h.entryPoint = nodeID
		h.maxLevel = level
	}
	return nil
}

// Search returns the k nearest neighbors to query.
func (h *Index) Search(ctx context.Context, query []float32, k int) ([]*SearchResult, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.size == 0 {
		return []*SearchResult{}, nil
	}
	if len(query) != h.config.Dimension {
		return nil, fmt.Errorf("hnsw: query dimension %d does not match index dimension %d", len(query), h.config.Dimension)
	}
	if k <= 0 {
		return nil, fmt.Errorf("hnsw: k must be positive")
	}

	ep := h.entryPoint
	for level := h.maxLevel; level > 0; level-- {
		candidates := h.searchLevel(ctx, query, ep, 1, level)
		if len(candidates) > 0 {
			ep = candidates[0].ID
		}
	}

	ef := h.config.EfSearch
	searchK := k
	if h.config.RerankMultiplier > 1 {
		searchK = k * h.config.RerankMultiplier
	}
	if ef < searchK {
		ef = searchK
	}

	candidates := h.searchLevel(ctx, query, ep, ef, 0)

	if h.config.RerankMultiplier > 1 && h.config.Source != nil {
		candidates = h.rerank(ctx, query, candidates, searchK)
	}

	limit := k
	if limit > len(candidates) {
		limit = len(candidates)
	}
	results := make([]*SearchResult, 0, limit)
	for i := 0; i < limit; i++ {
		c := candidates[i]
		node := h.nodes[c.ID]
		vec, _ := h.getNodeVector(ctx, node)
		results = append(results, &SearchResult{
			ID:       node.ID,
			Score:    c.Distance,
			Vector:   vec,
			Metadata: node.Metadata,
		})
	}
	return results, nil
}

// rerank re-scores candidates against exact vectors fetched through the
// configured VectorSource and returns them sorted by exact distance.
func (h *Index) rerank(ctx context.Context, query []float32, candidates []*vmath.Candidate, limit int) []*vmath.Candidate {
	if limit > len(candidates) {
		limit = len(candidates)
	}
	rescored := make([]*vmath.Candidate, 0, limit)
	for i := 0; i < limit; i++ {
		node := h.nodes[candidates[i].ID]
		exact, err := h.config.Source.FetchVector(ctx, node.ID)
		if err != nil {
			rescored = append(rescored, candidates[i])
			continue
		}
		rescored = append(rescored, &vmath.Candidate{ID: candidates[i].ID, Distance: h.distance(query, exact)})
	}
	for i := 1; i < len(rescored); i++ {
		for j := i; j > 0 && rescored[j].Distance < rescored[j-1].Distance; j-- {
			rescored[j], rescored[j-1] = rescored[j-1], rescored[j]
		}
	}
	return rescored
}

// Delete removes id from the index, repairing neighbor links.
func (h *Index) Delete(ctx context.Context, id string) error {
	return h.deleteNode(ctx, id)
}

// Size returns the current node count.
func (h *Index) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size
}

// MemoryUsage estimates the in-process footprint of the index.
func (h *Index) MemoryUsage() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var usage int64
	for _, node := range h.nodes {
		if node.CompressedVector != nil {
			usage += int64(len(node.CompressedVector))
		} else if node.Vector != nil {
			usage += int64(len(node.Vector) * 4)
		}
		for _, links := range node.Links {
			usage += int64(len(links) * 4)
		}
		usage += 64
	}
	if h.quantizer != nil {
		usage += h.quantizer.MemoryUsage()
	}
	for _, v := range h.trainingVectors {
		usage += int64(len(v) * 4)
	}
	return usage
}

// Health reports structural metrics for monitoring.
func (h *Index) Health() HealthMetrics {
	h.mu.RLock()
	defer h.mu.RUnlock()

	metrics := HealthMetrics{
		NodeCount: h.size,
		MaxLevel:  h.maxLevel,
	}
	if h.hasEntryPoint && int(h.entryPoint) < len(h.nodes) {
		metrics.EntryPointID = h.nodes[h.entryPoint].ID
	}
	metrics.NodesPerLevel = make([]int, h.maxLevel+1)
	var totalLevel0Links int
	for _, node := range h.nodes {
		if node == nil {
			continue
		}
		if node.Level <= h.maxLevel {
			metrics.NodesPerLevel[node.Level]++
		}
		if len(node.Links) > 0 {
			totalLevel0Links += len(node.Links[0])
		}
	}
	if h.size > 0 {
		metrics.AvgConnectionsLevel0 = float64(totalLevel0Links) / float64(h.size)
	}
	return metrics
}

// Close releases index memory.
func (h *Index) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nodes = nil
	h.hasEntryPoint = false
	h.size = 0
	if h.lazyCache != nil {
		h.lazyCache.Purge()
	}
	return nil
}

func (h *Index) generateLevel() int {
	level := 0
	for h.levelGenerator.Float64() < h.config.ML && level < 16 {
		level++
	}
	return level
}

func (h *Index) trainingThreshold() int {
	if h.config.Quantization == nil {
		return 0
	}
	switch h.config.Quantization.Type {
	case quant.ProductQuantization:
		return maxInt(1000, h.config.Quantization.Codebooks*256)
	case quant.ScalarQuantization:
		return maxInt(100, h.config.Dimension*10)
	default:
		return 1000
	}
}

func (h *Index) trainQuantizer(ctx context.Context) error {
	if h.quantizer == nil || len(h.trainingVectors) == 0 {
		return fmt.Errorf("hnsw: no quantizer or training data available")
	}
	ratio := h.config.Quantization.TrainRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 0.1
	}
	count := int(float64(len(h.trainingVectors)) * ratio)
	if count < 1 {
		count = len(h.trainingVectors)
	}
	if err := h.quantizer.Train(ctx, h.trainingVectors[:count]); err != nil {
		return err
	}
	h.quantizationTrained = true
	h.trainingVectors = nil
	return nil
}

// getNodeVector resolves a node's canonical vector, handling all three
// storage modes (full, quantized, lazy).
func (h *Index) getNodeVector(ctx context.Context, node *Node) ([]float32, error) {
	switch {
	case node.CompressedVector != nil && h.quantizer != nil:
		return h.quantizer.Decompress(node.CompressedVector)
	case node.Vector != nil:
		return node.Vector, nil
	case h.config.Lazy:
		return h.fetchLazyVector(ctx, node.ID)
	default:
		return nil, fmt.Errorf("hnsw: node %q has no retrievable vector", node.ID)
	}
}

func (h *Index) fetchLazyVector(ctx context.Context, id string) ([]float32, error) {
	if h.lazyCache != nil {
		if v, ok := h.lazyCache.Get(id); ok {
			return v, nil
		}
	}
	if h.config.Source == nil {
		return nil, fmt.Errorf("hnsw: lazy mode requires a VectorSource")
	}
	v, err := h.config.Source.FetchVector(ctx, id)
	if err != nil {
		return nil, err
	}
	if h.lazyCache != nil {
		h.lazyCache.Add(id, v)
	}
	return v, nil
}

// computeDistanceTo returns the distance between query and node, handling
// quantized and lazy nodes transparently.
func (h *Index) computeDistanceTo(ctx context.Context, query []float32, node *Node) float32 {
	if node.CompressedVector != nil && h.quantizer != nil {
		d, err := h.quantizer.DistanceToQuery(node.CompressedVector, query)
		if err == nil {
			return d
		}
		vec, decErr := h.quantizer.Decompress(node.CompressedVector)
		if decErr != nil {
			return -1
		}
		return h.distance(query, vec)
	}
	vec, err := h.getNodeVector(ctx, node)
	if err != nil {
		return -1
	}
	return h.distance(query, vec)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
