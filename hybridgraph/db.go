// Package hybridgraph is the public coordinator: it wires the blob
// store, COW commit history, typed property graph, partitioned HNSW
// indexes, statistics tracker, and embedding-provider singleton behind
// one Add/Get/Update/Delete/Relate/Find/FindNearest/Commit surface.
package hybridgraph

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vitaly-z/hybridgraph/internal/blob"
	"github.com/vitaly-z/hybridgraph/internal/cow"
	"github.com/vitaly-z/hybridgraph/internal/embed"
	"github.com/vitaly-z/hybridgraph/internal/errs"
	"github.com/vitaly-z/hybridgraph/internal/filter"
	"github.com/vitaly-z/hybridgraph/internal/graph"
	"github.com/vitaly-z/hybridgraph/internal/hnsw"
	"github.com/vitaly-z/hybridgraph/internal/memory"
	"github.com/vitaly-z/hybridgraph/internal/obs"
	"github.com/vitaly-z/hybridgraph/internal/partition"
	"github.com/vitaly-z/hybridgraph/internal/query"
	"github.com/vitaly-z/hybridgraph/internal/stats"
	"github.com/vitaly-z/hybridgraph/internal/storage"
	"github.com/vitaly-z/hybridgraph/internal/storage/filesystem"
	"github.com/vitaly-z/hybridgraph/internal/storage/objectstore"
	"github.com/vitaly-z/hybridgraph/internal/vmath"
)

// DB is the coordinator over every storage, index, and bookkeeping
// subsystem. A DB is safe for concurrent use.
type DB struct {
	config *Config

	adapter storage.Adapter
	blobs   *blob.Store
	repo    *cow.Repo
	graph   *graph.Store
	tracker *stats.Tracker

	metrics *obs.Metrics
	health  *obs.HealthChecker

	embedder embed.Provider

	resources memory.MemoryManager

	nounIndex *partition.Index

	verbMu    sync.RWMutex
	verbIndex map[graph.VerbType]*partition.Index

	sem chan struct{}

	closeOnce sync.Once
	closed    bool
	mu        sync.RWMutex
}

// ErrDatabaseClosed is returned by every operation once Close has run.
var ErrDatabaseClosed = fmt.Errorf("hybridgraph: database is closed")

func (db *DB) checkOpen() error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return ErrDatabaseClosed
	}
	return nil
}

func hnswConfigFor(dimension int, metric vmath.Metric) *hnsw.Config {
	return &hnsw.Config{
		Dimension:      dimension,
		M:              16,
		EfConstruction: 200,
		EfSearch:       64,
		ML:             1.0 / 2.303, // 1/ln(10), teacher's default ML constant
		Metric:         metric,
		RandomSeed:     1,
	}
}

// Open assembles a DB from the given options.
func Open(ctx context.Context, opts ...Option) (*DB, error) {
	config := defaultConfig()
	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, fmt.Errorf("hybridgraph: failed to apply option: %w", err)
		}
	}
	if err := config.validate(); err != nil {
		return nil, err
	}

	adapter, err := newAdapter(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("hybridgraph: failed to initialize storage: %w", err)
	}

	var metrics *obs.Metrics
	if config.MetricsEnabled {
		metrics = obs.NewMetrics()
	}

	blobs, err := blob.New(ctx, adapter)
	if err != nil {
		return nil, fmt.Errorf("hybridgraph: failed to initialize blob store: %w", err)
	}

	nounIndex, err := partition.NewIndex(config.partitionConfig())
	if err != nil {
		return nil, fmt.Errorf("hybridgraph: failed to initialize noun index: %w", err)
	}

	embedder := config.Embedder
	if embedder == nil {
		embedder = embed.NewNoop(config.Dimension)
	}

	var trackerOpts []stats.Option
	if metrics != nil {
		trackerOpts = append(trackerOpts, stats.WithMetrics(metrics))
	}

	memConfig := memory.DefaultMemoryConfig()
	memConfig.MaxMemory = config.MaxMemoryBytes
	resources := memory.NewManager(memConfig)
	if err := resources.Start(ctx); err != nil {
		return nil, fmt.Errorf("hybridgraph: failed to start resource monitor: %w", err)
	}

	db := &DB{
		config:    config,
		adapter:   adapter,
		blobs:     blobs,
		repo:      cow.New(blobs, adapter),
		graph:     graph.New(adapter),
		tracker:   stats.New(adapter, trackerOpts...),
		metrics:   metrics,
		embedder:  embedder,
		resources: resources,
		nounIndex: nounIndex,
		verbIndex: make(map[graph.VerbType]*partition.Index),
		sem:       make(chan struct{}, config.MaxConcurrentSearches),
	}
	db.health = obs.NewHealthChecker(adapter, blobs)

	return db, nil
}

func newAdapter(ctx context.Context, config *Config) (storage.Adapter, error) {
	switch config.Backend {
	case storage.KindFilesystem:
		return filesystem.New(config.StoragePath)
	case storage.KindObjectStore:
		return objectstore.New(ctx, *config.ObjectStore)
	default:
		return storage.NewMemory(), nil
	}
}

func (db *DB) verbIndexFor(vt graph.VerbType) (*partition.Index, error) {
	db.verbMu.RLock()
	idx, ok := db.verbIndex[vt]
	db.verbMu.RUnlock()
	if ok {
		return idx, nil
	}

	db.verbMu.Lock()
	defer db.verbMu.Unlock()
	if idx, ok := db.verbIndex[vt]; ok {
		return idx, nil
	}
	idx, err := partition.NewIndex(db.config.partitionConfig())
	if err != nil {
		return nil, fmt.Errorf("hybridgraph: failed to initialize index for verb type %s: %w", vt, err)
	}
	db.verbIndex[vt] = idx
	return idx, nil
}

// Add creates a noun, indexing its vector if present.
func (db *DB) Add(ctx context.Context, n *graph.Noun) (*graph.Noun, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	if err := db.checkDimension(n.Vector); err != nil {
		return nil, err
	}
	n, err := db.graph.AddNoun(ctx, n)
	if err != nil {
		return nil, err
	}
	if len(n.Vector) > 0 {
		if err := db.nounIndex.Insert(ctx, &hnsw.VectorEntry{
			ID:       n.ID.String(),
			Vector:   n.Vector,
			Metadata: n.Metadata,
		}); err != nil {
			return nil, fmt.Errorf("hybridgraph: failed to index noun %s: %w", n.ID, err)
		}
	}
	db.tracker.RecordNounAdd(n.Type, n.Service)
	return n, nil
}

// Get fetches a noun by ID.
func (db *DB) Get(ctx context.Context, id uuid.UUID) (*graph.Noun, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	n, err := db.graph.GetNoun(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, errs.NotFound(fmt.Sprintf("noun %s not found", id))
	}
	return n, nil
}

// Update replaces a noun's fields and, if its vector changed, re-indexes
// it (delete-then-insert, since HNSW has no in-place vector update).
func (db *DB) Update(ctx context.Context, n *graph.Noun) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	if err := db.checkDimension(n.Vector); err != nil {
		return err
	}
	if err := db.graph.UpdateNoun(ctx, n); err != nil {
		return err
	}
	if len(n.Vector) > 0 {
		_ = db.nounIndex.Delete(ctx, n.ID.String())
		if err := db.nounIndex.Insert(ctx, &hnsw.VectorEntry{
			ID:       n.ID.String(),
			Vector:   n.Vector,
			Metadata: n.Metadata,
		}); err != nil {
			return fmt.Errorf("hybridgraph: failed to re-index noun %s: %w", n.ID, err)
		}
	}
	return nil
}

// Delete removes a noun, applying the given cascade policy to its
// incident verbs, and removes it from the noun index.
func (db *DB) Delete(ctx context.Context, id uuid.UUID, policy graph.CascadePolicy) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	n, err := db.graph.GetNoun(ctx, id)
	if err != nil {
		return err
	}
	if err := db.graph.DeleteNoun(ctx, id, policy); err != nil {
		return err
	}
	_ = db.nounIndex.Delete(ctx, id.String())
	if n != nil {
		db.tracker.RecordNounDelete(n.Type, n.Service)
	}
	return nil
}

// Relate creates a typed edge between two nouns, indexing its vector in
// the verb-type-specific index if present.
func (db *DB) Relate(ctx context.Context, v *graph.Verb) (*graph.Verb, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	if len(v.Vector) > 0 {
		if err := db.checkDimension(v.Vector); err != nil {
			return nil, err
		}
	}
	v, err := db.graph.AddVerb(ctx, v)
	if err != nil {
		return nil, err
	}
	if len(v.Vector) > 0 {
		idx, err := db.verbIndexFor(v.Type)
		if err != nil {
			return nil, err
		}
		if err := idx.Insert(ctx, &hnsw.VectorEntry{
			ID:       v.ID.String(),
			Vector:   v.Vector,
			Metadata: v.Metadata,
		}); err != nil {
			return nil, fmt.Errorf("hybridgraph: failed to index verb %s: %w", v.ID, err)
		}
	}
	db.tracker.RecordVerbAdd(v.Type, v.Service)
	return v, nil
}

// Unrelate removes a verb and its index entry.
func (db *DB) Unrelate(ctx context.Context, id uuid.UUID) error {
	if err := db.checkOpen(); err != nil {
		return err
	}
	v, err := db.graph.GetVerb(ctx, id)
	if err != nil {
		return err
	}
	if err := db.graph.DeleteVerb(ctx, id); err != nil {
		return err
	}
	if v != nil {
		db.verbMu.RLock()
		idx, ok := db.verbIndex[v.Type]
		db.verbMu.RUnlock()
		if ok {
			_ = idx.Delete(ctx, id.String())
		}
		db.tracker.RecordVerbDelete(v.Type, v.Service)
	}
	return nil
}

// GetRelations lists the verbs touching nounID, optionally narrowed by
// direction and verb type.
func (db *DB) GetRelations(ctx context.Context, nounID uuid.UUID, dir graph.Direction, verbType graph.VerbType, pg graph.Pagination) (*graph.Page, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	return db.graph.GetRelations(ctx, nounID, dir, verbType, pg)
}

// Traverse runs a breadth-first walk from a noun out to maxDepth hops
// along dir, optionally narrowed to verbTypes, returning each reached
// noun paired with the verb-id chain connecting it back to startID.
func (db *DB) Traverse(ctx context.Context, startID uuid.UUID, dir graph.Direction, maxDepth int, verbTypes []graph.VerbType) ([]graph.TraverseHop, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	return db.graph.Traverse(ctx, startID, dir, maxDepth, verbTypes, nil)
}

// Find lists nouns of a type that satisfy q's metadata filters, without
// a vector search component.
func (db *DB) Find(ctx context.Context, nounType graph.NounType, q *query.Query, pg graph.Pagination) (*graph.Page, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	page, err := db.graph.ListNouns(ctx, nounType, pg)
	if err != nil {
		return nil, err
	}
	if q == nil || len(q.Filters) == 0 {
		return page, nil
	}

	entries := make([]*filter.VectorEntry, len(page.Nouns))
	byID := make(map[string]*graph.Noun, len(page.Nouns))
	for i, n := range page.Nouns {
		entries[i] = &filter.VectorEntry{ID: n.ID.String(), Metadata: n.Metadata}
		byID[n.ID.String()] = n
	}

	survivors, err := query.ApplyFilters(ctx, entries, q.Filters)
	if err != nil {
		return nil, err
	}

	nouns := make([]*graph.Noun, 0, len(survivors))
	for _, e := range survivors {
		nouns = append(nouns, byID[e.ID])
	}
	return &graph.Page{Nouns: nouns, NextCursor: page.NextCursor}, nil
}

// FindNearest runs an ANN search against the noun index, applies q's
// metadata filters and score threshold to the candidates, and resolves
// survivors to full Noun records.
func (db *DB) FindNearest(ctx context.Context, q *query.Query) ([]*graph.Noun, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	select {
	case db.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, errs.New(errs.CodeCancelled, errs.ErrCancelled, "search cancelled while waiting for a slot")
	}
	defer func() { <-db.sem }()

	start := time.Now()
	fetch := query.SearchLimit(q.Limit, q.Filters)
	results, err := db.nounIndex.Search(ctx, q.Vector, fetch)
	if db.metrics != nil {
		db.metrics.SearchQueries.Inc()
		db.metrics.SearchLatency.Observe(time.Since(start).Seconds())
		if err != nil {
			db.metrics.SearchErrors.Inc()
		}
	}
	if err != nil {
		return nil, fmt.Errorf("hybridgraph: search failed: %w", err)
	}

	entries := make([]*filter.VectorEntry, len(results))
	scores := make(map[string]float32, len(results))
	for i, r := range results {
		entries[i] = &filter.VectorEntry{ID: r.ID, Vector: r.Vector, Metadata: r.Metadata}
		scores[r.ID] = r.Score
	}

	entries, err = query.ApplyFilters(ctx, entries, q.Filters)
	if err != nil {
		return nil, err
	}
	entries = query.ApplyThreshold(entries, scores, q.Threshold)

	nouns := make([]*graph.Noun, 0, len(entries))
	for _, e := range entries {
		id, err := uuid.Parse(e.ID)
		if err != nil {
			continue
		}
		n, err := db.graph.GetNoun(ctx, id)
		if err != nil || n == nil {
			continue
		}
		nouns = append(nouns, n)
		if len(nouns) >= q.Limit {
			break
		}
	}
	return nouns, nil
}

// Commit snapshots the current live set of noun and verb ids and
// writes a new commit blob on top of the "main" branch's current head.
func (db *DB) Commit(ctx context.Context, author, message string) (*cow.Commit, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	start := time.Now()
	nounIDs, err := db.graph.AllNounIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("hybridgraph: failed to snapshot nouns for commit tree: %w", err)
	}
	verbIDs, err := db.graph.AllVerbIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("hybridgraph: failed to snapshot verbs for commit tree: %w", err)
	}
	data, err := marshalTree(nounIDs, verbIDs)
	if err != nil {
		return nil, fmt.Errorf("hybridgraph: failed to encode commit tree: %w", err)
	}
	rootTree, err := db.blobs.Put(ctx, "tree", data)
	if err != nil {
		return nil, fmt.Errorf("hybridgraph: failed to write commit tree: %w", err)
	}

	parent, err := db.repo.GetBranch(ctx, "main")
	if err != nil {
		return nil, err
	}
	c, err := db.repo.Commit(ctx, author, message, rootTree, parent)
	if err != nil {
		return nil, err
	}
	if err := db.repo.SetBranch(ctx, "main", c.Hash); err != nil {
		return nil, err
	}
	if db.metrics != nil {
		db.metrics.Commits.Inc()
		db.metrics.CommitLatency.Observe(time.Since(start).Seconds())
	}
	return c, nil
}

// GC reclaims blob-store content that is both zero-referenced and
// unreachable from the "main" branch's retained commit history.
func (db *DB) GC(ctx context.Context) (int, error) {
	if err := db.checkOpen(); err != nil {
		return 0, err
	}
	head, err := db.repo.GetBranch(ctx, "main")
	if err != nil {
		return 0, err
	}
	live, err := db.repo.LiveHashes(ctx, head)
	if err != nil {
		return 0, fmt.Errorf("hybridgraph: failed to compute live blob set: %w", err)
	}
	removed, err := db.blobs.GC(ctx, live)
	if err != nil {
		return removed, fmt.Errorf("hybridgraph: garbage collection failed: %w", err)
	}
	return removed, nil
}

// StreamHistory is the lazy, cancellation-aware commit history walk.
func (db *DB) StreamHistory(ctx context.Context, f cow.Filter) (<-chan *cow.Commit, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	head, err := db.repo.GetBranch(ctx, "main")
	if err != nil {
		return nil, err
	}
	return db.repo.StreamHistory(ctx, head, f), nil
}

// GetHistory is StreamHistory drained into a slice.
func (db *DB) GetHistory(ctx context.Context, f cow.Filter) ([]*cow.Commit, error) {
	if err := db.checkOpen(); err != nil {
		return nil, err
	}
	head, err := db.repo.GetBranch(ctx, "main")
	if err != nil {
		return nil, err
	}
	return db.repo.GetHistory(ctx, head, f)
}

// GetStatistics returns the current in-process statistics snapshot.
func (db *DB) GetStatistics() stats.Snapshot {
	return db.tracker.Snapshot()
}

// ListServices returns the names of every service that has recorded
// activity.
func (db *DB) ListServices() []string {
	snapshot := db.tracker.Snapshot()
	names := make([]string, 0, len(snapshot.Services))
	for name := range snapshot.Services {
		names = append(names, name)
	}
	return names
}

// GetNounCount returns the total number of live nouns, summed across
// every noun type from the statistics tracker's O(1) atomic counters.
func (db *DB) GetNounCount() uint64 {
	snapshot := db.tracker.Snapshot()
	var total uint64
	for _, n := range snapshot.TypeCounts {
		total += uint64(n)
	}
	return total
}

// GetVerbCount returns the total number of live verbs, summed across
// every verb type from the statistics tracker's O(1) atomic counters.
func (db *DB) GetVerbCount() uint64 {
	snapshot := db.tracker.Snapshot()
	var total uint64
	for _, n := range snapshot.VerbTypeCounts {
		total += uint64(n)
	}
	return total
}

// GetServiceStatistics returns one service's noun/verb counts.
func (db *DB) GetServiceStatistics(service string) (stats.ServiceStats, bool) {
	snapshot := db.tracker.Snapshot()
	s, ok := snapshot.Services[service]
	return s, ok
}

// Health reports the current status of every registered subsystem.
func (db *DB) Health(ctx context.Context) *obs.HealthStatus {
	return db.health.Check(ctx)
}

// ResourceUsage reports the resource monitor's current memory snapshot.
func (db *DB) ResourceUsage() memory.MemoryUsage {
	return db.resources.GetUsage()
}

// Close flushes statistics and releases every index and storage handle.
func (db *DB) Close() error {
	var err error
	db.closeOnce.Do(func() {
		db.mu.Lock()
		db.closed = true
		db.mu.Unlock()

		db.tracker.Close()
		if cerr := db.resources.Stop(); cerr != nil {
			err = cerr
		}
		if cerr := db.nounIndex.Close(); cerr != nil {
			err = cerr
		}
		db.verbMu.RLock()
		for _, idx := range db.verbIndex {
			_ = idx.Close()
		}
		db.verbMu.RUnlock()
		if cerr := db.adapter.Close(); cerr != nil && err == nil {
			err = cerr
		}
	})
	return err
}

func (db *DB) checkDimension(vector []float32) error {
	if len(vector) == 0 {
		return nil
	}
	if len(vector) != db.config.Dimension {
		return errs.DimensionMismatch(db.config.Dimension, len(vector))
	}
	return nil
}
