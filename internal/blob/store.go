// Package blob implements the content-addressed, copy-on-write blob
// store that backs the version history: every commit and tree is a
// blob keyed by the SHA-256 of its uncompressed content. Identical content written twice
// is stored once, ref-counted.
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/vitaly-z/hybridgraph/internal/errs"
	"github.com/vitaly-z/hybridgraph/internal/obs"
	"github.com/vitaly-z/hybridgraph/internal/storage"
)

const catalogKey = "index:blob-catalog"

// ErrIntegrityCheckFailed is returned by Get when the content read back
// from storage doesn't re-hash to the requested key. It is the same
// sentinel errs.ErrIntegrityCheckFailed wraps.
var ErrIntegrityCheckFailed = errs.ErrIntegrityCheckFailed

// alreadyCompressed lists content classes the store never re-compresses,
// since re-running zstd over already-compressed bytes wastes CPU for
// negligible size gain.
var alreadyCompressed = map[string]bool{
	"jpeg": true, "png": true, "zip": true, "zstd": true, "gzip": true,
}

// Descriptor is the persisted metadata record for one blob.
type Descriptor struct {
	Hash           string    `json:"hash"`
	ContentClass   string    `json:"content_class"`
	Size           int64     `json:"size"`
	CompressedSize int64     `json:"compressed_size"`
	Compressed     bool      `json:"compressed"`
	RefCount       int32     `json:"ref_count"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store is a SHA-256 content-addressed, ref-counted, optionally
// zstd-compressed blob store layered over a storage.Adapter.
type Store struct {
	adapter storage.Adapter
	cache   *lru.Cache[string, []byte]
	metrics *obs.Metrics

	encoder *zstd.Encoder
	decoder *zstd.Decoder

	mu      sync.Mutex
	catalog map[string]struct{}
}

// Option configures a Store at construction.
type Option func(*Store)

// WithCacheSize overrides the default 256-entry read cache.
func WithCacheSize(n int) Option {
	return func(s *Store) {
		cache, err := lru.New[string, []byte](n)
		if err == nil {
			s.cache = cache
		}
	}
}

// WithMetrics wires Prometheus GC counters into the store.
func WithMetrics(m *obs.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// New creates a blob store over adapter, loading its hash catalog (if
// any) for garbage collection.
func New(ctx context.Context, adapter storage.Adapter, opts ...Option) (*Store, error) {
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("blob: failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("blob: failed to create zstd decoder: %w", err)
	}
	cache, err := lru.New[string, []byte](256)
	if err != nil {
		return nil, fmt.Errorf("blob: failed to create cache: %w", err)
	}

	s := &Store{adapter: adapter, cache: cache, encoder: encoder, decoder: decoder, catalog: make(map[string]struct{})}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.loadCatalog(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) loadCatalog(ctx context.Context) error {
	data, err := s.adapter.Get(ctx, catalogKey)
	if err != nil {
		return fmt.Errorf("blob: failed to load catalog: %w", err)
	}
	if data == nil {
		return nil
	}
	var hashes []string
	if err := json.Unmarshal(data, &hashes); err != nil {
		return fmt.Errorf("blob: failed to decode catalog: %w", err)
	}
	for _, h := range hashes {
		s.catalog[h] = struct{}{}
	}
	return nil
}

// persistCatalog must be called with s.mu held.
func (s *Store) persistCatalog(ctx context.Context) error {
	hashes := make([]string, 0, len(s.catalog))
	for h := range s.catalog {
		hashes = append(hashes, h)
	}
	data, err := json.Marshal(hashes)
	if err != nil {
		return err
	}
	return s.adapter.Put(ctx, catalogKey, data)
}

func hashOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Put writes data, deduplicating on content hash: if the hash already
// has a descriptor, its RefCount is bumped and data is never rewritten.
// Content is written before its descriptor, so a crash between the two
// leaves an orphaned-but-harmless blob rather than a descriptor pointing
// at missing content.
func (s *Store) Put(ctx context.Context, contentClass string, data []byte) (string, error) {
	hash := hashOf(data)

	s.mu.Lock()
	defer s.mu.Unlock()

	existingData, err := s.adapter.Get(ctx, "blobmeta:"+hash)
	if err != nil {
		return "", fmt.Errorf("blob: failed to check existing descriptor: %w", err)
	}
	if existingData != nil {
		var desc Descriptor
		if err := json.Unmarshal(existingData, &desc); err != nil {
			return "", fmt.Errorf("blob: failed to decode descriptor: %w", err)
		}
		desc.RefCount++
		if err := s.writeDescriptor(ctx, &desc); err != nil {
			return "", err
		}
		return hash, nil
	}

	payload := data
	compressed := false
	if !alreadyCompressed[contentClass] {
		payload = s.encoder.EncodeAll(data, nil)
		compressed = true
	}

	if err := s.adapter.Put(ctx, hash, payload); err != nil {
		return "", fmt.Errorf("blob: failed to write content: %w", err)
	}

	desc := &Descriptor{
		Hash:           hash,
		ContentClass:   contentClass,
		Size:           int64(len(data)),
		CompressedSize: int64(len(payload)),
		Compressed:     compressed,
		RefCount:       1,
		CreatedAt:      time.Now(),
	}
	if err := s.writeDescriptor(ctx, desc); err != nil {
		return "", err
	}

	s.catalog[hash] = struct{}{}
	if err := s.persistCatalog(ctx); err != nil {
		return "", err
	}

	s.cache.Add(hash, data)
	return hash, nil
}

func (s *Store) writeDescriptor(ctx context.Context, desc *Descriptor) error {
	data, err := json.Marshal(desc)
	if err != nil {
		return err
	}
	return s.adapter.Put(ctx, "blobmeta:"+desc.Hash, data)
}

func (s *Store) descriptor(ctx context.Context, hash string) (*Descriptor, error) {
	data, err := s.adapter.Get(ctx, "blobmeta:"+hash)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}
	var desc Descriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		return nil, err
	}
	return &desc, nil
}

// Get returns the uncompressed content for hash, verifying integrity by
// re-hashing the decompressed bytes.
func (s *Store) Get(ctx context.Context, hash string) ([]byte, error) {
	if cached, ok := s.cache.Get(hash); ok {
		return cached, nil
	}

	s.mu.Lock()
	desc, err := s.descriptor(ctx, hash)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("blob: failed to load descriptor: %w", err)
	}
	if desc == nil {
		return nil, fmt.Errorf("blob: %w", storage.ErrNotFound)
	}

	payload, err := s.adapter.Get(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("blob: failed to read content: %w", err)
	}
	if payload == nil {
		return nil, fmt.Errorf("blob: content missing for descriptor %s: %w", hash, storage.ErrNotFound)
	}

	data := payload
	if desc.Compressed {
		data, err = s.decoder.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("blob: failed to decompress: %w", err)
		}
	}

	if hashOf(data) != hash {
		return nil, ErrIntegrityCheckFailed
	}

	s.cache.Add(hash, data)
	return data, nil
}

// Delete decrements hash's RefCount. The underlying content is not
// removed until GC confirms it is both zero-referenced and unreachable
// from the live commit tree.
func (s *Store) Delete(ctx context.Context, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	desc, err := s.descriptor(ctx, hash)
	if err != nil {
		return err
	}
	if desc == nil {
		return fmt.Errorf("blob: %s: %w", hash, storage.ErrNotFound)
	}
	if desc.RefCount > 0 {
		desc.RefCount--
	}
	return s.writeDescriptor(ctx, desc)
}

// GC removes every catalog blob whose descriptor has RefCount == 0 and
// whose hash is absent from live (the set of hashes reachable from the
// live commit tree, supplied by internal/cow).
func (s *Store) GC(ctx context.Context, live map[string]struct{}) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for hash := range s.catalog {
		if _, isLive := live[hash]; isLive {
			continue
		}
		desc, err := s.descriptor(ctx, hash)
		if err != nil {
			return removed, err
		}
		if desc == nil || desc.RefCount > 0 {
			continue
		}
		if err := s.adapter.Delete(ctx, hash); err != nil {
			return removed, fmt.Errorf("blob: failed to remove content %s: %w", hash, err)
		}
		if err := s.adapter.Delete(ctx, "blobmeta:"+hash); err != nil {
			return removed, fmt.Errorf("blob: failed to remove descriptor %s: %w", hash, err)
		}
		delete(s.catalog, hash)
		s.cache.Remove(hash)
		removed++
	}
	if err := s.persistCatalog(ctx); err != nil {
		return removed, err
	}
	if s.metrics != nil {
		s.metrics.GCRuns.Inc()
		s.metrics.GCBlobsRemoved.Add(float64(removed))
	}
	return removed, nil
}

// Name and HealthCheck implement obs.Subsystem.
func (s *Store) Name() string { return "blob.store" }

func (s *Store) HealthCheck(ctx context.Context) *obs.CheckResult {
	if _, err := s.adapter.Get(ctx, catalogKey); err != nil {
		return &obs.CheckResult{Healthy: false, Message: err.Error()}
	}
	return &obs.CheckResult{Healthy: true, Message: "ok"}
}
