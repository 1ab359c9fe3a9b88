package hybridgraph

import (
	"fmt"

	"github.com/vitaly-z/hybridgraph/internal/embed"
	"github.com/vitaly-z/hybridgraph/internal/partition"
	"github.com/vitaly-z/hybridgraph/internal/storage"
	"github.com/vitaly-z/hybridgraph/internal/storage/objectstore"
	"github.com/vitaly-z/hybridgraph/internal/vmath"
)

// Option configures Open. Each option validates eagerly and returns an
// error instead of panicking.
type Option func(*Config) error

// WithDimension sets the vector dimension every noun and verb index is
// built for. Required.
func WithDimension(dim int) Option {
	return func(c *Config) error {
		if dim <= 0 {
			return fmt.Errorf("hybridgraph: dimension must be positive")
		}
		c.Dimension = dim
		return nil
	}
}

// WithMetric sets the distance metric used by every HNSW shard.
func WithMetric(metric vmath.Metric) Option {
	return func(c *Config) error {
		c.Metric = metric
		return nil
	}
}

// WithFilesystemStorage selects the filesystem backend, rooted at path.
func WithFilesystemStorage(path string) Option {
	return func(c *Config) error {
		if path == "" {
			return fmt.Errorf("hybridgraph: storage path cannot be empty")
		}
		c.Backend = storage.KindFilesystem
		c.StoragePath = path
		return nil
	}
}

// WithObjectStoreStorage selects the S3-backed object-store backend.
func WithObjectStoreStorage(cfg objectstore.Config) Option {
	return func(c *Config) error {
		if cfg.Bucket == "" {
			return fmt.Errorf("hybridgraph: object-store bucket is required")
		}
		c.Backend = storage.KindObjectStore
		c.ObjectStore = &cfg
		return nil
	}
}

// WithMemoryStorage selects the in-process, non-durable backend. This is
// the default.
func WithMemoryStorage() Option {
	return func(c *Config) error {
		c.Backend = storage.KindMemory
		return nil
	}
}

// WithPartitioning overrides the default single-shard noun/verb index
// layout.
func WithPartitioning(cfg partition.Config) Option {
	return func(c *Config) error {
		c.Partition = &cfg
		return nil
	}
}

// WithMetrics enables or disables Prometheus metrics collection.
func WithMetrics(enabled bool) Option {
	return func(c *Config) error {
		c.MetricsEnabled = enabled
		return nil
	}
}

// WithEmbeddingProvider injects the embedding-provider singleton the DB
// holds. Injected once at Open and never re-initialized. Add and Relate
// do not call it: a noun or verb without a vector is stored but not
// indexed.
func WithEmbeddingProvider(p embed.Provider) Option {
	return func(c *Config) error {
		if p == nil {
			return fmt.Errorf("hybridgraph: embedding provider cannot be nil")
		}
		c.Embedder = p
		return nil
	}
}

// WithMaxConcurrentSearches bounds how many FindNearest calls run at once.
func WithMaxConcurrentSearches(n int) Option {
	return func(c *Config) error {
		if n <= 0 {
			return fmt.Errorf("hybridgraph: max concurrent searches must be positive")
		}
		c.MaxConcurrentSearches = n
		return nil
	}
}

// WithTargetSearchLatency records a soft search deadline (in
// milliseconds) in Config.TargetSearchLatencyMs. FindNearest does not
// read it; ef_search stays at the index configuration's value.
func WithTargetSearchLatency(ms int) Option {
	return func(c *Config) error {
		if ms <= 0 {
			return fmt.Errorf("hybridgraph: target search latency must be positive")
		}
		c.TargetSearchLatencyMs = ms
		return nil
	}
}

// WithMaxMemory bounds the resource monitor's memory budget in bytes. The
// monitor reports usage regardless; a nonzero limit also makes it trigger
// pressure callbacks and cache eviction as usage approaches the limit.
func WithMaxMemory(bytes int64) Option {
	return func(c *Config) error {
		if bytes < 0 {
			return fmt.Errorf("hybridgraph: max memory cannot be negative")
		}
		c.MaxMemoryBytes = bytes
		return nil
	}
}
