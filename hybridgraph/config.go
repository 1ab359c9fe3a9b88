package hybridgraph

import (
	"fmt"

	"github.com/vitaly-z/hybridgraph/internal/embed"
	"github.com/vitaly-z/hybridgraph/internal/partition"
	"github.com/vitaly-z/hybridgraph/internal/storage"
	"github.com/vitaly-z/hybridgraph/internal/storage/objectstore"
	"github.com/vitaly-z/hybridgraph/internal/vmath"
)

// Config holds the settings Open uses to assemble a DB instance.
type Config struct {
	Backend     storage.Kind
	StoragePath string
	ObjectStore *objectstore.Config

	Dimension int
	Metric    vmath.Metric

	// Partition overrides the default noun/verb index sharding config. If
	// nil, Open builds one from Dimension/Metric with single-partition,
	// hash-routed defaults suitable for small deployments.
	Partition *partition.Config

	MetricsEnabled bool

	// Embedder is injected once at Open and never re-initialized. If nil,
	// Open installs a no-op provider that fails Embed calls, requiring
	// callers to supply vectors directly.
	Embedder embed.Provider

	MaxConcurrentSearches int
	TargetSearchLatencyMs int

	// MaxMemoryBytes bounds the process memory budget the resource monitor
	// enforces across the noun/verb partitions' caches. Zero means
	// unlimited: the monitor still runs and reports usage, it just never
	// triggers eviction or memory-mapping.
	MaxMemoryBytes int64
}

func defaultConfig() *Config {
	return &Config{
		Backend:               storage.KindMemory,
		StoragePath:           "./data",
		MetricsEnabled:        true,
		MaxConcurrentSearches: 8,
		TargetSearchLatencyMs: 150,
	}
}

func (c *Config) validate() error {
	if c.Dimension <= 0 {
		return fmt.Errorf("hybridgraph: dimension must be positive")
	}
	if c.Backend == storage.KindFilesystem && c.StoragePath == "" {
		return fmt.Errorf("hybridgraph: storage path is required for the filesystem backend")
	}
	if c.Backend == storage.KindObjectStore && c.ObjectStore == nil {
		return fmt.Errorf("hybridgraph: object-store config is required for the objectstore backend")
	}
	if c.MaxConcurrentSearches <= 0 {
		return fmt.Errorf("hybridgraph: max concurrent searches must be positive")
	}
	return nil
}

func (c *Config) partitionConfig() *partition.Config {
	if c.Partition != nil {
		return c.Partition
	}
	return &partition.Config{
		Dimension:         c.Dimension,
		Strategy:          partition.Hash,
		FanOut:            partition.Broadcast,
		InitialPartitions: 1,
		SplitThreshold:    100_000,
		HNSW:              hnswConfigFor(c.Dimension, c.Metric),
		RandomSeed:        1,
	}
}
