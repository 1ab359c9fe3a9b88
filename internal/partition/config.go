// Package partition shards a vector space across N independent hnsw.Index
// instances, routing inserts and searches so that no single HNSW graph has
// to carry an entire collection's vectors. The splitting algorithm reuses
// a k-means training loop originally built for inverted-file indexing,
// repurposed here as a 2-means partition splitter instead of a coarse
// quantizer.
package partition

import (
	"fmt"

	"github.com/vitaly-z/hybridgraph/internal/hnsw"
)

// Strategy selects how an id/vector is routed to a partition.
type Strategy int

const (
	// Hash routes by a consistent hash of the id, giving uniform load
	// regardless of the vector's position in space.
	Hash Strategy = iota
	// Semantic routes to the partition whose centroid is nearest the
	// vector, keeping similar vectors co-located for cheaper fan-out.
	Semantic
	// Hybrid picks the nearest centroid's partition group, then hashes
	// within that group when more than one partition shares a centroid.
	Hybrid
)

func (s Strategy) String() string {
	switch s {
	case Hash:
		return "hash"
	case Semantic:
		return "semantic"
	case Hybrid:
		return "hybrid"
	default:
		return "unknown"
	}
}

// FanOut selects how a search is spread across partitions.
type FanOut int

const (
	// Adaptive probes the nearest centroid(s) first and only escalates to
	// additional partitions if k results were not satisfied.
	Adaptive FanOut = iota
	// Broadcast always queries every partition; simplest and most
	// accurate, appropriate for small deployments.
	Broadcast
)

// Config holds partitioned-index construction parameters.
type Config struct {
	Dimension int

	Strategy Strategy
	FanOut   FanOut

	// InitialPartitions is how many shards the index starts with.
	InitialPartitions int

	// SplitThreshold is the node count at which a partition runs a
	// 2-means split into two new partitions.
	SplitThreshold int

	// HNSW is cloned (with this Config's Dimension copied in) to construct each
	// shard's underlying index.
	HNSW *hnsw.Config

	RandomSeed int64
}

func (c *Config) validate() error {
	if c.Dimension <= 0 {
		return fmt.Errorf("partition: dimension must be positive")
	}
	if c.InitialPartitions <= 0 {
		return fmt.Errorf("partition: initial partitions must be positive")
	}
	if c.SplitThreshold <= 0 {
		return fmt.Errorf("partition: split threshold must be positive")
	}
	if c.HNSW == nil {
		return fmt.Errorf("partition: hnsw shard config is required")
	}
	return nil
}
