package hnsw

// Binary format constants for on-disk persistence.
const (
	// FormatMagic identifies a serialized index file: ASCII "HGW1" as a
	// uint32, written little-endian.
	FormatMagic = uint32(0x48475731)

	// FormatVersion is the current on-disk layout version.
	FormatVersion = uint32(1)

	// persistChunkSize bounds how many nodes are processed per batch during
	// serialization, keeping peak memory bounded on very large indexes.
	persistChunkSize = 1000
)

// File layout:
//
//	┌──────────────┐
//	│ header       │ magic, version, CRC32
//	├──────────────┤
//	│ config       │ M, EfConstruction, EfSearch, Dimension, Metric
//	├──────────────┤
//	│ nodes        │ one entry per slot, nil slots marked with a tombstone byte
//	├──────────────┤
//	│ links        │ per-level adjacency, only for non-nil nodes
//	├──────────────┤
//	│ metadata     │ entry point slot index, if any
//	└──────────────┘
//
// Quantized or lazily-evicted vectors are reconstituted as full vectors on
// disk; a reloaded index always starts in full-vector mode and must be
// re-quantized/re-lazied by the caller if that mode is still desired.
