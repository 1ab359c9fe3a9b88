package hnsw

// Node is a single entry in the proximity graph. A node always carries
// either Vector (full f32), CompressedVector (SQ8 payload), or neither —
// "lazy" mode, where the canonical vector lives only in the owning
// storage adapter and is fetched on demand through the index's
// VectorSource during search and neighbor selection.
type Node struct {
	ID       string
	Level    int
	Vector   []float32
	CompressedVector []byte
	Links    [][]uint32 // Links[level] = neighbor node indices at that level
	Metadata map[string]interface{}
}
