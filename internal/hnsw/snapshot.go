package hnsw

import "context"

// All returns every live entry in the index. Used by the partition layer
// when a shard crosses its split threshold and needs the full vector set
// to re-cluster.
func (h *Index) All(ctx context.Context) ([]*VectorEntry, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	entries := make([]*VectorEntry, 0, h.size)
	for _, node := range h.nodes {
		if node == nil {
			continue
		}
		vec, err := h.getNodeVector(ctx, node)
		if err != nil {
			return nil, err
		}
		entries = append(entries, &VectorEntry{ID: node.ID, Vector: vec, Metadata: node.Metadata})
	}
	return entries, nil
}
