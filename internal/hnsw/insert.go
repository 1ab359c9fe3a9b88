package hnsw

import (
	"context"

	"github.com/vitaly-z/hybridgraph/internal/vmath"
)

// insertNode links a freshly-allocated node into the graph: greedy descent
// from the top level down to node.Level+1, then per-level neighbor search +
// selection + bidirectional connect + prune from node.Level down to 0.
func (h *Index) insertNode(ctx context.Context, vector []float32, node *Node, nodeID uint32) error {
	if h.size == 1 {
		node.Links[0] = append(node.Links[0], h.entryPoint)
		h.nodes[h.entryPoint].Links[0] = append(h.nodes[h.entryPoint].Links[0], nodeID)
		return nil
	}

	entryPoints := []*vmath.Candidate{{ID: h.entryPoint, Distance: 0}}

	for level := h.maxLevel; level > node.Level; level-- {
		candidates := h.searchLevel(ctx, vector, entryPoints[0].ID, 1, level)
		if len(candidates) > 0 {
			entryPoints = candidates
		}
	}

	for level := node.Level; level >= 0; level-- {
		candidates := h.searchLevel(ctx, vector, entryPoints[0].ID, h.config.EfConstruction, level)
		selected := h.neighborSelector.Select(ctx, vector, candidates, level, h)
		h.connectBidirectional(nodeID, selected, level)
		h.pruneNeighborConnections(ctx, selected, level)
		if len(selected) > 0 {
			entryPoints = selected
		}
	}
	return nil
}

// connectBidirectional wires nodeID to each selected neighbor at level,
// in both directions.
func (h *Index) connectBidirectional(nodeID uint32, neighbors []*vmath.Candidate, level int) {
	node := h.nodes[nodeID]
	if cap(node.Links[level]) < len(neighbors) {
		newLinks := make([]uint32, len(node.Links[level]), len(neighbors)+h.config.M)
		copy(newLinks, node.Links[level])
		node.Links[level] = newLinks
	}

	for _, neighbor := range neighbors {
		node.Links[level] = append(node.Links[level], neighbor.ID)

		neighborNode := h.nodes[neighbor.ID]
		if level < len(neighborNode.Links) {
			if cap(neighborNode.Links[level]) < len(neighborNode.Links[level])+1 {
				newLinks := make([]uint32, len(neighborNode.Links[level]), len(neighborNode.Links[level])+h.config.M)
				copy(newLinks, neighborNode.Links[level])
				neighborNode.Links[level] = newLinks
			}
			neighborNode.Links[level] = append(neighborNode.Links[level], nodeID)
		}
	}
}

// pruneNeighborConnections re-applies the connection cap to every
// neighbor touched by a new insert, since connectBidirectional may have
// pushed one of them over the limit.
func (h *Index) pruneNeighborConnections(ctx context.Context, neighbors []*vmath.Candidate, level int) {
	for _, neighbor := range neighbors {
		_ = h.neighborSelector.Prune(ctx, neighbor.ID, level, h)
	}
}
