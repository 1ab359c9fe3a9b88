package hnsw

import (
	"context"
	"fmt"

	"github.com/vitaly-z/hybridgraph/internal/vmath"
)

// deleteNode removes id from the index and repairs neighbor connectivity so
// that searches through the region it occupied stay navigable.
func (h *Index) deleteNode(ctx context.Context, id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.size == 0 {
		return fmt.Errorf("hnsw: cannot delete from empty index")
	}

	nodeID, node := h.findNodeByID(id)
	if node == nil {
		return fmt.Errorf("hnsw: node with id %q not found", id)
	}

	if h.size == 1 {
		h.nodes = h.nodes[:0]
		h.hasEntryPoint = false
		h.maxLevel = 0
		h.size = 0
		delete(h.idToIndex, id)
		h.entryPointCandidates = h.entryPointCandidates[:0]
		if h.lazyCache != nil {
			h.lazyCache.Remove(id)
		}
		return nil
	}

	if err := h.removeAllConnections(ctx, nodeID, node); err != nil {
		return fmt.Errorf("hnsw: failed to remove connections: %w", err)
	}
	if err := h.handleEntryPointReplacement(nodeID); err != nil {
		return fmt.Errorf("hnsw: failed to replace entry point: %w", err)
	}
	h.removeNodeFromIndex(nodeID, id)
	if h.lazyCache != nil {
		h.lazyCache.Remove(id)
	}
	h.size--
	return nil
}

func (h *Index) findNodeByID(id string) (uint32, *Node) {
	idx, exists := h.idToIndex[id]
	if !exists {
		return 0, nil
	}
	if int(idx) < len(h.nodes) && h.nodes[idx] != nil && h.nodes[idx].ID == id {
		return idx, h.nodes[idx]
	}
	delete(h.idToIndex, id)
	return 0, nil
}

func (h *Index) removeAllConnections(ctx context.Context, targetID uint32, targetNode *Node) error {
	for level := 0; level <= targetNode.Level; level++ {
		neighbors := make([]uint32, len(targetNode.Links[level]))
		copy(neighbors, targetNode.Links[level])

		for _, neighborID := range neighbors {
			if int(neighborID) < len(h.nodes) && h.nodes[neighborID] != nil {
				h.removeConnection(neighborID, targetID, level)
			}
		}

		if err := h.reconnectNeighbors(ctx, neighbors, level); err != nil {
			return fmt.Errorf("level %d: %w", level, err)
		}
	}
	return nil
}

func (h *Index) removeConnection(fromID, toID uint32, level int) {
	fromNode := h.nodes[fromID]
	if fromNode == nil || level >= len(fromNode.Links) {
		return
	}
	links := fromNode.Links[level]
	for i, linkID := range links {
		if linkID == toID {
			links[i] = links[len(links)-1]
			fromNode.Links[level] = links[:len(links)-1]
			break
		}
	}
}

// reconnectNeighbors tries to fill the gap left by the deleted node,
// checking for cancellation between each neighbor's repair since a
// high-fanout delete can touch hundreds of nodes.
func (h *Index) reconnectNeighbors(ctx context.Context, neighbors []uint32, level int) error {
	if len(neighbors) < 2 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	maxM := h.config.M
	if level == 0 {
		maxM *= 2
	}

	valid := make([]uint32, 0, len(neighbors))
	for _, id := range neighbors {
		if int(id) < len(h.nodes) && h.nodes[id] != nil {
			valid = append(valid, id)
		}
	}
	if len(valid) < 2 {
		return nil
	}

	distances := make(map[[2]uint32]float32)
	for i, id1 := range valid {
		if i%10 == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
		v1, err := h.getNodeVector(ctx, h.nodes[id1])
		if err != nil {
			continue
		}
		for j := i + 1; j < len(valid); j++ {
			id2 := valid[j]
			v2, err := h.getNodeVector(ctx, h.nodes[id2])
			if err != nil {
				continue
			}
			d := h.distance(v1, v2)
			distances[[2]uint32{id1, id2}] = d
			distances[[2]uint32{id2, id1}] = d
		}
	}

	for _, neighborID := range valid {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		neighborNode := h.nodes[neighborID]
		if level >= len(neighborNode.Links) {
			continue
		}
		current := len(neighborNode.Links[level])
		if current >= maxM {
			continue
		}

		candidates := make([]*vmath.Candidate, 0)
		for _, otherID := range valid {
			if otherID == neighborID || h.hasConnection(neighborID, otherID, level) {
				continue
			}
			d, ok := distances[[2]uint32{neighborID, otherID}]
			if !ok {
				continue
			}
			candidates = append(candidates, &vmath.Candidate{ID: otherID, Distance: d})
		}
		if len(candidates) == 0 {
			continue
		}

		slots := maxM - current
		if slots > len(candidates) {
			slots = len(candidates)
		}
		selected := selectClosest(candidates, slots)
		for _, c := range selected {
			h.createBidirectionalConnection(neighborID, c.ID, level)
		}
	}
	return nil
}

func selectClosest(candidates []*vmath.Candidate, n int) []*vmath.Candidate {
	for i := 0; i < len(candidates)-1; i++ {
		for j := 0; j < len(candidates)-i-1; j++ {
			if candidates[j].Distance > candidates[j+1].Distance {
				candidates[j], candidates[j+1] = candidates[j+1], candidates[j]
			}
		}
	}
	if n > len(candidates) {
		n = len(candidates)
	}
	return candidates[:n]
}

func (h *Index) hasConnection(nodeID1, nodeID2 uint32, level int) bool {
	if int(nodeID1) >= len(h.nodes) || int(nodeID2) >= len(h.nodes) {
		return false
	}
	node1 := h.nodes[nodeID1]
	if node1 == nil || level >= len(node1.Links) {
		return false
	}
	for _, linkID := range node1.Links[level] {
		if linkID == nodeID2 {
			return true
		}
	}
	return false
}

func (h *Index) createBidirectionalConnection(nodeID1, nodeID2 uint32, level int) {
	if node1 := h.nodes[nodeID1]; node1 != nil && level < len(node1.Links) {
		node1.Links[level] = append(node1.Links[level], nodeID2)
	}
	if node2 := h.nodes[nodeID2]; node2 != nil && level < len(node2.Links) {
		node2.Links[level] = append(node2.Links[level], nodeID1)
	}
}

func (h *Index) handleEntryPointReplacement(deletedID uint32) error {
	if h.entryPoint != deletedID {
		h.removeFromEntryPointCandidates(deletedID)
		return nil
	}

	if newEP, ok := h.findBestEntryPointCandidate(deletedID); ok {
		h.entryPoint = newEP
		h.maxLevel = h.nodes[newEP].Level
		return nil
	}

	var fallback uint32
	found := false
	newMaxLevel := -1
	for i, node := range h.nodes {
		if node == nil || uint32(i) == deletedID {
			continue
		}
		if node.Level > newMaxLevel {
			newMaxLevel = node.Level
			fallback = uint32(i)
			found = true
		}
	}
	if !found {
		return fmt.Errorf("no replacement entry point available")
	}
	h.entryPoint = fallback
	h.maxLevel = newMaxLevel
	h.rebuildEntryPointCandidates()
	return nil
}

func (h *Index) findBestEntryPointCandidate(excludeID uint32) (uint32, bool) {
	var best uint32
	bestLevel := -1
	found := false
	for _, candidateID := range h.entryPointCandidates {
		if candidateID == excludeID || int(candidateID) >= len(h.nodes) {
			continue
		}
		node := h.nodes[candidateID]
		if node != nil && node.Level > bestLevel {
			bestLevel = node.Level
			best = candidateID
			found = true
		}
	}
	return best, found
}

func (h *Index) removeFromEntryPointCandidates(nodeID uint32) {
	for i, candidateID := range h.entryPointCandidates {
		if candidateID == nodeID {
			h.entryPointCandidates[i] = h.entryPointCandidates[len(h.entryPointCandidates)-1]
			h.entryPointCandidates = h.entryPointCandidates[:len(h.entryPointCandidates)-1]
			break
		}
	}
}

func (h *Index) rebuildEntryPointCandidates() {
	h.entryPointCandidates = h.entryPointCandidates[:0]
	const levelThreshold = 2
	for i, node := range h.nodes {
		if node != nil && node.Level >= levelThreshold {
			h.entryPointCandidates = append(h.entryPointCandidates, uint32(i))
		}
	}
}

func (h *Index) removeNodeFromIndex(nodeID uint32, id string) {
	delete(h.idToIndex, id)
	h.removeFromEntryPointCandidates(nodeID)
	if int(nodeID) < len(h.nodes) {
		h.nodes[nodeID] = nil
	}
	for len(h.nodes) > 0 && h.nodes[len(h.nodes)-1] == nil {
		h.nodes = h.nodes[:len(h.nodes)-1]
	}
}
