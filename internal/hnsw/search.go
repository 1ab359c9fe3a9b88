package hnsw

import (
	"context"

	"github.com/vitaly-z/hybridgraph/internal/vmath"
)

// searchLevel runs a greedy beam search at one level, starting from
// entryID, keeping the ef closest candidates seen. Candidates are returned
// sorted closest-first.
func (h *Index) searchLevel(ctx context.Context, query []float32, entryID uint32, ef int, level int) []*vmath.Candidate {
	if int(entryID) >= len(h.nodes) {
		return nil
	}

	visited := make([]bool, len(h.nodes))
	candidates := vmath.NewMaxHeap()
	w := vmath.NewMinHeap()

	entryDist := h.computeDistanceTo(ctx, query, h.nodes[entryID])
	if entryDist < 0 {
		return nil
	}
	start := &vmath.Candidate{ID: entryID, Distance: entryDist}
	candidates.PushCandidate(start)
	w.PushCandidate(start)
	visited[entryID] = true

	for w.Len() > 0 {
		select {
		case <-ctx.Done():
			return sortedCandidates(candidates)
		default:
		}

		current := w.PopCandidate()
		if candidates.Len() >= ef && current.Distance > candidates.Top().Distance {
			break
		}

		currentNode := h.nodes[current.ID]
		if level >= len(currentNode.Links) {
			continue
		}
		for _, neighborID := range currentNode.Links[level] {
			if int(neighborID) >= len(visited) || visited[neighborID] {
				continue
			}
			visited[neighborID] = true

			neighborNode := h.nodes[neighborID]
			dist := h.computeDistanceTo(ctx, query, neighborNode)
			if dist < 0 {
				continue
			}
			if candidates.Len() < ef || dist < candidates.Top().Distance {
				c := &vmath.Candidate{ID: neighborID, Distance: dist}
				candidates.PushCandidate(c)
				w.PushCandidate(c)
				if candidates.Len() > ef {
					candidates.PopCandidate()
				}
			}
		}
	}

	return sortedCandidates(candidates)
}

func sortedCandidates(h *vmath.MaxHeap) []*vmath.Candidate {
	result := make([]*vmath.Candidate, 0, h.Len())
	for h.Len() > 0 {
		result = append([]*vmath.Candidate{h.PopCandidate()}, result...)
	}
	return result
}
