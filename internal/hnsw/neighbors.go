package hnsw

import (
	"context"
	"sort"

	"github.com/vitaly-z/hybridgraph/internal/vmath"
)

// NeighborSelector picks which candidates become graph edges, trading a
// little recall for diversity so the graph doesn't collapse into tight
// clusters around popular points.
type NeighborSelector struct {
	maxConnections  int
	levelMultiplier float64
}

func NewNeighborSelector(maxConnections int, levelMultiplier float64) *NeighborSelector {
	return &NeighborSelector{maxConnections: maxConnections, levelMultiplier: levelMultiplier}
}

func (ns *NeighborSelector) maxM(level int) int {
	if level == 0 {
		return int(float64(ns.maxConnections) * ns.levelMultiplier)
	}
	return ns.maxConnections
}

// Select returns at most maxM(level) candidates, preferring the closest.
// A first pass skips candidates that are redundant with one of the first
// three selected neighbors (closer to it than 0.8 times their distance to
// the query); a second pass fills any remaining slots with the skipped
// candidates in distance order.
func (ns *NeighborSelector) Select(ctx context.Context, query []float32, candidates []*vmath.Candidate, level int, index *Index) []*vmath.Candidate {
	maxM := ns.maxM(level)
	if len(candidates) <= maxM {
		return candidates
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Distance < candidates[j].Distance })

	selected := make([]*vmath.Candidate, 0, maxM)
	selected = append(selected, candidates[0])

	for i := 1; i < len(candidates) && len(selected) < maxM; i++ {
		candidate := candidates[i]
		candidateVec, err := index.getNodeVector(ctx, index.nodes[candidate.ID])
		if err != nil {
			continue
		}

		redundant := false
		checkLimit := len(selected)
		if checkLimit > 3 {
			checkLimit = 3
		}
		for j := 0; j < checkLimit; j++ {
			selectedVec, err := index.getNodeVector(ctx, index.nodes[selected[j].ID])
			if err != nil {
				continue
			}
			if index.distance(candidateVec, selectedVec) < candidate.Distance*0.8 {
				redundant = true
				break
			}
		}
		if !redundant {
			selected = append(selected, candidate)
		}
	}

	for i := 1; i < len(candidates) && len(selected) < maxM; i++ {
		candidate := candidates[i]
		already := false
		for _, sel := range selected {
			if sel.ID == candidate.ID {
				already = true
				break
			}
		}
		if !already {
			selected = append(selected, candidate)
		}
	}
	return selected
}

// Prune re-applies the connection cap (2*M at level 0, M above) to
// nodeID's links at level.
func (ns *NeighborSelector) Prune(ctx context.Context, nodeID uint32, level int, index *Index) error {
	node := index.nodes[nodeID]
	if level >= len(node.Links) {
		return nil
	}
	maxM := ns.maxM(level)
	if len(node.Links[level]) <= maxM {
		return nil
	}

	nodeVec, err := index.getNodeVector(ctx, node)
	if err != nil {
		return err
	}

	candidates := make([]*vmath.Candidate, 0, len(node.Links[level]))
	for _, linkID := range node.Links[level] {
		linkVec, err := index.getNodeVector(ctx, index.nodes[linkID])
		if err != nil {
			continue
		}
		candidates = append(candidates, &vmath.Candidate{ID: linkID, Distance: index.distance(nodeVec, linkVec)})
	}

	selected := ns.Select(ctx, nodeVec, candidates, level, index)
	newLinks := make([]uint32, 0, len(selected))
	for _, sel := range selected {
		newLinks = append(newLinks, sel.ID)
	}
	node.Links[level] = newLinks
	return nil
}
