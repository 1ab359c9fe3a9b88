package vmath

import (
	"math"
	"math/rand"
)

// KMeans runs k-means++-initialized Lloyd's algorithm over vectors,
// producing k centroids under the given distance function. Shared by
// internal/partition (splitting an overloaded partition in two) and
// internal/quant
// (training a product-quantization codebook per subspace) so both
// consumers train centroids the same way instead of carrying their own
// copies of the same algorithm.
func KMeans(vectors [][]float32, k int, distance Func, rng *rand.Rand, maxIterations int, tolerance float64) [][]float32 {
	if k > len(vectors) {
		k = len(vectors)
	}
	if k <= 0 {
		return nil
	}

	dim := len(vectors[0])
	centroids := make([][]float32, k)
	for i := range centroids {
		centroids[i] = make([]float32, dim)
	}

	centroids[0] = append([]float32(nil), vectors[rng.Intn(len(vectors))]...)
	for c := 1; c < k; c++ {
		distances := make([]float64, len(vectors))
		var total float64
		for i, v := range vectors {
			min := float32(math.Inf(1))
			for j := 0; j < c; j++ {
				d := distance(v, centroids[j])
				if d < min {
					min = d
				}
			}
			distances[i] = float64(min) * float64(min)
			total += distances[i]
		}
		target := rng.Float64() * total
		var cumulative float64
		chosen := len(vectors) - 1
		for i, d := range distances {
			cumulative += d
			if cumulative >= target {
				chosen = i
				break
			}
		}
		centroids[c] = append([]float32(nil), vectors[chosen]...)
	}

	prevInertia := math.Inf(1)
	assignments := make([]int, len(vectors))
	for iter := 0; iter < maxIterations; iter++ {
		var totalInertia float64
		for i, v := range vectors {
			best, bestDist := 0, float32(math.Inf(1))
			for c, centroid := range centroids {
				d := distance(v, centroid)
				if d < bestDist {
					bestDist = d
					best = c
				}
			}
			assignments[i] = best
			totalInertia += float64(bestDist)
		}

		if prevInertia > 0 && math.Abs(prevInertia-totalInertia)/prevInertia < tolerance {
			break
		}
		prevInertia = totalInertia

		counts := make([]int, k)
		sums := make([][]float32, k)
		for c := range sums {
			sums[c] = make([]float32, dim)
		}
		for i, v := range vectors {
			c := assignments[i]
			counts[c]++
			for d, val := range v {
				sums[c][d] += val
			}
		}
		for c := range centroids {
			if counts[c] == 0 {
				centroids[c] = append([]float32(nil), vectors[rng.Intn(len(vectors))]...)
				continue
			}
			for d := range centroids[c] {
				centroids[c][d] = sums[c][d] / float32(counts[c])
			}
		}
	}

	return centroids
}

// NearestCentroid returns the index of the centroid closest to vec.
func NearestCentroid(vec []float32, centroids [][]float32, distance Func) int {
	best, bestDist := 0, float32(math.Inf(1))
	for i, c := range centroids {
		d := distance(vec, c)
		if d < bestDist {
			bestDist = d
			best = i
		}
	}
	return best
}
