// Package vmath implements the distance kernels shared by the noun and
// verb HNSW indexes: plain float32 distance functions plus batch-parallel
// variants for rerank passes, alongside the search heaps and k-means.
package vmath

import (
	"fmt"
	"math"
	"runtime"
	"sync"
)

// Metric identifies a distance function.
type Metric int

const (
	L2 Metric = iota
	InnerProduct
	Cosine
)

func (m Metric) String() string {
	switch m {
	case L2:
		return "l2"
	case InnerProduct:
		return "inner_product"
	case Cosine:
		return "cosine"
	default:
		return "unknown"
	}
}

// Func computes the distance between two equal-length vectors.
type Func func(a, b []float32) float32

// Lookup returns the distance function for a metric.
func Lookup(m Metric) (Func, error) {
	switch m {
	case L2:
		return L2Distance, nil
	case InnerProduct:
		return InnerProductDistance, nil
	case Cosine:
		return CosineDistance, nil
	default:
		return nil, fmt.Errorf("vmath: unsupported metric %v", m)
	}
}

// L2Distance computes Euclidean distance.
func L2Distance(a, b []float32) float32 {
	if len(a) != len(b) {
		panic("vmath: vector dimensions must match")
	}
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return float32(math.Sqrt(float64(sum)))
}

// InnerProductDistance returns the negated dot product, so smaller is
// "closer" like the other metrics and candidates can share one min-heap.
func InnerProductDistance(a, b []float32) float32 {
	if len(a) != len(b) {
		panic("vmath: vector dimensions must match")
	}
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return -sum
}

// CosineDistance returns 1-cosine(a,b). Zero vectors are defined as maximally
// distant from everything, including each other.
func CosineDistance(a, b []float32) float32 {
	if len(a) != len(b) {
		panic("vmath: vector dimensions must match")
	}
	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	normA = float32(math.Sqrt(float64(normA)))
	normB = float32(math.Sqrt(float64(normB)))
	if normA == 0 || normB == 0 {
		return 1.0
	}
	return 1.0 - dot/(normA*normB)
}

// BatchDistance computes fn(query, candidates[i]) for every candidate,
// splitting the work across GOMAXPROCS workers once the batch is large
// enough to be worth the goroutine overhead.
func BatchDistance(fn Func, query []float32, candidates [][]float32) []float32 {
	out := make([]float32, len(candidates))
	if len(candidates) < 256 {
		for i, c := range candidates {
			out[i] = fn(query, c)
		}
		return out
	}

	workers := runtime.GOMAXPROCS(0)
	if workers > len(candidates) {
		workers = len(candidates)
	}
	chunk := (len(candidates) + workers - 1) / workers

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * chunk
		if start >= len(candidates) {
			break
		}
		end := start + chunk
		if end > len(candidates) {
			end = len(candidates)
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for i := start; i < end; i++ {
				out[i] = fn(query, candidates[i])
			}
		}(start, end)
	}
	wg.Wait()
	return out
}
