package vmath

import "container/heap"

// Candidate is a scored node id used by HNSW's greedy search and dynamic
// candidate lists.
type Candidate struct {
	ID       uint32
	Distance float32
}

type candidateSlice []*Candidate

func (s candidateSlice) Len() int      { return len(s) }
func (s candidateSlice) Swap(i, j int) { s[i], s[j] = s[j], s[i] }

// MinHeap pops the closest candidate first.
type MinHeap struct{ s candidateSlice }

func NewMinHeap() *MinHeap { return &MinHeap{} }

func (h *MinHeap) Len() int                { return h.s.Len() }
func (h *MinHeap) Less(i, j int) bool      { return h.s[i].Distance < h.s[j].Distance }
func (h *MinHeap) Swap(i, j int)           { h.s.Swap(i, j) }
func (h *MinHeap) Push(x interface{})      { h.s = append(h.s, x.(*Candidate)) }
func (h *MinHeap) Peek() *Candidate        { return h.s[0] }
func (h *MinHeap) Pop() interface{} {
	old := h.s
	n := len(old)
	item := old[n-1]
	h.s = old[:n-1]
	return item
}

func (h *MinHeap) PushCandidate(c *Candidate) { heap.Push(h, c) }

func (h *MinHeap) PopCandidate() *Candidate {
	if h.Len() == 0 {
		return nil
	}
	return heap.Pop(h).(*Candidate)
}

// MaxHeap pops the furthest candidate first; used to keep a bounded
// "best so far" set during a beam search, evicting the worst member when
// a closer candidate arrives.
type MaxHeap struct{ s candidateSlice }

func NewMaxHeap() *MaxHeap { return &MaxHeap{} }

func (h *MaxHeap) Len() int           { return h.s.Len() }
func (h *MaxHeap) Less(i, j int) bool { return h.s[i].Distance > h.s[j].Distance }
func (h *MaxHeap) Swap(i, j int)      { h.s.Swap(i, j) }
func (h *MaxHeap) Push(x interface{}) { h.s = append(h.s, x.(*Candidate)) }
func (h *MaxHeap) Pop() interface{} {
	old := h.s
	n := len(old)
	item := old[n-1]
	h.s = old[:n-1]
	return item
}

func (h *MaxHeap) PushCandidate(c *Candidate) { heap.Push(h, c) }

func (h *MaxHeap) PopCandidate() *Candidate {
	if h.Len() == 0 {
		return nil
	}
	return heap.Pop(h).(*Candidate)
}

func (h *MaxHeap) Top() *Candidate {
	if h.Len() == 0 {
		return nil
	}
	return h.s[0]
}
