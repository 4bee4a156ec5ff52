// Package ordering restores input order to results that complete out of
// order across a worker pool.
package ordering

import (
	"container/heap"
	"sync"
)

// Result pairs a result value with the input index it corresponds to.
type Result[T any] struct {
	Index uint64
	Value T
}

type item[T any] struct {
	index uint64
	value T
}

type resultHeap[T any] []item[T]

func (h resultHeap[T]) Len() int            { return len(h) }
func (h resultHeap[T]) Less(i, j int) bool  { return h[i].index < h[j].index }
func (h resultHeap[T]) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *resultHeap[T]) Push(x any)         { *h = append(*h, x.(item[T])) }
func (h *resultHeap[T]) Pop() any {
	old := *h
	n := len(old)
	popped := old[n-1]
	*h = old[:n-1]
	return popped
}

// Buffer reorders results keyed by a monotonically assigned input index,
// emitting only a contiguous prefix at a time (spec.md §3 Invariant 4):
// index i is released only after every index below it has been released.
// Results that arrive out of order are held in a min-heap until the gap
// in front of them closes.
type Buffer[T any] struct {
	mu       sync.Mutex
	heap     resultHeap[T]
	next     uint64
	capacity int
}

// NewBuffer creates a Buffer starting at input index 0. capacity, if
// positive, caps how many out-of-order results may be held before Push
// reports that the caller should stop admitting new work upstream
// (backpressure on the ordering stage itself, distinct from the input
// channel's own backpressure).
func NewBuffer[T any](capacity int) *Buffer[T] {
	return &Buffer[T]{capacity: capacity}
}

// Push admits one out-of-order result. It returns true if the buffer is
// now at or over capacity and the caller should pause producing further
// results until Drain relieves pressure; capacity <= 0 disables this
// signal entirely.
func (b *Buffer[T]) Push(index uint64, value T) (overCapacity bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	heap.Push(&b.heap, item[T]{index: index, value: value})
	return b.capacity > 0 && len(b.heap) >= b.capacity
}

// Drain pops and returns every result forming the contiguous prefix
// starting at the next expected index, in index order.
func (b *Buffer[T]) Drain() []Result[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Result[T]
	for len(b.heap) > 0 && b.heap[0].index == b.next {
		popped := heap.Pop(&b.heap).(item[T])
		out = append(out, Result[T]{Index: popped.index, Value: popped.value})
		b.next++
	}
	return out
}

// Pending reports how many out-of-order results are currently held.
func (b *Buffer[T]) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.heap)
}

// NextIndex returns the next input index the buffer is waiting on.
func (b *Buffer[T]) NextIndex() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.next
}
