package containers

import "container/heap"

// PriorityQueue is a binary heap ordered by the less function given at
// construction: the element for which less reports true against every other
// element is at the front. It is not safe for concurrent use.
type PriorityQueue[T any] struct {
	h *heapSlice[T]
}

func NewPriorityQueue[T any](less func(a, b T) bool) *PriorityQueue[T] {
	return &PriorityQueue[T]{h: &heapSlice[T]{less: less}}
}

func (pq *PriorityQueue[T]) Push(value T) {
	heap.Push(pq.h, value)
}

// Pop removes the front element.
func (pq *PriorityQueue[T]) Pop() (T, bool) {
	if pq.h.Len() == 0 {
		var zero T
		return zero, false
	}
	return heap.Pop(pq.h).(T), true
}

// Sorted returns a copy of the elements in priority order. The queue is
// left untouched.
func (pq *PriorityQueue[T]) Sorted() []T {
	cp := &heapSlice[T]{less: pq.h.less, items: make([]T, len(pq.h.items))}
	copy(cp.items, pq.h.items)
	out := make([]T, 0, len(cp.items))
	for cp.Len() > 0 {
		out = append(out, heap.Pop(cp).(T))
	}
	return out
}

func (pq *PriorityQueue[T]) Len() int {
	return pq.h.Len()
}

type heapSlice[T any] struct {
	items []T
	less  func(a, b T) bool
}

func (h heapSlice[T]) Len() int           { return len(h.items) }
func (h heapSlice[T]) Less(i, j int) bool { return h.less(h.items[i], h.items[j]) }
func (h heapSlice[T]) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *heapSlice[T]) Push(x any) {
	h.items = append(h.items, x.(T))
}

func (h *heapSlice[T]) Pop() any {
	old := h.items
	n := len(old)
	v := old[n-1]
	var zero T
	old[n-1] = zero
	h.items = old[:n-1]
	return v
}
