// Package ringbuf provides a FIFO ring buffer.
//
// Once full, each Push overwrites the oldest element unless the owner calls
// Grow first, so memory stays bounded by the largest capacity the owner asks
// for. Buffers are not safe for concurrent use; owners are expected to guard
// them.
package ringbuf

// Buffer is a generic ring buffer.
type Buffer[T any] struct {
	items []T
	head  int // index of the oldest element
	size  int
}

// New creates a buffer holding at most capacity elements.
// A capacity below 1 is raised to 1.
func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{items: make([]T, capacity)}
}

// Push appends v, evicting the oldest element when the buffer is full.
// It reports whether an element was evicted.
func (b *Buffer[T]) Push(v T) bool {
	capacity := len(b.items)
	if b.size < capacity {
		b.items[(b.head+b.size)%capacity] = v
		b.size++
		return false
	}

	b.items[b.head] = v
	b.head = (b.head + 1) % capacity
	return true
}

// Len returns the number of stored elements.
func (b *Buffer[T]) Len() int {
	return b.size
}

// Cap returns the buffer capacity.
func (b *Buffer[T]) Cap() int {
	return len(b.items)
}

// Items returns a copy of the stored elements, oldest first.
func (b *Buffer[T]) Items() []T {
	out := make([]T, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.items[(b.head+i)%len(b.items)]
	}
	return out
}

// Last returns the n most recent elements, oldest first.
// n <= 0 or n larger than Len returns everything.
func (b *Buffer[T]) Last(n int) []T {
	if n <= 0 || n >= b.size {
		return b.Items()
	}
	out := make([]T, n)
	start := b.size - n
	for i := 0; i < n; i++ {
		out[i] = b.items[(b.head+start+i)%len(b.items)]
	}
	return out
}

// Grow adds room for n more elements, keeping the stored order.
// n <= 0 is a no-op.
func (b *Buffer[T]) Grow(n int) {
	if n <= 0 {
		return
	}
	items := make([]T, len(b.items)+n)
	for i := 0; i < b.size; i++ {
		items[i] = b.items[(b.head+i)%len(b.items)]
	}
	b.items = items
	b.head = 0
}

// DropOldestWhile removes elements from the old end while drop returns true
// and reports how many were removed.
func (b *Buffer[T]) DropOldestWhile(drop func(T) bool) int {
	var zero T
	removed := 0
	for b.size > 0 && drop(b.items[b.head]) {
		b.items[b.head] = zero
		b.head = (b.head + 1) % len(b.items)
		b.size--
		removed++
	}
	if b.size == 0 {
		b.head = 0
	}
	return removed
}
