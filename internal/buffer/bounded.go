// Package buffer provides a fixed capacity FIFO buffer.
package buffer

import "fmt"

// Bounded is a FIFO ring buffer holding at most Cap() items. Pushing past the
// capacity evicts the oldest items. It is not safe for concurrent use.
type Bounded[T any] struct {
	items []T
	head  int
	size  int
}

// New returns an empty buffer. It panics if capacity is not positive.
func New[T any](capacity int) *Bounded[T] {
	if capacity <= 0 {
		panic(fmt.Sprintf("buffer: capacity must be positive, got %d", capacity))
	}
	return &Bounded[T]{items: make([]T, capacity)}
}

// FromSlice builds a buffer from items, keeping only the last capacity items.
func FromSlice[T any](items []T, capacity int) *Bounded[T] {
	b := New[T](capacity)
	if len(items) > capacity {
		items = items[len(items)-capacity:]
	}
	b.Push(items...)
	return b
}

// Push appends items to the tail.
func (b *Bounded[T]) Push(items ...T) {
	capacity := len(b.items)
	for _, item := range items {
		tail := (b.head + b.size) % capacity
		b.items[tail] = item
		if b.size < capacity {
			b.size++
			continue
		}
		b.head = (b.head + 1) % capacity
	}
}

// Len returns the number of buffered items.
func (b *Bounded[T]) Len() int {
	return b.size
}

// Cap returns the buffer capacity.
func (b *Bounded[T]) Cap() int {
	return len(b.items)
}

// Slice returns a copy of the buffered items, oldest first.
func (b *Bounded[T]) Slice() []T {
	out := make([]T, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.items[(b.head+i)%len(b.items)]
	}
	return out
}
