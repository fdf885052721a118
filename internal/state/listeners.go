// Package state holds the synchronous store and listener primitives shared by
// the telemetry components. Nothing in here is safe for concurrent use; all
// callers run on the event loop.
package state

import "container/list"

type listener[T any] struct {
	fn      func(T)
	removed bool
}

// Listeners is an ordered set of callbacks with constant time add and remove.
type Listeners[T any] struct {
	entries *list.List
}

// NewListeners returns an empty listener set.
func NewListeners[T any]() *Listeners[T] {
	return &Listeners[T]{entries: list.New()}
}

// Add registers fn and returns a func removing it. Removing twice is a no-op.
func (l *Listeners[T]) Add(fn func(T)) (remove func()) {
	entry := &listener[T]{fn: fn}
	elem := l.entries.PushBack(entry)
	return func() {
		if entry.removed {
			return
		}
		entry.removed = true
		l.entries.Remove(elem)
	}
}

// Len returns the number of registered listeners.
func (l *Listeners[T]) Len() int {
	return l.entries.Len()
}

// Notify calls every listener in registration order. Listeners added during
// the round are not called; listeners removed during the round are skipped.
func (l *Listeners[T]) Notify(value T) {
	if l.entries.Len() == 0 {
		return
	}
	round := make([]*listener[T], 0, l.entries.Len())
	for e := l.entries.Front(); e != nil; e = e.Next() {
		round = append(round, e.Value.(*listener[T]))
	}
	for _, entry := range round {
		if entry.removed {
			continue
		}
		entry.fn(value)
	}
}
