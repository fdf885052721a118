package state

// Store holds a value and notifies subscribers synchronously on every Set.
type Store[T any] struct {
	value     T
	listeners *Listeners[T]
}

// NewStore returns a store holding initial.
func NewStore[T any](initial T) *Store[T] {
	return &Store[T]{value: initial, listeners: NewListeners[T]()}
}

// Get returns the current value.
func (s *Store[T]) Get() T {
	return s.value
}

// Set replaces the value and notifies subscribers before returning.
func (s *Store[T]) Set(value T) {
	s.value = value
	s.listeners.Notify(value)
}

// Update replaces the value with fn(current).
func (s *Store[T]) Update(fn func(T) T) {
	s.Set(fn(s.value))
}

// Subscribe registers fn for future changes.
func (s *Store[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	return s.listeners.Add(fn)
}
