// Package channels stages platform performance entries in named, capped
// buffers until the detailed timing instrumentation consumes them.
package channels

import (
	"fmt"
	"sort"

	"slowmonitor/internal/buffer"
	"slowmonitor/internal/models"
)

// RecordingChannel receives the entries of the interaction being recorded.
const RecordingChannel = "recording"

// Buffer is the buffer type held by every channel.
type Buffer = buffer.Bounded[models.PerformanceEntry]

// Registry owns the channels. All methods must run on the event loop.
type Registry struct {
	capacity int
	channels map[string]*Buffer
}

// NewRegistry returns a registry whose channels hold capacity entries each.
// It panics if capacity is not positive.
func NewRegistry(capacity int) *Registry {
	if capacity <= 0 {
		panic(fmt.Sprintf("channels: capacity must be positive, got %d", capacity))
	}
	return &Registry{
		capacity: capacity,
		channels: make(map[string]*Buffer),
	}
}

// Capacity returns the per channel capacity.
func (r *Registry) Capacity() int {
	return r.capacity
}

// State returns a copy of the current buffer of name, so changes only land
// through Update. Unseen channels read as empty.
func (r *Registry) State(name string) *Buffer {
	if ch, ok := r.channels[name]; ok {
		return buffer.FromSlice(ch.Slice(), ch.Cap())
	}
	return buffer.New[models.PerformanceEntry](r.capacity)
}

// Update replaces the buffer of name with fn(current). A nil result resets
// the channel to an empty buffer of the same capacity.
func (r *Registry) Update(name string, fn func(*Buffer) *Buffer) {
	current := r.State(name)
	next := fn(current)
	if next == nil {
		next = buffer.New[models.PerformanceEntry](current.Cap())
	}
	r.channels[name] = next
}

// Push appends entries to the channel.
func (r *Registry) Push(name string, entries ...models.PerformanceEntry) {
	r.Update(name, func(b *Buffer) *Buffer {
		b.Push(entries...)
		return b
	})
}

// Reset empties the channel, keeping its capacity.
func (r *Registry) Reset(name string) {
	r.Update(name, func(*Buffer) *Buffer { return nil })
}

// Names returns the known channel names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.channels))
	for name := range r.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Sizes returns the number of buffered entries per channel.
func (r *Registry) Sizes() map[string]int {
	sizes := make(map[string]int, len(r.channels))
	for name, ch := range r.channels {
		sizes[name] = ch.Len()
	}
	return sizes
}
