// Package buffer provides a bounded history of recent values.
package buffer

import (
	"sync"
)

// History is a thread-safe circular buffer that keeps the most recent items
// up to a fixed capacity. When full, the oldest item is overwritten.
//
// The server uses it to remember recent window events so they can be listed
// after the fact.
type History[T any] struct {
	items    []T
	start    int
	size     int
	capacity int
	mu       sync.RWMutex
}

// NewHistory creates a History with the given capacity.
// The capacity must be greater than 0; if not, it defaults to 1.
func NewHistory[T any](capacity int) *History[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &History[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Add appends an item, discarding the oldest one if the history is full.
func (h *History[T]) Add(item T) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.size < h.capacity {
		h.items[(h.start+h.size)%h.capacity] = item
		h.size++
		return
	}
	h.items[h.start] = item
	h.start = (h.start + 1) % h.capacity
}

// Recent returns up to n items, newest first. n <= 0 returns everything.
func (h *History[T]) Recent(n int) []T {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n <= 0 || n > h.size {
		n = h.size
	}
	result := make([]T, 0, n)
	for i := 0; i < n; i++ {
		result = append(result, h.items[(h.start+h.size-1-i)%h.capacity])
	}
	return result
}

// Latest returns the newest item, if any.
func (h *History[T]) Latest() (T, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var zero T
	if h.size == 0 {
		return zero, false
	}
	return h.items[(h.start+h.size-1)%h.capacity], true
}

// Clear removes all items.
func (h *History[T]) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()

	clear(h.items)
	h.start = 0
	h.size = 0
}

// Len returns the number of items held.
func (h *History[T]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.size
}

// Cap returns the capacity of the history.
func (h *History[T]) Cap() int {
	return h.capacity
}
