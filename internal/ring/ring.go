// Package ring provides a fixed-capacity circular buffer that overwrites its
// oldest entries once full.
package ring

import "sync"

// Buffer is a generic ring of values. New pushes overwrite the oldest entry
// once the buffer holds capacity items.
//
// All methods are safe for concurrent use.
type Buffer[T any] struct {
	mutex sync.RWMutex
	items []T
	// writePosition is the slot the next Push fills (0 to capacity-1).
	writePosition int
	// stored is min(total pushes since the last Clear, capacity).
	stored int
	// totalWritten counts every push since creation; it is never reset.
	totalWritten uint64
}

// New creates a ring with the given capacity. Capacities below 1 are raised to 1.
func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{items: make([]T, capacity)}
}

// Push appends a value, dropping the oldest value when the ring is full.
func (ring *Buffer[T]) Push(value T) {
	ring.mutex.Lock()
	defer ring.mutex.Unlock()

	ring.items[ring.writePosition] = value
	ring.writePosition = (ring.writePosition + 1) % len(ring.items)
	if ring.stored < len(ring.items) {
		ring.stored++
	}
	ring.totalWritten++
}

// Last returns up to n of the most recent values, oldest first. A negative n
// returns everything retained. The returned slice is a copy.
func (ring *Buffer[T]) Last(n int) []T {
	ring.mutex.RLock()
	defer ring.mutex.RUnlock()
	return ring.lastLocked(n)
}

// All returns every retained value, oldest first.
func (ring *Buffer[T]) All() []T {
	return ring.Last(-1)
}

func (ring *Buffer[T]) lastLocked(n int) []T {
	if n < 0 || n > ring.stored {
		n = ring.stored
	}
	result := make([]T, n)
	if n == 0 {
		return result
	}

	capacity := len(ring.items)
	readPosition := (ring.writePosition - n + capacity) % capacity
	for i := 0; i < n; i++ {
		result[i] = ring.items[(readPosition+i)%capacity]
	}
	return result
}

// Len returns the number of retained values.
func (ring *Buffer[T]) Len() int {
	ring.mutex.RLock()
	defer ring.mutex.RUnlock()
	return ring.stored
}

// Cap returns the ring capacity.
func (ring *Buffer[T]) Cap() int {
	ring.mutex.RLock()
	defer ring.mutex.RUnlock()
	return len(ring.items)
}

// TotalWritten returns the number of values ever pushed.
func (ring *Buffer[T]) TotalWritten() uint64 {
	ring.mutex.RLock()
	defer ring.mutex.RUnlock()
	return ring.totalWritten
}

// Clear drops every retained value without changing capacity.
func (ring *Buffer[T]) Clear() {
	ring.mutex.Lock()
	defer ring.mutex.Unlock()

	var zero T
	for i := range ring.items {
		ring.items[i] = zero
	}
	ring.writePosition = 0
	ring.stored = 0
}

// Resize changes the capacity, keeping the most recent values that fit.
func (ring *Buffer[T]) Resize(capacity int) {
	if capacity < 1 {
		capacity = 1
	}

	ring.mutex.Lock()
	defer ring.mutex.Unlock()

	if capacity == len(ring.items) {
		return
	}

	kept := ring.lastLocked(capacity)
	items := make([]T, capacity)
	copy(items, kept)
	ring.items = items
	ring.stored = len(kept)
	ring.writePosition = len(kept) % capacity
}
