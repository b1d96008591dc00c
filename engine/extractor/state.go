package extractor

import "sync"

// SharedState is the caller's aggregate for a run. Every page callback gets
// the same instance; callbacks run concurrently and must go through Update.
type SharedState[T any] struct {
	mu    sync.Mutex
	value T
}

// NewSharedState wraps an initial value
func NewSharedState[T any](initial T) *SharedState[T] {
	return &SharedState[T]{value: initial}
}

// Update runs fn with the lock held
func (s *SharedState[T]) Update(fn func(*T)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.value)
}

// Snapshot returns a copy of the current value. Reference fields are shared.
func (s *SharedState[T]) Snapshot() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Callback receives each rendered page. img is only valid until the callback
// returns.
type Callback[T any] func(page int, img []byte, width, height, channels int, state *SharedState[T])
