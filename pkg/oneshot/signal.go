// Package oneshot provides complete-once signals for coordinating a single
// connection attempt.
package oneshot

import (
	"context"
	"errors"
	"sync"
)

// ErrNotCompleted is returned by Result before the signal completed.
var ErrNotCompleted = errors.New("signal not completed")

// Signal is a value or error that is set exactly once.
// Any number of goroutines may wait for it.
type Signal[T any] struct {
	mu        sync.Mutex
	done      chan struct{}
	completed bool
	value     T
	err       error
}

// New creates an uncompleted signal.
func New[T any]() *Signal[T] {
	return &Signal[T]{done: make(chan struct{})}
}

// Complete sets the value. It reports whether this call completed the signal.
func (s *Signal[T]) Complete(value T) bool {
	return s.complete(value, nil)
}

// CompleteWithError completes the signal exceptionally.
// It reports whether this call completed the signal.
func (s *Signal[T]) CompleteWithError(err error) bool {
	var zero T
	return s.complete(zero, err)
}

func (s *Signal[T]) complete(value T, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completed {
		return false
	}
	s.completed = true
	s.value = value
	s.err = err
	close(s.done)
	return true
}

// Done returns a channel that is closed once the signal is completed.
func (s *Signal[T]) Done() <-chan struct{} {
	return s.done
}

// IsCompleted reports whether the signal has been completed.
func (s *Signal[T]) IsCompleted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

// Result returns the value and error, or ErrNotCompleted.
func (s *Signal[T]) Result() (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.completed {
		var zero T
		return zero, ErrNotCompleted
	}
	return s.value, s.err
}

// Await blocks until the signal completes or ctx is done.
func (s *Signal[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-s.done:
		return s.Result()
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Unit is the value type of signals that carry no data.
type Unit = struct{}

// Event is a signal without a value.
type Event = Signal[Unit]

// NewEvent creates an uncompleted Event.
func NewEvent() *Event {
	return New[Unit]()
}
