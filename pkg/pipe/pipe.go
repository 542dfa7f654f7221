package pipe

import (
	"errors"
	"sync"
)

// Pipe errors.
var (
	// ErrHandlerAlreadySet indicates a pipe was wired twice.
	ErrHandlerAlreadySet = errors.New("pipe handler already set")

	// ErrNoHandler indicates a value was sent into a pipe that has no handler.
	ErrNoHandler = errors.New("pipe has no handler")
)

// Handler consumes values pushed through a pipe.
// Handle runs synchronously on the sender's goroutine.
type Handler[T any] interface {
	Handle(value T) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc[T any] func(value T) error

// Handle calls f(value).
func (f HandlerFunc[T]) Handle(value T) error {
	return f(value)
}

// Pipe is a push-based source of values with at most one handler.
type Pipe[T any] interface {
	SetHandler(h Handler[T]) error
}

// InputPipe is a pipe that values can be sent into.
type InputPipe[T any] interface {
	Pipe[T]
	Send(value T) error
}

// Processor turns a pipe of I into a pipe of O.
type Processor[I, O any] interface {
	ProcessPipe(source Pipe[I]) (Pipe[O], error)
}

// Source is the basic InputPipe implementation.
// It is safe to wire and send from different goroutines, but values are
// delivered synchronously on the goroutine calling Send.
type Source[T any] struct {
	mu      sync.RWMutex
	handler Handler[T]
}

// NewSource creates an unwired pipe.
func NewSource[T any]() *Source[T] {
	return &Source[T]{}
}

// SetHandler registers the single handler of this pipe.
func (s *Source[T]) SetHandler(h Handler[T]) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handler != nil {
		return ErrHandlerAlreadySet
	}
	s.handler = h
	return nil
}

// Send pushes a value to the handler and returns the handler's error.
func (s *Source[T]) Send(value T) error {
	s.mu.RLock()
	h := s.handler
	s.mu.RUnlock()
	if h == nil {
		return ErrNoHandler
	}
	return h.Handle(value)
}

// IsWired reports whether a handler has been set.
func (s *Source[T]) IsWired() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handler != nil
}

// ProcessingPipe is both a consumer of I and a producer of O.
// The process function may emit zero or more values into out.
type ProcessingPipe[I, O any] struct {
	*Source[O]
	process func(value I, out InputPipe[O]) error
}

// NewProcessingPipe creates a ProcessingPipe around process.
func NewProcessingPipe[I, O any](process func(value I, out InputPipe[O]) error) *ProcessingPipe[I, O] {
	return &ProcessingPipe[I, O]{
		Source:  NewSource[O](),
		process: process,
	}
}

// Handle feeds one input value through the process function.
func (p *ProcessingPipe[I, O]) Handle(value I) error {
	return p.process(value, p.Source)
}

// ProcessPipe wires source into this pipe and returns the output side.
func (p *ProcessingPipe[I, O]) ProcessPipe(source Pipe[I]) (Pipe[O], error) {
	if err := source.SetHandler(p); err != nil {
		return nil, err
	}
	return p, nil
}

// NewMappingPipe creates a pure 1:1 transform.
func NewMappingPipe[I, O any](mapFn func(value I) (O, error)) *ProcessingPipe[I, O] {
	return NewProcessingPipe(func(value I, out InputPipe[O]) error {
		mapped, err := mapFn(value)
		if err != nil {
			return err
		}
		return out.Send(mapped)
	})
}

// Through wires source into processor and returns the processor's output.
func Through[I, O any](source Pipe[I], processor Processor[I, O]) (Pipe[O], error) {
	return processor.ProcessPipe(source)
}

// Into terminates source in handler.
func Into[T any](source Pipe[T], handler Handler[T]) error {
	return source.SetHandler(handler)
}

// Compile-time interface satisfaction checks.
var (
	_ InputPipe[int]      = (*Source[int])(nil)
	_ InputPipe[int]      = (*ProcessingPipe[string, int])(nil)
	_ Handler[string]     = (*ProcessingPipe[string, int])(nil)
	_ Processor[int, int] = (*ProcessingPipe[int, int])(nil)
)
