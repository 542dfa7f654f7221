// Package dispatch runs all layer state of one connection attempt on a
// single goroutine.
//
// Every layer callback is posted as a task. Tasks run one after the other in
// the order they were posted, so layer state needs no locking. Helper
// goroutines (socket IO, echo timers) never touch layer state directly; they
// post tasks back into the dispatcher.
//
// The first task that fails (returns an error or panics) is reported to the
// ExceptionHandler and the dispatcher closes. This is the single place where a
// layer fault turns into connection teardown.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrClosed is returned when posting to a closed dispatcher.
var ErrClosed = errors.New("dispatcher closed")

// ExceptionHandler receives the first task failure.
type ExceptionHandler func(err error)

type task struct {
	fn     func() error
	result chan error
}

// Dispatcher is a single-goroutine task queue.
type Dispatcher struct {
	name        string
	logger      *slog.Logger
	onException ExceptionHandler

	mu     sync.Mutex
	queue  []task
	closed bool
	wake   chan struct{}

	ctx      context.Context
	cancel   context.CancelFunc
	loopDone chan struct{}
	helpers  sync.WaitGroup
	failOnce sync.Once
}

// New creates a dispatcher and starts its goroutine.
// onException may be nil.
func New(name string, onException ExceptionHandler, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		name:        name,
		logger:      logger.With("component", "dispatcher", "dispatcher", name),
		onException: onException,
		wake:        make(chan struct{}, 1),
		ctx:         ctx,
		cancel:      cancel,
		loopDone:    make(chan struct{}),
	}
	go d.loop()
	return d
}

// Post enqueues fn. A returned error or panic is treated as a fatal fault.
func (d *Dispatcher) Post(fn func() error) error {
	return d.enqueue(task{fn: fn})
}

// Call runs fn on the dispatcher and waits for its result.
// Errors from fn are returned to the caller instead of the exception handler.
// Call must not be used from within a task.
func (d *Dispatcher) Call(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	if err := d.enqueue(task{fn: fn, result: result}); err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) enqueue(t task) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	d.queue = append(d.queue, t)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return nil
}

// Go runs fn on a helper goroutine bound to the dispatcher lifetime.
// fn must return once ctx is done. It reports false if the dispatcher is closed.
func (d *Dispatcher) Go(fn func(ctx context.Context)) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	d.helpers.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.helpers.Done()
		defer func() {
			if r := recover(); r != nil {
				d.Fail(fmt.Errorf("helper panicked: %v", r))
			}
		}()
		fn(d.ctx)
	}()
	return true
}

// After posts fn once delay has elapsed. The returned function cancels the
// timer if it has not fired yet.
func (d *Dispatcher) After(delay time.Duration, fn func() error) context.CancelFunc {
	ctx, cancel := context.WithCancel(d.ctx)
	started := d.Go(func(context.Context) {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
			_ = d.Post(fn)
		}
	})
	if !started {
		cancel()
	}
	return cancel
}

// Fail reports err to the exception handler (once) and closes the dispatcher.
func (d *Dispatcher) Fail(err error) {
	d.failOnce.Do(func() {
		d.logger.Debug("dispatcher task failed", "error", err)
		if d.onException != nil {
			d.onException(err)
		}
	})
	d.Close()
}

// Close stops accepting tasks and cancels the dispatcher context.
// Queued tasks that have not started are dropped. Close is idempotent and
// may be called from within a task.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.cancel()
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Wait blocks until the dispatcher goroutine and all helpers have returned.
// It must not be called from a task or helper.
func (d *Dispatcher) Wait() {
	<-d.loopDone
	d.helpers.Wait()
}

// Done is closed once the dispatcher goroutine has exited.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.loopDone
}

// Context is cancelled when the dispatcher closes.
func (d *Dispatcher) Context() context.Context {
	return d.ctx
}

// IsClosed reports whether Close has been called.
func (d *Dispatcher) IsClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Logger returns the logger of the dispatcher.
func (d *Dispatcher) Logger() *slog.Logger {
	return d.logger
}

func (d *Dispatcher) loop() {
	defer close(d.loopDone)

	for {
		t, ok := d.next()
		if !ok {
			return
		}

		err := d.run(t.fn)
		if t.result != nil {
			t.result <- err
			continue
		}
		if err != nil {
			d.Fail(err)
		}
	}
}

// next waits for the next task. It returns false once the dispatcher is closed.
func (d *Dispatcher) next() (task, bool) {
	for {
		d.mu.Lock()
		if d.closed {
			pending := d.queue
			d.queue = nil
			d.mu.Unlock()
			for _, t := range pending {
				if t.result != nil {
					t.result <- ErrClosed
				}
			}
			return task{}, false
		}
		if len(d.queue) > 0 {
			t := d.queue[0]
			d.queue[0] = task{}
			d.queue = d.queue[1:]
			d.mu.Unlock()
			return t, true
		}
		d.mu.Unlock()

		<-d.wake
	}
}

func (d *Dispatcher) run(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return fn()
}
