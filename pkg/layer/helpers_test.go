package layer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/threema-ch/servconn/pkg/dispatch"
)

const testTimeout = 2 * time.Second

type fakeConnection struct {
	mu                sync.Mutex
	newSession        bool
	reconnectDisabled bool
	starts            int
	stops             int
}

func (c *fakeConnection) DisableReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnectDisabled = true
}

func (c *fakeConnection) IsNewConnectionSession() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.newSession
}

func (c *fakeConnection) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starts++
	return nil
}

func (c *fakeConnection) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops++
}

func (c *fakeConnection) isReconnectDisabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnectDisabled
}

func (c *fakeConnection) counts() (starts, stops int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.starts, c.stops
}

// harness runs layer code on a real dispatcher.
type harness struct {
	d        *dispatch.Dispatcher
	ctrl     *Controller
	md       *MdController
	failures chan error
}

func newHarness(t *testing.T, multiDevice bool) *harness {
	t.Helper()
	h := &harness{failures: make(chan error, 1)}
	h.d = dispatch.New(t.Name(), func(err error) { h.failures <- err }, nil)
	if multiDevice {
		h.md = NewMdController(h.d)
		h.ctrl = h.md.Controller
	} else {
		h.ctrl = NewController(h.d)
	}
	t.Cleanup(func() {
		h.d.Close()
		h.d.Wait()
	})
	return h
}

// run executes fn on the dispatcher and returns its error.
func (h *harness) run(t *testing.T, fn func() error) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	return h.d.Call(ctx, fn)
}

// sync waits until all previously posted tasks ran.
func (h *harness) sync(t *testing.T) {
	t.Helper()
	require.NoError(t, h.run(t, func() error { return nil }))
}

func (h *harness) failure(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.failures:
		return err
	case <-time.After(testTimeout):
		t.Fatal("dispatcher did not fail")
		return nil
	}
}

// capture collects values sent into a pipe.
type capture[T any] struct {
	ch chan T
}

func newCapture[T any]() *capture[T] {
	return &capture[T]{ch: make(chan T, 64)}
}

func (c *capture[T]) Handle(v T) error {
	c.ch <- v
	return nil
}

func (c *capture[T]) next(t *testing.T) T {
	t.Helper()
	select {
	case v := <-c.ch:
		return v
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for value")
		var zero T
		return zero
	}
}

func (c *capture[T]) pending() int {
	return len(c.ch)
}
