package layer

import (
	"context"
	"sync"

	"github.com/threema-ch/servconn/pkg/dispatch"
	"github.com/threema-ch/servconn/pkg/oneshot"
)

// Connection is the view of the orchestrator the layers need.
type Connection interface {
	// DisableReconnect stops the reconnect loop after the current attempt.
	DisableReconnect()

	// IsNewConnectionSession reports whether this attempt was started by
	// Start rather than by a reconnect.
	IsNewConnectionSession() bool

	Start() error
	Stop()
}

// hooks is a one-shot event with callbacks that are posted to the dispatcher
// when it fires. Callbacks added after the event fired are posted immediately.
type hooks struct {
	mu    sync.Mutex
	fired bool
	fns   []func() error
}

func (h *hooks) add(d *dispatch.Dispatcher, fn func() error) {
	h.mu.Lock()
	if !h.fired {
		h.fns = append(h.fns, fn)
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()
	if err := d.Post(fn); err != nil {
		d.Logger().Debug("dropping late hook", "error", err)
	}
}

func (h *hooks) fire() ([]func() error, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fired {
		return nil, false
	}
	h.fired = true
	fns := h.fns
	h.fns = nil
	return fns, true
}

// Controller owns the dispatcher and the lifecycle signals of one connection
// attempt.
type Controller struct {
	Dispatcher *dispatch.Dispatcher

	// Connected completes once the socket is connected and IO runs.
	Connected *oneshot.Event

	// CspAuthenticated completes once the CSP login ack was received.
	CspAuthenticated *oneshot.Event

	// ConnectionClosed completes when the attempt is torn down.
	ConnectionClosed *oneshot.Event

	// IoProcessingStopped completes exceptionally on the first layer fault.
	IoProcessingStopped *oneshot.Event

	connected hooks
	authed    hooks

	closedMu sync.Mutex
	closed   []func()
}

// NewController creates the signals of a new attempt.
func NewController(d *dispatch.Dispatcher) *Controller {
	return &Controller{
		Dispatcher:          d,
		Connected:           oneshot.NewEvent(),
		CspAuthenticated:    oneshot.NewEvent(),
		ConnectionClosed:    oneshot.NewEvent(),
		IoProcessingStopped: oneshot.NewEvent(),
	}
}

// OnConnected registers fn to run on the dispatcher once connected.
func (c *Controller) OnConnected(fn func() error) {
	c.connected.add(c.Dispatcher, fn)
}

// OnCspAuthenticated registers fn to run on the dispatcher once the CSP login
// completed.
func (c *Controller) OnCspAuthenticated(fn func() error) {
	c.authed.add(c.Dispatcher, fn)
}

// OnConnectionClosed registers fn to run when the attempt is torn down.
func (c *Controller) OnConnectionClosed(fn func()) {
	c.closedMu.Lock()
	defer c.closedMu.Unlock()
	c.closed = append(c.closed, fn)
}

// CompleteConnected completes Connected and posts its callbacks.
func (c *Controller) CompleteConnected() {
	c.complete(c.Connected, &c.connected)
}

// CompleteCspAuthenticated completes CspAuthenticated and posts its
// callbacks. It reports false if the signal had already completed.
func (c *Controller) CompleteCspAuthenticated() bool {
	return c.complete(c.CspAuthenticated, &c.authed)
}

func (c *Controller) complete(event *oneshot.Event, h *hooks) bool {
	fns, ok := h.fire()
	if !ok {
		return false
	}
	event.Complete(oneshot.Unit{})
	for _, fn := range fns {
		if err := c.Dispatcher.Post(fn); err != nil {
			c.Dispatcher.Logger().Debug("dropping hooks", "error", err)
			break
		}
	}
	return true
}

// CompleteConnectionClosed completes ConnectionClosed and runs the close
// callbacks on the dispatcher. If the dispatcher already stopped, the
// callbacks run on the calling goroutine after its loop exited.
// It must not be called from a dispatcher task.
func (c *Controller) CompleteConnectionClosed() {
	if !c.ConnectionClosed.Complete(oneshot.Unit{}) {
		return
	}

	c.closedMu.Lock()
	fns := c.closed
	c.closed = nil
	c.closedMu.Unlock()

	run := func() error {
		for _, fn := range fns {
			fn()
		}
		return nil
	}
	if err := c.Dispatcher.Call(context.Background(), run); err != nil {
		<-c.Dispatcher.Done()
		_ = run()
	}
}

// MdController adds the signals of a multi-device attempt.
type MdController struct {
	*Controller

	// ReflectionQueueDry completes once the mediator delivered all reflected
	// messages queued while the device was offline.
	ReflectionQueueDry *oneshot.Event

	// D2mAuthenticated completes once the mediator handshake finished.
	D2mAuthenticated *oneshot.Event
}

// NewMdController creates the signals of a new multi-device attempt.
func NewMdController(d *dispatch.Dispatcher) *MdController {
	return &MdController{
		Controller:         NewController(d),
		ReflectionQueueDry: oneshot.NewEvent(),
		D2mAuthenticated:   oneshot.NewEvent(),
	}
}
