package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/threema-ch/servconn/pkg/dispatch"
	"github.com/threema-ch/servconn/pkg/layer"
	"github.com/threema-ch/servconn/pkg/log"
	"github.com/threema-ch/servconn/pkg/metrics"
	"github.com/threema-ch/servconn/pkg/pipe"
	"github.com/threema-ch/servconn/pkg/socket"
	"github.com/threema-ch/servconn/pkg/taskmanager"
	"github.com/threema-ch/servconn/pkg/wire"
)

// Connection errors.
var (
	ErrNotConnected      = errors.New("not connected")
	ErrNotDisconnected   = errors.New("connection is not disconnected")
	ErrMissingDependency = errors.New("missing dependency")

	errReconnectDisabled = errors.New("reconnect not allowed")
)

// ServerConnection is a connection to the chat server, directly or through
// the mediator, that reconnects until it is stopped.
type ServerConnection interface {
	// Start launches the reconnect loop. It is a no-op when already running.
	Start() error

	// Stop disables reconnecting, closes the socket and waits until the
	// reconnect loop has ended. It is idempotent.
	Stop()

	// DisableReconnect ends the reconnect loop after the current attempt.
	DisableReconnect()

	IsRunning() bool
	IsNewConnectionSession() bool
	State() State

	AddConnectionStateListener(l StateListener)
	RemoveConnectionStateListener(l StateListener)

	// SendOutbound hands a message to the end-to-end layer of the current
	// attempt.
	SendOutbound(msg wire.OutboundMessage) error

	// RestartConnection stops and starts the connection after delay unless the
	// current attempt closed in the meantime.
	RestartConnection(delay time.Duration) error
}

// Attempt carries what the connection creates itself for each attempt.
type Attempt struct {
	Connection     layer.Connection
	Dispatcher     *dispatch.Dispatcher
	ProtocolLogger *log.ConnLogger
}

// Dependencies are the per-attempt objects built by a DependencyProvider.
type Dependencies struct {
	Controller *layer.Controller
	Socket     socket.ServerSocket
	Stack      *layer.Stack
}

// DependencyProvider builds the socket and layer stack of a new attempt.
type DependencyProvider interface {
	Create(attempt Attempt) (Dependencies, error)
}

// Config configures a BaseServerConnection.
type Config struct {
	Protocol log.Protocol

	// Identity is recorded in protocol log events.
	Identity string

	Provider    DependencyProvider
	TaskManager taskmanager.TaskManager

	// LockProvider defaults to a TimedLockProvider.
	LockProvider LockProvider

	// LockTimeout defaults to DefaultLockTimeout.
	LockTimeout time.Duration

	Backoff BackoffConfig

	Metrics        *metrics.Recorder
	ProtocolLogger log.Logger
	Logger         *slog.Logger
}

// attempt is one iteration of the reconnect loop.
type attempt struct {
	dispatcher *dispatch.Dispatcher
	connLog    *log.ConnLogger
	deps       Dependencies
}

// BaseServerConnection runs the reconnect loop shared by CSP and D2M
// connections: connect, log in, process IO until the socket closes, back off,
// repeat.
type BaseServerConnection struct {
	config  Config
	logger  *slog.Logger
	backoff *Backoff

	// startMu serializes Start and Stop.
	startMu  sync.Mutex
	cancel   context.CancelFunc
	loopDone chan struct{}

	running          atomic.Bool
	reconnectAllowed atomic.Bool
	isReconnect      atomic.Bool

	// notifyMu serializes state changes and listener notifications.
	notifyMu sync.Mutex
	stateMu  sync.RWMutex
	state    State

	listenersMu sync.Mutex
	listeners   []StateListener

	attemptMu sync.Mutex
	current   *attempt
}

// NewBaseServerConnection creates a stopped connection.
func NewBaseServerConnection(config Config) (*BaseServerConnection, error) {
	if config.Provider == nil || config.TaskManager == nil {
		return nil, fmt.Errorf("%w: provider and task manager are required", ErrMissingDependency)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.LockProvider == nil {
		config.LockProvider = NewTimedLockProvider(config.Logger)
	}
	if config.LockTimeout <= 0 {
		config.LockTimeout = DefaultLockTimeout
	}

	c := &BaseServerConnection{
		config:  config,
		logger:  config.Logger.With("component", strings.ToLower(config.Protocol.String())+"-connection"),
		backoff: NewBackoffWithConfig(config.Backoff),
	}
	c.config.Metrics.SetState(StateDisconnected.String())
	return c, nil
}

// Start implements ServerConnection.
func (c *BaseServerConnection) Start() error {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	c.logger.Info("start")
	if c.running.Load() {
		c.logger.Warn("connection is already running")
		return nil
	}
	if state := c.State(); state != StateDisconnected {
		c.logger.Warn("connection is not disconnected, abort connecting", "state", state)
		return ErrNotDisconnected
	}

	c.running.Store(true)
	c.isReconnect.Store(false)
	c.reconnectAllowed.Store(true)

	if c.cancel != nil {
		c.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.loopDone = make(chan struct{})
	go c.run(ctx, c.loopDone)
	return nil
}

// Stop implements ServerConnection. It must not be called from a state
// listener or a dispatcher task.
func (c *BaseServerConnection) Stop() {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	if c.running.Load() {
		c.logger.Info("stop")
		c.DisableReconnect()
		c.closeSocket("connection stopped")
		c.cancel()
		<-c.loopDone
		c.logger.Info("connection is stopped")
	} else {
		c.logger.Warn("connection has not been started or is already stopped")
	}
	c.setState(StateDisconnected)
}

// DisableReconnect implements ServerConnection.
func (c *BaseServerConnection) DisableReconnect() {
	c.reconnectAllowed.Store(false)
}

// IsRunning reports whether the reconnect loop is active.
func (c *BaseServerConnection) IsRunning() bool {
	return c.running.Load()
}

// IsNewConnectionSession reports whether the current attempt was started by
// Start rather than by a reconnect.
func (c *BaseServerConnection) IsNewConnectionSession() bool {
	return !c.isReconnect.Load()
}

// State returns the current connection state.
func (c *BaseServerConnection) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// ReconnectAttempts returns the attempts since the last successful login.
func (c *BaseServerConnection) ReconnectAttempts() int {
	return c.backoff.Attempts()
}

// AddConnectionStateListener implements ServerConnection.
func (c *BaseServerConnection) AddConnectionStateListener(l StateListener) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners = append(c.listeners, l)
}

// RemoveConnectionStateListener implements ServerConnection.
func (c *BaseServerConnection) RemoveConnectionStateListener(l StateListener) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	for i, existing := range c.listeners {
		if existing == l {
			c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
			return
		}
	}
}

// SendOutbound implements ServerConnection.
func (c *BaseServerConnection) SendOutbound(msg wire.OutboundMessage) error {
	a := c.currentAttempt()
	if a == nil {
		return ErrNotConnected
	}
	return a.deps.Stack.EndToEnd.Write(msg)
}

// RestartConnection implements ServerConnection.
func (c *BaseServerConnection) RestartConnection(delay time.Duration) error {
	a := c.currentAttempt()
	if a == nil {
		return ErrNotConnected
	}
	a.deps.Stack.EndToEnd.RestartConnection(delay)
	return nil
}

func (c *BaseServerConnection) canConnect() bool {
	return c.running.Load() && c.reconnectAllowed.Load()
}

func (c *BaseServerConnection) currentAttempt() *attempt {
	c.attemptMu.Lock()
	defer c.attemptMu.Unlock()
	return c.current
}

func (c *BaseServerConnection) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for c.canConnect() {
		c.runAttempt(ctx)
	}
	c.logger.Info("connection ended")
	c.running.Store(false)
}

func (c *BaseServerConnection) runAttempt(ctx context.Context) {
	var (
		a        *attempt
		lock     Lock
		listener *lockReleaser
	)

	err := func() error {
		var err error
		a, err = c.setup()
		if err != nil {
			return fmt.Errorf("setup: %w", err)
		}
		sock := a.deps.Socket

		c.logger.Debug("start connecting")
		c.setState(StateConnecting)
		if err := sock.Connect(ctx); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		c.setState(StateConnected)

		lock = c.config.LockProvider.Acquire(c.config.LockTimeout, LockTagPurgeIncomingMessageQueue)

		// Stop may have run between the loop check and the socket existing.
		if !c.reconnectAllowed.Load() {
			sock.Close(socket.CloseReason{Msg: "reconnect not allowed"})
			return errReconnectDisabled
		}

		// Registered before IO starts so the event cannot be missed.
		listener = &lockReleaser{lock: lock, logger: c.logger}
		c.config.TaskManager.AddQueueSendCompleteListener(listener)

		return c.processAttempt(ctx, a)
	}()
	switch {
	case err == nil, errors.Is(err, errReconnectDisabled):
	default:
		c.logger.Error("connection exception", "error", err)
		if a != nil {
			a.connLog.Error(log.LayerConnection, err, wire.IsFatal(err), "connection attempt")
		}
	}

	c.setState(StateDisconnected)
	if a != nil {
		a.deps.Socket.Close(socket.CloseReason{Msg: "disconnected"})
		a.deps.Controller.CompleteConnectionClosed()
	}
	if listener != nil {
		c.config.TaskManager.RemoveQueueSendCompleteListener(listener)
	}
	if c.canConnect() {
		c.prepareReconnect(ctx)
	}
	if lock != nil {
		lock.Release()
	}
	if a != nil {
		a.dispatcher.Close()
		a.dispatcher.Wait()
	}
}

// setup creates the dispatcher, socket and layer stack of a new attempt and
// wires them together.
func (c *BaseServerConnection) setup() (*attempt, error) {
	a := &attempt{
		connLog: log.NewConnLogger(c.config.ProtocolLogger, c.config.Protocol, c.config.Identity),
	}
	a.dispatcher = dispatch.New(strings.ToLower(c.config.Protocol.String()), func(err error) {
		c.handleException(a, err)
	}, c.logger)

	deps, err := c.config.Provider.Create(Attempt{
		Connection:     c,
		Dispatcher:     a.dispatcher,
		ProtocolLogger: a.connLog,
	})
	if err != nil {
		a.dispatcher.Close()
		return nil, err
	}
	a.deps = deps

	// Socket reads arrive on the IO goroutine and enter the stack as
	// dispatcher tasks; writes happen on the dispatcher.
	inbound := pipe.NewSource[[]byte]()
	err = deps.Socket.Source().SetHandler(pipe.HandlerFunc[[]byte](func(data []byte) error {
		return a.dispatcher.Post(func() error { return inbound.Send(data) })
	}))
	if err == nil {
		err = deps.Stack.Wire(inbound, pipe.HandlerFunc[[]byte](deps.Socket.Send))
	}
	if err != nil {
		a.dispatcher.Close()
		return nil, err
	}

	c.attemptMu.Lock()
	c.current = a
	c.attemptMu.Unlock()
	return a, nil
}

// processAttempt runs IO until the socket closes. The state changes to
// LOGGEDIN if the CSP login completes before that.
func (c *BaseServerConnection) processAttempt(ctx context.Context, a *attempt) error {
	sock := a.deps.Socket
	ctrl := a.deps.Controller

	g, gctx := errgroup.WithContext(ctx)
	authCtx, cancelAuth := context.WithCancel(gctx)
	defer cancelAuth()

	g.Go(func() error {
		if err := sock.ProcessIO(gctx); err != nil {
			c.logger.Warn("socket exception while processing io", "error", err)
		}
		return nil
	})

	ctrl.CompleteConnected()

	g.Go(func() error {
		if _, err := ctrl.CspAuthenticated.Await(authCtx); err != nil {
			return nil
		}
		c.backoff.Reset()
		c.config.Metrics.Login()
		c.setState(StateLoggedIn)
		return nil
	})

	g.Go(func() error {
		reason, err := sock.ClosedSignal().Await(gctx)
		if err != nil {
			return nil
		}
		c.logger.Warn("socket was closed", "reason", reason)
		if reason.ReconnectAllowed != nil && !*reason.ReconnectAllowed {
			c.DisableReconnect()
		}
		if !ctrl.CspAuthenticated.IsCompleted() {
			c.logger.Debug("cancel waiting for csp authentication")
		}
		cancelAuth()
		return nil
	})

	return g.Wait()
}

// handleException runs when a layer fails. The attempt ends by closing its
// socket.
func (c *BaseServerConnection) handleException(a *attempt, err error) {
	c.logger.Error("exception in connection dispatcher, cancel io processing", "error", err)
	a.connLog.Error(log.LayerConnection, err, wire.IsFatal(err), "io processing")
	if a.deps.Controller != nil {
		a.deps.Controller.IoProcessingStopped.CompleteWithError(err)
	}
	if a.deps.Socket != nil {
		a.deps.Socket.Close(socket.CloseReason{Msg: "io processing stopped: " + err.Error()})
	}
}

func (c *BaseServerConnection) prepareReconnect(ctx context.Context) {
	c.isReconnect.Store(true)
	delay := c.backoff.Next()
	c.config.Metrics.ReconnectAttempt()
	c.logger.Info("waiting before reconnecting", "delay", delay, "attempts", c.backoff.Attempts())

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		c.logger.Debug("reconnect cancelled")
		c.DisableReconnect()
	}
}

func (c *BaseServerConnection) closeSocket(msg string) {
	if a := c.currentAttempt(); a != nil {
		c.logger.Info("close socket")
		a.deps.Socket.Close(socket.CloseReason{Msg: msg})
	}
}

func (c *BaseServerConnection) setState(state State) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.stateMu.Lock()
	previous := c.state
	c.state = state
	c.stateMu.Unlock()
	if previous == state {
		return
	}

	var connLog *log.ConnLogger
	address := ""
	if a := c.currentAttempt(); a != nil {
		connLog = a.connLog
		address = a.deps.Socket.Address()
	}
	c.logger.Debug("notify connection state listeners", "state", state, "address", address)
	connLog.StateChange(log.LayerConnection, log.StateEntityConnection, previous.String(), state.String(), "")
	c.config.Metrics.SetState(state.String())

	c.listenersMu.Lock()
	listeners := append([]StateListener(nil), c.listeners...)
	c.listenersMu.Unlock()
	for _, l := range listeners {
		c.notify(l, state)
	}
}

func (c *BaseServerConnection) notify(l StateListener, state State) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("connection state listener panicked", "panic", r)
		}
	}()
	l.UpdateConnectionState(state)
}

// lockReleaser releases the connection lock once the server delivered its
// queue.
type lockReleaser struct {
	lock   Lock
	logger *slog.Logger
}

func (r *lockReleaser) QueueSendComplete() {
	r.logger.Info("csp queue was processed, releasing connection lock")
	r.lock.Release()
}

// Compile-time interface satisfaction checks.
var (
	_ ServerConnection                      = (*BaseServerConnection)(nil)
	_ layer.Connection                      = (*BaseServerConnection)(nil)
	_ taskmanager.QueueSendCompleteListener = (*lockReleaser)(nil)
)
