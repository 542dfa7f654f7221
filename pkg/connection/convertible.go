package connection

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/threema-ch/servconn/pkg/wire"
)

// ConnectionFactory creates a stopped connection.
type ConnectionFactory func() (ServerConnection, error)

// ConvertibleConfig configures a ConvertibleServerConnection.
type ConvertibleConfig struct {
	NewCsp ConnectionFactory
	NewD2m ConnectionFactory

	// MultiDevice selects the initial connection.
	MultiDevice bool

	Logger *slog.Logger
}

// ConvertibleServerConnection delegates to a CSP or a D2M connection and can
// swap one for the other when multi-device is activated or deactivated.
type ConvertibleServerConnection struct {
	config ConvertibleConfig
	logger *slog.Logger

	mu          sync.Mutex
	current     ServerConnection
	multiDevice bool
	listeners   []StateListener
}

// NewConvertibleServerConnection creates the initial connection.
func NewConvertibleServerConnection(config ConvertibleConfig) (*ConvertibleServerConnection, error) {
	if config.NewCsp == nil || config.NewD2m == nil {
		return nil, fmt.Errorf("%w: both connection factories are required", ErrMissingDependency)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	c := &ConvertibleServerConnection{
		config:      config,
		logger:      config.Logger.With("component", "convertible-connection"),
		multiDevice: config.MultiDevice,
	}
	conn, err := c.create(config.MultiDevice)
	if err != nil {
		return nil, err
	}
	c.current = conn
	return c, nil
}

// Convert swaps the delegate if the mode changes. A running connection is
// stopped, and the new one started. State listeners move to the new
// connection.
func (c *ConvertibleServerConnection) Convert(multiDevice bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if multiDevice == c.multiDevice {
		return nil
	}
	next, err := c.create(multiDevice)
	if err != nil {
		return err
	}

	old := c.current
	wasRunning := old.IsRunning()
	c.logger.Info("converting connection", "multi_device", multiDevice, "was_running", wasRunning)
	old.Stop()
	for _, l := range c.listeners {
		old.RemoveConnectionStateListener(l)
		next.AddConnectionStateListener(l)
	}
	c.current = next
	c.multiDevice = multiDevice

	if wasRunning {
		return next.Start()
	}
	return nil
}

// IsMultiDevice reports whether the delegate is a mediator connection.
func (c *ConvertibleServerConnection) IsMultiDevice() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.multiDevice
}

// Current returns the delegate.
func (c *ConvertibleServerConnection) Current() ServerConnection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *ConvertibleServerConnection) create(multiDevice bool) (ServerConnection, error) {
	if multiDevice {
		return c.config.NewD2m()
	}
	return c.config.NewCsp()
}

// Start implements ServerConnection.
func (c *ConvertibleServerConnection) Start() error { return c.Current().Start() }

// Stop implements ServerConnection.
func (c *ConvertibleServerConnection) Stop() { c.Current().Stop() }

// DisableReconnect implements ServerConnection.
func (c *ConvertibleServerConnection) DisableReconnect() { c.Current().DisableReconnect() }

// IsRunning implements ServerConnection.
func (c *ConvertibleServerConnection) IsRunning() bool { return c.Current().IsRunning() }

// IsNewConnectionSession implements ServerConnection.
func (c *ConvertibleServerConnection) IsNewConnectionSession() bool {
	return c.Current().IsNewConnectionSession()
}

// State implements ServerConnection.
func (c *ConvertibleServerConnection) State() State { return c.Current().State() }

// AddConnectionStateListener implements ServerConnection.
func (c *ConvertibleServerConnection) AddConnectionStateListener(l StateListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
	c.current.AddConnectionStateListener(l)
}

// RemoveConnectionStateListener implements ServerConnection.
func (c *ConvertibleServerConnection) RemoveConnectionStateListener(l StateListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.listeners {
		if existing == l {
			c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
			break
		}
	}
	c.current.RemoveConnectionStateListener(l)
}

// SendOutbound implements ServerConnection.
func (c *ConvertibleServerConnection) SendOutbound(msg wire.OutboundMessage) error {
	return c.Current().SendOutbound(msg)
}

// RestartConnection implements ServerConnection.
func (c *ConvertibleServerConnection) RestartConnection(delay time.Duration) error {
	return c.Current().RestartConnection(delay)
}

// Compile-time interface satisfaction check.
var _ ServerConnection = (*ConvertibleServerConnection)(nil)
