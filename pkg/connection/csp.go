package connection

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/threema-ch/servconn/pkg/csp"
	"github.com/threema-ch/servconn/pkg/layer"
	"github.com/threema-ch/servconn/pkg/log"
	"github.com/threema-ch/servconn/pkg/metrics"
	"github.com/threema-ch/servconn/pkg/socket"
	"github.com/threema-ch/servconn/pkg/taskmanager"
)

// SocketFactory creates the socket of a new attempt.
type SocketFactory func(connLog *log.ConnLogger) socket.ServerSocket

// CspConnectionConfig configures a direct chat server connection.
type CspConnectionConfig struct {
	IdentityStore         csp.IdentityStore
	ServerAddressProvider csp.ServerAddressProvider

	// DeviceCookieManager defaults to an in-memory FileDeviceCookieManager.
	DeviceCookieManager csp.DeviceCookieManager

	// ClientInfo is sent in the login extensions.
	ClientInfo string

	// TaskManager defaults to a LoggingTaskManager.
	TaskManager taskmanager.TaskManager
	Processor   taskmanager.IncomingMessageProcessor

	LockProvider LockProvider
	LockTimeout  time.Duration
	Backoff      BackoffConfig

	// Monitoring fields left zero take the CSP defaults.
	Monitoring layer.MonitoringConfig

	// ConnectTimeout bounds each dial (default: socket.DefaultConnectTimeout).
	ConnectTimeout time.Duration

	// NewSocket replaces the TCP socket, mainly for tests.
	NewSocket SocketFactory

	Metrics        *metrics.Recorder
	ProtocolLogger log.Logger
	Logger         *slog.Logger
}

// CspConnection is a connection straight to the chat server.
type CspConnection struct {
	*BaseServerConnection
	monitoring *layer.MonitoringState
}

// NewCspConnection creates a stopped chat server connection.
func NewCspConnection(config CspConnectionConfig) (*CspConnection, error) {
	if config.IdentityStore == nil || config.ServerAddressProvider == nil {
		return nil, fmt.Errorf("%w: identity store and server address provider are required", ErrMissingDependency)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.DeviceCookieManager == nil {
		config.DeviceCookieManager = csp.NewFileDeviceCookieManager("")
	}
	if config.TaskManager == nil {
		config.TaskManager = taskmanager.NewLoggingTaskManager(taskmanager.LoggingTaskManagerConfig{
			CookieManager: config.DeviceCookieManager,
			Logger:        config.Logger,
		})
	}
	config.Monitoring = withMonitoringDefaults(config.Monitoring, layer.DefaultCspMonitoringConfig())
	if config.NewSocket == nil {
		config.NewSocket = func(connLog *log.ConnLogger) socket.ServerSocket {
			return socket.NewCspSocket(socket.CspSocketConfig{
				AddressProvider: config.ServerAddressProvider,
				ConnectTimeout:  config.ConnectTimeout,
				Logger:          config.Logger,
				ProtocolLogger:  connLog,
			})
		}
	}

	monitoring := &layer.MonitoringState{}
	base, err := NewBaseServerConnection(Config{
		Protocol:       log.ProtocolCSP,
		Identity:       config.IdentityStore.Identity(),
		Provider:       &cspProvider{config: config, monitoring: monitoring},
		TaskManager:    config.TaskManager,
		LockProvider:   config.LockProvider,
		LockTimeout:    config.LockTimeout,
		Backoff:        config.Backoff,
		Metrics:        config.Metrics,
		ProtocolLogger: config.ProtocolLogger,
		Logger:         config.Logger,
	})
	if err != nil {
		return nil, err
	}
	return &CspConnection{BaseServerConnection: base, monitoring: monitoring}, nil
}

// Monitoring returns the echo and close error statistics.
func (c *CspConnection) Monitoring() layer.MonitoringSnapshot {
	return c.monitoring.Snapshot()
}

type cspProvider struct {
	config     CspConnectionConfig
	monitoring *layer.MonitoringState
}

func (p *cspProvider) Create(a Attempt) (Dependencies, error) {
	ctrl := layer.NewController(a.Dispatcher)
	session := csp.NewSession(csp.SessionConfig{
		IdentityStore:         p.config.IdentityStore,
		ServerAddressProvider: p.config.ServerAddressProvider,
		DeviceCookieManager:   p.config.DeviceCookieManager,
		ClientInfo:            p.config.ClientInfo,
		Logger:                p.config.Logger,
	})
	stack, err := layer.NewStack(layer.StackConfig{
		Controller:      ctrl,
		CspSession:      session,
		Connection:      a.Connection,
		MonitoringState: p.monitoring,
		Monitoring:      p.config.Monitoring,
		TaskManager:     p.config.TaskManager,
		Processor:       p.config.Processor,
		Metrics:         p.config.Metrics,
		ProtocolLogger:  a.ProtocolLogger,
		Logger:          p.config.Logger,
	})
	if err != nil {
		return Dependencies{}, err
	}
	return Dependencies{
		Controller: ctrl,
		Socket:     p.config.NewSocket(a.ProtocolLogger),
		Stack:      stack,
	}, nil
}

func withMonitoringDefaults(c, defaults layer.MonitoringConfig) layer.MonitoringConfig {
	if c.EchoInterval <= 0 {
		c.EchoInterval = defaults.EchoInterval
	}
	if c.EchoTimeout <= 0 {
		c.EchoTimeout = defaults.EchoTimeout
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = defaults.IdleTimeout
	}
	return c
}
