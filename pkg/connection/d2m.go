package connection

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/threema-ch/servconn/pkg/csp"
	"github.com/threema-ch/servconn/pkg/d2m"
	"github.com/threema-ch/servconn/pkg/layer"
	"github.com/threema-ch/servconn/pkg/log"
	"github.com/threema-ch/servconn/pkg/metrics"
	"github.com/threema-ch/servconn/pkg/socket"
	"github.com/threema-ch/servconn/pkg/taskmanager"
)

// D2mConnectionConfig configures a connection through the mediator.
type D2mConnectionConfig struct {
	IdentityStore         csp.IdentityStore
	ServerAddressProvider csp.ServerAddressProvider
	DeviceCookieManager   csp.DeviceCookieManager
	ClientInfo            string

	// MultiDevice describes this device within its device group.
	MultiDevice d2m.MultiDeviceProperties

	TaskManager taskmanager.TaskManager
	Processor   taskmanager.IncomingMessageProcessor

	LockProvider LockProvider
	LockTimeout  time.Duration
	Backoff      BackoffConfig

	// Monitoring fields left zero take the D2M defaults.
	Monitoring layer.MonitoringConfig

	ConnectTimeout time.Duration
	NewSocket      SocketFactory

	Metrics        *metrics.Recorder
	ProtocolLogger log.Logger
	Logger         *slog.Logger
}

// D2mConnection is a connection to the mediator that tunnels the chat server
// connection.
type D2mConnection struct {
	*BaseServerConnection
	monitoring *layer.MonitoringState
}

// NewD2mConnection creates a stopped mediator connection.
func NewD2mConnection(config D2mConnectionConfig) (*D2mConnection, error) {
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
			AckIncoming:   true,
			Logger:        config.Logger,
		})
	}
	config.Monitoring = withMonitoringDefaults(config.Monitoring, layer.DefaultD2mMonitoringConfig())
	if config.NewSocket == nil {
		groupID := config.MultiDevice.Keys.PathPublic
		config.NewSocket = func(connLog *log.ConnLogger) socket.ServerSocket {
			return socket.NewD2mSocket(socket.D2mSocketConfig{
				AddressProvider: config.ServerAddressProvider,
				DeviceGroupID:   groupID[:],
				ConnectTimeout:  config.ConnectTimeout,
				Logger:          config.Logger,
				ProtocolLogger:  connLog,
			})
		}
	}

	monitoring := &layer.MonitoringState{}
	base, err := NewBaseServerConnection(Config{
		Protocol:       log.ProtocolD2M,
		Identity:       config.IdentityStore.Identity(),
		Provider:       &d2mProvider{config: config, monitoring: monitoring},
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
	return &D2mConnection{BaseServerConnection: base, monitoring: monitoring}, nil
}

// Monitoring returns the echo and close error statistics.
func (c *D2mConnection) Monitoring() layer.MonitoringSnapshot {
	return c.monitoring.Snapshot()
}

type d2mProvider struct {
	config     D2mConnectionConfig
	monitoring *layer.MonitoringState
}

func (p *d2mProvider) Create(a Attempt) (Dependencies, error) {
	md := layer.NewMdController(a.Dispatcher)
	cspDeviceID := p.config.MultiDevice.CspDeviceID
	cspSession := csp.NewSession(csp.SessionConfig{
		IdentityStore:         p.config.IdentityStore,
		ServerAddressProvider: p.config.ServerAddressProvider,
		DeviceCookieManager:   p.config.DeviceCookieManager,
		ClientInfo:            p.config.ClientInfo,
		CspDeviceID:           &cspDeviceID,
		Logger:                p.config.Logger,
	})
	d2mSession := d2m.NewSession(d2m.SessionConfig{
		Properties: p.config.MultiDevice,
		Logger:     p.config.Logger,
	})
	stack, err := layer.NewStack(layer.StackConfig{
		Controller:      md.Controller,
		Md:              md,
		D2mSession:      d2mSession,
		CspSession:      cspSession,
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
		Controller: md.Controller,
		Socket:     p.config.NewSocket(a.ProtocolLogger),
		Stack:      stack,
	}, nil
}
