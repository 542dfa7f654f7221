package layer

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/threema-ch/servconn/pkg/metrics"
	"github.com/threema-ch/servconn/pkg/pipe"
	"github.com/threema-ch/servconn/pkg/taskmanager"
	"github.com/threema-ch/servconn/pkg/wire"
)

// EndToEndLayerConfig configures layer 5.
type EndToEndLayerConfig struct {
	Controller  *Controller
	Connection  Connection
	TaskManager taskmanager.TaskManager
	Processor   taskmanager.IncomingMessageProcessor

	Metrics *metrics.Recorder
	Logger  *slog.Logger
}

// EndToEndLayer is layer 5. It queues inbound messages until the task
// manager runs and holds outbound messages back until the CSP login
// completed. It is the TaskCodec of the attempt.
type EndToEndLayer struct {
	ctrl      *Controller
	conn      Connection
	tasks     taskmanager.TaskManager
	processor taskmanager.IncomingMessageProcessor
	metrics   *metrics.Recorder
	logger    *slog.Logger

	inbound       []wire.InboundMessage
	backlog       []wire.OutboundMessage
	authenticated bool
	running       bool
	closed        bool

	outbound *pipe.Source[wire.OutboundL5Message]
}

// NewEndToEndLayer creates layer 5.
func NewEndToEndLayer(config EndToEndLayerConfig) *EndToEndLayer {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.TaskManager == nil {
		config.TaskManager = taskmanager.NewLoggingTaskManager(taskmanager.LoggingTaskManagerConfig{Logger: config.Logger})
	}
	l := &EndToEndLayer{
		ctrl:      config.Controller,
		conn:      config.Connection,
		tasks:     config.TaskManager,
		processor: config.Processor,
		metrics:   config.Metrics,
		logger:    config.Logger.With("component", "end-to-end-layer"),
		outbound:  pipe.NewSource[wire.OutboundL5Message](),
	}
	l.ctrl.OnCspAuthenticated(l.onAuthenticated)
	l.ctrl.OnConnectionClosed(l.onClosed)
	return l
}

// Inbound returns the handler that terminates the inbound pipe.
func (l *EndToEndLayer) Inbound() pipe.Handler[wire.InboundL4Message] {
	return pipe.HandlerFunc[wire.InboundL4Message](l.handleInbound)
}

// Outbound returns the source of the outbound pipe.
func (l *EndToEndLayer) Outbound() pipe.Pipe[wire.OutboundL5Message] {
	return l.outbound
}

func (l *EndToEndLayer) handleInbound(msg wire.InboundL4Message) error {
	if l.closed {
		return nil
	}
	l.inbound = append(l.inbound, msg)
	return l.drainInbound()
}

func (l *EndToEndLayer) drainInbound() error {
	for l.running && len(l.inbound) > 0 {
		msg := l.inbound[0]
		l.inbound[0] = nil
		l.inbound = l.inbound[1:]
		l.metrics.InboundMessage()
		if err := l.tasks.ProcessInboundMessage(msg); err != nil {
			return fmt.Errorf("failed to process inbound message: %w", err)
		}
	}
	return nil
}

func (l *EndToEndLayer) onAuthenticated() error {
	if l.closed {
		return nil
	}
	l.authenticated = true

	backlog := l.backlog
	l.backlog = nil
	if len(backlog) > 0 {
		l.logger.Debug("sending outbound backlog", "count", len(backlog))
	}
	for _, msg := range backlog {
		if err := l.send(msg); err != nil {
			return err
		}
	}

	l.running = true
	l.tasks.StartRunningTasks(l, l.processor)
	return l.drainInbound()
}

func (l *EndToEndLayer) onClosed() {
	l.closed = true
	l.backlog = nil
	l.inbound = nil
	if l.running {
		l.running = false
		l.tasks.PauseRunningTasks()
	}
}

// Write implements taskmanager.TaskCodec. The message is sent from the
// dispatcher in call order; messages written before the CSP login completed
// are held back until it has.
func (l *EndToEndLayer) Write(msg wire.OutboundMessage) error {
	return l.ctrl.Dispatcher.Post(func() error {
		return l.sendOutbound(msg)
	})
}

func (l *EndToEndLayer) sendOutbound(msg wire.OutboundMessage) error {
	switch {
	case l.closed:
		l.logger.Debug("dropping outbound message, connection closed")
		return nil
	case !l.authenticated:
		l.backlog = append(l.backlog, msg)
		return nil
	default:
		return l.send(msg)
	}
}

func (l *EndToEndLayer) send(msg wire.OutboundMessage) error {
	l.metrics.OutboundMessage()
	return l.outbound.Send(msg)
}

// RestartConnection implements taskmanager.TaskCodec. After delay, the
// connection is stopped and started again unless this attempt has closed in
// the meantime.
func (l *EndToEndLayer) RestartConnection(delay time.Duration) {
	l.logger.Info("restarting connection", "delay", delay)
	time.AfterFunc(delay, func() {
		if l.ctrl.ConnectionClosed.IsCompleted() || l.conn == nil {
			return
		}
		l.conn.Stop()
		if err := l.conn.Start(); err != nil {
			l.logger.Warn("failed to restart connection", "error", err)
		}
	})
}

var _ taskmanager.TaskCodec = (*EndToEndLayer)(nil)
