package layer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/threema-ch/servconn/pkg/log"
	"github.com/threema-ch/servconn/pkg/metrics"
	"github.com/threema-ch/servconn/pkg/oneshot"
	"github.com/threema-ch/servconn/pkg/pipe"
	"github.com/threema-ch/servconn/pkg/wire"
)

// Monitoring constants.
const (
	// DefaultCspEchoInterval is the echo interval of a CSP-only connection.
	DefaultCspEchoInterval = 10 * time.Second

	// DefaultD2mEchoInterval is the echo interval through the mediator.
	DefaultD2mEchoInterval = 60 * time.Second

	// DefaultEchoTimeout is how long to wait for an echo reply.
	DefaultEchoTimeout = 10 * time.Second

	// DefaultCspIdleTimeout is the idle timeout requested on CSP-only connections.
	DefaultCspIdleTimeout = 30 * time.Second

	// DefaultD2mIdleTimeout is the idle timeout requested through the mediator.
	DefaultD2mIdleTimeout = 120 * time.Second

	// MaxSuppressedAnotherConnection is how many "another connection" close
	// errors are ignored per connection session.
	MaxSuppressedAnotherConnection = 3
)

// ErrEchoTimeout indicates that an echo request was not answered in time.
var ErrEchoTimeout = errors.New("no reply to echo request")

// MonitoringConfig configures layer 4.
type MonitoringConfig struct {
	// EchoInterval is the time between echo requests.
	EchoInterval time.Duration

	// EchoTimeout is how long an echo request may stay unanswered.
	EchoTimeout time.Duration

	// IdleTimeout is sent to the server. It must lie within
	// [wire.IdleTimeoutMin, wire.IdleTimeoutMax] seconds.
	IdleTimeout time.Duration
}

// DefaultCspMonitoringConfig returns the monitoring configuration of a
// CSP-only connection.
func DefaultCspMonitoringConfig() MonitoringConfig {
	return MonitoringConfig{
		EchoInterval: DefaultCspEchoInterval,
		EchoTimeout:  DefaultEchoTimeout,
		IdleTimeout:  DefaultCspIdleTimeout,
	}
}

// DefaultD2mMonitoringConfig returns the monitoring configuration of a
// multi-device connection.
func DefaultD2mMonitoringConfig() MonitoringConfig {
	return MonitoringConfig{
		EchoInterval: DefaultD2mEchoInterval,
		EchoTimeout:  DefaultEchoTimeout,
		IdleTimeout:  DefaultD2mIdleTimeout,
	}
}

// MonitoringState is the monitoring state that outlives a single connection
// attempt. It is owned by the orchestrator and safe for concurrent use.
type MonitoringState struct {
	mu                     sync.Mutex
	lastSentEchoSeq        uint32
	lastRcvdEchoSeq        uint32
	lastRTT                time.Duration
	anotherConnectionCount int
}

// MonitoringSnapshot is a copy of the monitoring state.
type MonitoringSnapshot struct {
	LastSentEchoSeq        uint32
	LastRcvdEchoSeq        uint32
	LastRTT                time.Duration
	AnotherConnectionCount int
}

// NextEchoSeq returns the sequence number of the next echo request.
func (s *MonitoringState) NextEchoSeq() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSentEchoSeq++
	return s.lastSentEchoSeq
}

// ReceivedEcho records an echo reply. The received sequence number only
// advances.
func (s *MonitoringState) ReceivedEcho(seq uint32, rtt time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq > s.lastRcvdEchoSeq {
		s.lastRcvdEchoSeq = seq
	}
	s.lastRTT = rtt
}

// IsEchoAnswered reports whether a reply to seq or a later request arrived.
func (s *MonitoringState) IsEchoAnswered(seq uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRcvdEchoSeq >= seq
}

// ResetAnotherConnectionCount starts a new connection session.
func (s *MonitoringState) ResetAnotherConnectionCount() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anotherConnectionCount = 0
}

// suppressAnotherConnection counts an "another connection" close error and
// reports whether it is to be ignored.
func (s *MonitoringState) suppressAnotherConnection() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.anotherConnectionCount >= MaxSuppressedAnotherConnection {
		return false
	}
	s.anotherConnectionCount++
	return true
}

// Snapshot returns a copy of the state.
func (s *MonitoringState) Snapshot() MonitoringSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return MonitoringSnapshot{
		LastSentEchoSeq:        s.lastSentEchoSeq,
		LastRcvdEchoSeq:        s.lastRcvdEchoSeq,
		LastRTT:                s.lastRTT,
		AnotherConnectionCount: s.anotherConnectionCount,
	}
}

// MonitoringLayerConfig configures layer 4.
type MonitoringLayerConfig struct {
	Controller *Controller

	// Md is set in multi-device mode.
	Md *MdController

	Connection Connection
	State      *MonitoringState
	Config     MonitoringConfig

	Metrics        *metrics.Recorder
	ProtocolLogger *log.ConnLogger
	Logger         *slog.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// MonitoringLayer is layer 4. It keeps the connection alive with echo
// requests, applies server close errors and handles the reflection queue of
// the mediator.
type MonitoringLayer struct {
	ctrl    *Controller
	md      *MdController
	conn    Connection
	state   *MonitoringState
	config  MonitoringConfig
	metrics *metrics.Recorder
	connLog *log.ConnLogger
	logger  *slog.Logger
	now     func() time.Time

	stopped    bool
	monitoring bool
	stopEcho   context.CancelFunc

	decoder *pipe.ProcessingPipe[wire.InboundL3Message, wire.InboundL4Message]
	encoder *pipe.ProcessingPipe[wire.OutboundL5Message, wire.OutboundL4Message]
}

// NewMonitoringLayer creates layer 4. Monitoring starts once the CSP login
// completed and stops when the connection closed.
func NewMonitoringLayer(config MonitoringLayerConfig) *MonitoringLayer {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.State == nil {
		config.State = &MonitoringState{}
	}
	l := &MonitoringLayer{
		ctrl:    config.Controller,
		md:      config.Md,
		conn:    config.Connection,
		state:   config.State,
		config:  config.Config,
		metrics: config.Metrics,
		connLog: config.ProtocolLogger,
		logger:  config.Logger.With("component", "monitoring-layer"),
		now:     config.Now,
	}
	if l.conn != nil && l.conn.IsNewConnectionSession() {
		l.state.ResetAnotherConnectionCount()
	}
	l.decoder = pipe.NewProcessingPipe(l.decode)
	l.encoder = pipe.NewProcessingPipe(l.encode)
	l.ctrl.OnCspAuthenticated(l.startMonitoring)
	l.ctrl.OnConnectionClosed(l.stopMonitoring)
	return l
}

// Decoder returns the inbound processor.
func (l *MonitoringLayer) Decoder() *pipe.ProcessingPipe[wire.InboundL3Message, wire.InboundL4Message] {
	return l.decoder
}

// Encoder returns the outbound processor.
func (l *MonitoringLayer) Encoder() *pipe.ProcessingPipe[wire.OutboundL5Message, wire.OutboundL4Message] {
	return l.encoder
}

func (l *MonitoringLayer) startMonitoring() error {
	if l.stopped {
		l.logger.Warn("not starting monitoring, connection already closed")
		return nil
	}
	if l.monitoring {
		return nil
	}

	payload, err := wire.EncodeIdleTimeout(l.config.IdleTimeout)
	if err != nil {
		return err
	}
	idle := l.config.IdleTimeout
	l.connLog.Control(log.DirectionOut, log.ControlMsgEvent{Type: log.ControlMsgIdleTimeout, IdleTimeout: &idle})
	if err := l.encoder.Send(wire.CspContainer{PayloadType: wire.CspSetConnectionIdleTimeout, Data: payload}); err != nil {
		return err
	}

	l.monitoring = true
	ctx, cancel := context.WithCancel(l.ctrl.Dispatcher.Context())
	l.stopEcho = cancel
	d := l.ctrl.Dispatcher
	d.Go(func(context.Context) {
		ticker := time.NewTicker(l.config.EchoInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := d.Post(l.sendEcho); err != nil {
					return
				}
			}
		}
	})
	l.logger.Debug("monitoring started",
		"echo_interval", l.config.EchoInterval,
		"idle_timeout", l.config.IdleTimeout)
	return nil
}

func (l *MonitoringLayer) stopMonitoring() {
	l.stopped = true
	l.monitoring = false
	if l.stopEcho != nil {
		l.stopEcho()
		l.stopEcho = nil
	}
}

func (l *MonitoringLayer) sendEcho() error {
	if l.stopped {
		return nil
	}
	echo := wire.Echo{
		Sequence:  l.state.NextEchoSeq(),
		Timestamp: uint64(l.now().UnixMilli()),
	}
	seq := echo.Sequence
	l.connLog.Control(log.DirectionOut, log.ControlMsgEvent{Type: log.ControlMsgEchoRequest, Sequence: &seq})
	if err := l.encoder.Send(wire.CspContainer{PayloadType: wire.CspEchoRequest, Data: echo.Bytes()}); err != nil {
		return err
	}
	l.ctrl.Dispatcher.After(l.config.EchoTimeout, func() error {
		return l.checkEcho(seq)
	})
	return nil
}

func (l *MonitoringLayer) checkEcho(seq uint32) error {
	if l.stopped || l.state.IsEchoAnswered(seq) {
		return nil
	}
	l.metrics.EchoTimeout()
	l.logger.Warn("echo request not answered", "seq", seq, "timeout", l.config.EchoTimeout)
	return fmt.Errorf("%w %d within %s", ErrEchoTimeout, seq, l.config.EchoTimeout)
}

func (l *MonitoringLayer) decode(msg wire.InboundL3Message, out pipe.InputPipe[wire.InboundL4Message]) error {
	switch m := msg.(type) {
	case wire.CspContainer:
		switch m.PayloadType {
		case wire.CspEchoResponse:
			return l.handleEchoResponse(m.Data)
		case wire.CspCloseError:
			return l.handleCloseError(m, out)
		case wire.CspAlert:
			text, err := wire.DecodeAlert(m.Data)
			if err != nil {
				return err
			}
			l.connLog.Control(log.DirectionIn, log.ControlMsgEvent{Type: log.ControlMsgAlert, Message: text})
		}
		return out.Send(m)

	case wire.InboundD2mMessage:
		switch m.(type) {
		case *wire.ReflectionQueueDry:
			return l.handleReflectionQueueDry()
		case *wire.RolePromotedToLeader:
			return l.handleRolePromotedToLeader()
		}
		return out.Send(m)

	default:
		return fmt.Errorf("%w: monitoring layer cannot decode %T", wire.ErrUnexpectedType, msg)
	}
}

func (l *MonitoringLayer) handleEchoResponse(data []byte) error {
	echo, err := wire.DecodeEcho(data)
	if err != nil {
		return err
	}
	rtt := l.now().Sub(echo.SentAt())
	l.state.ReceivedEcho(echo.Sequence, rtt)
	l.metrics.EchoRTT(rtt)

	seq := echo.Sequence
	l.connLog.Control(log.DirectionIn, log.ControlMsgEvent{Type: log.ControlMsgEchoResponse, Sequence: &seq, RTT: &rtt})
	l.logger.Debug("echo reply", "seq", seq, "rtt", rtt)
	return nil
}

func (l *MonitoringLayer) handleCloseError(m wire.CspContainer, out pipe.InputPipe[wire.InboundL4Message]) error {
	closeErr, err := wire.DecodeCloseError(m.Data)
	if err != nil {
		return err
	}
	canReconnect := closeErr.CanReconnect
	l.connLog.Control(log.DirectionIn, log.ControlMsgEvent{
		Type:         log.ControlMsgCloseError,
		Message:      closeErr.Message,
		CanReconnect: &canReconnect,
	})
	l.metrics.CloseError(canReconnect)

	if closeErr.IsAnotherConnection() && l.state.suppressAnotherConnection() {
		l.metrics.AnotherConnectionIgnored()
		l.logger.Warn("ignoring close error", "message", closeErr.Message)
		return nil
	}

	l.logger.Warn("server close error", "message", closeErr.Message, "can_reconnect", canReconnect)
	if !canReconnect && l.conn != nil {
		l.conn.DisableReconnect()
	}
	return out.Send(m)
}

func (l *MonitoringLayer) handleReflectionQueueDry() error {
	if l.md == nil {
		return fmt.Errorf("%w: reflection queue dry in csp mode", wire.ErrUnexpectedType)
	}
	l.md.ReflectionQueueDry.Complete(oneshot.Unit{})
	l.logger.Debug("reflection queue dry")
	return nil
}

func (l *MonitoringLayer) handleRolePromotedToLeader() error {
	if l.md == nil {
		return fmt.Errorf("%w: role promotion in csp mode", wire.ErrUnexpectedType)
	}
	if !l.md.ReflectionQueueDry.IsCompleted() {
		return fmt.Errorf("%w: promoted to leader before the reflection queue was dry", wire.ErrD2mProtocol)
	}
	l.logger.Info("promoted to leader")
	l.ctrl.OnCspAuthenticated(l.unblockIncomingMessages)
	return nil
}

func (l *MonitoringLayer) unblockIncomingMessages() error {
	if l.stopped {
		return nil
	}
	l.connLog.Control(log.DirectionOut, log.ControlMsgEvent{Type: log.ControlMsgUnblockIncoming})
	return l.encoder.Send(wire.CspContainer{PayloadType: wire.CspUnblockIncomingMessages})
}

func (l *MonitoringLayer) encode(msg wire.OutboundL5Message, out pipe.InputPipe[wire.OutboundL4Message]) error {
	switch m := msg.(type) {
	case wire.CspContainer:
		return out.Send(m)
	case wire.OutboundD2mMessage:
		return out.Send(m)
	default:
		return fmt.Errorf("%w: monitoring layer cannot encode %T", wire.ErrUnexpectedType, msg)
	}
}
