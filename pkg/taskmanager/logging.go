package taskmanager

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/threema-ch/servconn/pkg/csp"
	"github.com/threema-ch/servconn/pkg/wire"
)

// ErrNotRunning is returned by Send while no connection is logged in.
var ErrNotRunning = errors.New("tasks are not running")

// Incoming message header offsets.
const (
	incomingSenderLength    = 8
	incomingMessageIDOffset = 16
	incomingMessageIDLength = 8
	incomingHeaderMinLength = incomingMessageIDOffset + incomingMessageIDLength
)

// LoggingTaskManagerConfig configures a LoggingTaskManager.
type LoggingTaskManagerConfig struct {
	// CookieManager receives device cookie change indications. Optional.
	CookieManager csp.DeviceCookieManager

	// AckIncoming acknowledges incoming CSP messages and reflected envelopes.
	AckIncoming bool

	Logger *slog.Logger
}

// LoggingTaskManager is a minimal TaskManager that logs every inbound message,
// handles the protocol housekeeping payloads and lets callers send raw
// messages while the connection is logged in.
type LoggingTaskManager struct {
	config LoggingTaskManagerConfig
	logger *slog.Logger

	mu        sync.Mutex
	codec     TaskCodec
	processor IncomingMessageProcessor
	listeners []QueueSendCompleteListener
	received  int
}

// NewLoggingTaskManager creates a LoggingTaskManager.
func NewLoggingTaskManager(config LoggingTaskManagerConfig) *LoggingTaskManager {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &LoggingTaskManager{
		config: config,
		logger: config.Logger.With("component", "task-manager"),
	}
}

// ProcessInboundMessage implements TaskManager.
func (m *LoggingTaskManager) ProcessInboundMessage(msg wire.InboundMessage) error {
	m.mu.Lock()
	m.received++
	codec, processor := m.codec, m.processor
	m.mu.Unlock()

	switch msg := msg.(type) {
	case wire.CspContainer:
		m.logger.Debug("inbound csp message", "type", msg.PayloadType, "size", len(msg.Data))
		return m.processCsp(msg, codec, processor)
	case wire.InboundD2mMessage:
		m.logger.Debug("inbound d2m message", "type", msg.PayloadType())
		return m.processD2m(msg, codec, processor)
	default:
		return fmt.Errorf("%w: %T", wire.ErrUnexpectedType, msg)
	}
}

func (m *LoggingTaskManager) processCsp(c wire.CspContainer, codec TaskCodec, processor IncomingMessageProcessor) error {
	switch c.PayloadType {
	case wire.CspQueueSendComplete:
		m.logger.Info("server message queue sent")
		for _, l := range m.listenersSnapshot() {
			l.QueueSendComplete()
		}
		return nil

	case wire.CspDeviceCookieChangeIndication:
		m.logger.Warn("device cookie change indicated")
		if m.config.CookieManager != nil {
			m.config.CookieManager.ChangeIndicationReceived()
		}
		if codec == nil {
			return nil
		}
		return codec.Write(wire.CspContainer{PayloadType: wire.CspClearDeviceCookieChangeIndication})

	case wire.CspAlert:
		text, err := wire.DecodeAlert(c.Data)
		if err != nil {
			return err
		}
		m.logger.Warn("server alert", "message", text)
		return nil

	case wire.CspCloseError:
		closeErr, err := wire.DecodeCloseError(c.Data)
		if err != nil {
			return err
		}
		m.logger.Warn("server close error", "message", closeErr.Message, "can_reconnect", closeErr.CanReconnect)
		return nil

	case wire.CspIncomingMessage:
		if processor != nil {
			if err := processor.ProcessIncomingCspMessage(c); err != nil {
				return err
			}
		}
		if !m.config.AckIncoming || codec == nil {
			return nil
		}
		if len(c.Data) < incomingHeaderMinLength {
			return fmt.Errorf("%w: incoming message of %d bytes", wire.ErrPayload, len(c.Data))
		}
		ack := make([]byte, 0, incomingSenderLength+incomingMessageIDLength)
		ack = append(ack, c.Data[:incomingSenderLength]...)
		ack = append(ack, c.Data[incomingMessageIDOffset:incomingHeaderMinLength]...)
		return codec.Write(wire.CspContainer{PayloadType: wire.CspIncomingMessageAck, Data: ack})

	default:
		if processor != nil {
			return processor.ProcessIncomingCspMessage(c)
		}
		return nil
	}
}

func (m *LoggingTaskManager) processD2m(msg wire.InboundD2mMessage, codec TaskCodec, processor IncomingMessageProcessor) error {
	if processor != nil {
		if err := processor.ProcessIncomingD2mMessage(msg); err != nil {
			return err
		}
	}
	reflected, ok := msg.(*wire.Reflected)
	if !ok || !m.config.AckIncoming || codec == nil {
		return nil
	}
	return codec.Write(&wire.ReflectedAck{ReflectedID: reflected.ReflectedID})
}

// StartRunningTasks implements TaskManager.
func (m *LoggingTaskManager) StartRunningTasks(codec TaskCodec, processor IncomingMessageProcessor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codec = codec
	m.processor = processor
	m.logger.Info("tasks running")
}

// PauseRunningTasks implements TaskManager.
func (m *LoggingTaskManager) PauseRunningTasks() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.codec == nil {
		return
	}
	m.codec = nil
	m.processor = nil
	m.logger.Info("tasks paused")
}

// IsRunning reports whether a logged-in connection is attached.
func (m *LoggingTaskManager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codec != nil
}

// Received returns the number of inbound messages processed.
func (m *LoggingTaskManager) Received() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.received
}

// Send writes msg through the current connection.
func (m *LoggingTaskManager) Send(msg wire.OutboundMessage) error {
	m.mu.Lock()
	codec := m.codec
	m.mu.Unlock()
	if codec == nil {
		return ErrNotRunning
	}
	return codec.Write(msg)
}

// AddQueueSendCompleteListener implements TaskManager.
func (m *LoggingTaskManager) AddQueueSendCompleteListener(l QueueSendCompleteListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// RemoveQueueSendCompleteListener implements TaskManager.
func (m *LoggingTaskManager) RemoveQueueSendCompleteListener(l QueueSendCompleteListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.listeners {
		if existing == l {
			m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
			return
		}
	}
}

func (m *LoggingTaskManager) listenersSnapshot() []QueueSendCompleteListener {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]QueueSendCompleteListener, len(m.listeners))
	copy(out, m.listeners)
	return out
}

var _ TaskManager = (*LoggingTaskManager)(nil)
