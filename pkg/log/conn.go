package log

import (
	"time"

	"github.com/google/uuid"
)

// MaxLogFrameDataSize is the maximum frame data size included in events.
// Larger frames are truncated.
const MaxLogFrameDataSize = 4096

// ConnLogger stamps events with the identifiers of one connection attempt.
// A nil *ConnLogger discards everything.
type ConnLogger struct {
	logger Logger

	ConnectionID string
	Protocol     Protocol
	RemoteAddr   string
	Identity     string
}

// NewConnLogger creates a logger for a new connection attempt with a fresh
// connection ID. It returns nil when logger is nil.
func NewConnLogger(logger Logger, protocol Protocol, identity string) *ConnLogger {
	if logger == nil {
		return nil
	}
	return &ConnLogger{
		logger:       logger,
		ConnectionID: uuid.New().String(),
		Protocol:     protocol,
		Identity:     identity,
	}
}

// ID returns the connection ID, or "" for a nil logger.
func (c *ConnLogger) ID() string {
	if c == nil {
		return ""
	}
	return c.ConnectionID
}

// SetRemoteAddr records the peer address for subsequent events.
func (c *ConnLogger) SetRemoteAddr(addr string) {
	if c == nil {
		return
	}
	c.RemoteAddr = addr
}

func (c *ConnLogger) log(event Event) {
	event.Timestamp = time.Now()
	event.ConnectionID = c.ConnectionID
	event.Protocol = c.Protocol
	event.RemoteAddr = c.RemoteAddr
	event.Identity = c.Identity
	c.logger.Log(event)
}

// Frame records raw socket bytes. size includes any length prefix.
func (c *ConnLogger) Frame(direction Direction, size int, data []byte) {
	if c == nil {
		return
	}
	truncated := false
	if len(data) > MaxLogFrameDataSize {
		data = data[:MaxLogFrameDataSize]
		truncated = true
	}
	c.log(Event{
		Direction: direction,
		Layer:     LayerSocket,
		Category:  CategoryMessage,
		Frame: &FrameEvent{
			Size:      size,
			Data:      append([]byte(nil), data...),
			Truncated: truncated,
		},
	})
}

// Message records a container passing a layer.
func (c *ConnLogger) Message(direction Direction, layer Layer, payloadType uint8, name string, size int) {
	if c == nil {
		return
	}
	c.log(Event{
		Direction: direction,
		Layer:     layer,
		Category:  CategoryMessage,
		Message:   &MessageEvent{PayloadType: payloadType, PayloadName: name, Size: size},
	})
}

// StateChange records a state transition.
func (c *ConnLogger) StateChange(layer Layer, entity StateEntity, oldState, newState, reason string) {
	if c == nil {
		return
	}
	c.log(Event{
		Layer:    layer,
		Category: CategoryState,
		StateChange: &StateChangeEvent{
			Entity:   entity,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}

// Control records a monitoring control message.
func (c *ConnLogger) Control(direction Direction, msg ControlMsgEvent) {
	if c == nil {
		return
	}
	c.log(Event{
		Direction:  direction,
		Layer:      LayerMonitoring,
		Category:   CategoryControl,
		ControlMsg: &msg,
	})
}

// Error records an error.
func (c *ConnLogger) Error(layer Layer, err error, fatal bool, context string) {
	if c == nil || err == nil {
		return
	}
	c.log(Event{
		Layer:    layer,
		Category: CategoryError,
		Error: &ErrorEventData{
			Layer:   layer,
			Message: err.Error(),
			Fatal:   fatal,
			Context: context,
		},
	})
}
