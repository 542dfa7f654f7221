package log

import (
	"time"
)

// Event represents a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID identifies the connection attempt (UUID).
	ConnectionID string `cbor:"2,keyasint"`

	// Direction indicates message flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// Protocol spoken on the socket.
	Protocol Protocol `cbor:"6,keyasint"`

	// RemoteAddr is the server address (host:port or URL).
	RemoteAddr string `cbor:"7,keyasint,omitempty"`

	// Identity is the Threema ID that logs in.
	Identity string `cbor:"8,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"` // Socket layer
	Message     *MessageEvent     `cbor:"11,keyasint,omitempty"` // Container level
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"` // Connection state
	ControlMsg  *ControlMsgEvent  `cbor:"13,keyasint,omitempty"` // Echo/idle timeout/close error
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which layer of the connection captured the event.
type Layer uint8

const (
	// LayerSocket is the raw socket (bytes on the wire).
	LayerSocket Layer = 0
	// LayerFrame is layer 1.
	LayerFrame Layer = 1
	// LayerMultiplex is layer 2.
	LayerMultiplex Layer = 2
	// LayerAuth is layer 3.
	LayerAuth Layer = 3
	// LayerMonitoring is layer 4.
	LayerMonitoring Layer = 4
	// LayerEndToEnd is layer 5.
	LayerEndToEnd Layer = 5
	// LayerConnection is the orchestrator.
	LayerConnection Layer = 6
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerSocket:
		return "SOCKET"
	case LayerFrame:
		return "FRAME"
	case LayerMultiplex:
		return "MULTIPLEX"
	case LayerAuth:
		return "AUTH"
	case LayerMonitoring:
		return "MONITORING"
	case LayerEndToEnd:
		return "END_TO_END"
	case LayerConnection:
		return "CONNECTION"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates a protocol message.
	CategoryMessage Category = 0
	// CategoryControl indicates a control message (echo, idle timeout, close error).
	CategoryControl Category = 1
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryControl:
		return "CONTROL"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Protocol is the protocol spoken on the socket.
type Protocol uint8

const (
	// ProtocolCSP is a direct chat server connection.
	ProtocolCSP Protocol = 0
	// ProtocolD2M is a mediator connection.
	ProtocolD2M Protocol = 1
)

// String returns the protocol name.
func (p Protocol) String() string {
	switch p {
	case ProtocolCSP:
		return "CSP"
	case ProtocolD2M:
		return "D2M"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures raw bytes at the socket layer.
type FrameEvent struct {
	// Size is the frame size in bytes (including any length prefix).
	Size int `cbor:"1,keyasint"`

	// Data is the raw frame bytes (may be truncated for large frames).
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// MessageEvent captures a container passing a layer.
type MessageEvent struct {
	// PayloadType is the CSP or D2M payload type byte.
	PayloadType uint8 `cbor:"1,keyasint"`

	// PayloadName is the payload type name.
	PayloadName string `cbor:"2,keyasint,omitempty"`

	// Size is the payload size in bytes.
	Size int `cbor:"3,keyasint"`
}

// StateChangeEvent captures connection and handshake lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityConnection indicates a connection state change.
	StateEntityConnection StateEntity = 0
	// StateEntityLogin indicates CSP login progress.
	StateEntityLogin StateEntity = 1
	// StateEntityHandshake indicates D2M handshake progress.
	StateEntityHandshake StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntityLogin:
		return "LOGIN"
	case StateEntityHandshake:
		return "HANDSHAKE"
	default:
		return "UNKNOWN"
	}
}

// ControlMsgEvent captures monitoring control messages.
type ControlMsgEvent struct {
	// Type of control message.
	Type ControlMsgType `cbor:"1,keyasint"`

	// Sequence is the echo sequence number.
	Sequence *uint32 `cbor:"2,keyasint,omitempty"`

	// RTT is the echo round trip time (echo response only).
	// Stored as nanoseconds.
	RTT *time.Duration `cbor:"3,keyasint,omitempty"`

	// IdleTimeout is the negotiated idle timeout.
	IdleTimeout *time.Duration `cbor:"4,keyasint,omitempty"`

	// Message is the close error or alert text.
	Message string `cbor:"5,keyasint,omitempty"`

	// CanReconnect is set for close errors.
	CanReconnect *bool `cbor:"6,keyasint,omitempty"`
}

// ControlMsgType indicates the type of control message.
type ControlMsgType uint8

const (
	// ControlMsgEchoRequest indicates an echo request.
	ControlMsgEchoRequest ControlMsgType = 0
	// ControlMsgEchoResponse indicates an echo response.
	ControlMsgEchoResponse ControlMsgType = 1
	// ControlMsgIdleTimeout indicates the idle timeout directive.
	ControlMsgIdleTimeout ControlMsgType = 2
	// ControlMsgCloseError indicates a server close error.
	ControlMsgCloseError ControlMsgType = 3
	// ControlMsgAlert indicates a server alert.
	ControlMsgAlert ControlMsgType = 4
	// ControlMsgUnblockIncoming indicates the unblock incoming messages directive.
	ControlMsgUnblockIncoming ControlMsgType = 5
)

// String returns the control message type name.
func (c ControlMsgType) String() string {
	switch c {
	case ControlMsgEchoRequest:
		return "ECHO_REQUEST"
	case ControlMsgEchoResponse:
		return "ECHO_RESPONSE"
	case ControlMsgIdleTimeout:
		return "IDLE_TIMEOUT"
	case ControlMsgCloseError:
		return "CLOSE_ERROR"
	case ControlMsgAlert:
		return "ALERT"
	case ControlMsgUnblockIncoming:
		return "UNBLOCK_INCOMING"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Fatal is set for protocol violations.
	Fatal bool `cbor:"3,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`
}
