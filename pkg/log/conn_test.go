package log

import (
	"errors"
	"sync"
	"testing"
)

type captureLogger struct {
	mu     sync.Mutex
	events []Event
}

func (c *captureLogger) Log(event Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *captureLogger) last(t *testing.T) Event {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) == 0 {
		t.Fatal("no events logged")
	}
	return c.events[len(c.events)-1]
}

func TestNewConnLoggerNil(t *testing.T) {
	c := NewConnLogger(nil, ProtocolCSP, "ECHOECHO")
	if c != nil {
		t.Fatal("expected nil ConnLogger for nil logger")
	}

	// All methods are safe on nil.
	c.SetRemoteAddr("127.0.0.1:5222")
	c.Frame(DirectionIn, 10, []byte{1})
	c.Message(DirectionOut, LayerEndToEnd, 0x01, "OutgoingMessage", 4)
	c.StateChange(LayerConnection, StateEntityConnection, "", "CONNECTING", "")
	c.Control(DirectionOut, ControlMsgEvent{Type: ControlMsgEchoRequest})
	c.Error(LayerFrame, errors.New("boom"), true, "")
	if c.ID() != "" {
		t.Errorf("ID: got %q, want empty", c.ID())
	}
}

func TestConnLoggerStampsEvents(t *testing.T) {
	capture := &captureLogger{}
	c := NewConnLogger(capture, ProtocolD2M, "ECHOECHO")
	c.SetRemoteAddr("wss://mediator.example/ab")

	c.Message(DirectionIn, LayerMultiplex, 0x82, "Reflected", 33)

	event := capture.last(t)
	if event.ConnectionID == "" || event.ConnectionID != c.ID() {
		t.Errorf("ConnectionID: got %q, want %q", event.ConnectionID, c.ID())
	}
	if event.Timestamp.IsZero() {
		t.Error("Timestamp not set")
	}
	if event.Protocol != ProtocolD2M {
		t.Errorf("Protocol: got %v, want %v", event.Protocol, ProtocolD2M)
	}
	if event.RemoteAddr != "wss://mediator.example/ab" {
		t.Errorf("RemoteAddr: got %q", event.RemoteAddr)
	}
	if event.Identity != "ECHOECHO" {
		t.Errorf("Identity: got %q, want %q", event.Identity, "ECHOECHO")
	}
	if event.Layer != LayerMultiplex || event.Category != CategoryMessage {
		t.Errorf("Layer/Category: got %v/%v", event.Layer, event.Category)
	}
	if event.Message == nil || event.Message.PayloadName != "Reflected" || event.Message.Size != 33 {
		t.Errorf("Message: got %+v", event.Message)
	}
}

func TestConnLoggerFreshIDs(t *testing.T) {
	capture := &captureLogger{}
	a := NewConnLogger(capture, ProtocolCSP, "")
	b := NewConnLogger(capture, ProtocolCSP, "")
	if a.ID() == b.ID() {
		t.Error("connection IDs are not unique")
	}
}

func TestConnLoggerFrameTruncation(t *testing.T) {
	capture := &captureLogger{}
	c := NewConnLogger(capture, ProtocolCSP, "")

	data := make([]byte, MaxLogFrameDataSize+10)
	c.Frame(DirectionOut, len(data)+2, data)

	event := capture.last(t)
	if event.Frame == nil {
		t.Fatal("Frame is nil")
	}
	if !event.Frame.Truncated {
		t.Error("Truncated: got false, want true")
	}
	if len(event.Frame.Data) != MaxLogFrameDataSize {
		t.Errorf("Data length: got %d, want %d", len(event.Frame.Data), MaxLogFrameDataSize)
	}
	if event.Frame.Size != len(data)+2 {
		t.Errorf("Size: got %d, want %d", event.Frame.Size, len(data)+2)
	}
}

func TestConnLoggerFrameCopiesData(t *testing.T) {
	capture := &captureLogger{}
	c := NewConnLogger(capture, ProtocolCSP, "")

	data := []byte{1, 2, 3}
	c.Frame(DirectionIn, 3, data)
	data[0] = 9

	if got := capture.last(t).Frame.Data[0]; got != 1 {
		t.Errorf("frame data aliased caller buffer: got %d", got)
	}
}

func TestConnLoggerControlAndError(t *testing.T) {
	capture := &captureLogger{}
	c := NewConnLogger(capture, ProtocolCSP, "")

	seq := uint32(3)
	c.Control(DirectionOut, ControlMsgEvent{Type: ControlMsgEchoRequest, Sequence: &seq})
	event := capture.last(t)
	if event.Layer != LayerMonitoring || event.Category != CategoryControl {
		t.Errorf("Layer/Category: got %v/%v", event.Layer, event.Category)
	}
	if event.ControlMsg == nil || *event.ControlMsg.Sequence != 3 {
		t.Errorf("ControlMsg: got %+v", event.ControlMsg)
	}

	c.Error(LayerAuth, errors.New("decryption failed"), true, "inbound frame")
	event = capture.last(t)
	if event.Category != CategoryError || event.Error == nil {
		t.Fatalf("expected error event, got %+v", event)
	}
	if event.Error.Message != "decryption failed" || !event.Error.Fatal || event.Error.Layer != LayerAuth {
		t.Errorf("Error: got %+v", event.Error)
	}

	before := len(capture.events)
	c.Error(LayerAuth, nil, false, "")
	if len(capture.events) != before {
		t.Error("nil error was logged")
	}
}

func TestConnLoggerStateChange(t *testing.T) {
	capture := &captureLogger{}
	c := NewConnLogger(capture, ProtocolCSP, "")

	c.StateChange(LayerConnection, StateEntityConnection, "CONNECTING", "CONNECTED", "")
	event := capture.last(t)
	if event.Category != CategoryState || event.StateChange == nil {
		t.Fatalf("expected state event, got %+v", event)
	}
	if event.StateChange.OldState != "CONNECTING" || event.StateChange.NewState != "CONNECTED" {
		t.Errorf("StateChange: got %+v", event.StateChange)
	}
}
