package log

import "testing"

func TestJoin(t *testing.T) {
	t.Run("nothing to log to", func(t *testing.T) {
		if _, ok := Join().(NoopLogger); !ok {
			t.Error("Join() is not a NoopLogger")
		}
		if _, ok := Join(nil, NoopLogger{}, &NoopLogger{}).(NoopLogger); !ok {
			t.Error("Join of nil and noop loggers is not a NoopLogger")
		}
	})

	t.Run("single logger returned as is", func(t *testing.T) {
		capture := &captureLogger{}
		if got := Join(NoopLogger{}, capture, nil); got != Logger(capture) {
			t.Errorf("Join returned %T, want the capture logger", got)
		}
	})

	t.Run("fan out in order", func(t *testing.T) {
		var order []string
		first := recordingLogger{name: "file", order: &order}
		second := recordingLogger{name: "slog", order: &order}

		conn := NewConnLogger(Join(first, nil, second), ProtocolCSP, "ECHOECHO")
		conn.StateChange(LayerConnection, StateEntityConnection, "CONNECTED", "LOGGEDIN", "")
		conn.Control(DirectionOut, ControlMsgEvent{Type: ControlMsgEchoRequest})

		want := []string{"file", "slog", "file", "slog"}
		if len(order) != len(want) {
			t.Fatalf("got %v, want %v", order, want)
		}
		for i := range want {
			if order[i] != want[i] {
				t.Fatalf("got %v, want %v", order, want)
			}
		}
	})
}

type recordingLogger struct {
	name  string
	order *[]string
}

func (r recordingLogger) Log(Event) {
	*r.order = append(*r.order, r.name)
}

func TestNoopLogger(t *testing.T) {
	var logger Logger = NoopLogger{}
	conn := NewConnLogger(logger, ProtocolD2M, "ECHOECHO")
	conn.Frame(DirectionIn, 4, []byte{0, 0, 0, 0})
	conn.Error(LayerFrame, ErrNotCapture, false, "")
}
