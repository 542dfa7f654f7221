package log

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func openCapture(t *testing.T, path, identity string) *FileLogger {
	t.Helper()
	l, err := NewFileLogger(FileLoggerConfig{Path: path, Identity: identity, ClientInfo: "servconn;test"})
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	return l
}

func readEvents(t *testing.T, path string, filter Filter) []Event {
	t.Helper()
	reader, err := NewFilteredReader(path, filter)
	if err != nil {
		t.Fatalf("NewFilteredReader failed: %v", err)
	}
	defer reader.Close()

	var events []Event
	for {
		event, err := reader.Next()
		if err == io.EOF {
			return events
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		events = append(events, event)
	}
}

func TestFileLoggerWritesHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.log")
	before := time.Now().UTC().Add(-time.Second)

	l := openCapture(t, path, "ECHOECHO")
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()

	h := reader.Header()
	if h.Version != CaptureVersion {
		t.Errorf("Version = %d, want %d", h.Version, CaptureVersion)
	}
	if h.Identity != "ECHOECHO" || h.ClientInfo != "servconn;test" {
		t.Errorf("unexpected header %+v", h)
	}
	if h.Created.Before(before) {
		t.Errorf("Created = %v, want after %v", h.Created, before)
	}
	if _, err := reader.Next(); err != io.EOF {
		t.Errorf("expected io.EOF for a capture without events, got %v", err)
	}
}

func TestFileLoggerRecordsAttempt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.log")
	l := openCapture(t, path, "ECHOECHO")

	conn := NewConnLogger(l, ProtocolCSP, "ECHOECHO")
	conn.SetRemoteAddr("chat.example:5222")
	conn.StateChange(LayerConnection, StateEntityConnection, "DISCONNECTED", "CONNECTING", "")
	conn.Frame(DirectionOut, 50, make([]byte, 48))
	seq := uint32(3)
	rtt := 15 * time.Millisecond
	conn.Control(DirectionIn, ControlMsgEvent{Type: ControlMsgEchoResponse, Sequence: &seq, RTT: &rtt})

	if got := l.Written(); got != 3 {
		t.Errorf("Written = %d, want 3", got)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	events := readEvents(t, path, Filter{})
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	for _, e := range events {
		if e.ConnectionID != conn.ID() || e.RemoteAddr != "chat.example:5222" {
			t.Errorf("event not stamped with the attempt: %+v", e)
		}
	}
	echo := events[2].ControlMsg
	if echo == nil || echo.Sequence == nil || *echo.Sequence != 3 || echo.RTT == nil || *echo.RTT != rtt {
		t.Errorf("echo response not preserved: %+v", echo)
	}
	if events[2].Timestamp.Before(events[0].Timestamp) {
		t.Errorf("timestamps out of order")
	}
}

func TestFileLoggerAppendsToSameIdentity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.log")

	first := openCapture(t, path, "ECHOECHO")
	NewConnLogger(first, ProtocolCSP, "ECHOECHO").StateChange(LayerConnection, StateEntityConnection, "", "CONNECTING", "")
	first.Close()
	created := first.Header().Created

	second := openCapture(t, path, "ECHOECHO")
	NewConnLogger(second, ProtocolD2M, "ECHOECHO").StateChange(LayerConnection, StateEntityConnection, "", "CONNECTING", "")
	second.Close()

	if !second.Header().Created.Equal(created) {
		t.Errorf("header rewritten on append: %v != %v", second.Header().Created, created)
	}
	events := readEvents(t, path, Filter{})
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Protocol != ProtocolCSP || events[1].Protocol != ProtocolD2M {
		t.Errorf("unexpected protocols %s, %s", events[0].Protocol, events[1].Protocol)
	}
}

func TestFileLoggerRejectsOtherIdentity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.log")
	openCapture(t, path, "ECHOECHO").Close()

	_, err := NewFileLogger(FileLoggerConfig{Path: path, Identity: "OTHER123"})
	if !errors.Is(err, ErrIdentityMismatch) {
		t.Fatalf("expected ErrIdentityMismatch, got %v", err)
	}

	// Without an identity any capture file can be appended to.
	l, err := NewFileLogger(FileLoggerConfig{Path: path})
	if err != nil {
		t.Fatalf("NewFileLogger without identity failed: %v", err)
	}
	l.Close()
}

func TestFileLoggerRejectsForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("not a capture file\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := NewFileLogger(FileLoggerConfig{Path: path}); !errors.Is(err, ErrNotCapture) {
		t.Errorf("NewFileLogger: expected ErrNotCapture, got %v", err)
	}
	if _, err := NewReader(path); !errors.Is(err, ErrNotCapture) {
		t.Errorf("NewReader: expected ErrNotCapture, got %v", err)
	}
}

func TestReaderRejectsUnknownVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "future.log")
	data, err := captureEncMode.Marshal(FileHeader{Magic: captureMagic, Version: CaptureVersion + 1})
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := NewReader(path); !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestReaderEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.log")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewReader(path); !errors.Is(err, ErrNotCapture) {
		t.Errorf("expected ErrNotCapture, got %v", err)
	}
}

func TestReaderTruncatedEvent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.log")
	l := openCapture(t, path, "ECHOECHO")
	conn := NewConnLogger(l, ProtocolCSP, "ECHOECHO")
	conn.Frame(DirectionIn, 80, make([]byte, 80))
	conn.Frame(DirectionIn, 32, make([]byte, 32))
	l.Close()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Truncate(path, info.Size()-10); err != nil {
		t.Fatal(err)
	}

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()
	if _, err := reader.Next(); err != nil {
		t.Fatalf("first event: %v", err)
	}
	if _, err := reader.Next(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("expected io.ErrUnexpectedEOF, got %v", err)
	}
}

func TestFileLoggerConcurrentAttempts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.log")
	l := openCapture(t, path, "ECHOECHO")

	const attempts, perAttempt = 8, 50
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn := NewConnLogger(l, ProtocolCSP, "ECHOECHO")
			for j := 0; j < perAttempt; j++ {
				conn.Message(DirectionIn, LayerEndToEnd, 0x02, "incoming-message", j)
			}
		}()
	}
	wg.Wait()
	l.Close()

	perID := map[string]int{}
	for _, e := range readEvents(t, path, Filter{}) {
		perID[e.ConnectionID]++
	}
	if len(perID) != attempts {
		t.Fatalf("got %d attempts, want %d", len(perID), attempts)
	}
	for id, n := range perID {
		if n != perAttempt {
			t.Errorf("attempt %s: %d events, want %d", id, n, perAttempt)
		}
	}
}

func TestFileLoggerClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.log")
	l := openCapture(t, path, "ECHOECHO")
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	// Events after Close are dropped.
	NewConnLogger(l, ProtocolCSP, "ECHOECHO").StateChange(LayerConnection, StateEntityConnection, "", "CONNECTING", "")
	if l.Written() != 0 || l.Err() != nil {
		t.Errorf("Written = %d, Err = %v after Close", l.Written(), l.Err())
	}
	if events := readEvents(t, path, Filter{}); len(events) != 0 {
		t.Errorf("got %d events after Close", len(events))
	}
}
