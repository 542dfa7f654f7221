package commands

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/threema-ch/servconn/pkg/log"
)

func createTestLogFile(t *testing.T, events []log.Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.log")

	logger, err := log.NewFileLogger(log.FileLoggerConfig{Path: path, Identity: "ECHOECHO", ClientInfo: "servconn;test"})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	logger.Close()

	return path
}

func readAll(t *testing.T, path string) []log.Event {
	t.Helper()
	reader, err := log.NewReader(path)
	if err != nil {
		t.Fatalf("failed to open: %v", err)
	}
	defer reader.Close()

	var events []log.Event
	for {
		event, err := reader.Next()
		if err == io.EOF {
			return events
		}
		if err != nil {
			t.Fatalf("failed to read event: %v", err)
		}
		events = append(events, event)
	}
}

func sampleEvents() []log.Event {
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	seq := uint32(1)
	rtt := 12 * time.Millisecond
	canReconnect := false
	return []log.Event{
		{
			Timestamp: base, ConnectionID: "abc12345-0000", Protocol: log.ProtocolCSP,
			Direction: log.DirectionOut, Layer: log.LayerSocket, Category: log.CategoryMessage,
			RemoteAddr: "chat.example:5222", Identity: "ECHOECHO",
			Frame: &log.FrameEvent{Size: 48, Data: []byte{0xde, 0xad}},
		},
		{
			Timestamp: base.Add(time.Second), ConnectionID: "abc12345-0000", Protocol: log.ProtocolCSP,
			Layer: log.LayerConnection, Category: log.CategoryState,
			StateChange: &log.StateChangeEvent{Entity: log.StateEntityConnection, OldState: "CONNECTED", NewState: "LOGGEDIN"},
		},
		{
			Timestamp: base.Add(2 * time.Second), ConnectionID: "abc12345-0000", Protocol: log.ProtocolCSP,
			Direction: log.DirectionIn, Layer: log.LayerMonitoring, Category: log.CategoryControl,
			ControlMsg: &log.ControlMsgEvent{Type: log.ControlMsgEchoResponse, Sequence: &seq, RTT: &rtt},
		},
		{
			Timestamp: base.Add(3 * time.Second), ConnectionID: "def67890-0000", Protocol: log.ProtocolD2M,
			Direction: log.DirectionIn, Layer: log.LayerMonitoring, Category: log.CategoryControl,
			ControlMsg: &log.ControlMsgEvent{Type: log.ControlMsgCloseError, Message: "another connection", CanReconnect: &canReconnect},
		},
		{
			Timestamp: base.Add(4 * time.Second), ConnectionID: "def67890-0000", Protocol: log.ProtocolD2M,
			Direction: log.DirectionIn, Layer: log.LayerEndToEnd, Category: log.CategoryMessage,
			Message: &log.MessageEvent{PayloadType: 0x02, PayloadName: "incoming-message", Size: 120},
		},
		{
			Timestamp: base.Add(5 * time.Second), ConnectionID: "def67890-0000", Protocol: log.ProtocolD2M,
			Layer: log.LayerMultiplex, Category: log.CategoryError,
			Error: &log.ErrorEventData{Layer: log.LayerMultiplex, Message: "payload too short", Fatal: true},
		},
	}
}

func TestFormatFrameEvent(t *testing.T) {
	var buf bytes.Buffer
	formatEvent(&buf, sampleEvents()[0])
	output := buf.String()

	for _, want := range []string{
		"2026-03-02T09:00:00.000000Z",
		"[conn:abc12345]",
		"CSP OUT SOCKET Frame",
		"48 bytes",
		"Data: dead",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got: %s", want, output)
		}
	}
}

func TestFormatControlEvent(t *testing.T) {
	var buf bytes.Buffer
	formatEvent(&buf, sampleEvents()[2])
	output := buf.String()

	if !strings.Contains(output, "CTRL ECHO_RESPONSE") {
		t.Errorf("expected control header, got: %s", output)
	}
	if !strings.Contains(output, "Sequence: 1") {
		t.Errorf("expected sequence, got: %s", output)
	}
	if !strings.Contains(output, "RTT: 12.000ms") {
		t.Errorf("expected RTT, got: %s", output)
	}
}

func TestFormatMessageAndErrorEvents(t *testing.T) {
	var buf bytes.Buffer
	formatEvent(&buf, sampleEvents()[4])
	formatEvent(&buf, sampleEvents()[5])
	output := buf.String()

	if !strings.Contains(output, "END_TO_END incoming-message") {
		t.Errorf("expected payload name, got: %s", output)
	}
	if !strings.Contains(output, "Type: 0x02") {
		t.Errorf("expected payload type, got: %s", output)
	}
	if !strings.Contains(output, "Fatal: true") {
		t.Errorf("expected fatal flag, got: %s", output)
	}
}

func TestRunViewFilters(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())

	d2m := log.ProtocolD2M
	control := log.CategoryControl
	var buf bytes.Buffer
	if err := RunView(path, ViewFilter{Protocol: &d2m, Category: &control}, &buf); err != nil {
		t.Fatalf("RunView failed: %v", err)
	}

	output := buf.String()
	if got := strings.Count(output, "[conn:"); got != 1 {
		t.Fatalf("expected 1 event, got %d: %s", got, output)
	}
	if !strings.Contains(output, "CLOSE_ERROR") {
		t.Errorf("expected close error, got: %s", output)
	}
}

func TestParseFlags(t *testing.T) {
	if l, err := ParseLayerFlag("E2E"); err != nil || l != log.LayerEndToEnd {
		t.Errorf("ParseLayerFlag(E2E) = %v, %v", l, err)
	}
	if _, err := ParseLayerFlag("wire"); err == nil {
		t.Error("expected error for unknown layer")
	}
	if d, err := ParseDirectionFlag("OUT"); err != nil || d != log.DirectionOut {
		t.Errorf("ParseDirectionFlag(OUT) = %v, %v", d, err)
	}
	if c, err := ParseCategoryFlag("state"); err != nil || c != log.CategoryState {
		t.Errorf("ParseCategoryFlag(state) = %v, %v", c, err)
	}
	if p, err := ParseProtocolFlag("d2m"); err != nil || p != log.ProtocolD2M {
		t.Errorf("ParseProtocolFlag(d2m) = %v, %v", p, err)
	}
	if _, err := ParseProtocolFlag("tcp"); err == nil {
		t.Error("expected error for unknown protocol")
	}
}

func TestStats(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())

	var buf bytes.Buffer
	if err := RunStats(path, &buf); err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}
	output := buf.String()

	for _, want := range []string{
		"Total Events: 6",
		"CSP:",
		"D2M:",
		"Connections: 2",
		"[abc12345] CSP 3 events",
		"Server: chat.example:5222",
		"Identity: ECHOECHO",
		"Logged in",
		"Echoes: 1 (avg 12.000ms, max 12.000ms)",
		"Close errors: 1",
		"Errors: 1",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got:\n%s", want, output)
		}
	}
}

func TestStatsEmptyFile(t *testing.T) {
	path := createTestLogFile(t, nil)

	var buf bytes.Buffer
	if err := RunStats(path, &buf); err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}
	if !strings.Contains(buf.String(), "Total Events: 0") {
		t.Errorf("unexpected output: %s", buf.String())
	}
}

func TestExportJSONL(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	out := filepath.Join(t.TempDir(), "out.jsonl")

	count, err := RunExport(path, ExportOptions{Format: "jsonl", Output: out})
	if err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}
	if count != 6 {
		t.Errorf("expected 6 events, got %d", count)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 7 {
		t.Fatalf("expected capture info and 6 events, got %d lines", len(lines))
	}

	var info map[string]captureInfo
	if err := json.Unmarshal([]byte(lines[0]), &info); err != nil {
		t.Fatalf("invalid capture info: %v", err)
	}
	if c := info["capture"]; c.Identity != "ECHOECHO" || c.ClientInfo != "servconn;test" || c.Version != log.CaptureVersion {
		t.Errorf("unexpected capture info: %+v", c)
	}

	var state record
	if err := json.Unmarshal([]byte(lines[2]), &state); err != nil {
		t.Fatalf("invalid record: %v", err)
	}
	if state.ConnectionID != "abc12345-0000" || state.Identity != "ECHOECHO" {
		t.Errorf("record not stamped with attempt and identity: %+v", state)
	}
	if state.Direction != "" || state.Size != nil {
		t.Errorf("state record has direction or size: %+v", state)
	}
	if state.Detail != "CONNECTION CONNECTED->LOGGEDIN" {
		t.Errorf("unexpected state detail %q", state.Detail)
	}
}

func TestExportCSV(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	out := filepath.Join(t.TempDir(), "out.csv")

	if _, err := RunExport(path, ExportOptions{Format: "csv", Output: out}); err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}
	f, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("invalid CSV: %v", err)
	}
	if len(rows) != 7 {
		t.Fatalf("expected header and 6 rows, got %d", len(rows))
	}
	if rows[0][2] != "protocol" || rows[0][10] != "detail" {
		t.Errorf("unexpected header: %v", rows[0])
	}
	if rows[1][8] != "Frame" || rows[1][9] != "48" {
		t.Errorf("unexpected frame row: %v", rows[1])
	}
	if rows[3][10] != "seq=1 rtt=12.000ms" {
		t.Errorf("unexpected echo detail: %q", rows[3][10])
	}
	if rows[4][7] != "ECHOECHO" || rows[4][10] != `"another connection" can_reconnect=false` {
		t.Errorf("unexpected close error row: %v", rows[4])
	}
	if rows[5][8] != "incoming-message" || rows[5][9] != "120" {
		t.Errorf("unexpected message row: %v", rows[5])
	}
	if rows[6][10] != "payload too short fatal" {
		t.Errorf("unexpected error detail: %q", rows[6][10])
	}
}

func TestExportAttemptPrefix(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	out := filepath.Join(t.TempDir(), "out.csv")

	count, err := RunExport(path, ExportOptions{Format: "csv", Output: out, ConnID: "def6"})
	if err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 events for attempt def67890, got %d", count)
	}
}

func TestExportUnknownFormat(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	out := filepath.Join(t.TempDir(), "out")
	if _, err := RunExport(path, ExportOptions{Format: "xml", Output: out}); err == nil {
		t.Error("expected error for unknown format")
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Errorf("output created for unknown format: %v", err)
	}
}

func TestFilter(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	out := filepath.Join(t.TempDir(), "filtered.log")

	count, err := RunFilter(path, FilterOptions{
		Output:    out,
		Protocol:  "d2m",
		TimeStart: "2026-03-02T09:00:04Z",
	})
	if err != nil {
		t.Fatalf("RunFilter failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 events, got %d", count)
	}

	events := readAll(t, out)
	if len(events) != 2 {
		t.Fatalf("expected 2 events in output, got %d", len(events))
	}
	for _, e := range events {
		if e.Protocol != log.ProtocolD2M {
			t.Errorf("unexpected protocol %s", e.Protocol)
		}
	}
}

func TestFilterByIdentityAndConnection(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	out := filepath.Join(t.TempDir(), "filtered.log")

	count, err := RunFilter(path, FilterOptions{Output: out, Identity: "ECHOECHO", ConnID: "abc12345-0000"})
	if err != nil {
		t.Fatalf("RunFilter failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 event, got %d", count)
	}
}

func TestFilterKeepsCaptureHeader(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	out := filepath.Join(t.TempDir(), "filtered.log")

	count, err := RunFilter(path, FilterOptions{Output: out, ConnID: "abc1"})
	if err != nil {
		t.Fatalf("RunFilter failed: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 events for prefix abc1, got %d", count)
	}

	reader, err := log.NewReader(out)
	if err != nil {
		t.Fatalf("failed to open filtered capture: %v", err)
	}
	defer reader.Close()
	if h := reader.Header(); h.Identity != "ECHOECHO" || h.ClientInfo != "servconn;test" {
		t.Errorf("unexpected header of filtered capture: %+v", h)
	}
}

func TestFilterInvalidOptions(t *testing.T) {
	path := createTestLogFile(t, sampleEvents())
	out := filepath.Join(t.TempDir(), "filtered.log")

	for _, opts := range []FilterOptions{
		{Output: out, TimeStart: "yesterday"},
		{Output: out, TimeEnd: "tomorrow"},
		{Output: out, Layer: "wire"},
		{Output: out, Direction: "sideways"},
		{Output: out, Category: "snapshot"},
		{Output: out, Protocol: "http"},
	} {
		if _, err := RunFilter(path, opts); err == nil {
			t.Errorf("expected error for %+v", opts)
		}
	}
}
