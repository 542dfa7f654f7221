package commands

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/threema-ch/servconn/pkg/log"
)

// ExportOptions controls the export command.
type ExportOptions struct {
	Format string
	Output string
	// ConnID restricts the export to attempts whose ID starts with it.
	ConnID string
}

// captureInfo is the first JSONL line of an export.
type captureInfo struct {
	Version    uint8     `json:"version"`
	Created    time.Time `json:"created"`
	Identity   string    `json:"identity,omitempty"`
	ClientInfo string    `json:"client_info,omitempty"`
}

// record is the flattened form of an event shared by both export formats.
type record struct {
	Timestamp    string `json:"timestamp"`
	ConnectionID string `json:"connection_id"`
	Protocol     string `json:"protocol"`
	Direction    string `json:"direction,omitempty"`
	Layer        string `json:"layer"`
	Category     string `json:"category"`
	RemoteAddr   string `json:"remote_addr,omitempty"`
	Identity     string `json:"identity,omitempty"`
	Type         string `json:"type"`
	Size         *int   `json:"size,omitempty"`
	Detail       string `json:"detail,omitempty"`
}

var csvColumns = []string{
	"timestamp", "connection_id", "protocol", "direction", "layer",
	"category", "remote_addr", "identity", "type", "size", "detail",
}

func newRecord(e log.Event, identity string) record {
	r := record{
		Timestamp:    e.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z"),
		ConnectionID: e.ConnectionID,
		Protocol:     e.Protocol.String(),
		Layer:        e.Layer.String(),
		Category:     e.Category.String(),
		RemoteAddr:   e.RemoteAddr,
		Identity:     e.Identity,
		Type:         eventType(e),
		Detail:       eventDetail(e),
	}
	// Only the first event of an attempt carries the identity.
	if r.Identity == "" {
		r.Identity = identity
	}
	if e.Category == log.CategoryMessage || e.Category == log.CategoryControl {
		r.Direction = e.Direction.String()
	}
	switch {
	case e.Frame != nil:
		r.Size = &e.Frame.Size
	case e.Message != nil:
		r.Size = &e.Message.Size
	}
	return r
}

// eventDetail renders the event specific fields on a single line.
func eventDetail(e log.Event) string {
	var parts []string
	switch {
	case e.Frame != nil:
		if e.Frame.Truncated {
			parts = append(parts, "truncated")
		}
	case e.StateChange != nil:
		sc := e.StateChange
		parts = append(parts, fmt.Sprintf("%s %s->%s", sc.Entity, sc.OldState, sc.NewState))
		if sc.Reason != "" {
			parts = append(parts, "reason="+sc.Reason)
		}
	case e.ControlMsg != nil:
		c := e.ControlMsg
		if c.Sequence != nil {
			parts = append(parts, "seq="+strconv.FormatUint(uint64(*c.Sequence), 10))
		}
		if c.RTT != nil {
			parts = append(parts, "rtt="+formatDuration(*c.RTT))
		}
		if c.IdleTimeout != nil {
			parts = append(parts, "idle_timeout="+c.IdleTimeout.String())
		}
		if c.Message != "" {
			parts = append(parts, strconv.Quote(c.Message))
		}
		if c.CanReconnect != nil {
			parts = append(parts, "can_reconnect="+strconv.FormatBool(*c.CanReconnect))
		}
	case e.Error != nil:
		parts = append(parts, e.Error.Message)
		if e.Error.Fatal {
			parts = append(parts, "fatal")
		}
		if e.Error.Context != "" {
			parts = append(parts, "context="+e.Error.Context)
		}
	}
	return strings.Join(parts, " ")
}

// RunExport exports the capture file in the given format. It returns the
// number of exported events.
func RunExport(path string, opts ExportOptions) (int, error) {
	switch opts.Format {
	case "", "jsonl", "csv":
	default:
		return 0, fmt.Errorf("unknown format: %s (supported: jsonl, csv)", opts.Format)
	}

	reader, err := log.NewFilteredReader(path, log.Filter{ConnectionID: opts.ConnID})
	if err != nil {
		return 0, fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	var write func(record) error
	var flush func() error

	var w io.Writer = os.Stdout
	if opts.Output != "" {
		f, err := os.Create(opts.Output)
		if err != nil {
			return 0, fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	h := reader.Header()
	switch opts.Format {
	case "", "jsonl":
		enc := json.NewEncoder(w)
		info := captureInfo{Version: h.Version, Created: h.Created, Identity: h.Identity, ClientInfo: h.ClientInfo}
		if err := enc.Encode(map[string]captureInfo{"capture": info}); err != nil {
			return 0, fmt.Errorf("failed to write capture info: %w", err)
		}
		write = func(r record) error { return enc.Encode(r) }
		flush = func() error { return nil }
	case "csv":
		cw := csv.NewWriter(w)
		if err := cw.Write(csvColumns); err != nil {
			return 0, fmt.Errorf("failed to write header: %w", err)
		}
		write = func(r record) error {
			size := ""
			if r.Size != nil {
				size = strconv.Itoa(*r.Size)
			}
			return cw.Write([]string{
				r.Timestamp, r.ConnectionID, r.Protocol, r.Direction, r.Layer,
				r.Category, r.RemoteAddr, r.Identity, r.Type, size, r.Detail,
			})
		}
		flush = func() error {
			cw.Flush()
			return cw.Error()
		}
	}

	count := 0
	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return count, fmt.Errorf("failed to read event: %w", err)
		}
		if err := write(newRecord(event, h.Identity)); err != nil {
			return count, fmt.Errorf("failed to write event: %w", err)
		}
		count++
	}
	return count, flush()
}
