// Package commands implements the servconn-log CLI commands.
package commands

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/threema-ch/servconn/pkg/log"
)

// ViewFilter specifies criteria for filtering events in the view command.
type ViewFilter struct {
	Layer     *log.Layer
	Direction *log.Direction
	Category  *log.Category
	Protocol  *log.Protocol
}

func (f ViewFilter) matches(e log.Event) bool {
	if f.Layer != nil && e.Layer != *f.Layer {
		return false
	}
	if f.Direction != nil && e.Direction != *f.Direction {
		return false
	}
	if f.Category != nil && e.Category != *f.Category {
		return false
	}
	if f.Protocol != nil && e.Protocol != *f.Protocol {
		return false
	}
	return true
}

// eventType returns the label of the event payload.
func eventType(event log.Event) string {
	switch {
	case event.Frame != nil:
		return "Frame"
	case event.Message != nil:
		if event.Message.PayloadName != "" {
			return event.Message.PayloadName
		}
		return fmt.Sprintf("0x%02x", event.Message.PayloadType)
	case event.StateChange != nil:
		return "State"
	case event.ControlMsg != nil:
		return event.ControlMsg.Type.String()
	case event.Error != nil:
		return "Error"
	default:
		return "Unknown"
	}
}

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event log.Event) {
	// Header line: timestamp [conn:id] PROTOCOL DIRECTION LAYER Type
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")
	connID := shortenConnID(event.ConnectionID)
	dir := event.Direction.String()

	// Use CTRL for control messages in header
	layerStr := event.Layer.String()
	if event.Category == log.CategoryControl {
		layerStr = "CTRL"
	}

	fmt.Fprintf(w, "%s [conn:%s] %s %-3s %s %s\n", ts, connID, event.Protocol, dir, layerStr, eventType(event))

	switch {
	case event.Frame != nil:
		formatFrameDetails(w, event.Frame)
	case event.Message != nil:
		fmt.Fprintf(w, "  Type: 0x%02x\n", event.Message.PayloadType)
		fmt.Fprintf(w, "  Size: %d bytes\n", event.Message.Size)
	case event.StateChange != nil:
		formatStateChangeDetails(w, event.StateChange)
	case event.ControlMsg != nil:
		formatControlDetails(w, event.ControlMsg)
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	}

	fmt.Fprintln(w) // Blank line between events
}

// shortenConnID returns the first 8 characters of the connection ID.
func shortenConnID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

func formatFrameDetails(w io.Writer, frame *log.FrameEvent) {
	fmt.Fprintf(w, "  Size: %d bytes\n", frame.Size)
	if len(frame.Data) > 0 {
		fmt.Fprintf(w, "  Data: %s", hex.EncodeToString(frame.Data))
		if frame.Truncated {
			fmt.Fprintf(w, " (truncated)")
		}
		fmt.Fprintln(w)
	}
}

func formatStateChangeDetails(w io.Writer, sc *log.StateChangeEvent) {
	fmt.Fprintf(w, "  Entity: %s\n", sc.Entity.String())
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s\n", sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

func formatControlDetails(w io.Writer, c *log.ControlMsgEvent) {
	if c.Sequence != nil {
		fmt.Fprintf(w, "  Sequence: %d\n", *c.Sequence)
	}
	if c.RTT != nil {
		fmt.Fprintf(w, "  RTT: %s\n", formatDuration(*c.RTT))
	}
	if c.IdleTimeout != nil {
		fmt.Fprintf(w, "  Idle timeout: %s\n", *c.IdleTimeout)
	}
	if c.Message != "" {
		fmt.Fprintf(w, "  Message: %s\n", c.Message)
	}
	if c.CanReconnect != nil {
		fmt.Fprintf(w, "  Can reconnect: %t\n", *c.CanReconnect)
	}
}

func formatErrorDetails(w io.Writer, err *log.ErrorEventData) {
	fmt.Fprintf(w, "  Layer: %s\n", err.Layer.String())
	fmt.Fprintf(w, "  Message: %s\n", err.Message)
	if err.Fatal {
		fmt.Fprintln(w, "  Fatal: true")
	}
	if err.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", err.Context)
	}
}

// formatDuration formats a duration for display.
func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%.3fus", float64(d.Nanoseconds())/1000)
	}
	if d < time.Second {
		return fmt.Sprintf("%.3fms", float64(d.Microseconds())/1000)
	}
	return fmt.Sprintf("%.3fs", d.Seconds())
}

// ParseLayerFlag parses a layer string from command-line flag (case-insensitive).
func ParseLayerFlag(s string) (log.Layer, error) {
	switch strings.ToLower(s) {
	case "socket":
		return log.LayerSocket, nil
	case "frame":
		return log.LayerFrame, nil
	case "multiplex":
		return log.LayerMultiplex, nil
	case "auth":
		return log.LayerAuth, nil
	case "monitoring":
		return log.LayerMonitoring, nil
	case "end-to-end", "e2e":
		return log.LayerEndToEnd, nil
	case "connection":
		return log.LayerConnection, nil
	default:
		return 0, fmt.Errorf("invalid layer: %s (must be socket, frame, multiplex, auth, monitoring, end-to-end or connection)", s)
	}
}

// ParseDirectionFlag parses a direction string from command-line flag (case-insensitive).
func ParseDirectionFlag(s string) (log.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return log.DirectionIn, nil
	case "out":
		return log.DirectionOut, nil
	default:
		return 0, fmt.Errorf("invalid direction: %s (must be in or out)", s)
	}
}

// ParseCategoryFlag parses a category string from command-line flag (case-insensitive).
func ParseCategoryFlag(s string) (log.Category, error) {
	switch strings.ToLower(s) {
	case "message":
		return log.CategoryMessage, nil
	case "control":
		return log.CategoryControl, nil
	case "state":
		return log.CategoryState, nil
	case "error":
		return log.CategoryError, nil
	default:
		return 0, fmt.Errorf("invalid category: %s (must be message, control, state or error)", s)
	}
}

// ParseProtocolFlag parses a protocol string from command-line flag (case-insensitive).
func ParseProtocolFlag(s string) (log.Protocol, error) {
	switch strings.ToLower(s) {
	case "csp":
		return log.ProtocolCSP, nil
	case "d2m":
		return log.ProtocolD2M, nil
	default:
		return 0, fmt.Errorf("invalid protocol: %s (must be csp or d2m)", s)
	}
}

// RunView executes the view command.
func RunView(path string, filter ViewFilter, output io.Writer) error {
	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if !filter.matches(event) {
			continue
		}
		formatEvent(output, event)
	}

	return nil
}
