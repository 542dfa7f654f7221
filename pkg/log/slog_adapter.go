package log

import (
	"context"
	"log/slog"
)

// SlogAdapter forwards protocol events to an slog.Logger. Events are logged
// at Debug, fatal error events at Warn.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a SlogAdapter writing to logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event as one record with the message "protocol".
func (a *SlogAdapter) Log(event Event) {
	level := slog.LevelDebug
	if event.Error != nil && event.Error.Fatal {
		level = slog.LevelWarn
	}
	if !a.logger.Enabled(context.Background(), level) {
		return
	}

	attrs := make([]slog.Attr, 0, 12)
	attrs = append(attrs,
		slog.String("conn_id", event.ConnectionID),
		slog.String("protocol", event.Protocol.String()),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	)
	if event.Category == CategoryMessage || event.Category == CategoryControl {
		attrs = append(attrs, slog.String("direction", event.Direction.String()))
	}
	if event.RemoteAddr != "" {
		attrs = append(attrs, slog.String("remote", event.RemoteAddr))
	}
	if event.Identity != "" {
		attrs = append(attrs, slog.String("identity", event.Identity))
	}

	switch {
	case event.Frame != nil:
		attrs = append(attrs, slog.Int("frame_size", event.Frame.Size))
		if event.Frame.Truncated {
			attrs = append(attrs, slog.Bool("truncated", true))
		}
	case event.Message != nil:
		attrs = append(attrs,
			slog.String("payload", event.Message.PayloadName),
			slog.Int("payload_type", int(event.Message.PayloadType)),
			slog.Int("size", event.Message.Size),
		)
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("entity", event.StateChange.Entity.String()),
			slog.String("from", event.StateChange.OldState),
			slog.String("to", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.ControlMsg != nil:
		attrs = append(attrs, controlAttrs(event.ControlMsg)...)
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error", event.Error.Message),
			slog.Bool("fatal", event.Error.Fatal),
		)
		if event.Error.Context != "" {
			attrs = append(attrs, slog.String("context", event.Error.Context))
		}
	}

	a.logger.LogAttrs(context.Background(), level, "protocol", attrs...)
}

func controlAttrs(c *ControlMsgEvent) []slog.Attr {
	attrs := []slog.Attr{slog.String("control", c.Type.String())}
	if c.Sequence != nil {
		attrs = append(attrs, slog.Uint64("seq", uint64(*c.Sequence)))
	}
	if c.RTT != nil {
		attrs = append(attrs, slog.Duration("rtt", *c.RTT))
	}
	if c.IdleTimeout != nil {
		attrs = append(attrs, slog.Duration("idle_timeout", *c.IdleTimeout))
	}
	if c.Message != "" {
		attrs = append(attrs, slog.String("message", c.Message))
	}
	if c.CanReconnect != nil {
		attrs = append(attrs, slog.Bool("can_reconnect", *c.CanReconnect))
	}
	return attrs
}

var _ Logger = (*SlogAdapter)(nil)
