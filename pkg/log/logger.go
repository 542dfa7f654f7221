package log

// Logger receives protocol events. Log is called from the connection
// dispatcher, so implementations must be safe for concurrent use and must not
// block.
type Logger interface {
	Log(event Event)
}

// NoopLogger discards all events.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

// Join returns a Logger that passes each event to all given loggers in
// order. Nil and noop loggers are left out; if a single logger remains it is
// returned as is, and if none remains the result is a NoopLogger.
func Join(loggers ...Logger) Logger {
	var active multiLogger
	for _, l := range loggers {
		switch l.(type) {
		case nil, NoopLogger, *NoopLogger:
			continue
		}
		active = append(active, l)
	}

	switch len(active) {
	case 0:
		return NoopLogger{}
	case 1:
		return active[0]
	default:
		return active
	}
}

type multiLogger []Logger

func (m multiLogger) Log(event Event) {
	for _, l := range m {
		l.Log(event)
	}
}
