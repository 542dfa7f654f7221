// Package log captures protocol events of server connections.
//
// Protocol capture is separate from operational logging (slog): it records
// what crossed each layer of a connection attempt (socket bytes, containers,
// control messages, state changes and errors) in a form that the
// servconn-log tool can view, filter and export later.
//
// The connection engine takes a Logger. Each connection attempt wraps it in a
// ConnLogger, which stamps every event with a fresh attempt ID, the protocol,
// the remote address and the identity:
//
//	capture, err := log.NewFileLogger(log.FileLoggerConfig{
//		Path:     "servconn.log",
//		Identity: "ECHOECHO",
//	})
//	...
//	cfg.ProtocolLogger = log.Join(capture, log.NewSlogAdapter(logger))
//
// # Capture files
//
// A capture file starts with a FileHeader (magic, format version, creation
// time, identity, client info) followed by a CBOR sequence of events with
// integer map keys. Reopening a file appends to it; a file recorded for
// another identity is refused. Reader validates the header and streams the
// events, optionally through a Filter; attempt IDs may be given by prefix.
package log
