// Package pipe provides the push-based stream abstraction used to chain the
// connection layers together.
//
// A Pipe has exactly one handler. Values are delivered synchronously on the
// goroutine that sends them; the pipe itself neither buffers nor reorders.
// Errors returned by a handler travel back to the sender, which lets the
// connection dispatcher treat any layer fault as a single failure.
//
// # Wiring
//
// Layers are chained once per connection attempt:
//
//	decoded, err := pipe.Through(socketSource, frameLayer.Decoder())
//	...
//	err = pipe.Into(decoded, sink)
//
// Wiring a pipe twice returns ErrHandlerAlreadySet.
package pipe
