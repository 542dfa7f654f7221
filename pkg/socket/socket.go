package socket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/threema-ch/servconn/pkg/log"
	"github.com/threema-ch/servconn/pkg/oneshot"
	"github.com/threema-ch/servconn/pkg/pipe"
)

// Socket errors.
var (
	// ErrNotConnected indicates Send or ProcessIO before Connect succeeded.
	ErrNotConnected = errors.New("socket not connected")

	// ErrClosed indicates use of a closed socket.
	ErrClosed = errors.New("socket closed")
)

// CloseReason describes why a socket was closed.
type CloseReason struct {
	Msg string

	// ReconnectAllowed is nil when the close does not decide about
	// reconnecting.
	ReconnectAllowed *bool
}

// String implements fmt.Stringer.
func (r CloseReason) String() string {
	if r.ReconnectAllowed == nil {
		return r.Msg
	}
	return fmt.Sprintf("%s (reconnect allowed: %t)", r.Msg, *r.ReconnectAllowed)
}

// NoReconnect returns a reason that forbids reconnecting.
func NoReconnect(msg string) CloseReason {
	allowed := false
	return CloseReason{Msg: msg, ReconnectAllowed: &allowed}
}

// ServerSocket is a connection to a chat server or mediator.
type ServerSocket interface {
	// Connect establishes the connection.
	Connect(ctx context.Context) error

	// Close closes the socket. Only the first reason is kept.
	Close(reason CloseReason)

	// Source delivers every received chunk on the IO goroutine.
	Source() pipe.Pipe[[]byte]

	// Send writes one outbound chunk.
	Send(data []byte) error

	// ProcessIO reads until the socket is closed or fails.
	// It returns nil when the socket was closed with Close.
	ProcessIO(ctx context.Context) error

	// ClosedSignal completes with the close reason.
	ClosedSignal() *oneshot.Signal[CloseReason]

	// Address returns the connected server address, or "" before Connect.
	Address() string
}

// base holds what both socket kinds share.
type base struct {
	logger  *slog.Logger
	connLog *log.ConnLogger

	source *pipe.Source[[]byte]
	closed *oneshot.Signal[CloseReason]

	mu      sync.Mutex
	address string
}

func (b *base) init(logger *slog.Logger, connLog *log.ConnLogger, component string) {
	if logger == nil {
		logger = slog.Default()
	}
	b.logger = logger.With("component", component)
	b.connLog = connLog
	b.source = pipe.NewSource[[]byte]()
	b.closed = oneshot.New[CloseReason]()
}

func (b *base) Source() pipe.Pipe[[]byte] {
	return b.source
}

func (b *base) ClosedSignal() *oneshot.Signal[CloseReason] {
	return b.closed
}

func (b *base) Address() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.address
}

func (b *base) setAddress(addr string) {
	b.mu.Lock()
	b.address = addr
	b.mu.Unlock()
	b.connLog.SetRemoteAddr(addr)
}

func (b *base) isClosed() bool {
	return b.closed.IsCompleted()
}

// readFailed turns a read error into the socket's close reason. A read
// error after Close is the expected way for ProcessIO to end.
func (b *base) readFailed(err error, closeFn func(CloseReason)) error {
	if b.isClosed() {
		return nil
	}
	closeFn(CloseReason{Msg: err.Error()})
	return err
}
