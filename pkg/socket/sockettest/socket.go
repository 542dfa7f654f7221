// Package sockettest provides an in-memory ServerSocket for tests.
package sockettest

import (
	"context"
	"errors"
	"sync"

	"github.com/threema-ch/servconn/pkg/oneshot"
	"github.com/threema-ch/servconn/pkg/pipe"
	"github.com/threema-ch/servconn/pkg/socket"
)

// ErrConnectRefused is the default error of a socket set up to fail.
var ErrConnectRefused = errors.New("connect refused")

// Socket is a ServerSocket whose peer is the test. Chunks passed to Inject
// arrive at the Source on the ProcessIO goroutine; chunks sent by the stack
// appear on Sent.
type Socket struct {
	source *pipe.Source[[]byte]
	closed *oneshot.Signal[socket.CloseReason]

	inbound chan []byte
	sent    chan []byte

	mu         sync.Mutex
	connectErr error
	connected  bool
	address    string
}

// New creates a socket that connects successfully.
func New() *Socket {
	return &Socket{
		source:  pipe.NewSource[[]byte](),
		closed:  oneshot.New[socket.CloseReason](),
		inbound: make(chan []byte, 256),
		sent:    make(chan []byte, 256),
		address: "sockettest",
	}
}

// FailConnect makes Connect return err (ErrConnectRefused when nil).
func (s *Socket) FailConnect(err error) *Socket {
	if err == nil {
		err = ErrConnectRefused
	}
	s.mu.Lock()
	s.connectErr = err
	s.mu.Unlock()
	return s
}

// Connect implements socket.ServerSocket.
func (s *Socket) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connectErr != nil {
		return s.connectErr
	}
	if s.closed.IsCompleted() {
		return socket.ErrClosed
	}
	s.connected = true
	return nil
}

// Close implements socket.ServerSocket.
func (s *Socket) Close(reason socket.CloseReason) {
	s.closed.Complete(reason)
}

// Source implements socket.ServerSocket.
func (s *Socket) Source() pipe.Pipe[[]byte] {
	return s.source
}

// Send implements socket.ServerSocket.
func (s *Socket) Send(data []byte) error {
	if s.closed.IsCompleted() {
		return socket.ErrClosed
	}
	s.mu.Lock()
	connected := s.connected
	s.mu.Unlock()
	if !connected {
		return socket.ErrNotConnected
	}
	s.sent <- append([]byte(nil), data...)
	return nil
}

// ProcessIO implements socket.ServerSocket.
func (s *Socket) ProcessIO(ctx context.Context) error {
	for {
		select {
		case <-s.closed.Done():
			return nil
		case <-ctx.Done():
			s.Close(socket.CloseReason{Msg: "io processing cancelled"})
			return nil
		case data := <-s.inbound:
			if err := s.source.Send(data); err != nil {
				s.Close(socket.CloseReason{Msg: err.Error()})
				return err
			}
		}
	}
}

// ClosedSignal implements socket.ServerSocket.
func (s *Socket) ClosedSignal() *oneshot.Signal[socket.CloseReason] {
	return s.closed
}

// Address implements socket.ServerSocket.
func (s *Socket) Address() string {
	return s.address
}

// Inject queues a chunk as if the server sent it.
func (s *Socket) Inject(data []byte) {
	s.inbound <- data
}

// Sent delivers chunks written by the stack.
func (s *Socket) Sent() <-chan []byte {
	return s.sent
}

// CloseFromServer closes the socket as if the server hung up.
func (s *Socket) CloseFromServer(reason socket.CloseReason) {
	s.Close(reason)
}

// Compile-time interface satisfaction check.
var _ socket.ServerSocket = (*Socket)(nil)
