package socket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/threema-ch/servconn/pkg/csp"
	"github.com/threema-ch/servconn/pkg/log"
)

// DefaultConnectTimeout bounds each dial attempt.
const DefaultConnectTimeout = 15 * time.Second

// CspSocketConfig configures a CspSocket.
type CspSocketConfig struct {
	// AddressProvider supplies the host:port candidates.
	AddressProvider csp.ServerAddressProvider

	// ConnectTimeout bounds each dial (default: DefaultConnectTimeout).
	ConnectTimeout time.Duration

	Logger         *slog.Logger
	ProtocolLogger *log.ConnLogger
}

// CspSocket is a TCP connection to the chat server.
type CspSocket struct {
	base
	config CspSocketConfig

	connMu sync.Mutex
	conn   net.Conn
	reader *FrameReader
	writer *FrameWriter
}

// NewCspSocket creates an unconnected socket.
func NewCspSocket(config CspSocketConfig) *CspSocket {
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = DefaultConnectTimeout
	}
	s := &CspSocket{config: config}
	s.init(config.Logger, config.ProtocolLogger, "csp-socket")
	return s
}

// Connect dials the candidate addresses in order and keeps the first
// connection that succeeds.
func (s *CspSocket) Connect(ctx context.Context) error {
	if s.isClosed() {
		return ErrClosed
	}
	addresses, err := s.config.AddressProvider.ChatServerAddresses()
	if err != nil {
		return fmt.Errorf("resolve chat server address: %w", err)
	}

	var errs []error
	for _, address := range addresses {
		conn, err := s.dial(ctx, address)
		if err != nil {
			s.logger.Warn("connect failed", "address", address, "error", err)
			errs = append(errs, err)
			if ctx.Err() != nil {
				break
			}
			continue
		}

		s.connMu.Lock()
		if s.isClosed() {
			s.connMu.Unlock()
			conn.Close()
			return ErrClosed
		}
		s.conn = conn
		s.reader = NewFrameReader(conn, s.connLog)
		s.writer = NewFrameWriter(conn, s.connLog)
		s.connMu.Unlock()

		s.setAddress(address)
		s.logger.Info("connected", "address", address)
		return nil
	}
	return fmt.Errorf("connect to chat server: %w", errors.Join(errs...))
}

func (s *CspSocket) dial(ctx context.Context, address string) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.ConnectTimeout)
	defer cancel()

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	return conn, nil
}

// Close closes the TCP connection. Only the first reason is kept.
func (s *CspSocket) Close(reason CloseReason) {
	if !s.closed.Complete(reason) {
		return
	}
	s.logger.Debug("close", "reason", reason)

	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// Send writes a chunk produced by the layer stack.
func (s *CspSocket) Send(data []byte) error {
	if s.isClosed() {
		return ErrClosed
	}
	s.connMu.Lock()
	writer := s.writer
	s.connMu.Unlock()
	if writer == nil {
		return ErrNotConnected
	}
	return writer.WriteFrame(data)
}

// ProcessIO reads chunks and pushes them into the source until the socket
// closes. Cancelling ctx closes the socket.
func (s *CspSocket) ProcessIO(ctx context.Context) error {
	s.connMu.Lock()
	reader := s.reader
	s.connMu.Unlock()
	if reader == nil {
		return ErrNotConnected
	}

	stop := context.AfterFunc(ctx, func() {
		s.Close(CloseReason{Msg: "io processing cancelled"})
	})
	defer stop()

	for {
		data, err := reader.ReadFrame()
		if err != nil {
			return s.readFailed(err, s.Close)
		}
		if err := s.source.Send(data); err != nil {
			s.Close(CloseReason{Msg: err.Error()})
			return err
		}
	}
}

// Compile-time interface satisfaction check.
var _ ServerSocket = (*CspSocket)(nil)
