package socket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/threema-ch/servconn/pkg/csp"
	"github.com/threema-ch/servconn/pkg/log"
	"github.com/threema-ch/servconn/pkg/wire"
)

// Mediator close codes. Codes in the no-reconnect range forbid reconnecting
// with the same device (e.g. the device was dropped from the group).
const (
	CloseCodeReconnectMin   = 4000
	CloseCodeNoReconnectMin = 4100
	CloseCodeNoReconnectMax = 4199
)

// D2mSocketConfig configures a D2mSocket.
type D2mSocketConfig struct {
	// AddressProvider supplies the mediator URL.
	AddressProvider csp.ServerAddressProvider

	// DeviceGroupID is the public path key identifying the device group.
	DeviceGroupID []byte

	// ConnectTimeout bounds the WebSocket handshake
	// (default: DefaultConnectTimeout).
	ConnectTimeout time.Duration

	Logger         *slog.Logger
	ProtocolLogger *log.ConnLogger
}

// D2mSocket is a WebSocket connection to the mediator.
type D2mSocket struct {
	base
	config D2mSocketConfig

	connMu  sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// NewD2mSocket creates an unconnected socket.
func NewD2mSocket(config D2mSocketConfig) *D2mSocket {
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = DefaultConnectTimeout
	}
	s := &D2mSocket{config: config}
	s.init(config.Logger, config.ProtocolLogger, "d2m-socket")
	return s
}

// Connect performs the WebSocket handshake with the mediator.
func (s *D2mSocket) Connect(ctx context.Context) error {
	if s.isClosed() {
		return ErrClosed
	}
	url, err := s.config.AddressProvider.MediatorURL(s.config.DeviceGroupID)
	if err != nil {
		return fmt.Errorf("resolve mediator url: %w", err)
	}

	dialer := &websocket.Dialer{
		HandshakeTimeout: s.config.ConnectTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("connect to mediator: %w", err)
	}
	conn.SetReadLimit(wire.D2mFrameMaxLength)

	s.connMu.Lock()
	if s.isClosed() {
		s.connMu.Unlock()
		conn.Close()
		return ErrClosed
	}
	s.conn = conn
	s.connMu.Unlock()

	s.setAddress(url)
	s.logger.Info("connected", "url", url)
	return nil
}

// Close sends a normal closure and closes the connection.
// Only the first reason is kept.
func (s *D2mSocket) Close(reason CloseReason) {
	if !s.closed.Complete(reason) {
		return
	}
	s.logger.Debug("close", "reason", reason)

	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn == nil {
		return
	}

	s.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.writeMu.Unlock()
	conn.Close()
}

// Send writes one D2M frame as a binary message.
func (s *D2mSocket) Send(data []byte) error {
	if s.isClosed() {
		return ErrClosed
	}
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	s.connLog.Frame(log.DirectionOut, len(data), data)
	return nil
}

// ProcessIO reads binary messages until the socket closes.
// Cancelling ctx closes the socket.
func (s *D2mSocket) ProcessIO(ctx context.Context) error {
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	stop := context.AfterFunc(ctx, func() {
		s.Close(CloseReason{Msg: "io processing cancelled"})
	})
	defer stop()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if s.isClosed() {
				return nil
			}
			s.Close(closeReasonFor(err))
			return err
		}
		if messageType != websocket.BinaryMessage {
			s.logger.Debug("ignoring non-binary message", "type", messageType)
			continue
		}
		s.connLog.Frame(log.DirectionIn, len(data), data)
		if err := s.source.Send(data); err != nil {
			s.Close(CloseReason{Msg: err.Error()})
			return err
		}
	}
}

// closeReasonFor maps a mediator close frame to a close reason.
func closeReasonFor(err error) CloseReason {
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		return CloseReason{Msg: err.Error()}
	}
	msg := fmt.Sprintf("mediator closed connection (code %d): %s", closeErr.Code, closeErr.Text)
	if closeErr.Code >= CloseCodeNoReconnectMin && closeErr.Code <= CloseCodeNoReconnectMax {
		return NoReconnect(msg)
	}
	if closeErr.Code >= CloseCodeReconnectMin && closeErr.Code < CloseCodeNoReconnectMin {
		allowed := true
		return CloseReason{Msg: msg, ReconnectAllowed: &allowed}
	}
	return CloseReason{Msg: msg}
}

// Compile-time interface satisfaction check.
var _ ServerSocket = (*D2mSocket)(nil)
