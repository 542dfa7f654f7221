package csptest

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/threema-ch/servconn/pkg/csp"
	"github.com/threema-ch/servconn/pkg/wire"
)

// Server is a TCP chat server that performs the real handshake.
type Server struct {
	Keys ServerKeys

	autoEcho   atomic.Bool
	clientKeys map[string][csp.KeyLength]byte
	listener   net.Listener
	conns      chan *Conn

	mu     sync.Mutex
	active map[*Conn]struct{}
	wg     sync.WaitGroup
}

// NewServer listens on a random local port.
func NewServer(keys ServerKeys, clientKeys map[string][csp.KeyLength]byte) (*Server, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to listen: %w", err)
	}
	s := &Server{
		Keys:       keys,
		clientKeys: clientKeys,
		listener:   listener,
		conns:      make(chan *Conn, 16),
		active:     make(map[*Conn]struct{}),
	}
	s.autoEcho.Store(true)
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// SetAutoEcho controls whether echo requests of new connections are
// answered. It is on by default.
func (s *Server) SetAutoEcho(enabled bool) {
	s.autoEcho.Store(enabled)
}

// Addr returns the host:port the server listens on.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Conns delivers every connection after a successful login.
func (s *Server) Conns() <-chan *Conn {
	return s.conns
}

// Close stops accepting and closes all connections.
func (s *Server) Close() {
	s.listener.Close()
	s.mu.Lock()
	for c := range s.active {
		c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		nc, err := s.listener.Accept()
		if err != nil {
			return
		}
		c := &Conn{
			conn:     nc,
			session:  NewServerSession(s.Keys, s.clientKeys),
			autoEcho: s.autoEcho.Load(),
			received: make(chan wire.CspContainer, 64),
			done:     make(chan struct{}),
		}
		s.mu.Lock()
		s.active[c] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.active, c)
				s.mu.Unlock()
			}()
			if err := c.handshake(); err != nil {
				c.Close()
				return
			}
			select {
			case s.conns <- c:
			default:
			}
			c.readLoop()
		}()
	}
}

// Conn is one logged in client connection.
type Conn struct {
	conn     net.Conn
	session  *ServerSession
	autoEcho bool
	received chan wire.CspContainer

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// Session returns the server side handshake state.
func (c *Conn) Session() *ServerSession { return c.session }

// Received delivers every container sent by the client, including echo
// requests.
func (c *Conn) Received() <-chan wire.CspContainer { return c.received }

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Send encrypts and writes a container.
func (c *Conn) Send(container wire.CspContainer) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	frame, err := wire.EncodeLengthPrefixed(c.session.Encrypt(container))
	if err != nil {
		return err
	}
	_, err = c.conn.Write(frame)
	return err
}

// SendCloseError sends a close error and closes the connection.
func (c *Conn) SendCloseError(e wire.CloseError) error {
	err := c.Send(wire.CspContainer{PayloadType: wire.CspCloseError, Data: e.Bytes()})
	c.Close()
	return err
}

// Close closes the connection.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.conn.Close()
		close(c.done)
	})
}

func (c *Conn) handshake() error {
	hello := make([]byte, csp.ClientHelloLength)
	if _, err := io.ReadFull(c.conn, hello); err != nil {
		return err
	}
	serverHello, err := c.session.HandleClientHello(hello)
	if err != nil {
		return err
	}
	if _, err := c.conn.Write(serverHello); err != nil {
		return err
	}

	loginBox := make([]byte, csp.LoginBoxLength)
	if _, err := io.ReadFull(c.conn, loginBox); err != nil {
		return err
	}
	extLength, err := c.session.HandleLoginBox(loginBox)
	if err != nil {
		return err
	}
	extBox := make([]byte, extLength)
	if _, err := io.ReadFull(c.conn, extBox); err != nil {
		return err
	}
	ack, err := c.session.HandleExtensions(extBox)
	if err != nil {
		return err
	}
	_, err = c.conn.Write(ack)
	return err
}

func (c *Conn) readLoop() {
	defer c.Close()
	var lengthBuf [wire.LengthPrefixSize]byte
	for {
		if _, err := io.ReadFull(c.conn, lengthBuf[:]); err != nil {
			return
		}
		frame := make([]byte, binary.LittleEndian.Uint16(lengthBuf[:]))
		if _, err := io.ReadFull(c.conn, frame); err != nil {
			return
		}
		container, err := c.session.Decrypt(frame)
		if err != nil {
			return
		}
		if c.autoEcho && container.PayloadType == wire.CspEchoRequest {
			if err := c.Send(wire.CspContainer{PayloadType: wire.CspEchoResponse, Data: container.Data}); err != nil && !errors.Is(err, net.ErrClosed) {
				return
			}
		}
		select {
		case c.received <- container:
		default:
		}
	}
}
