// Package d2mtest provides a WebSocket mediator peer for tests.
//
// The mediator performs the server side of the D2M handshake and terminates
// proxied CSP traffic with a csptest.ServerSession, so a client connected to it
// runs the complete multi-device login.
package d2mtest

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"golang.org/x/crypto/nacl/box"

	"github.com/threema-ch/servconn/pkg/csp/csptest"
	"github.com/threema-ch/servconn/pkg/d2m"
	"github.com/threema-ch/servconn/pkg/wire"
)

// Options tune the mediator behaviour.
type Options struct {
	// ReflectionQueueLength is announced in the server info.
	ReflectionQueueLength uint32

	// SendQueueDry sends ReflectionQueueDry right after the server info.
	SendQueueDry bool

	// AutoEcho answers proxied CSP echo requests.
	AutoEcho bool
}

// Mediator is a WebSocket mediator that accepts one device group.
type Mediator struct {
	server     *httptest.Server
	upgrader   websocket.Upgrader
	cspKeys    csptest.ServerKeys
	clientKeys map[string][32]byte
	opts       Options

	conns chan *Conn

	mu     sync.Mutex
	active []*Conn
}

// NewMediator starts a mediator on a random local port.
func NewMediator(cspKeys csptest.ServerKeys, clientKeys map[string][32]byte, opts Options) *Mediator {
	m := &Mediator{
		upgrader:   websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		cspKeys:    cspKeys,
		clientKeys: clientKeys,
		opts:       opts,
		conns:      make(chan *Conn, 16),
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

// URL returns the WebSocket base URL, to be extended by the device group id.
func (m *Mediator) URL() string {
	return "ws" + strings.TrimPrefix(m.server.URL, "http")
}

// Conns delivers every connection after the CSP login completed.
func (m *Mediator) Conns() <-chan *Conn {
	return m.conns
}

// Close closes all connections and stops the server.
func (m *Mediator) Close() {
	m.mu.Lock()
	for _, c := range m.active {
		c.Close()
	}
	m.mu.Unlock()
	m.server.Close()
}

func (m *Mediator) handle(w http.ResponseWriter, r *http.Request) {
	groupID, err := hex.DecodeString(path.Base(r.URL.Path))
	if err != nil || len(groupID) != d2m.KeyLength {
		http.Error(w, "invalid device group id", http.StatusBadRequest)
		return
	}
	ws, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &Conn{
		ws:       ws,
		csp:      csptest.NewServerSession(m.cspKeys, m.clientKeys),
		opts:     m.opts,
		received: make(chan wire.OutboundD2mMessage, 64),
		cspRecv:  make(chan wire.CspContainer, 64),
		done:     make(chan struct{}),
	}
	copy(c.groupID[:], groupID)
	m.mu.Lock()
	m.active = append(m.active, c)
	m.mu.Unlock()
	defer c.Close()

	if err := c.handshake(); err != nil {
		return
	}
	c.serve(m.conns)
}

// Conn is one client connection of the mediator.
type Conn struct {
	ws      *websocket.Conn
	groupID [d2m.KeyLength]byte
	csp     *csptest.ServerSession
	opts    Options

	received chan wire.OutboundD2mMessage
	cspRecv  chan wire.CspContainer

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}

	hello    *wire.ClientHello
	cspHello bool
}

// ClientHello returns the client hello of the handshake.
func (c *Conn) ClientHello() *wire.ClientHello { return c.hello }

// CspSession returns the proxied CSP server session.
func (c *Conn) CspSession() *csptest.ServerSession { return c.csp }

// Received delivers D2M messages sent by the client after the handshake.
func (c *Conn) Received() <-chan wire.OutboundD2mMessage { return c.received }

// ReceivedCsp delivers proxied CSP containers sent by the client.
func (c *Conn) ReceivedCsp() <-chan wire.CspContainer { return c.cspRecv }

// Done is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} { return c.done }

// SendD2m sends a D2M message to the client.
func (c *Conn) SendD2m(msg wire.InboundD2mMessage) error {
	container, err := msg.ToContainer()
	if err != nil {
		return err
	}
	return c.write(container)
}

// SendCsp encrypts a CSP container and proxies it to the client. The PROXY
// length prefix doubles as the CSP frame length.
func (c *Conn) SendCsp(container wire.CspContainer) error {
	return c.writeProxy(c.csp.Encrypt(container))
}

// Close closes the WebSocket.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.ws.Close()
		close(c.done)
	})
}

func (c *Conn) write(container wire.D2mContainer) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.BinaryMessage, container.Bytes())
}

func (c *Conn) writeProxy(cspBytes []byte) error {
	container, err := wire.NewProxyContainer(cspBytes)
	if err != nil {
		return err
	}
	return c.write(container)
}

func (c *Conn) read() (wire.D2mContainer, error) {
	for {
		typ, data, err := c.ws.ReadMessage()
		if err != nil {
			return wire.D2mContainer{}, err
		}
		if typ == websocket.BinaryMessage {
			return wire.DecodeD2mFrame(data)
		}
	}
}

func (c *Conn) handshake() error {
	eskPublic, eskSecret, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return err
	}
	challenge := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, challenge); err != nil {
		return err
	}
	if err := c.SendD2m(&wire.ServerHello{Version: d2m.ProtocolVersion, ESK: eskPublic[:], Challenge: challenge}); err != nil {
		return err
	}

	container, err := c.read()
	if err != nil {
		return err
	}
	msg, err := wire.DecodeOutboundD2mContainer(container)
	if err != nil {
		return err
	}
	hello, ok := msg.(*wire.ClientHello)
	if !ok {
		return fmt.Errorf("%w: expected client hello, got %s", wire.ErrD2mProtocol, msg.PayloadType())
	}
	answer, err := d2m.VerifyChallengeResponse(c.groupID, *eskSecret, hello.Response)
	if err != nil {
		return err
	}
	if string(answer) != string(challenge) {
		return fmt.Errorf("%w: challenge mismatch", wire.ErrD2mProtocol)
	}
	c.hello = hello

	if err := c.SendD2m(&wire.ServerInfo{
		DeviceSlotState:       wire.DeviceSlotStateExisting,
		MaxDeviceSlots:        4,
		ReflectionQueueLength: c.opts.ReflectionQueueLength,
	}); err != nil {
		return err
	}
	if c.opts.SendQueueDry {
		return c.SendD2m(&wire.ReflectionQueueDry{})
	}
	return nil
}

func (c *Conn) serve(conns chan<- *Conn) {
	for {
		container, err := c.read()
		if err != nil {
			return
		}
		if container.PayloadType != wire.D2mProxy {
			msg, err := wire.DecodeOutboundD2mContainer(container)
			if err != nil {
				return
			}
			select {
			case c.received <- msg:
			default:
			}
			continue
		}

		cspBytes, err := wire.DecodeProxyPayload(container.Payload)
		if err != nil {
			return
		}
		if err := c.handleCsp(cspBytes, conns); err != nil {
			return
		}
	}
}

func (c *Conn) handleCsp(data []byte, conns chan<- *Conn) error {
	switch {
	case !c.cspHello:
		hello, err := c.csp.HandleClientHello(data)
		if err != nil {
			return err
		}
		c.cspHello = true
		return c.writeProxy(hello)

	case !c.csp.IsLoggedIn():
		ack, err := c.csp.HandleLogin(data)
		if err != nil {
			return err
		}
		if err := c.writeProxy(ack); err != nil {
			return err
		}
		select {
		case conns <- c:
		default:
		}
		return nil
	}

	container, err := c.csp.Decrypt(data)
	if err != nil {
		return err
	}
	if c.opts.AutoEcho && container.PayloadType == wire.CspEchoRequest {
		if err := c.SendCsp(wire.CspContainer{PayloadType: wire.CspEchoResponse, Data: container.Data}); err != nil {
			return err
		}
	}
	select {
	case c.cspRecv <- container:
	default:
	}
	return nil
}
