package csp

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/nacl/box"

	"github.com/threema-ch/servconn/pkg/wire"
)

// LoginState is the progress of the CSP handshake.
type LoginState uint8

const (
	LoginStateIdle LoginState = iota
	LoginStateAwaitHello
	LoginStateAwaitLoginAck
	LoginStateDone
)

// String returns the login state name.
func (s LoginState) String() string {
	switch s {
	case LoginStateIdle:
		return "IDLE"
	case LoginStateAwaitHello:
		return "AWAIT_HELLO"
	case LoginStateAwaitLoginAck:
		return "AWAIT_LOGIN_ACK"
	case LoginStateDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// Session errors.
var (
	ErrNotLoggedIn = errors.New("csp login not done")
	ErrDecryption  = fmt.Errorf("%w: decryption failed", wire.ErrProtocol)
)

// SessionState exposes the login progress to the layers that route by it.
type SessionState interface {
	IsLoginDone() bool
}

// SessionConfig configures a CSP session.
type SessionConfig struct {
	IdentityStore         IdentityStore
	ServerAddressProvider ServerAddressProvider
	DeviceCookieManager   DeviceCookieManager

	// ClientInfo is sent in the client info extension.
	ClientInfo string

	// CspDeviceID is set in multi-device mode.
	CspDeviceID *uint64

	// Rand defaults to crypto/rand.
	Rand io.Reader

	Logger *slog.Logger
}

// Session drives the CSP login and the transport encryption of one
// connection attempt. Apart from IsLoginDone, its methods must be called from
// a single goroutine.
type Session struct {
	config SessionConfig
	logger *slog.Logger

	state     LoginState
	loginDone atomic.Bool

	clientTempPublic *[KeyLength]byte
	clientTempSecret *[KeyLength]byte
	clientCookie     [CookieLength]byte
	serverCookie     [CookieLength]byte
	serverPermanent  [KeyLength]byte
	sharedKey        [KeyLength]byte

	clientNonce *NonceCounter
	serverNonce *NonceCounter

	sentAt time.Time
}

// NewSession creates a session in the idle state.
func NewSession(config SessionConfig) *Session {
	if config.Rand == nil {
		config.Rand = rand.Reader
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Session{
		config: config,
		logger: config.Logger.With("component", "csp-session"),
	}
}

// IsLoginDone reports whether the login ack was received.
// Safe for concurrent use.
func (s *Session) IsLoginDone() bool {
	return s.loginDone.Load()
}

// State returns the login state.
func (s *Session) State() LoginState {
	return s.state
}

// StartLogin creates the temporary key pair and returns the client hello.
func (s *Session) StartLogin() (wire.CspLoginMessage, error) {
	if s.state != LoginStateIdle {
		return wire.CspLoginMessage{}, fmt.Errorf("%w: start login in state %s", wire.ErrProtocol, s.state)
	}
	s.logger.Debug("start csp login")

	pub, sec, err := box.GenerateKey(s.config.Rand)
	if err != nil {
		return wire.CspLoginMessage{}, fmt.Errorf("failed to generate temporary key: %w", err)
	}
	s.clientTempPublic, s.clientTempSecret = pub, sec

	if _, err := io.ReadFull(s.config.Rand, s.clientCookie[:]); err != nil {
		return wire.CspLoginMessage{}, fmt.Errorf("failed to generate client cookie: %w", err)
	}
	s.clientNonce = NewNonceCounter(s.clientCookie)

	hello := make([]byte, 0, ClientHelloLength)
	hello = append(hello, s.clientTempPublic[:]...)
	hello = append(hello, s.clientCookie[:]...)

	s.state = LoginStateAwaitHello
	s.sentAt = time.Now()
	return wire.CspLoginMessage{Bytes: hello}, nil
}

// HandleLoginMessage advances the handshake. It returns the message to send
// next, if any.
func (s *Session) HandleLoginMessage(msg wire.CspLoginMessage) (*wire.CspLoginMessage, error) {
	switch s.state {
	case LoginStateAwaitHello:
		serverTempPublic, err := s.processServerHello(msg.Bytes)
		if err != nil {
			return nil, err
		}
		login, err := s.clientLogin(serverTempPublic)
		if err != nil {
			return nil, err
		}
		s.state = LoginStateAwaitLoginAck
		s.sentAt = time.Now()
		return &login, nil

	case LoginStateAwaitLoginAck:
		if err := s.processLoginAck(msg.Bytes); err != nil {
			return nil, err
		}
		s.state = LoginStateDone
		s.loginDone.Store(true)
		return nil, nil

	default:
		return nil, fmt.Errorf("%w: unexpected login message in state %s", wire.ErrProtocol, s.state)
	}
}

func (s *Session) processServerHello(data []byte) (*[KeyLength]byte, error) {
	if len(data) != ServerHelloLength {
		return nil, fmt.Errorf("%w: server hello has %d bytes, want %d", wire.ErrProtocol, len(data), ServerHelloLength)
	}

	// Step 1: server cookie
	copy(s.serverCookie[:], data[:CookieLength])
	s.serverNonce = NewNonceCounter(s.serverCookie)

	// Step 2: decrypt with the pinned permanent key, then the alternate key
	helloBox := data[CookieLength:]
	nonce := s.serverNonce.Next()
	s.serverPermanent = s.config.ServerAddressProvider.ChatServerPublicKey()
	plain, ok := box.Open(nil, helloBox, nonce, &s.serverPermanent, s.clientTempSecret)
	if !ok {
		s.serverPermanent = s.config.ServerAddressProvider.ChatServerPublicKeyAlt()
		plain, ok = box.Open(nil, helloBox, nonce, &s.serverPermanent, s.clientTempSecret)
		if !ok {
			return nil, fmt.Errorf("%w: server hello box", ErrDecryption)
		}
	}

	// Step 3: the server must echo our cookie
	if !bytes.Equal(plain[KeyLength:KeyLength+CookieLength], s.clientCookie[:]) {
		return nil, fmt.Errorf("%w: client cookie mismatch", wire.ErrProtocol)
	}

	var serverTempPublic [KeyLength]byte
	copy(serverTempPublic[:], plain[:KeyLength])
	box.Precompute(&s.sharedKey, &serverTempPublic, s.clientTempSecret)

	s.logger.Info("server hello successful", "rtt", time.Since(s.sentAt))
	return &serverTempPublic, nil
}

func (s *Session) clientLogin(serverTempPublic *[KeyLength]byte) (wire.CspLoginMessage, error) {
	loginNonce := s.clientNonce.Next()
	extensionsNonce := s.clientNonce.Next()

	cookie, err := s.config.DeviceCookieManager.ObtainDeviceCookie()
	if err != nil {
		return wire.CspLoginMessage{}, err
	}
	extensions, err := Extensions{
		ClientInfo:     s.config.ClientInfo,
		CspDeviceID:    s.config.CspDeviceID,
		DeviceCookie:   cookie,
		PayloadVersion: MessagePayloadVersion,
	}.Bytes()
	if err != nil {
		return wire.CspLoginMessage{}, err
	}
	extensionsBox := box.SealAfterPrecomputation(nil, extensions, extensionsNonce, &s.sharedKey)

	indicator, err := ExtensionIndicator(len(extensionsBox))
	if err != nil {
		return wire.CspLoginMessage{}, err
	}

	identity := s.config.IdentityStore.Identity()
	if len(identity) != IdentityLength {
		return wire.CspLoginMessage{}, fmt.Errorf("%w: identity %q", ErrInvalidIdentity, identity)
	}
	sharedPermanent, err := s.config.IdentityStore.CalcSharedSecret(s.serverPermanent)
	if err != nil {
		return wire.CspLoginMessage{}, fmt.Errorf("failed to derive shared secret: %w", err)
	}
	sharedTemporary, err := s.config.IdentityStore.CalcSharedSecret(*serverTempPublic)
	if err != nil {
		return wire.CspLoginMessage{}, fmt.Errorf("failed to derive shared secret: %w", err)
	}
	vouch, err := DeriveVouch(sharedPermanent, sharedTemporary, s.serverCookie, *s.clientTempPublic)
	if err != nil {
		return wire.CspLoginMessage{}, err
	}

	login := make([]byte, 0, LoginLength)
	login = append(login, identity...)
	login = append(login, indicator...)
	login = append(login, s.serverCookie[:]...)
	login = append(login, make([]byte, reserved1Length)...)
	login = append(login, vouch...)
	login = append(login, make([]byte, reserved2Length)...)
	if len(login) != LoginLength {
		return wire.CspLoginMessage{}, fmt.Errorf("invalid login packet length %d", len(login))
	}

	loginBox := box.SealAfterPrecomputation(nil, login, loginNonce, &s.sharedKey)
	s.logger.Debug("sending login packet", "extensions_box", len(extensionsBox))
	return wire.CspLoginMessage{Bytes: append(loginBox, extensionsBox...)}, nil
}

func (s *Session) processLoginAck(data []byte) error {
	if len(data) != LoginAckLength {
		return fmt.Errorf("%w: login ack has %d bytes, want %d", wire.ErrProtocol, len(data), LoginAckLength)
	}
	if _, ok := box.OpenAfterPrecomputation(nil, data, s.serverNonce.Next(), &s.sharedKey); !ok {
		return fmt.Errorf("%w: login ack box", ErrDecryption)
	}
	s.logger.Info("login ack received", "rtt", time.Since(s.sentAt))
	return nil
}

// EncryptContainer encrypts an outbound container into a frame.
func (s *Session) EncryptContainer(c wire.CspContainer) (wire.CspFrame, error) {
	if !s.IsLoginDone() {
		return wire.CspFrame{}, ErrNotLoggedIn
	}
	payload := make([]byte, 4+len(c.Data))
	payload[0] = byte(c.PayloadType)
	copy(payload[4:], c.Data)
	return wire.CspFrame{Box: box.SealAfterPrecomputation(nil, payload, s.clientNonce.Next(), &s.sharedKey)}, nil
}

// DecryptBox decrypts an inbound frame into a container.
func (s *Session) DecryptBox(f wire.CspFrame) (wire.CspContainer, error) {
	if !s.IsLoginDone() {
		return wire.CspContainer{}, ErrNotLoggedIn
	}
	plain, ok := box.OpenAfterPrecomputation(nil, f.Box, s.serverNonce.Next(), &s.sharedKey)
	if !ok {
		return wire.CspContainer{}, fmt.Errorf("%w: frame box", ErrDecryption)
	}
	if len(plain) < 4 {
		return wire.CspContainer{}, fmt.Errorf("%w: frame of %d bytes", wire.ErrPayload, len(plain))
	}
	data := make([]byte, len(plain)-4)
	copy(data, plain[4:])
	return wire.CspContainer{PayloadType: wire.CspPayloadType(plain[0]), Data: data}, nil
}

// Compile-time interface satisfaction check.
var _ SessionState = (*Session)(nil)
