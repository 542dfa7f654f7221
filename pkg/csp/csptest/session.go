// Package csptest provides a chat server peer for tests.
package csptest

import (
	"bytes"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/box"

	"github.com/threema-ch/servconn/pkg/csp"
	"github.com/threema-ch/servconn/pkg/wire"
)

// loginReservedLength is the reserved gap between server cookie and vouch.
const loginReservedLength = 24

// ErrUnknownClient is returned when the login names an identity the server
// has no key for.
var ErrUnknownClient = errors.New("unknown client identity")

// ServerKeys is the permanent key pair of a test server.
type ServerKeys struct {
	Public *[csp.KeyLength]byte
	Secret *[csp.KeyLength]byte
}

// GenerateServerKeys creates a random permanent key pair.
func GenerateServerKeys() (ServerKeys, error) {
	pub, sec, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return ServerKeys{}, err
	}
	return ServerKeys{Public: pub, Secret: sec}, nil
}

// ServerSession is the server half of one CSP handshake.
// It is message oriented so it can sit behind TCP or a D2M proxy.
type ServerSession struct {
	keys       ServerKeys
	clientKeys map[string][csp.KeyLength]byte

	tempPublic *[csp.KeyLength]byte
	tempSecret *[csp.KeyLength]byte

	clientTempPublic [csp.KeyLength]byte
	clientCookie     [csp.CookieLength]byte
	serverCookie     [csp.CookieLength]byte
	sharedKey        [csp.KeyLength]byte

	clientNonce *csp.NonceCounter
	serverNonce *csp.NonceCounter

	identity   string
	extensions csp.Extensions
	loggedIn   bool
}

// NewServerSession creates a session that accepts the given client
// identities and their permanent public keys.
func NewServerSession(keys ServerKeys, clientKeys map[string][csp.KeyLength]byte) *ServerSession {
	return &ServerSession{keys: keys, clientKeys: clientKeys}
}

// HandleClientHello returns the server hello.
func (s *ServerSession) HandleClientHello(hello []byte) ([]byte, error) {
	if len(hello) != csp.ClientHelloLength {
		return nil, fmt.Errorf("%w: client hello of %d bytes", wire.ErrProtocol, len(hello))
	}
	copy(s.clientTempPublic[:], hello[:csp.KeyLength])
	copy(s.clientCookie[:], hello[csp.KeyLength:])
	if _, err := io.ReadFull(rand.Reader, s.serverCookie[:]); err != nil {
		return nil, err
	}
	pub, sec, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	s.tempPublic, s.tempSecret = pub, sec
	s.clientNonce = csp.NewNonceCounter(s.clientCookie)
	s.serverNonce = csp.NewNonceCounter(s.serverCookie)
	box.Precompute(&s.sharedKey, &s.clientTempPublic, s.tempSecret)

	plain := append(append([]byte{}, s.tempPublic[:]...), s.clientCookie[:]...)
	out := append([]byte{}, s.serverCookie[:]...)
	return box.Seal(out, plain, s.serverNonce.Next(), &s.clientTempPublic, s.keys.Secret), nil
}

// HandleLoginBox opens the login box, verifies the vouch and returns the
// length of the extensions box that follows.
func (s *ServerSession) HandleLoginBox(loginBox []byte) (int, error) {
	if len(loginBox) != csp.LoginBoxLength {
		return 0, fmt.Errorf("%w: login box of %d bytes", wire.ErrProtocol, len(loginBox))
	}
	login, ok := box.OpenAfterPrecomputation(nil, loginBox, s.clientNonce.Next(), &s.sharedKey)
	if !ok {
		return 0, fmt.Errorf("%w: login box", csp.ErrDecryption)
	}

	offset := 0
	s.identity = string(login[offset : offset+csp.IdentityLength])
	offset += csp.IdentityLength
	extLength, err := csp.ParseExtensionIndicator(login[offset : offset+csp.ExtensionIndicatorLength])
	if err != nil {
		return 0, fmt.Errorf("%w: %v", wire.ErrProtocol, err)
	}
	offset += csp.ExtensionIndicatorLength
	if !bytes.Equal(login[offset:offset+csp.CookieLength], s.serverCookie[:]) {
		return 0, fmt.Errorf("%w: server cookie mismatch", wire.ErrProtocol)
	}
	offset += csp.CookieLength + loginReservedLength
	vouch := login[offset : offset+csp.VouchLength]

	clientPublic, ok := s.clientKeys[s.identity]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownClient, s.identity)
	}
	var sharedPermanent, sharedTemporary [csp.KeyLength]byte
	box.Precompute(&sharedPermanent, &clientPublic, s.keys.Secret)
	box.Precompute(&sharedTemporary, &clientPublic, s.tempSecret)
	expected, err := csp.DeriveVouch(sharedPermanent, sharedTemporary, s.serverCookie, s.clientTempPublic)
	if err != nil {
		return 0, err
	}
	if subtle.ConstantTimeCompare(vouch, expected) != 1 {
		return 0, fmt.Errorf("%w: vouch mismatch", wire.ErrProtocol)
	}
	return extLength, nil
}

// HandleExtensions opens the extensions box and returns the login ack.
func (s *ServerSession) HandleExtensions(extBox []byte) ([]byte, error) {
	plain, ok := box.OpenAfterPrecomputation(nil, extBox, s.clientNonce.Next(), &s.sharedKey)
	if !ok {
		return nil, fmt.Errorf("%w: extensions box", csp.ErrDecryption)
	}
	ext, err := csp.ParseExtensions(plain)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", wire.ErrProtocol, err)
	}
	s.extensions = ext
	s.loggedIn = true
	return box.SealAfterPrecomputation(nil, make([]byte, 16), s.serverNonce.Next(), &s.sharedKey), nil
}

// HandleLogin handles login box and extensions box sent as one message.
func (s *ServerSession) HandleLogin(login []byte) ([]byte, error) {
	if len(login) < csp.LoginBoxLength {
		return nil, fmt.Errorf("%w: login of %d bytes", wire.ErrProtocol, len(login))
	}
	extLength, err := s.HandleLoginBox(login[:csp.LoginBoxLength])
	if err != nil {
		return nil, err
	}
	if len(login)-csp.LoginBoxLength != extLength {
		return nil, fmt.Errorf("%w: extensions box of %d bytes, indicator says %d", wire.ErrProtocol, len(login)-csp.LoginBoxLength, extLength)
	}
	return s.HandleExtensions(login[csp.LoginBoxLength:])
}

// Identity returns the identity that logged in.
func (s *ServerSession) Identity() string { return s.identity }

// Extensions returns the login extensions.
func (s *ServerSession) Extensions() csp.Extensions { return s.extensions }

// IsLoggedIn reports whether the login ack was produced.
func (s *ServerSession) IsLoggedIn() bool { return s.loggedIn }

// Encrypt seals a container for the client.
func (s *ServerSession) Encrypt(c wire.CspContainer) []byte {
	plain := make([]byte, 4+len(c.Data))
	plain[0] = byte(c.PayloadType)
	copy(plain[4:], c.Data)
	return box.SealAfterPrecomputation(nil, plain, s.serverNonce.Next(), &s.sharedKey)
}

// Decrypt opens a frame from the client.
func (s *ServerSession) Decrypt(frame []byte) (wire.CspContainer, error) {
	plain, ok := box.OpenAfterPrecomputation(nil, frame, s.clientNonce.Next(), &s.sharedKey)
	if !ok {
		return wire.CspContainer{}, fmt.Errorf("%w: client frame", csp.ErrDecryption)
	}
	if len(plain) < 4 {
		return wire.CspContainer{}, fmt.Errorf("%w: frame of %d bytes", wire.ErrPayload, len(plain))
	}
	return wire.CspContainer{PayloadType: wire.CspPayloadType(plain[0]), Data: plain[4:]}, nil
}
