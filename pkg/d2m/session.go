package d2m

import (
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"golang.org/x/crypto/nacl/box"

	"github.com/threema-ch/servconn/pkg/wire"
)

// ProtocolVersion is the highest mediator protocol version supported.
const ProtocolVersion uint32 = 0

// HandshakeState is the progress of the mediator handshake.
type HandshakeState uint8

const (
	HandshakeStateAwaitServerHello HandshakeState = iota
	HandshakeStateAwaitServerInfo
	HandshakeStateDone
)

// String returns the handshake state name.
func (s HandshakeState) String() string {
	switch s {
	case HandshakeStateAwaitServerHello:
		return "AWAIT_SERVER_HELLO"
	case HandshakeStateAwaitServerInfo:
		return "AWAIT_SERVER_INFO"
	case HandshakeStateDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// MultiDeviceProperties describe this device within its device group.
type MultiDeviceProperties struct {
	Keys DeviceGroupKeys

	// MediatorDeviceID identifies the device towards the mediator.
	MediatorDeviceID uint64

	// CspDeviceID identifies the device towards the chat server.
	CspDeviceID uint64

	DeviceInfo DeviceInfo

	DeviceSlotsExhaustedPolicy wire.DeviceSlotsExhaustedPolicy
	DeviceSlotExpirationPolicy wire.DeviceSlotExpirationPolicy
	ExpectedDeviceSlotState    wire.DeviceSlotState
}

// NewMultiDeviceProperties derives the group keys and returns properties
// with persistent slot expiration.
func NewMultiDeviceProperties(deviceGroupKey [KeyLength]byte, mediatorDeviceID, cspDeviceID uint64, info DeviceInfo) (MultiDeviceProperties, error) {
	keys, err := DeriveKeys(deviceGroupKey)
	if err != nil {
		return MultiDeviceProperties{}, err
	}
	return MultiDeviceProperties{
		Keys:                       keys,
		MediatorDeviceID:           mediatorDeviceID,
		CspDeviceID:                cspDeviceID,
		DeviceInfo:                 info,
		DeviceSlotsExhaustedPolicy: wire.DeviceSlotsExhaustedReject,
		DeviceSlotExpirationPolicy: wire.DeviceSlotExpirationPersistent,
		ExpectedDeviceSlotState:    wire.DeviceSlotStateExisting,
	}, nil
}

// SessionConfig configures a D2M session.
type SessionConfig struct {
	Properties MultiDeviceProperties

	// Rand defaults to crypto/rand.
	Rand io.Reader

	Logger *slog.Logger
}

// Session drives the mediator handshake of one connection attempt.
type Session struct {
	props  MultiDeviceProperties
	rand   io.Reader
	logger *slog.Logger

	state      HandshakeState
	loginDone  atomic.Bool
	serverInfo *wire.ServerInfo
}

// NewSession creates a session awaiting the server hello.
func NewSession(config SessionConfig) *Session {
	if config.Rand == nil {
		config.Rand = rand.Reader
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Session{
		props:  config.Properties,
		rand:   config.Rand,
		logger: config.Logger.With("component", "d2m-session"),
	}
}

// IsLoginDone reports whether the server info was received.
// Safe for concurrent use.
func (s *Session) IsLoginDone() bool {
	return s.loginDone.Load()
}

// State returns the handshake state.
func (s *Session) State() HandshakeState {
	return s.state
}

// ServerInfo returns the server info once the handshake is done.
func (s *Session) ServerInfo() *wire.ServerInfo {
	return s.serverInfo
}

// HandleHandshakeMessage advances the handshake. It returns the message to
// send next, if any.
func (s *Session) HandleHandshakeMessage(msg wire.InboundD2mMessage) (wire.OutboundD2mMessage, error) {
	switch m := msg.(type) {
	case *wire.ServerHello:
		if s.state != HandshakeStateAwaitServerHello {
			return nil, s.unexpected(msg)
		}
		hello, err := s.clientHello(m)
		if err != nil {
			return nil, err
		}
		s.state = HandshakeStateAwaitServerInfo
		return hello, nil

	case *wire.ServerInfo:
		if s.state != HandshakeStateAwaitServerInfo {
			return nil, s.unexpected(msg)
		}
		s.serverInfo = m
		s.state = HandshakeStateDone
		s.loginDone.Store(true)
		s.logger.Info("d2m handshake done",
			"slot_state", m.DeviceSlotState,
			"reflection_queue_length", m.ReflectionQueueLength)
		return nil, nil

	default:
		return nil, s.unexpected(msg)
	}
}

func (s *Session) unexpected(msg wire.InboundD2mMessage) error {
	return fmt.Errorf("%w: unexpected %s in handshake state %s", wire.ErrD2mProtocol, msg.PayloadType(), s.state)
}

func (s *Session) clientHello(hello *wire.ServerHello) (*wire.ClientHello, error) {
	s.logger.Debug("received server hello", "version", hello.Version)

	if len(hello.ESK) != KeyLength {
		return nil, fmt.Errorf("%w: ephemeral server key of %d bytes", wire.ErrD2mProtocol, len(hello.ESK))
	}
	var esk [KeyLength]byte
	copy(esk[:], hello.ESK)

	response, err := ChallengeResponse(s.props.Keys.PathSecret, esk, hello.Challenge, s.rand)
	if err != nil {
		return nil, err
	}
	deviceInfo, err := EncryptDeviceInfo(s.props.Keys.DeviceInfoKey, s.props.DeviceInfo, s.rand)
	if err != nil {
		return nil, err
	}

	return &wire.ClientHello{
		Version:                    min(hello.Version, ProtocolVersion),
		Response:                   response,
		DeviceID:                   s.props.MediatorDeviceID,
		DeviceSlotsExhaustedPolicy: s.props.DeviceSlotsExhaustedPolicy,
		DeviceSlotExpirationPolicy: s.props.DeviceSlotExpirationPolicy,
		ExpectedDeviceSlotState:    s.props.ExpectedDeviceSlotState,
		EncryptedDeviceInfo:        deviceInfo,
	}, nil
}

// ChallengeResponse encrypts the server challenge as nonce || box.
func ChallengeResponse(pathSecret, esk [KeyLength]byte, challenge []byte, rnd io.Reader) ([]byte, error) {
	var nonce [nonceLength]byte
	if _, err := io.ReadFull(rnd, nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return box.Seal(nonce[:], challenge, &nonce, &esk, &pathSecret), nil
}

// VerifyChallengeResponse opens a challenge response. Mediator side.
func VerifyChallengeResponse(pathPublic, eskSecret [KeyLength]byte, response []byte) ([]byte, error) {
	if len(response) < nonceLength+box.Overhead {
		return nil, fmt.Errorf("%w: challenge response of %d bytes", wire.ErrD2mProtocol, len(response))
	}
	var nonce [nonceLength]byte
	copy(nonce[:], response)
	plain, ok := box.Open(nil, response[nonceLength:], &nonce, &pathPublic, &eskSecret)
	if !ok {
		return nil, fmt.Errorf("%w: challenge response decryption failed", wire.ErrD2mProtocol)
	}
	return plain, nil
}
