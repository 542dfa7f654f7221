package csp

import (
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

// IdentityLength is the length of a Threema ID.
const IdentityLength = 8

// KeyLength is the length of a Curve25519 key.
const KeyLength = 32

// ErrInvalidIdentity indicates a malformed identity or key.
var ErrInvalidIdentity = errors.New("invalid identity")

// IdentityStore provides the client's long-term identity.
type IdentityStore interface {
	// Identity returns the 8 character Threema ID.
	Identity() string

	// PublicKey returns the permanent public key.
	PublicKey() [KeyLength]byte

	// CalcSharedSecret derives the NaCl shared key with a peer public key.
	CalcSharedSecret(peerPublicKey [KeyLength]byte) ([KeyLength]byte, error)
}

// StaticIdentityStore keeps the identity in memory.
type StaticIdentityStore struct {
	identity  string
	secretKey [KeyLength]byte
	publicKey [KeyLength]byte
}

// NewStaticIdentityStore creates an identity store from an ID and secret key.
func NewStaticIdentityStore(identity string, secretKey [KeyLength]byte) (*StaticIdentityStore, error) {
	if len(identity) != IdentityLength {
		return nil, fmt.Errorf("%w: identity %q must be %d characters", ErrInvalidIdentity, identity, IdentityLength)
	}
	pub, err := curve25519.X25519(secretKey[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	s := &StaticIdentityStore{identity: identity, secretKey: secretKey}
	copy(s.publicKey[:], pub)
	return s, nil
}

// NewStaticIdentityStoreFromHex parses a hex encoded secret key.
func NewStaticIdentityStoreFromHex(identity, secretKeyHex string) (*StaticIdentityStore, error) {
	key, err := ParseKey(secretKeyHex)
	if err != nil {
		return nil, err
	}
	return NewStaticIdentityStore(identity, key)
}

// Identity returns the Threema ID.
func (s *StaticIdentityStore) Identity() string {
	return s.identity
}

// PublicKey returns the permanent public key.
func (s *StaticIdentityStore) PublicKey() [KeyLength]byte {
	return s.publicKey
}

// CalcSharedSecret derives the NaCl shared key with peerPublicKey.
func (s *StaticIdentityStore) CalcSharedSecret(peerPublicKey [KeyLength]byte) ([KeyLength]byte, error) {
	var shared [KeyLength]byte
	box.Precompute(&shared, &peerPublicKey, &s.secretKey)
	return shared, nil
}

// ParseKey decodes a 32 byte hex key.
func ParseKey(s string) ([KeyLength]byte, error) {
	var key [KeyLength]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		return key, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	if len(raw) != KeyLength {
		return key, fmt.Errorf("%w: key has %d bytes, want %d", ErrInvalidIdentity, len(raw), KeyLength)
	}
	copy(key[:], raw)
	return key, nil
}

// Compile-time interface satisfaction check.
var _ IdentityStore = (*StaticIdentityStore)(nil)
