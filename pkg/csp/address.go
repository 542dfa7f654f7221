package csp

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrNoAddress indicates that no server address is configured.
var ErrNoAddress = errors.New("no server address")

// ServerAddressProvider supplies where and whom to connect to.
type ServerAddressProvider interface {
	// ChatServerAddresses returns host:port candidates, tried in order.
	ChatServerAddresses() ([]string, error)

	// ChatServerPublicKey returns the chat server's permanent public key.
	ChatServerPublicKey() [KeyLength]byte

	// ChatServerPublicKeyAlt returns the alternate key used during key rotation.
	ChatServerPublicKeyAlt() [KeyLength]byte

	// MediatorURL returns the WebSocket URL of the mediator for a device group.
	MediatorURL(deviceGroupID []byte) (string, error)
}

// StaticServerAddressProvider serves a fixed configuration.
type StaticServerAddressProvider struct {
	Addresses []string
	PublicKey [KeyLength]byte
	AltKey    [KeyLength]byte

	// MediatorBaseURL is extended with the hex encoded device group id.
	MediatorBaseURL string
}

// ChatServerAddresses returns the configured addresses.
func (p *StaticServerAddressProvider) ChatServerAddresses() ([]string, error) {
	if len(p.Addresses) == 0 {
		return nil, ErrNoAddress
	}
	out := make([]string, len(p.Addresses))
	copy(out, p.Addresses)
	return out, nil
}

// ChatServerPublicKey returns the primary server key.
func (p *StaticServerAddressProvider) ChatServerPublicKey() [KeyLength]byte {
	return p.PublicKey
}

// ChatServerPublicKeyAlt returns the alternate server key.
// It falls back to the primary key when unset.
func (p *StaticServerAddressProvider) ChatServerPublicKeyAlt() [KeyLength]byte {
	if p.AltKey == ([KeyLength]byte{}) {
		return p.PublicKey
	}
	return p.AltKey
}

// MediatorURL builds the mediator URL for a device group.
func (p *StaticServerAddressProvider) MediatorURL(deviceGroupID []byte) (string, error) {
	if p.MediatorBaseURL == "" {
		return "", fmt.Errorf("%w: mediator url", ErrNoAddress)
	}
	return strings.TrimSuffix(p.MediatorBaseURL, "/") + "/" + hex.EncodeToString(deviceGroupID), nil
}

// Compile-time interface satisfaction check.
var _ ServerAddressProvider = (*StaticServerAddressProvider)(nil)
