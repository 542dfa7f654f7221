package d2m

import (
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/threema-ch/servconn/pkg/wire"
)

// KeyLength is the length of the device group key and derived keys.
const KeyLength = 32

const nonceLength = 24

// Key derivation contexts.
const (
	pathKeyInfo       = "3ma-mdev/dgpk"
	deviceInfoKeyInfo = "3ma-mdev/dgdik"
)

// ErrInvalidKey indicates a malformed device group key.
var ErrInvalidKey = errors.New("invalid device group key")

// DeviceGroupKeys are the keys derived from the device group key.
type DeviceGroupKeys struct {
	// PathSecret authenticates the device group towards the mediator.
	PathSecret [KeyLength]byte

	// PathPublic identifies the device group (device group id).
	PathPublic [KeyLength]byte

	// DeviceInfoKey encrypts the device info.
	DeviceInfoKey [KeyLength]byte
}

// DeriveKeys derives the mediator keys from the device group key.
func DeriveKeys(deviceGroupKey [KeyLength]byte) (DeviceGroupKeys, error) {
	var keys DeviceGroupKeys
	if err := derive(deviceGroupKey, pathKeyInfo, keys.PathSecret[:]); err != nil {
		return keys, err
	}
	if err := derive(deviceGroupKey, deviceInfoKeyInfo, keys.DeviceInfoKey[:]); err != nil {
		return keys, err
	}
	pub, err := curve25519.X25519(keys.PathSecret[:], curve25519.Basepoint)
	if err != nil {
		return keys, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	copy(keys.PathPublic[:], pub)
	return keys, nil
}

// DeviceGroupID returns the hex encoded device group id.
func (k DeviceGroupKeys) DeviceGroupID() string {
	return hex.EncodeToString(k.PathPublic[:])
}

func derive(secret [KeyLength]byte, info string, out []byte) error {
	newHash := func() hash.Hash {
		h, _ := blake2b.New256(nil)
		return h
	}
	if _, err := io.ReadFull(hkdf.New(newHash, secret[:], nil, []byte(info)), out); err != nil {
		return fmt.Errorf("failed to derive %s: %w", info, err)
	}
	return nil
}

// DeviceInfo describes this device to the other devices of the group.
type DeviceInfo struct {
	Platform        string `cbor:"1,keyasint"`
	PlatformDetails string `cbor:"2,keyasint,omitempty"`
	AppVersion      string `cbor:"3,keyasint,omitempty"`
	Label           string `cbor:"4,keyasint,omitempty"`
}

// EncryptDeviceInfo encodes info and encrypts it as nonce || secretbox.
func EncryptDeviceInfo(key [KeyLength]byte, info DeviceInfo, rnd io.Reader) ([]byte, error) {
	plain, err := wire.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("failed to encode device info: %w", err)
	}
	var nonce [nonceLength]byte
	if _, err := io.ReadFull(rnd, nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plain, &nonce, &key), nil
}

// DecryptDeviceInfo reverses EncryptDeviceInfo.
func DecryptDeviceInfo(key [KeyLength]byte, data []byte) (DeviceInfo, error) {
	var info DeviceInfo
	if len(data) < nonceLength+secretbox.Overhead {
		return info, fmt.Errorf("%w: device info of %d bytes", wire.ErrD2mProtocol, len(data))
	}
	var nonce [nonceLength]byte
	copy(nonce[:], data)
	plain, ok := secretbox.Open(nil, data[nonceLength:], &nonce, &key)
	if !ok {
		return info, fmt.Errorf("%w: device info decryption failed", wire.ErrD2mProtocol)
	}
	if err := wire.Unmarshal(plain, &info); err != nil {
		return info, fmt.Errorf("%w: %v", wire.ErrD2mProtocol, err)
	}
	return info, nil
}

// ParseDeviceGroupKey decodes a hex encoded device group key.
func ParseDeviceGroupKey(s string) ([KeyLength]byte, error) {
	var key [KeyLength]byte
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != KeyLength {
		return key, fmt.Errorf("%w: want %d hex encoded bytes", ErrInvalidKey, KeyLength)
	}
	copy(key[:], raw)
	return key, nil
}
