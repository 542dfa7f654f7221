package csp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/hkdf"
)

// Login packet layout.
const (
	// ExtensionMagic starts the extension indicator.
	ExtensionMagic = "threema-clever-extension-field"

	ExtensionIndicatorLength = 32
	VouchLength              = 32
	reserved1Length          = 24
	reserved2Length          = 16

	// LoginLength is the size of the login packet before encryption.
	LoginLength = IdentityLength + ExtensionIndicatorLength + CookieLength + reserved1Length + VouchLength + reserved2Length

	// LoginBoxLength is the size of the encrypted login packet.
	LoginBoxLength = LoginLength + boxOverhead

	// ServerHelloLength is the server cookie followed by the hello box.
	ServerHelloLength = CookieLength + serverHelloBoxLength

	// ClientHelloLength is the temporary public key followed by the client cookie.
	ClientHelloLength = KeyLength + CookieLength

	// LoginAckLength is the size of the encrypted login acknowledgement.
	LoginAckLength = loginAckPlainLength + boxOverhead

	boxOverhead          = 16
	serverHelloBoxLength = KeyLength + CookieLength + boxOverhead
	loginAckPlainLength  = 16
)

// Extension types.
const (
	ExtensionClientInfo            uint8 = 0x00
	ExtensionCspDeviceID           uint8 = 0x01
	ExtensionMessagePayloadVersion uint8 = 0x02
	ExtensionDeviceCookie          uint8 = 0x03
)

// MessagePayloadVersion is the message payload version announced at login.
const MessagePayloadVersion = 0x01

// vouchInfo is the key derivation context of the vouch key.
const vouchInfo = "3ma-csp/v2"

// Extension is a type-length-value login extension.
type Extension struct {
	Type uint8
	Data []byte
}

// Extensions are the login extensions sent in the extensions box.
type Extensions struct {
	ClientInfo     string
	CspDeviceID    *uint64
	DeviceCookie   []byte
	PayloadVersion uint8
}

// Bytes encodes the extensions.
func (e Extensions) Bytes() ([]byte, error) {
	exts := []Extension{{Type: ExtensionClientInfo, Data: []byte(e.ClientInfo)}}
	if e.CspDeviceID != nil {
		id := make([]byte, 8)
		binary.LittleEndian.PutUint64(id, *e.CspDeviceID)
		exts = append(exts, Extension{Type: ExtensionCspDeviceID, Data: id})
	}
	exts = append(exts,
		Extension{Type: ExtensionMessagePayloadVersion, Data: []byte{e.PayloadVersion}},
		Extension{Type: ExtensionDeviceCookie, Data: e.DeviceCookie},
	)
	return EncodeExtensions(exts)
}

// EncodeExtensions encodes extensions as [type][u16 LE length][data].
func EncodeExtensions(exts []Extension) ([]byte, error) {
	var buf bytes.Buffer
	for _, ext := range exts {
		if len(ext.Data) > 0xffff {
			return nil, fmt.Errorf("extension 0x%02x too long: %d bytes", ext.Type, len(ext.Data))
		}
		buf.WriteByte(ext.Type)
		var length [2]byte
		binary.LittleEndian.PutUint16(length[:], uint16(len(ext.Data)))
		buf.Write(length[:])
		buf.Write(ext.Data)
	}
	return buf.Bytes(), nil
}

// ParseExtensions decodes the extensions box content.
func ParseExtensions(data []byte) (Extensions, error) {
	var out Extensions
	for len(data) > 0 {
		if len(data) < 3 {
			return out, fmt.Errorf("truncated extension header")
		}
		typ := data[0]
		length := int(binary.LittleEndian.Uint16(data[1:3]))
		if len(data) < 3+length {
			return out, fmt.Errorf("truncated extension 0x%02x", typ)
		}
		value := data[3 : 3+length]
		data = data[3+length:]

		switch typ {
		case ExtensionClientInfo:
			out.ClientInfo = string(value)
		case ExtensionCspDeviceID:
			if len(value) != 8 {
				return out, fmt.Errorf("csp device id of %d bytes", len(value))
			}
			id := binary.LittleEndian.Uint64(value)
			out.CspDeviceID = &id
		case ExtensionMessagePayloadVersion:
			if len(value) != 1 {
				return out, fmt.Errorf("payload version of %d bytes", len(value))
			}
			out.PayloadVersion = value[0]
		case ExtensionDeviceCookie:
			out.DeviceCookie = append([]byte(nil), value...)
		}
	}
	return out, nil
}

// ExtensionIndicator encodes the magic string and the extensions box length.
func ExtensionIndicator(extensionsBoxLength int) ([]byte, error) {
	if extensionsBoxLength > 0xffff {
		return nil, fmt.Errorf("extensions box too long: %d bytes", extensionsBoxLength)
	}
	out := make([]byte, ExtensionIndicatorLength)
	copy(out, ExtensionMagic)
	binary.LittleEndian.PutUint16(out[len(ExtensionMagic):], uint16(extensionsBoxLength))
	return out, nil
}

// ParseExtensionIndicator returns the extensions box length.
func ParseExtensionIndicator(indicator []byte) (int, error) {
	if len(indicator) != ExtensionIndicatorLength || string(indicator[:len(ExtensionMagic)]) != ExtensionMagic {
		return 0, fmt.Errorf("missing extension indicator")
	}
	return int(binary.LittleEndian.Uint16(indicator[len(ExtensionMagic):])), nil
}

// DeriveVouch computes the login vouch.
//
// The vouch key is derived from both shared secrets (client identity with the
// server's permanent key, and with the server's temporary key). The vouch is a
// keyed BLAKE2b-256 over the server cookie and the client's temporary key.
func DeriveVouch(sharedPermanent, sharedTemporary [KeyLength]byte, serverCookie [CookieLength]byte, clientTempPublicKey [KeyLength]byte) ([]byte, error) {
	secret := make([]byte, 0, 2*KeyLength)
	secret = append(secret, sharedPermanent[:]...)
	secret = append(secret, sharedTemporary[:]...)

	newHash := func() hash.Hash {
		h, _ := blake2b.New256(nil)
		return h
	}
	vouchKey := make([]byte, 32)
	if _, err := hkdf.New(newHash, secret, nil, []byte(vouchInfo)).Read(vouchKey); err != nil {
		return nil, fmt.Errorf("failed to derive vouch key: %w", err)
	}

	mac, err := blake2b.New256(vouchKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create vouch mac: %w", err)
	}
	mac.Write(serverCookie[:])
	mac.Write(clientTempPublicKey[:])
	return mac.Sum(nil), nil
}
