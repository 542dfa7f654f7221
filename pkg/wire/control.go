package wire

import (
	"encoding/binary"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// AnotherConnectionMessage appears in the close-error message sent when
// another device logged in with the same identity.
const AnotherConnectionMessage = "Another connection"

// Echo is the payload of echo requests and responses: a sequence number and
// the sender's timestamp in milliseconds, both in native byte order.
type Echo struct {
	Sequence  uint32
	Timestamp uint64
}

// Bytes encodes the echo payload.
func (e Echo) Bytes() []byte {
	out := make([]byte, EchoPayloadLength)
	binary.NativeEndian.PutUint32(out, e.Sequence)
	binary.NativeEndian.PutUint64(out[4:], e.Timestamp)
	return out
}

// SentAt returns the timestamp as time.Time.
func (e Echo) SentAt() time.Time {
	return time.UnixMilli(int64(e.Timestamp))
}

// DecodeEcho decodes an echo payload. The payload must be exactly
// EchoPayloadLength bytes.
func DecodeEcho(data []byte) (Echo, error) {
	if len(data) != EchoPayloadLength {
		return Echo{}, fmt.Errorf("%w: echo payload of %d bytes, want %d", ErrPayload, len(data), EchoPayloadLength)
	}
	return Echo{
		Sequence:  binary.NativeEndian.Uint32(data),
		Timestamp: binary.NativeEndian.Uint64(data[4:]),
	}, nil
}

// EncodeIdleTimeout encodes the connection idle timeout as a little-endian
// uint16 of seconds. Values outside [IdleTimeoutMin, IdleTimeoutMax] are a
// configuration error.
func EncodeIdleTimeout(timeout time.Duration) ([]byte, error) {
	seconds := int64(timeout / time.Second)
	if seconds < IdleTimeoutMin || seconds > IdleTimeoutMax {
		return nil, fmt.Errorf("%w: idle timeout %ds outside [%d, %d]", ErrConfig, seconds, IdleTimeoutMin, IdleTimeoutMax)
	}
	out := make([]byte, 2)
	binary.LittleEndian.PutUint16(out, uint16(seconds))
	return out, nil
}

// CloseError is a server-directed close.
type CloseError struct {
	Message      string
	CanReconnect bool
}

// IsAnotherConnection reports whether another device took over the connection.
func (e CloseError) IsAnotherConnection() bool {
	return strings.Contains(e.Message, AnotherConnectionMessage)
}

// Error implements error.
func (e CloseError) Error() string {
	return fmt.Sprintf("server closed connection (reconnect allowed: %t): %s", e.CanReconnect, e.Message)
}

// Bytes encodes the close-error payload.
func (e CloseError) Bytes() []byte {
	out := make([]byte, 1+len(e.Message))
	if e.CanReconnect {
		out[0] = 1
	}
	copy(out[1:], e.Message)
	return out
}

// DecodeCloseError decodes a close-error payload: one reconnect-allowed byte
// followed by a UTF-8 message.
func DecodeCloseError(data []byte) (CloseError, error) {
	if len(data) < 1 {
		return CloseError{}, fmt.Errorf("%w: empty close-error payload", ErrPayload)
	}
	msg := data[1:]
	if !utf8.Valid(msg) {
		return CloseError{}, fmt.Errorf("%w: close-error message is not UTF-8", ErrPayload)
	}
	return CloseError{Message: string(msg), CanReconnect: data[0] != 0}, nil
}

// DecodeAlert decodes an alert payload (a UTF-8 message).
func DecodeAlert(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: alert message is not UTF-8", ErrPayload)
	}
	return string(data), nil
}
