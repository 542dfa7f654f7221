package wire

import "errors"

// Protocol errors. All of them abort the current connection attempt.
var (
	// ErrSize indicates a frame or length prefix outside the allowed bounds.
	ErrSize = errors.New("invalid size")

	// ErrProtocol indicates an unexpected message or a handshake violation.
	ErrProtocol = errors.New("protocol violation")

	// ErrD2mProtocol indicates a mediator protocol violation.
	ErrD2mProtocol = errors.New("d2m protocol violation")

	// ErrPayload indicates a payload that cannot be decoded.
	ErrPayload = errors.New("invalid payload")

	// ErrConfig indicates an out-of-range configuration value.
	ErrConfig = errors.New("invalid configuration")

	// ErrUnexpectedType indicates a message of a type the layer never accepts.
	// This is a programming error.
	ErrUnexpectedType = errors.New("unexpected message type")
)

// IsFatal reports whether err is a protocol violation, as opposed to an
// IO error.
func IsFatal(err error) bool {
	return errors.Is(err, ErrSize) ||
		errors.Is(err, ErrProtocol) ||
		errors.Is(err, ErrD2mProtocol) ||
		errors.Is(err, ErrPayload) ||
		errors.Is(err, ErrConfig) ||
		errors.Is(err, ErrUnexpectedType)
}
