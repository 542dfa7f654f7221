package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// encMode is the CBOR encoder mode for D2M control payloads.
// Configured for deterministic encoding with integer keys.
var encMode cbor.EncMode

// decMode is the CBOR decoder mode for D2M control payloads.
var decMode cbor.DecMode

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeUnix,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}

	// Lenient for forward compatibility: unknown keys are ignored
	decOpts := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoder mode: %v", err))
	}
}

// Marshal encodes a value to CBOR bytes.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR bytes into a value.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Bytes encodes the container as a D2M frame.
func (c D2mContainer) Bytes() []byte {
	frame := make([]byte, D2mHeaderLength+len(c.Payload))
	frame[0] = byte(c.PayloadType)
	copy(frame[D2mHeaderLength:], c.Payload)
	return frame
}

// DecodeD2mFrame splits a D2M frame into payload type and payload.
// The three reserved header bytes are ignored.
func DecodeD2mFrame(frame []byte) (D2mContainer, error) {
	if len(frame) < D2mFrameMinLength {
		return D2mContainer{}, fmt.Errorf("%w: d2m frame %d < %d", ErrSize, len(frame), D2mFrameMinLength)
	}
	if len(frame) > D2mFrameMaxLength {
		return D2mContainer{}, fmt.Errorf("%w: d2m frame %d > %d", ErrSize, len(frame), D2mFrameMaxLength)
	}
	payload := make([]byte, len(frame)-D2mHeaderLength)
	copy(payload, frame[D2mHeaderLength:])
	return D2mContainer{PayloadType: D2mPayloadType(frame[0]), Payload: payload}, nil
}

// EncodeLengthPrefixed prepends a 2-byte little-endian length to data.
func EncodeLengthPrefixed(data []byte) ([]byte, error) {
	if len(data) > 0xffff {
		return nil, fmt.Errorf("%w: %d bytes exceed length prefix", ErrSize, len(data))
	}
	out := make([]byte, LengthPrefixSize+len(data))
	binary.LittleEndian.PutUint16(out, uint16(len(data)))
	copy(out[LengthPrefixSize:], data)
	return out, nil
}

// NewProxyContainer wraps CSP bytes into a PROXY container.
func NewProxyContainer(csp []byte) (D2mContainer, error) {
	payload, err := EncodeLengthPrefixed(csp)
	if err != nil {
		return D2mContainer{}, err
	}
	if D2mHeaderLength+len(payload) > D2mFrameMaxLength {
		return D2mContainer{}, fmt.Errorf("%w: proxy frame %d > %d", ErrSize, D2mHeaderLength+len(payload), D2mFrameMaxLength)
	}
	return D2mContainer{PayloadType: D2mProxy, Payload: payload}, nil
}

// DecodeProxyPayload strips the length prefix of a PROXY payload.
// The declared length must equal the remaining payload size exactly.
func DecodeProxyPayload(payload []byte) ([]byte, error) {
	if len(payload) < LengthPrefixSize {
		return nil, fmt.Errorf("%w: proxy payload of %d bytes has no length prefix", ErrSize, len(payload))
	}
	declared := int(binary.LittleEndian.Uint16(payload))
	if declared != len(payload)-LengthPrefixSize {
		return nil, fmt.Errorf("%w: proxy length %d != %d", ErrSize, declared, len(payload)-LengthPrefixSize)
	}
	return payload[LengthPrefixSize:], nil
}
