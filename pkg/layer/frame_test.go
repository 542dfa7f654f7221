package layer

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threema-ch/servconn/pkg/pipe"
	"github.com/threema-ch/servconn/pkg/wire"
)

func TestCspFrameLayer(t *testing.T) {
	l := NewCspFrameLayer()

	in := newCapture[wire.InboundL1Message]()
	require.NoError(t, pipe.Into[wire.InboundL1Message](l.Decoder(), in))
	require.NoError(t, l.Decoder().Handle([]byte{1, 2, 3}))
	assert.Equal(t, wire.CspData{Bytes: []byte{1, 2, 3}}, in.next(t))

	out := newCapture[[]byte]()
	require.NoError(t, pipe.Into[[]byte](l.Encoder(), out))
	require.NoError(t, l.Encoder().Handle(wire.CspData{Bytes: []byte{4, 5}}))
	assert.Equal(t, []byte{4, 5}, out.next(t))

	err := l.Encoder().Handle(wire.D2mContainer{PayloadType: wire.D2mProxy})
	assert.ErrorIs(t, err, wire.ErrUnexpectedType)
}

func TestD2mFrameLayerRoundTrip(t *testing.T) {
	l := NewD2mFrameLayer()
	in := newCapture[wire.InboundL1Message]()
	out := newCapture[[]byte]()
	require.NoError(t, pipe.Into[wire.InboundL1Message](l.Decoder(), in))
	require.NoError(t, pipe.Into[[]byte](l.Encoder(), out))

	tests := []struct {
		name      string
		container wire.D2mContainer
	}{
		{"header only", wire.D2mContainer{PayloadType: wire.D2mReflectionQueueDry, Payload: []byte{}}},
		{"payload", wire.D2mContainer{PayloadType: wire.D2mProxy, Payload: []byte{2, 0, 9, 9}}},
		{"max size", wire.D2mContainer{PayloadType: wire.D2mReflected, Payload: make([]byte, wire.D2mFrameMaxLength-wire.D2mHeaderLength)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, l.Encoder().Handle(tt.container))
			frame := out.next(t)
			assert.Len(t, frame, wire.D2mHeaderLength+len(tt.container.Payload))
			assert.Equal(t, byte(tt.container.PayloadType), frame[0])

			require.NoError(t, l.Decoder().Handle(frame))
			assert.Equal(t, tt.container, in.next(t))
		})
	}
}

func TestD2mFrameLayerSizeErrors(t *testing.T) {
	l := NewD2mFrameLayer()
	in := newCapture[wire.InboundL1Message]()
	require.NoError(t, pipe.Into[wire.InboundL1Message](l.Decoder(), in))

	for _, size := range []int{0, 1, wire.D2mFrameMinLength - 1, wire.D2mFrameMaxLength + 1} {
		err := l.Decoder().Handle(bytes.Repeat([]byte{0x20}, size))
		assert.ErrorIs(t, err, wire.ErrSize, "size %d", size)
	}
	assert.Zero(t, in.pending())

	err := l.Encoder().Handle(wire.D2mContainer{
		PayloadType: wire.D2mReflect,
		Payload:     make([]byte, wire.D2mFrameMaxLength),
	})
	assert.ErrorIs(t, err, wire.ErrSize)

	err = l.Encoder().Handle(wire.CspData{Bytes: []byte{1}})
	assert.ErrorIs(t, err, wire.ErrUnexpectedType)
}
