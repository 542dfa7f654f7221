package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestD2mFrame(t *testing.T) {
	t.Run("RoundTrip", func(t *testing.T) {
		for _, size := range []int{0, 1, 100, D2mFrameMaxLength - D2mHeaderLength} {
			c := D2mContainer{PayloadType: D2mReflected, Payload: bytes.Repeat([]byte{0xab}, size)}
			decoded, err := DecodeD2mFrame(c.Bytes())
			require.NoError(t, err, "size %d", size)
			assert.Equal(t, c.PayloadType, decoded.PayloadType)
			assert.Equal(t, c.Payload, decoded.Payload)
		}
	})

	t.Run("ReservedBytesIgnored", func(t *testing.T) {
		decoded, err := DecodeD2mFrame([]byte{0x21, 0xff, 0xff, 0xff, 0x01})
		require.NoError(t, err)
		assert.Equal(t, D2mRolePromotedToLeader, decoded.PayloadType)
		assert.Equal(t, []byte{0x01}, decoded.Payload)
	})

	t.Run("SizeBounds", func(t *testing.T) {
		tests := []struct {
			name string
			size int
		}{
			{"empty", 0},
			{"below minimum", D2mFrameMinLength - 1},
			{"above maximum", D2mFrameMaxLength + 1},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := DecodeD2mFrame(make([]byte, tt.size))
				assert.ErrorIs(t, err, ErrSize)
				assert.True(t, IsFatal(err))
			})
		}
	})
}

func TestProxyPayload(t *testing.T) {
	t.Run("RoundTrip", func(t *testing.T) {
		c, err := NewProxyContainer([]byte("hello"))
		require.NoError(t, err)
		assert.Equal(t, D2mProxy, c.PayloadType)
		assert.Equal(t, []byte{5, 0}, c.Payload[:2])

		data, err := DecodeProxyPayload(c.Payload)
		require.NoError(t, err)
		assert.Equal(t, []byte("hello"), data)
	})

	t.Run("LengthMismatch", func(t *testing.T) {
		tests := []struct {
			name    string
			payload []byte
		}{
			{"no prefix", []byte{1}},
			{"declared too long", []byte{4, 0, 1, 2, 3}},
			{"declared too short", []byte{1, 0, 1, 2, 3}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := DecodeProxyPayload(tt.payload)
				assert.ErrorIs(t, err, ErrSize)
			})
		}
	})

	t.Run("TooLarge", func(t *testing.T) {
		_, err := NewProxyContainer(make([]byte, 0x10000))
		assert.ErrorIs(t, err, ErrSize)
	})
}

func TestDecodeD2mContainer(t *testing.T) {
	t.Run("ServerInfo", func(t *testing.T) {
		in := &ServerInfo{
			CurrentTime:           1700000000000,
			MaxDeviceSlots:        4,
			DeviceSlotState:       DeviceSlotStateExisting,
			ReflectionQueueLength: 12,
		}
		c, err := in.ToContainer()
		require.NoError(t, err)

		msg, err := DecodeD2mContainer(c)
		require.NoError(t, err)
		out, ok := msg.(*ServerInfo)
		require.True(t, ok)
		assert.Equal(t, in.MaxDeviceSlots, out.MaxDeviceSlots)
		assert.Equal(t, in.DeviceSlotState, out.DeviceSlotState)
		assert.Equal(t, in.ReflectionQueueLength, out.ReflectionQueueLength)
	})

	t.Run("Reflected", func(t *testing.T) {
		payload := make([]byte, 16)
		payload[0] = 16
		binary.LittleEndian.PutUint16(payload[2:], 0x0001)
		binary.LittleEndian.PutUint32(payload[4:], 42)
		binary.LittleEndian.PutUint64(payload[8:], 1234)
		payload = append(payload, []byte("envelope")...)

		msg, err := DecodeD2mContainer(D2mContainer{PayloadType: D2mReflected, Payload: payload})
		require.NoError(t, err)
		r := msg.(*Reflected)
		assert.Equal(t, uint16(1), r.Flags)
		assert.Equal(t, uint32(42), r.ReflectedID)
		assert.Equal(t, uint64(1234), r.Timestamp)
		assert.Equal(t, []byte("envelope"), r.Envelope)
	})

	t.Run("ReflectedBadHeader", func(t *testing.T) {
		payload := make([]byte, 20)
		payload[0] = 12
		_, err := DecodeD2mContainer(D2mContainer{PayloadType: D2mReflected, Payload: payload})
		assert.ErrorIs(t, err, ErrD2mProtocol)
	})

	t.Run("Unsupported", func(t *testing.T) {
		_, err := DecodeD2mContainer(D2mContainer{PayloadType: D2mClientHello})
		assert.ErrorIs(t, err, ErrD2mProtocol)
	})

	t.Run("ReflectHeader", func(t *testing.T) {
		c, err := (&Reflect{Flags: 1, ReflectID: 7, Envelope: []byte{9, 9}}).ToContainer()
		require.NoError(t, err)
		assert.Equal(t, []byte{8, 0, 1, 0, 7, 0, 0, 0, 9, 9}, c.Payload)

		back, err := DecodeOutboundD2mContainer(c)
		require.NoError(t, err)
		assert.Equal(t, uint32(7), back.(*Reflect).ReflectID)
	})
}

func TestEcho(t *testing.T) {
	e := Echo{Sequence: 3, Timestamp: uint64(time.Now().UnixMilli())}
	data := e.Bytes()
	assert.Len(t, data, EchoPayloadLength)

	back, err := DecodeEcho(data)
	require.NoError(t, err)
	assert.Equal(t, e, back)

	_, err = DecodeEcho(data[:11])
	assert.ErrorIs(t, err, ErrPayload)
	_, err = DecodeEcho(append(data, 0))
	assert.ErrorIs(t, err, ErrPayload)
}

func TestEncodeIdleTimeout(t *testing.T) {
	tests := []struct {
		name    string
		timeout time.Duration
		want    []byte
		wantErr error
	}{
		{"minimum", 30 * time.Second, []byte{30, 0}, nil},
		{"maximum", 600 * time.Second, []byte{0x58, 0x02}, nil},
		{"too short", 29 * time.Second, nil, ErrConfig},
		{"too long", 700 * time.Second, nil, ErrConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeIdleTimeout(tt.timeout)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr))
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCloseError(t *testing.T) {
	ce, err := DecodeCloseError(append([]byte{0}, "Another connection for the same identity"...))
	require.NoError(t, err)
	assert.False(t, ce.CanReconnect)
	assert.True(t, ce.IsAnotherConnection())

	ce, err = DecodeCloseError(append([]byte{1}, "Server restart"...))
	require.NoError(t, err)
	assert.True(t, ce.CanReconnect)
	assert.False(t, ce.IsAnotherConnection())
	assert.Equal(t, ce, mustDecodeCloseError(t, ce.Bytes()))

	_, err = DecodeCloseError(nil)
	assert.ErrorIs(t, err, ErrPayload)
	_, err = DecodeCloseError([]byte{1, 0xff, 0xfe})
	assert.ErrorIs(t, err, ErrPayload)
}

func mustDecodeCloseError(t *testing.T, data []byte) CloseError {
	t.Helper()
	ce, err := DecodeCloseError(data)
	require.NoError(t, err)
	return ce
}
