package d2m

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/nacl/box"

	"github.com/threema-ch/servconn/pkg/wire"
)

func testProperties(t *testing.T) MultiDeviceProperties {
	t.Helper()
	var dgk [KeyLength]byte
	_, err := rand.Read(dgk[:])
	require.NoError(t, err)
	props, err := NewMultiDeviceProperties(dgk, 0x1111, 0x2222, DeviceInfo{Platform: "linux", Label: "test"})
	require.NoError(t, err)
	return props
}

func TestDeriveKeys(t *testing.T) {
	dgk := [KeyLength]byte{1, 2, 3}
	a, err := DeriveKeys(dgk)
	require.NoError(t, err)
	b, err := DeriveKeys(dgk)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a.PathSecret, a.DeviceInfoKey)
	assert.Len(t, a.DeviceGroupID(), 2*KeyLength)
}

func TestDeviceInfoEncryption(t *testing.T) {
	key := [KeyLength]byte{7}
	info := DeviceInfo{Platform: "linux", PlatformDetails: "amd64", AppVersion: "1.0", Label: "desk"}

	data, err := EncryptDeviceInfo(key, info, rand.Reader)
	require.NoError(t, err)
	got, err := DecryptDeviceInfo(key, data)
	require.NoError(t, err)
	assert.Equal(t, info, got)

	_, err = DecryptDeviceInfo([KeyLength]byte{8}, data)
	assert.ErrorIs(t, err, wire.ErrD2mProtocol)
}

func TestSessionHandshake(t *testing.T) {
	props := testProperties(t)
	s := NewSession(SessionConfig{Properties: props})
	assert.Equal(t, HandshakeStateAwaitServerHello, s.State())

	eskPublic, eskSecret, err := box.GenerateKey(rand.Reader)
	require.NoError(t, err)
	challenge := []byte("0123456789abcdef0123456789abcdef")

	out, err := s.HandleHandshakeMessage(&wire.ServerHello{Version: 3, ESK: eskPublic[:], Challenge: challenge})
	require.NoError(t, err)
	hello, ok := out.(*wire.ClientHello)
	require.True(t, ok)
	assert.Equal(t, ProtocolVersion, hello.Version)
	assert.Equal(t, uint64(0x1111), hello.DeviceID)
	assert.Equal(t, wire.DeviceSlotExpirationPersistent, hello.DeviceSlotExpirationPolicy)
	assert.False(t, s.IsLoginDone())

	answer, err := VerifyChallengeResponse(props.Keys.PathPublic, *eskSecret, hello.Response)
	require.NoError(t, err)
	assert.Equal(t, challenge, answer)

	info, err := DecryptDeviceInfo(props.Keys.DeviceInfoKey, hello.EncryptedDeviceInfo)
	require.NoError(t, err)
	assert.Equal(t, "test", info.Label)

	out, err = s.HandleHandshakeMessage(&wire.ServerInfo{ReflectionQueueLength: 5})
	require.NoError(t, err)
	assert.Nil(t, out)
	assert.True(t, s.IsLoginDone())
	assert.Equal(t, HandshakeStateDone, s.State())
	assert.Equal(t, uint32(5), s.ServerInfo().ReflectionQueueLength)
}

func TestSessionUnexpectedMessages(t *testing.T) {
	tests := []struct {
		name string
		msgs []wire.InboundD2mMessage
	}{
		{"server info first", []wire.InboundD2mMessage{&wire.ServerInfo{}}},
		{"queue dry during handshake", []wire.InboundD2mMessage{&wire.ReflectionQueueDry{}}},
		{"short esk", []wire.InboundD2mMessage{&wire.ServerHello{ESK: []byte{1}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSession(SessionConfig{Properties: testProperties(t)})
			var err error
			for _, m := range tt.msgs {
				_, err = s.HandleHandshakeMessage(m)
			}
			assert.ErrorIs(t, err, wire.ErrD2mProtocol)
			assert.False(t, s.IsLoginDone())
		})
	}
}

func TestParseDeviceGroupKey(t *testing.T) {
	_, err := ParseDeviceGroupKey("abcd")
	assert.ErrorIs(t, err, ErrInvalidKey)

	key, err := ParseDeviceGroupKey("0101010101010101010101010101010101010101010101010101010101010101")
	require.NoError(t, err)
	assert.Equal(t, byte(1), key[31])
}
