package socket_test

import (
	"context"
	"crypto/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/nacl/box"

	"github.com/threema-ch/servconn/pkg/csp"
	"github.com/threema-ch/servconn/pkg/csp/csptest"
	"github.com/threema-ch/servconn/pkg/pipe"
	"github.com/threema-ch/servconn/pkg/socket"
	"github.com/threema-ch/servconn/pkg/socket/sockettest"
	"github.com/threema-ch/servconn/pkg/wire"
)

const testTimeout = 5 * time.Second

func collect(t *testing.T, s socket.ServerSocket) <-chan []byte {
	t.Helper()
	chunks := make(chan []byte, 16)
	require.NoError(t, pipe.Into(s.Source(), pipe.HandlerFunc[[]byte](func(b []byte) error {
		chunks <- b
		return nil
	})))
	return chunks
}

func receive(t *testing.T, chunks <-chan []byte) []byte {
	t.Helper()
	select {
	case b := <-chunks:
		return b
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for chunk")
		return nil
	}
}

func TestCspSocketLogin(t *testing.T) {
	serverKeys, err := csptest.GenerateServerKeys()
	require.NoError(t, err)
	_, clientSecret, err := box.GenerateKey(rand.Reader)
	require.NoError(t, err)
	identity, err := csp.NewStaticIdentityStore("ECHOECHO", *clientSecret)
	require.NoError(t, err)

	server, err := csptest.NewServer(serverKeys, map[string][csp.KeyLength]byte{"ECHOECHO": identity.PublicKey()})
	require.NoError(t, err)
	defer server.Close()

	addresses := &csp.StaticServerAddressProvider{
		// The first candidate is unreachable and must be skipped.
		Addresses: []string{"127.0.0.1:1", server.Addr()},
		PublicKey: *serverKeys.Public,
	}
	s := socket.NewCspSocket(socket.CspSocketConfig{AddressProvider: addresses, ConnectTimeout: time.Second})
	chunks := collect(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	require.NoError(t, s.Connect(ctx))
	assert.Equal(t, server.Addr(), s.Address())

	ioDone := make(chan error, 1)
	go func() { ioDone <- s.ProcessIO(context.Background()) }()

	session := csp.NewSession(csp.SessionConfig{
		IdentityStore:         identity,
		ServerAddressProvider: addresses,
		DeviceCookieManager:   csp.NewFileDeviceCookieManager(""),
	})
	hello, err := session.StartLogin()
	require.NoError(t, err)
	require.NoError(t, s.Send(hello.Bytes))

	login, err := session.HandleLoginMessage(wire.CspLoginMessage{Bytes: receive(t, chunks)})
	require.NoError(t, err)
	require.NotNil(t, login)
	require.NoError(t, s.Send(login.Bytes))

	_, err = session.HandleLoginMessage(wire.CspLoginMessage{Bytes: receive(t, chunks)})
	require.NoError(t, err)
	require.True(t, session.IsLoginDone())

	var conn *csptest.Conn
	select {
	case conn = <-server.Conns():
	case <-time.After(testTimeout):
		t.Fatal("server did not accept login")
	}

	// Server to client.
	require.NoError(t, conn.Send(wire.CspContainer{PayloadType: wire.CspAlert, Data: []byte("hi")}))
	container, err := session.DecryptBox(wire.CspFrame{Box: receive(t, chunks)})
	require.NoError(t, err)
	assert.Equal(t, wire.CspAlert, container.PayloadType)

	// Client to server.
	frame, err := session.EncryptContainer(wire.CspContainer{PayloadType: wire.CspOutgoingMessage, Data: []byte("x")})
	require.NoError(t, err)
	data, err := wire.EncodeLengthPrefixed(frame.Box)
	require.NoError(t, err)
	require.NoError(t, s.Send(data))
	select {
	case got := <-conn.Received():
		assert.Equal(t, wire.CspOutgoingMessage, got.PayloadType)
	case <-time.After(testTimeout):
		t.Fatal("server did not receive frame")
	}

	// Server hang-up ends ProcessIO with a close reason.
	conn.Close()
	select {
	case err := <-ioDone:
		assert.Error(t, err)
	case <-time.After(testTimeout):
		t.Fatal("ProcessIO did not return")
	}
	assert.True(t, s.ClosedSignal().IsCompleted())
}

func TestCspSocketCloseEndsProcessIO(t *testing.T) {
	server, err := csptest.NewServer(csptest.ServerKeys{}, nil)
	require.NoError(t, err)
	defer server.Close()

	s := socket.NewCspSocket(socket.CspSocketConfig{
		AddressProvider: &csp.StaticServerAddressProvider{Addresses: []string{server.Addr()}},
	})
	collect(t, s)
	require.NoError(t, s.Connect(context.Background()))

	ioDone := make(chan error, 1)
	go func() { ioDone <- s.ProcessIO(context.Background()) }()

	s.Close(socket.NoReconnect("bye"))
	s.Close(socket.CloseReason{Msg: "second"})

	select {
	case err := <-ioDone:
		assert.NoError(t, err)
	case <-time.After(testTimeout):
		t.Fatal("ProcessIO did not return")
	}
	reason, err := s.ClosedSignal().Result()
	require.NoError(t, err)
	assert.Equal(t, "bye", reason.Msg)
	require.NotNil(t, reason.ReconnectAllowed)
	assert.False(t, *reason.ReconnectAllowed)

	assert.ErrorIs(t, s.Send([]byte{1}), socket.ErrClosed)
	assert.ErrorIs(t, s.Connect(context.Background()), socket.ErrClosed)
}

func TestCspSocketNoAddress(t *testing.T) {
	s := socket.NewCspSocket(socket.CspSocketConfig{AddressProvider: &csp.StaticServerAddressProvider{}})
	assert.ErrorIs(t, s.Connect(context.Background()), csp.ErrNoAddress)
	assert.ErrorIs(t, s.Send([]byte{1}), socket.ErrNotConnected)
	assert.ErrorIs(t, s.ProcessIO(context.Background()), socket.ErrNotConnected)
}

// wsServer echoes binary messages back and closes with closeCode on "bye".
func wsServer(t *testing.T, closeCode int) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			typ, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if string(data) == "bye" {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(closeCode, "dropped"))
				return
			}
			conn.WriteMessage(typ, data)
		}
	}))
}

func TestD2mSocketRoundTrip(t *testing.T) {
	server := wsServer(t, 4000)
	defer server.Close()

	s := socket.NewD2mSocket(socket.D2mSocketConfig{
		AddressProvider: &csp.StaticServerAddressProvider{MediatorBaseURL: "ws" + strings.TrimPrefix(server.URL, "http")},
		DeviceGroupID:   []byte{0xab, 0xcd},
	})
	chunks := collect(t, s)
	require.NoError(t, s.Connect(context.Background()))
	assert.True(t, strings.HasSuffix(s.Address(), "/abcd"))

	ioDone := make(chan error, 1)
	go func() { ioDone <- s.ProcessIO(context.Background()) }()

	frame := wire.D2mContainer{PayloadType: wire.D2mReflect, Payload: []byte{1, 2, 3}}.Bytes()
	require.NoError(t, s.Send(frame))
	assert.Equal(t, frame, receive(t, chunks))

	s.Close(socket.CloseReason{Msg: "done"})
	select {
	case err := <-ioDone:
		assert.NoError(t, err)
	case <-time.After(testTimeout):
		t.Fatal("ProcessIO did not return")
	}
}

func TestD2mSocketCloseCodes(t *testing.T) {
	tests := []struct {
		name          string
		code          int
		wantReconnect *bool
	}{
		{"reconnect allowed", 4000, boolPtr(true)},
		{"reconnect allowed upper bound", 4099, boolPtr(true)},
		{"device dropped", 4115, boolPtr(false)},
		{"outside mediator ranges", 4200, nil},
		{"normal closure", websocket.CloseNormalClosure, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := wsServer(t, tt.code)
			defer server.Close()

			s := socket.NewD2mSocket(socket.D2mSocketConfig{
				AddressProvider: &csp.StaticServerAddressProvider{MediatorBaseURL: "ws" + strings.TrimPrefix(server.URL, "http")},
				DeviceGroupID:   []byte{1},
			})
			collect(t, s)
			require.NoError(t, s.Connect(context.Background()))

			ioDone := make(chan error, 1)
			go func() { ioDone <- s.ProcessIO(context.Background()) }()
			require.NoError(t, s.Send([]byte("bye")))

			select {
			case err := <-ioDone:
				assert.Error(t, err)
			case <-time.After(testTimeout):
				t.Fatal("ProcessIO did not return")
			}
			reason, err := s.ClosedSignal().Result()
			require.NoError(t, err)
			assert.Equal(t, tt.wantReconnect, reason.ReconnectAllowed)
		})
	}
}

func boolPtr(b bool) *bool { return &b }

func TestSockettestSocket(t *testing.T) {
	s := sockettest.New()
	chunks := collect(t, s)

	assert.ErrorIs(t, s.Send([]byte{1}), socket.ErrNotConnected)
	require.NoError(t, s.Connect(context.Background()))

	ioDone := make(chan error, 1)
	go func() { ioDone <- s.ProcessIO(context.Background()) }()

	s.Inject([]byte("in"))
	assert.Equal(t, []byte("in"), receive(t, chunks))

	require.NoError(t, s.Send([]byte("out")))
	assert.Equal(t, []byte("out"), <-s.Sent())

	s.CloseFromServer(socket.NoReconnect("gone"))
	select {
	case err := <-ioDone:
		assert.NoError(t, err)
	case <-time.After(testTimeout):
		t.Fatal("ProcessIO did not return")
	}

	failing := sockettest.New().FailConnect(nil)
	assert.ErrorIs(t, failing.Connect(context.Background()), sockettest.ErrConnectRefused)
}
