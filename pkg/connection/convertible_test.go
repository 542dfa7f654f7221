package connection

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threema-ch/servconn/pkg/wire"
)

type fakeConnection struct {
	name string

	mu        sync.Mutex
	running   bool
	starts    int
	stops     int
	sent      []wire.OutboundMessage
	listeners []StateListener
}

func (f *fakeConnection) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = true
	f.starts++
	return nil
}

func (f *fakeConnection) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	f.stops++
}

func (f *fakeConnection) DisableReconnect() {}

func (f *fakeConnection) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeConnection) IsNewConnectionSession() bool { return true }

func (f *fakeConnection) State() State {
	if f.IsRunning() {
		return StateLoggedIn
	}
	return StateDisconnected
}

func (f *fakeConnection) AddConnectionStateListener(l StateListener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, l)
}

func (f *fakeConnection) RemoveConnectionStateListener(l StateListener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, existing := range f.listeners {
		if existing == l {
			f.listeners = append(f.listeners[:i], f.listeners[i+1:]...)
			return
		}
	}
}

func (f *fakeConnection) SendOutbound(msg wire.OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeConnection) RestartConnection(time.Duration) error { return nil }

type fakeFactories struct {
	csp []*fakeConnection
	d2m []*fakeConnection
	err error
}

func (f *fakeFactories) config(multiDevice bool) ConvertibleConfig {
	return ConvertibleConfig{
		NewCsp: func() (ServerConnection, error) {
			c := &fakeConnection{name: "csp"}
			f.csp = append(f.csp, c)
			return c, nil
		},
		NewD2m: func() (ServerConnection, error) {
			if f.err != nil {
				return nil, f.err
			}
			c := &fakeConnection{name: "d2m"}
			f.d2m = append(f.d2m, c)
			return c, nil
		},
		MultiDevice: multiDevice,
	}
}

func TestConvertibleInitialMode(t *testing.T) {
	factories := &fakeFactories{}
	conn, err := NewConvertibleServerConnection(factories.config(true))
	require.NoError(t, err)

	assert.True(t, conn.IsMultiDevice())
	assert.Len(t, factories.d2m, 1)
	assert.Empty(t, factories.csp)
	assert.Same(t, factories.d2m[0], conn.Current())
}

func TestConvertibleMissingFactory(t *testing.T) {
	_, err := NewConvertibleServerConnection(ConvertibleConfig{})
	assert.ErrorIs(t, err, ErrMissingDependency)
}

func TestConvertibleConvertRunning(t *testing.T) {
	factories := &fakeFactories{}
	conn, err := NewConvertibleServerConnection(factories.config(false))
	require.NoError(t, err)

	listener := newStateRecorder()
	conn.AddConnectionStateListener(listener)
	require.NoError(t, conn.Start())
	require.NoError(t, conn.SendOutbound(wire.CspContainer{PayloadType: wire.CspOutgoingMessage}))

	require.NoError(t, conn.Convert(true))
	old, next := factories.csp[0], factories.d2m[0]

	assert.False(t, old.IsRunning())
	assert.Equal(t, 1, old.stops)
	assert.Empty(t, old.listeners)
	assert.Len(t, old.sent, 1)

	assert.True(t, next.IsRunning())
	assert.Equal(t, []StateListener{listener}, next.listeners)
	assert.Equal(t, StateLoggedIn, conn.State())
	assert.True(t, conn.IsMultiDevice())

	// Converting to the same mode changes nothing.
	require.NoError(t, conn.Convert(true))
	assert.Len(t, factories.d2m, 1)
	assert.Equal(t, 1, next.starts)
}

func TestConvertibleConvertStopped(t *testing.T) {
	factories := &fakeFactories{}
	conn, err := NewConvertibleServerConnection(factories.config(true))
	require.NoError(t, err)

	require.NoError(t, conn.Convert(false))
	assert.False(t, conn.IsMultiDevice())
	assert.Equal(t, 0, factories.csp[0].starts)
	assert.False(t, conn.IsRunning())
}

func TestConvertibleConvertFactoryError(t *testing.T) {
	factories := &fakeFactories{err: errors.New("no device group key")}
	conn, err := NewConvertibleServerConnection(factories.config(false))
	require.NoError(t, err)
	require.NoError(t, conn.Start())

	assert.Error(t, conn.Convert(true))
	assert.False(t, conn.IsMultiDevice())
	assert.True(t, conn.IsRunning())
}

func TestConvertibleRemoveListener(t *testing.T) {
	factories := &fakeFactories{}
	conn, err := NewConvertibleServerConnection(factories.config(false))
	require.NoError(t, err)

	listener := newStateRecorder()
	conn.AddConnectionStateListener(listener)
	conn.RemoveConnectionStateListener(listener)
	require.NoError(t, conn.Convert(true))

	assert.Empty(t, factories.csp[0].listeners)
	assert.Empty(t, factories.d2m[0].listeners)
}
