package layer

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threema-ch/servconn/pkg/dispatch"
)

func TestControllerHooksRunInOrder(t *testing.T) {
	h := newHarness(t, false)
	var order []string
	h.ctrl.OnConnected(func() error { order = append(order, "a"); return nil })
	h.ctrl.OnConnected(func() error { order = append(order, "b"); return nil })

	h.ctrl.CompleteConnected()
	h.sync(t)
	assert.Equal(t, []string{"a", "b"}, order)
	assert.True(t, h.ctrl.Connected.IsCompleted())

	// Completing twice does not rerun the hooks.
	h.ctrl.CompleteConnected()
	h.sync(t)
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestControllerLateHookRunsImmediately(t *testing.T) {
	h := newHarness(t, false)
	require.True(t, h.ctrl.CompleteCspAuthenticated())
	assert.False(t, h.ctrl.CompleteCspAuthenticated())

	ran := false
	h.ctrl.OnCspAuthenticated(func() error { ran = true; return nil })
	h.sync(t)
	assert.True(t, ran)
}

func TestControllerLateHookOnClosedDispatcher(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	d := dispatch.New(t.Name(), nil, logger)
	ctrl := NewController(d)
	require.True(t, ctrl.CompleteCspAuthenticated())
	d.Close()
	d.Wait()

	ran := false
	ctrl.OnCspAuthenticated(func() error { ran = true; return nil })
	assert.False(t, ran)
	assert.Contains(t, buf.String(), "dropping late hook")
	assert.Contains(t, buf.String(), dispatch.ErrClosed.Error())
}

func TestControllerHookErrorFailsDispatcher(t *testing.T) {
	h := newHarness(t, false)
	boom := errors.New("boom")
	h.ctrl.OnConnected(func() error { return boom })
	h.ctrl.CompleteConnected()
	assert.ErrorIs(t, h.failure(t), boom)
}

func TestControllerConnectionClosed(t *testing.T) {
	h := newHarness(t, false)
	calls := 0
	h.ctrl.OnConnectionClosed(func() { calls++ })

	h.ctrl.CompleteConnectionClosed()
	assert.Equal(t, 1, calls)
	assert.True(t, h.ctrl.ConnectionClosed.IsCompleted())

	h.ctrl.CompleteConnectionClosed()
	assert.Equal(t, 1, calls)
}

func TestControllerConnectionClosedAfterFailure(t *testing.T) {
	h := newHarness(t, false)
	calls := 0
	h.ctrl.OnConnectionClosed(func() { calls++ })

	h.d.Fail(errors.New("io"))
	h.ctrl.CompleteConnectionClosed()
	assert.Equal(t, 1, calls)
}

func TestMdControllerSharesDispatcher(t *testing.T) {
	h := newHarness(t, true)
	assert.Same(t, h.d, h.md.Dispatcher)
	assert.False(t, h.md.ReflectionQueueDry.IsCompleted())
	assert.False(t, h.md.D2mAuthenticated.IsCompleted())
}
