package oneshot

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalCompleteOnce(t *testing.T) {
	s := New[int]()
	assert.False(t, s.IsCompleted())

	_, err := s.Result()
	assert.ErrorIs(t, err, ErrNotCompleted)

	assert.True(t, s.Complete(1))
	assert.False(t, s.Complete(2))
	assert.False(t, s.CompleteWithError(errors.New("late")))

	v, err := s.Result()
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.True(t, s.IsCompleted())
}

func TestSignalCompleteWithError(t *testing.T) {
	s := NewEvent()
	boom := errors.New("boom")
	assert.True(t, s.CompleteWithError(boom))

	_, err := s.Await(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestSignalAwait(t *testing.T) {
	t.Run("WakesAllWaiters", func(t *testing.T) {
		s := New[string]()
		var wg sync.WaitGroup
		var woken atomic.Int32

		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				v, err := s.Await(context.Background())
				if err == nil && v == "ok" {
					woken.Add(1)
				}
			}()
		}

		time.Sleep(10 * time.Millisecond)
		s.Complete("ok")
		wg.Wait()
		assert.Equal(t, int32(5), woken.Load())
	})

	t.Run("ContextCancelled", func(t *testing.T) {
		s := NewEvent()
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := s.Await(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.False(t, s.IsCompleted())
	})

	t.Run("DoneChannel", func(t *testing.T) {
		s := NewEvent()
		select {
		case <-s.Done():
			t.Fatal("done before completion")
		default:
		}
		s.Complete(Unit{})
		select {
		case <-s.Done():
		case <-time.After(time.Second):
			t.Fatal("done not closed")
		}
	})
}
