package connection

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	t.Run("DefaultSequence", func(t *testing.T) {
		b := NewBackoff()

		// 1s, 2s, 4s, 8s, then capped at 10s.
		expected := []time.Duration{
			1 * time.Second,
			2 * time.Second,
			4 * time.Second,
			8 * time.Second,
			10 * time.Second,
			10 * time.Second,
			10 * time.Second,
		}

		for i, exp := range expected {
			if got := b.Next(); got != exp {
				t.Errorf("Attempt %d: got %v, want %v", i+1, got, exp)
			}
		}
	})

	t.Run("Monotonic", func(t *testing.T) {
		b := NewBackoff()
		prev := time.Duration(0)
		for i := 0; i < 50; i++ {
			d := b.Next()
			if d < prev {
				t.Fatalf("Attempt %d: delay %v smaller than %v", i+1, d, prev)
			}
			if d > ReconnectMaxInterval {
				t.Fatalf("Attempt %d: delay %v above max", i+1, d)
			}
			prev = d
		}
	})

	t.Run("Jitter", func(t *testing.T) {
		b := NewBackoffWithConfig(BackoffConfig{Jitter: 0.25})

		samples := make([]time.Duration, 10)
		for i := range samples {
			samples[i] = b.Peek()
		}

		for i, s := range samples {
			if s < 1*time.Second || s > time.Duration(float64(1*time.Second)*1.25)+time.Millisecond {
				t.Errorf("Sample %d: %v out of expected range [1s, 1.25s]", i, s)
			}
		}

		allSame := true
		for i := 1; i < len(samples); i++ {
			if samples[i] != samples[0] {
				allSame = false
				break
			}
		}
		if allSame {
			t.Error("All jittered samples are identical - jitter may not be working")
		}
	})

	t.Run("Reset", func(t *testing.T) {
		b := NewBackoff()

		for i := 0; i < 5; i++ {
			b.Next()
		}
		if b.Peek() != ReconnectMaxInterval {
			t.Errorf("Peek() = %v, want %v", b.Peek(), ReconnectMaxInterval)
		}

		b.Reset()

		if b.Attempts() != 0 {
			t.Errorf("Attempts() = %d after reset, want 0", b.Attempts())
		}
		if got := b.Next(); got != time.Second {
			t.Errorf("Next() = %v after reset, want 1s", got)
		}
	})

	t.Run("Attempts", func(t *testing.T) {
		b := NewBackoff()

		if b.Attempts() != 0 {
			t.Errorf("Initial Attempts() = %d, want 0", b.Attempts())
		}

		for i := 1; i <= 5; i++ {
			b.Next()
			if b.Attempts() != i {
				t.Errorf("After %d calls, Attempts() = %d", i, b.Attempts())
			}
		}
	})

	t.Run("CustomConfig", func(t *testing.T) {
		b := NewBackoffWithConfig(BackoffConfig{
			Base: 3,
			Unit: 100 * time.Millisecond,
			Max:  time.Second,
		})

		expected := []time.Duration{
			100 * time.Millisecond,
			300 * time.Millisecond,
			900 * time.Millisecond,
			1 * time.Second, // Max
			1 * time.Second,
		}

		for i, exp := range expected {
			got := b.Next()
			if got != exp {
				t.Errorf("Attempt %d: got %v, want %v", i, got, exp)
			}
		}
	})

	t.Run("ExponentBounded", func(t *testing.T) {
		b := NewBackoffWithConfig(BackoffConfig{Unit: time.Millisecond, Max: time.Hour})
		var got time.Duration
		for i := 0; i < 40; i++ {
			got = b.Next()
		}
		if want := 1024 * time.Millisecond; got != want {
			t.Errorf("Delay after 40 attempts = %v, want %v", got, want)
		}
	})
}

func TestBackoffSequence(t *testing.T) {
	seq := BackoffSequence()
	b := NewBackoff()

	for i, want := range seq {
		if got := b.Next(); got != want {
			t.Errorf("Element %d: sequence has %v, backoff gives %v", i, want, got)
		}
	}
	if seq[len(seq)-1] != ReconnectMaxInterval {
		t.Errorf("Last element = %v, want %v", seq[len(seq)-1], ReconnectMaxInterval)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "DISCONNECTED"},
		{StateConnecting, "CONNECTING"},
		{StateConnected, "CONNECTED"},
		{StateLoggedIn, "LOGGEDIN"},
		{State(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}

	if names := StateNames(); len(names) != 4 || names[3] != "LOGGEDIN" {
		t.Errorf("StateNames() = %v", names)
	}
}

func TestTimedLockProvider(t *testing.T) {
	t.Run("ReleaseIsIdempotent", func(t *testing.T) {
		p := NewTimedLockProvider(nil)
		l := p.Acquire(time.Minute, LockTagPurgeIncomingMessageQueue)

		if !l.IsHeld() || !p.IsHeld() {
			t.Fatal("lock should be held")
		}

		done := make(chan struct{})
		for i := 0; i < 4; i++ {
			go func() {
				l.Release()
				done <- struct{}{}
			}()
		}
		for i := 0; i < 4; i++ {
			<-done
		}

		if l.IsHeld() {
			t.Error("IsHeld() = true after release")
		}
		if n := p.Held(LockTagPurgeIncomingMessageQueue); n != 0 {
			t.Errorf("Held() = %d, want 0", n)
		}
	})

	t.Run("Timeout", func(t *testing.T) {
		p := NewTimedLockProvider(nil)
		l := p.Acquire(10*time.Millisecond, LockTagInboundMessage)

		deadline := time.Now().Add(2 * time.Second)
		for l.IsHeld() && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		if l.IsHeld() || p.IsHeld() {
			t.Fatal("lock should have timed out")
		}

		// Releasing after the timeout must not underflow the count.
		l.Release()
		if n := p.Held(LockTagInboundMessage); n != 0 {
			t.Errorf("Held() = %d, want 0", n)
		}
	})

	t.Run("RefCounted", func(t *testing.T) {
		var changes atomic.Int32
		p := NewTimedLockProvider(nil)
		p.OnChange = func(bool) { changes.Add(1) }

		a := p.Acquire(time.Minute, LockTagPurgeIncomingMessageQueue)
		b := p.Acquire(time.Minute, LockTagPurgeIncomingMessageQueue)
		if n := p.Held(LockTagPurgeIncomingMessageQueue); n != 2 {
			t.Errorf("Held() = %d, want 2", n)
		}

		a.Release()
		if !p.IsHeld() {
			t.Error("provider should still be held")
		}
		b.Release()
		if p.IsHeld() {
			t.Error("provider should be released")
		}
		if n := changes.Load(); n != 2 {
			t.Errorf("OnChange called %d times, want 2", n)
		}
	})
}

func TestLockTagString(t *testing.T) {
	if got := LockTagPurgeIncomingMessageQueue.String(); got != "PURGE_INCOMING_MESSAGE_QUEUE" {
		t.Errorf("String() = %q", got)
	}
	if got := LockTag(9).String(); got != "UNKNOWN" {
		t.Errorf("String() = %q", got)
	}
}
