package connection

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Reconnect backoff defaults.
const (
	// ReconnectBase is the base of the exponential backoff.
	ReconnectBase = 2.0

	// ReconnectUnit is the delay unit the exponent is applied to.
	ReconnectUnit = time.Second

	// ReconnectMaxInterval caps the reconnect delay.
	ReconnectMaxInterval = 10 * time.Second

	// MaxBackoffExponent bounds the exponent so the power never overflows.
	MaxBackoffExponent = 10
)

// BackoffConfig allows customizing backoff parameters.
type BackoffConfig struct {
	Base float64
	Unit time.Duration
	Max  time.Duration

	// Jitter adds up to this fraction of the delay. Zero disables it.
	Jitter float64
}

// DefaultBackoffConfig returns the reconnect backoff of a server connection:
// 1s, 2s, 4s, 8s, then 10s for every further attempt.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Base: ReconnectBase,
		Unit: ReconnectUnit,
		Max:  ReconnectMaxInterval,
	}
}

// Backoff counts reconnect attempts since the last login and calculates the
// delay before the next one.
type Backoff struct {
	mu sync.Mutex

	base   float64
	unit   time.Duration
	max    time.Duration
	jitter float64

	attempts int

	rng *rand.Rand
}

// NewBackoff creates a backoff calculator with default settings.
func NewBackoff() *Backoff {
	return NewBackoffWithConfig(DefaultBackoffConfig())
}

// NewBackoffWithConfig creates a backoff calculator with custom settings.
// Zero values are replaced by the defaults.
func NewBackoffWithConfig(cfg BackoffConfig) *Backoff {
	if cfg.Base <= 1 {
		cfg.Base = ReconnectBase
	}
	if cfg.Unit <= 0 {
		cfg.Unit = ReconnectUnit
	}
	if cfg.Max <= 0 {
		cfg.Max = ReconnectMaxInterval
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}

	return &Backoff{
		base:   cfg.Base,
		unit:   cfg.Unit,
		max:    cfg.Max,
		jitter: cfg.Jitter,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next records a failed attempt and returns the delay before the next one.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.attempts++
	return b.addJitter(b.delay(b.attempts))
}

// Peek returns the delay Next would return without recording an attempt.
func (b *Backoff) Peek() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addJitter(b.delay(b.attempts + 1))
}

// Reset clears the attempt counter. Call this after a successful login.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts = 0
}

// Attempts returns the number of attempts since the last reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// delay is min(base^min(attempts-1, MaxBackoffExponent), max) in units.
func (b *Backoff) delay(attempts int) time.Duration {
	exponent := min(max(attempts-1, 0), MaxBackoffExponent)
	d := time.Duration(math.Pow(b.base, float64(exponent)) * float64(b.unit))
	return min(d, b.max)
}

// addJitter adds random jitter to a delay.
func (b *Backoff) addJitter(d time.Duration) time.Duration {
	if b.jitter <= 0 {
		return d
	}
	return d + time.Duration(float64(d)*b.jitter*b.rng.Float64())
}

// BackoffSequence returns the default delays up to the maximum.
func BackoffSequence() []time.Duration {
	return []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		10 * time.Second, // max
	}
}
