package connection

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultLockTimeout bounds how long a connection attempt keeps the lock
// while the server delivers queued messages.
const DefaultLockTimeout = 60 * time.Second

// LockTag names the reason a lock was acquired.
type LockTag uint8

const (
	LockTagPurgeIncomingMessageQueue LockTag = iota
	LockTagInboundMessage
)

// String returns the tag name.
func (t LockTag) String() string {
	switch t {
	case LockTagPurgeIncomingMessageQueue:
		return "PURGE_INCOMING_MESSAGE_QUEUE"
	case LockTagInboundMessage:
		return "INBOUND_MESSAGE"
	default:
		return "UNKNOWN"
	}
}

// Lock keeps the host from suspending the process.
type Lock interface {
	// Release releases the lock. Only the first call has an effect.
	Release()

	// IsHeld reports false once the lock was released or timed out.
	IsHeld() bool
}

// LockProvider hands out locks.
type LockProvider interface {
	Acquire(timeout time.Duration, tag LockTag) Lock
}

// TimedLockProvider counts the locks held per tag. Each lock is released
// automatically when its timeout expires.
type TimedLockProvider struct {
	logger *slog.Logger

	mu   sync.Mutex
	held map[LockTag]int

	// OnChange is called with true when the first lock is acquired and with
	// false when the last one is released. It must be set before use.
	OnChange func(held bool)
}

// NewTimedLockProvider creates a provider without held locks.
func NewTimedLockProvider(logger *slog.Logger) *TimedLockProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &TimedLockProvider{
		logger: logger.With("component", "connection-lock"),
		held:   make(map[LockTag]int),
	}
}

// Acquire implements LockProvider.
func (p *TimedLockProvider) Acquire(timeout time.Duration, tag LockTag) Lock {
	p.mu.Lock()
	first := p.total() == 0
	p.held[tag]++
	p.mu.Unlock()

	p.logger.Debug("lock acquired", "tag", tag, "timeout", timeout)
	if first && p.OnChange != nil {
		p.OnChange(true)
	}

	l := &timedLock{provider: p, tag: tag}
	l.timer = time.AfterFunc(timeout, func() {
		if l.release() {
			p.logger.Warn("lock timed out", "tag", tag, "timeout", timeout)
		}
	})
	return l
}

// IsHeld reports whether any lock is held.
func (p *TimedLockProvider) IsHeld() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total() > 0
}

// Held returns the number of locks held for tag.
func (p *TimedLockProvider) Held(tag LockTag) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.held[tag]
}

func (p *TimedLockProvider) total() int {
	n := 0
	for _, c := range p.held {
		n += c
	}
	return n
}

func (p *TimedLockProvider) release(tag LockTag) {
	p.mu.Lock()
	p.held[tag]--
	last := p.total() == 0
	p.mu.Unlock()

	p.logger.Debug("lock released", "tag", tag)
	if last && p.OnChange != nil {
		p.OnChange(false)
	}
}

type timedLock struct {
	provider *TimedLockProvider
	tag      LockTag
	timer    *time.Timer
	released atomic.Bool
}

func (l *timedLock) Release() {
	if l.release() {
		l.timer.Stop()
	}
}

func (l *timedLock) release() bool {
	if !l.released.CompareAndSwap(false, true) {
		return false
	}
	l.provider.release(l.tag)
	return true
}

func (l *timedLock) IsHeld() bool {
	return !l.released.Load()
}
