package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Window is the length of a rate-limiting window.
const Window = time.Second

// Limiter admits at most rate dispatches per rolling one-second window.
//
// Admissions are serialized: a caller that has to wait for the next window
// holds the admission slot while it sleeps, so goroutines queued behind it
// cannot overshoot the window once it resets.
type Limiter struct {
	clock clock.Clock
	slot  chan struct{}

	mu          sync.Mutex
	rate        int
	nextRate    int
	windowStart time.Time
	count       int
}

// NewLimiter creates a limiter admitting rate calls per second (minimum 1).
func NewLimiter(clk clock.Clock, rate int) *Limiter {
	if clk == nil {
		clk = clock.New()
	}
	rate = clampRate(rate)
	return &Limiter{
		clock:    clk,
		slot:     make(chan struct{}, 1),
		rate:     rate,
		nextRate: rate,
	}
}

// Admit blocks until a dispatch is permitted and returns how long it waited.
// It returns ctx.Err() if ctx ends while queued or waiting.
func (l *Limiter) Admit(ctx context.Context) (time.Duration, error) {
	select {
	case l.slot <- struct{}{}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	defer func() { <-l.slot }()

	now := l.clock.Now()

	l.mu.Lock()
	if now.Sub(l.windowStart) > Window {
		l.resetLocked(now)
	}
	if l.count < l.rate {
		l.count++
		l.mu.Unlock()
		return 0, nil
	}
	wait := Window - now.Sub(l.windowStart)
	l.mu.Unlock()

	if err := sleep(ctx, l.clock, wait); err != nil {
		return 0, err
	}

	l.mu.Lock()
	l.resetLocked(l.clock.Now())
	l.count++
	l.mu.Unlock()

	if wait < 0 {
		wait = 0
	}
	return wait, nil
}

// SetRate changes the ceiling. Values below 1 clamp to 1. The new rate takes
// effect when the next window opens.
func (l *Limiter) SetRate(rate int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextRate = clampRate(rate)
}

// Rate returns the configured rate, including a pending change.
func (l *Limiter) Rate() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nextRate
}

// WindowStart returns the start of the current window (zero before the first admission).
func (l *Limiter) WindowStart() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.windowStart
}

func (l *Limiter) resetLocked(now time.Time) {
	l.windowStart = now
	l.count = 0
	l.rate = l.nextRate
}

func clampRate(rate int) int {
	if rate < 1 {
		return 1
	}
	return rate
}
