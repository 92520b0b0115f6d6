// Package ratelimit paces calls to the existence-check endpoint with a token bucket.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rescale/csvup/internal/constants"
	"github.com/rescale/csvup/internal/logging"
)

// Limiter is a token bucket. A caller that finds the bucket empty reserves
// the next token and sleeps until it is due; tokens may go negative while
// reservations are outstanding.
type Limiter struct {
	rate  float64 // tokens per second
	burst float64

	mu       sync.Mutex
	tokens   float64
	last     time.Time
	lastWarn time.Time
	logger   *logging.Logger
	now      func() time.Time
}

// NewLimiter creates a full bucket holding burst tokens and refilling at
// rate tokens per second.
func NewLimiter(rate, burst float64) *Limiter {
	return &Limiter{
		rate:   rate,
		burst:  burst,
		tokens: burst,
		last:   time.Now(),
		logger: logging.NewNopLogger(),
		now:    time.Now,
	}
}

// NewExistsLimiter creates the limiter used by the existence check.
// Users tend to pick, cancel and re-pick files quickly; the burst absorbs
// that while the refill rate keeps a stuck loop from hammering the API.
func NewExistsLimiter() *Limiter {
	return NewLimiter(constants.ExistsRatePerSec, constants.ExistsBurstCapacity)
}

// SetLogger sets the logger used for long-wait warnings.
func (l *Limiter) SetLogger(logger *logging.Logger) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	l.mu.Lock()
	l.logger = logger
	l.mu.Unlock()
}

// Allow takes a token if one is available now.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.advanceLocked()
	if l.tokens < 1 {
		return false
	}
	l.tokens--
	return true
}

// Wait takes a token, sleeping until one is due. If ctx ends first the
// reservation is returned to the bucket and ctx's error is returned.
func (l *Limiter) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	delay := l.reserve()
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		l.tokens++
		l.mu.Unlock()
		return ctx.Err()
	}
}

// reserve consumes a token and returns how long until it is backed.
func (l *Limiter) reserve() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.advanceLocked()
	l.tokens--
	if l.tokens >= 0 {
		return 0
	}

	delay := time.Duration(-l.tokens / l.rate * float64(time.Second))
	if delay > constants.RateLimitWarningThreshold && l.now().Sub(l.lastWarn) > constants.RateLimitWarningInterval {
		l.logger.Warn().Dur("wait", delay).Msg("Rate limited: delaying existence check")
		l.lastWarn = l.now()
	}
	return delay
}

func (l *Limiter) advanceLocked() {
	now := l.now()
	if elapsed := now.Sub(l.last); elapsed > 0 {
		l.tokens = min(l.burst, l.tokens+elapsed.Seconds()*l.rate)
	}
	l.last = now
}

// Tokens returns the tokens available now. It is negative while callers
// are waiting on reservations.
func (l *Limiter) Tokens() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.advanceLocked()
	return l.tokens
}
