// Package ratelimit counts attempts per identity in a sliding window. Old
// attempts are pruned when the identity is next seen, never by a timer.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fatflowers/fanpass/pkg/config"
	"github.com/fatflowers/fanpass/pkg/metrics"
)

// Store keeps the attempt log of every key.
type Store interface {
	// Hit records an attempt at now unless limit attempts already fall inside
	// the window ending at now. It returns the attempts inside the window
	// after the call and the time of the oldest of them.
	Hit(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (*Window, error)
	Reset(ctx context.Context, key string) error
}

type Window struct {
	Allowed bool
	Count   int
	Oldest  time.Time
}

// Decision describes an allowed attempt.
type Decision struct {
	Identity  string    `json:"identity"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// ErrRateLimited is wrapped by every *LimitedError.
var ErrRateLimited = errors.New("rate limited")

// LimitedError is returned instead of a Decision once the window is full.
type LimitedError struct {
	Identity string
	ResetAt  time.Time
}

func (e *LimitedError) Error() string {
	return fmt.Sprintf("too many attempts, retry after %s", e.ResetAt.UTC().Format(time.RFC3339))
}

func (e *LimitedError) Unwrap() error { return ErrRateLimited }

// RetryAfter is the wait from now until the oldest attempt leaves the window.
func (e *LimitedError) RetryAfter(now time.Time) time.Duration {
	if d := e.ResetAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// AsLimited unwraps a *LimitedError.
func AsLimited(err error) (*LimitedError, bool) {
	var le *LimitedError
	if errors.As(err, &le) {
		return le, true
	}
	return nil, false
}

type Limiter struct {
	store   Store
	scope   string
	limit   int
	window  time.Duration
	metrics *metrics.Business
	now     func() time.Time
}

func NewLimiter(store Store, scope string, cfg config.LimitConfig, m *metrics.Business) *Limiter {
	limit, window := cfg.Attempts, cfg.Window
	if limit <= 0 {
		limit = 3
	}
	if window <= 0 {
		window = time.Hour
	}
	return &Limiter{
		store:   store,
		scope:   scope,
		limit:   limit,
		window:  window,
		metrics: m,
		now:     time.Now,
	}
}

func (l *Limiter) SetClock(now func() time.Time) { l.now = now }

// Allow records one attempt for identity.
func (l *Limiter) Allow(ctx context.Context, identity string) (*Decision, error) {
	identity = normalize(identity)
	if identity == "" {
		return nil, errors.New("rate limit identity is empty")
	}
	now := l.now()
	w, err := l.store.Hit(ctx, l.key(identity), now, l.window, l.limit)
	if err != nil {
		l.metrics.LimiterDecision(l.scope, "error")
		return nil, fmt.Errorf("rate limit store: %w", err)
	}
	resetAt := now.Add(l.window)
	if !w.Oldest.IsZero() {
		resetAt = w.Oldest.Add(l.window)
	}
	if !w.Allowed {
		l.metrics.LimiterDecision(l.scope, "limited")
		return nil, &LimitedError{Identity: identity, ResetAt: resetAt}
	}
	l.metrics.LimiterDecision(l.scope, "allowed")
	return &Decision{
		Identity:  identity,
		Limit:     l.limit,
		Remaining: max(l.limit-w.Count, 0),
		ResetAt:   resetAt,
	}, nil
}

// Reset forgets every attempt of identity.
func (l *Limiter) Reset(ctx context.Context, identity string) error {
	return l.store.Reset(ctx, l.key(normalize(identity)))
}

func (l *Limiter) key(identity string) string {
	return l.scope + ":" + identity
}

func normalize(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}
