package domain

import (
	"context"
	"time"
)

// QuoteCache provides fast access to recent quotes so the risk engine does not
// hit the broker for every pricing-dependent check.
type QuoteCache interface {
	SetQuote(ctx context.Context, symbol string, q Quote, ts time.Time) error
	// GetQuote returns ErrNotFound when no quote is cached or the cached quote
	// has expired.
	GetQuote(ctx context.Context, symbol string) (Quote, time.Time, error)
}

// LockManager provides distributed locking. The order router uses it as a
// per-symbol advisory lock around the risk-check-then-submit sequence.
type LockManager interface {
	// Acquire returns an unlock function on success, or ErrLockHeld when the
	// lock is held by another party.
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
