package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"eventrelay/internal/models"
)

// Limiter gates delivery attempts for one destination. A deferred
// attempt is not a failed attempt: Wait blocks until a token frees up
// or the context ends.
type Limiter interface {
	// Wait blocks until an attempt may proceed.
	Wait(ctx context.Context) error

	// Allow reports whether an attempt could proceed right now,
	// consuming a token when it can.
	Allow() bool
}

type tokenBucket struct {
	limiter *rate.Limiter
}

// New builds a token-bucket limiter from a destination's rate limit.
// The bucket refills at events-per-window and allows a burst of the
// full window allowance.
func New(rl models.RateLimit) Limiter {
	interval := rl.Per / time.Duration(rl.Events)
	return &tokenBucket{
		limiter: rate.NewLimiter(rate.Every(interval), rl.Events),
	}
}

func (t *tokenBucket) Wait(ctx context.Context) error {
	return t.limiter.Wait(ctx)
}

func (t *tokenBucket) Allow() bool {
	return t.limiter.Allow()
}

// NoOp always allows attempts (for testing or disabled rate limiting)
type NoOp struct{}

func (NoOp) Wait(ctx context.Context) error { return nil }

func (NoOp) Allow() bool { return true }
