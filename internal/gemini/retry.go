package gemini

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Caller rate-limits and retries Gemini requests. Retryable failures back off
// 1s, 2s, 4s... between attempts.
type Caller struct {
	Limiter     *rate.Limiter
	MaxAttempts int
	BaseBackoff time.Duration
}

// NewCaller allows rps requests per second with burst 1.
func NewCaller(rps float64, maxAttempts int) *Caller {
	var limiter *rate.Limiter
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return &Caller{Limiter: limiter, MaxAttempts: maxAttempts, BaseBackoff: time.Second}
}

// Do runs fn until it succeeds, fails with a non-retryable error, or the
// attempts run out.
func (c *Caller) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := c.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if c.Limiter != nil {
			if err := c.Limiter.Wait(ctx); err != nil {
				return fmt.Errorf("rate limiter: %w", err)
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		kind := Classify(lastErr)
		if !kind.Retryable() || attempt == attempts-1 {
			break
		}

		backoff := c.BaseBackoff << uint(attempt)
		log.Warn().Err(lastErr).
			Str("op", op).
			Str("kind", kind.String()).
			Int("attempt", attempt+1).
			Dur("backoff", backoff).
			Msg("Gemini call failed, retrying")

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("%s: %w", op, lastErr)
}
