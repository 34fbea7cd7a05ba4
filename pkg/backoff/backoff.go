// Package backoff provides exponential backoff and a retry loop.
package backoff

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Config for exponential backoff. Zero values use defaults.
type Config struct {
	Initial time.Duration // default: 100ms
	Max     time.Duration // default: 5s
	Jitter  float64       // spread each delay by +/- this fraction, 0..1
}

// Exponential calculates exponential backoff for a given attempt.
// Attempt 1 returns initial, attempt 2 returns initial*2, etc.
func Exponential(attempt int, cfg *Config) time.Duration {
	initial := 100 * time.Millisecond
	maxBackoff := 5 * time.Second
	jitter := 0.0
	if cfg != nil {
		if cfg.Initial > 0 {
			initial = cfg.Initial
		}
		if cfg.Max > 0 {
			maxBackoff = cfg.Max
		}
		jitter = min(max(cfg.Jitter, 0), 1)
	}

	delay := float64(initial)
	if attempt > 1 {
		delay *= math.Pow(2.0, float64(attempt-1))
	}
	delay = min(delay, float64(maxBackoff))
	if jitter > 0 {
		delay *= 1 + jitter*(2*rand.Float64()-1)
	}
	return time.Duration(delay)
}

// Policy retries an operation with exponential backoff between tries.
type Policy struct {
	Config
	Attempts  int                          // total tries including the first (default: 1)
	Permanent func(error) bool             // errors that end the loop immediately
	OnRetry   func(attempt int, err error) // called before each retry
}

// Do runs op until it succeeds, fails permanently, runs out of attempts,
// or ctx ends. It returns the last error from op, or ctx.Err().
func (p Policy) Do(ctx context.Context, op func(context.Context) error) error {
	attempts := max(p.Attempts, 1)

	var lastErr error
	for attempt := range attempts {
		if attempt > 0 {
			if p.OnRetry != nil {
				p.OnRetry(attempt, lastErr)
			}
			timer := time.NewTimer(Exponential(attempt, &p.Config))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if p.Permanent != nil && p.Permanent(lastErr) {
			return lastErr
		}
	}
	return lastErr
}
