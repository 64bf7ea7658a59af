// Package retry implements the exponential-backoff-with-jitter policy used
// for the pipeline's outbound calls (feed fetch, URL fetch, LLM call,
// knowledge-base publish, the Collector's stream append, and the Scheduler's
// HTTP triggers). The bus methods themselves do not retry.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Config controls backoff timing. A zero-value Config makes a single attempt
// with no retry; Default returns the standard policy.
type Config struct {
	MaxRetries     int
	BaseDelay      time.Duration
	BackoffFactor  float64
	MaxDelay       time.Duration
	JitterFraction float64
}

// Default returns the spec's default retry policy: max_retries=3,
// base_delay=1s, backoff_factor=2, max_delay=10*base_delay, 10% jitter.
func Default() Config {
	return Config{
		MaxRetries:     3,
		BaseDelay:      time.Second,
		BackoffFactor:  2.0,
		MaxDelay:       10 * time.Second,
		JitterFraction: 0.1,
	}
}

// Delay computes the backoff duration before attempt n (0-indexed), clamped
// to MaxDelay and jittered by ±JitterFraction.
func (c Config) Delay(attempt int) time.Duration {
	d := float64(c.BaseDelay) * pow(c.BackoffFactor, attempt)
	max := float64(c.MaxDelay)
	if d > max {
		d = max
	}
	jitter := 1 + (rand.Float64()*2-1)*c.JitterFraction
	return time.Duration(d * jitter)
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

// Error wraps the last error seen after exhausting all retries.
type Error struct {
	Attempts int
	Last     error
}

func (e *Error) Error() string {
	return "retry: exhausted after " + itoa(e.Attempts) + " attempts: " + e.Last.Error()
}

func (e *Error) Unwrap() error { return e.Last }

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Do invokes fn up to cfg.MaxRetries+1 times, sleeping with Delay between
// attempts, and returns once fn succeeds. It aborts early if ctx is
// cancelled. If every attempt fails, it returns a *Error wrapping the final
// failure.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == cfg.MaxRetries {
			break
		}
		select {
		case <-time.After(cfg.Delay(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return &Error{Attempts: cfg.MaxRetries + 1, Last: lastErr}
}
