// Package retry wraps flaky calls (model requests, mostly) in exponential
// backoff.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Config controls backoff between attempts
type Config struct {
	MaxRetries int           `koanf:"max_retries"`
	BaseDelay  time.Duration `koanf:"base_delay"`
	MaxDelay   time.Duration `koanf:"max_delay"`
	Multiplier float64       `koanf:"multiplier"`
	Jitter     bool          `koanf:"jitter"`

	// Retryable decides whether a failed attempt is worth repeating.
	// nil means IsRetryableError.
	Retryable func(error) bool `koanf:"-"`
}

// Result describes how an operation went across all attempts
type Result struct {
	Attempts      int
	TotalDuration time.Duration
	LastError     error
	Reasons       []string
}

// Err returns nil when the operation eventually succeeded
func (r Result) Err() error { return r.LastError }

func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// ModelConfig is tuned for model provider calls, which are slow and rate limited
func ModelConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  2 * time.Second,
		MaxDelay:   60 * time.Second,
		Multiplier: 2.5,
		Jitter:     true,
	}
}

// Do runs op until it succeeds, fails with a non-retryable error, runs out of
// attempts or ctx ends. name only labels log lines.
func Do(ctx context.Context, cfg Config, name string, op func(ctx context.Context) error) Result {
	retryable := cfg.Retryable
	if retryable == nil {
		retryable = IsRetryableError
	}

	start := time.Now()
	res := Result{Reasons: make([]string, 0)}

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		res.Attempts = attempt + 1

		err := op(ctx)
		if err == nil {
			res.LastError = nil
			res.TotalDuration = time.Since(start)
			if attempt > 0 {
				log.Debug().Str("op", name).Int("attempts", res.Attempts).Dur("took", res.TotalDuration).Msg("Operation succeeded after retries")
			}
			return res
		}

		res.LastError = err
		res.Reasons = append(res.Reasons, err.Error())

		if ctx.Err() != nil {
			res.LastError = ctx.Err()
			res.TotalDuration = time.Since(start)
			return res
		}
		if attempt >= cfg.MaxRetries || !retryable(err) {
			res.TotalDuration = time.Since(start)
			log.Warn().Err(err).Str("op", name).Int("attempts", res.Attempts).Msg("Operation failed")
			return res
		}

		delay := calculateDelay(cfg, attempt)
		log.Warn().Err(err).
			Str("op", name).
			Int("attempt", attempt+1).
			Int("max_attempts", cfg.MaxRetries+1).
			Dur("backoff", delay).
			Msg("Operation failed, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			res.LastError = ctx.Err()
			res.TotalDuration = time.Since(start)
			return res
		case <-timer.C:
		}
	}

	res.TotalDuration = time.Since(start)
	return res
}

// calculateDelay is BaseDelay * Multiplier^attempt capped at MaxDelay, with up
// to 10% jitter either way.
func calculateDelay(cfg Config, attempt int) time.Duration {
	delay := float64(cfg.BaseDelay) * math.Pow(cfg.Multiplier, float64(attempt))
	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}

	if cfg.Jitter {
		jitterRange := delay * 0.1
		delay += (rand.Float64() - 0.5) * 2 * jitterRange
		if delay < 0 {
			delay = float64(cfg.BaseDelay)
		}
	}

	return time.Duration(delay)
}

var retryableFragments = []string{
	"connection refused",
	"connection reset",
	"connection timeout",
	"timeout",
	"temporary failure",
	"service unavailable",
	"too many requests",
	"rate limit",
	"429",
	"502",
	"503",
	"504",
	"dns lookup failed",
	"no such host",
	"network unreachable",
	"broken pipe",
	"context deadline exceeded",
}

// IsRetryableError recognizes transient network and provider errors.
// Cancellation is never retryable.
func IsRetryableError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range retryableFragments {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}
