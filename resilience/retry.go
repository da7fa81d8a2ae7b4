package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/structa/flowgate/core"
)

// RetryConfig configures exponential-backoff retry.
type RetryConfig struct {
	RetryCount           int           // additional attempts after the first, 0..10
	BaseDelay            time.Duration // 100ms..60s
	MaxDelay             time.Duration // 1s..1h
	ExponentialBase      float64       // 1.1..10
	Jitter               bool          // uniform factor in [0.5, 1.0]
	RetryOnTimeout       bool
	RetryOnTransientOnly bool
}

// DefaultRetryConfig provides sensible defaults.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		RetryCount:      2,
		BaseDelay:       time.Second,
		MaxDelay:        30 * time.Second,
		ExponentialBase: 2.0,
		Jitter:          true,
		RetryOnTimeout:  false,
	}
}

// normalized returns a copy with all fields clamped into their valid ranges.
func (c *RetryConfig) normalized() RetryConfig {
	out := *c
	out.RetryCount = clampInt(out.RetryCount, 0, 10)
	out.BaseDelay = clampDuration(out.BaseDelay, 100*time.Millisecond, 60*time.Second)
	out.MaxDelay = clampDuration(out.MaxDelay, time.Second, time.Hour)
	out.ExponentialBase = clampFloat(out.ExponentialBase, 1.1, 10)
	return out
}

// AttemptRecord captures a single failed attempt.
type AttemptRecord struct {
	Attempt int           `json:"attempt"`
	Class   ErrorClass    `json:"class"`
	Delay   time.Duration `json:"delay"`
	Error   string        `json:"error"`
}

// RetryMetadata summarises the retry history of an operation.
type RetryMetadata struct {
	Attempts   int             `json:"attempts"`
	TotalDelay time.Duration   `json:"total_delay"`
	FinalClass ErrorClass      `json:"final_class,omitempty"`
	Records    []AttemptRecord `json:"records,omitempty"`
}

// Operation is a fallible unit of work run under retry.
type Operation func(ctx context.Context) (interface{}, error)

// Retry runs op with bounded exponential backoff. On success it returns the
// value and the retry metadata. On exhaustion it re-raises the last error
// unchanged alongside the metadata. Context cancellation is returned
// immediately and is never treated as a retryable failure.
func Retry(ctx context.Context, config *RetryConfig, op Operation) (interface{}, *RetryMetadata, error) {
	if config == nil {
		config = DefaultRetryConfig()
	}
	cfg := config.normalized()
	meta := &RetryMetadata{}

	var lastErr error
	maxAttempts := cfg.RetryCount + 1

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, meta, ctx.Err()
		default:
		}

		meta.Attempts = attempt
		value, err := op(ctx)
		if err == nil {
			return value, meta, nil
		}
		lastErr = err

		if core.IsCancellation(err) {
			return nil, meta, err
		}

		class := Classify(err)
		meta.FinalClass = class

		if !shouldRetry(&cfg, class, attempt, maxAttempts) {
			meta.Records = append(meta.Records, AttemptRecord{Attempt: attempt, Class: class, Error: err.Error()})
			break
		}

		delay := backoffDelay(&cfg, attempt)
		meta.Records = append(meta.Records, AttemptRecord{Attempt: attempt, Class: class, Delay: delay, Error: err.Error()})
		meta.TotalDelay += delay

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, meta, ctx.Err()
		case <-timer.C:
		}
	}

	return nil, meta, lastErr
}

// shouldRetry applies the retry decision: retry iff attempts remain, the
// error is not permanent, timeouts are allowed when classified TIMEOUT, and
// unknown errors are allowed unless transient-only is set.
func shouldRetry(cfg *RetryConfig, class ErrorClass, attempt, maxAttempts int) bool {
	if attempt >= maxAttempts {
		return false
	}
	if class == ClassPermanent {
		return false
	}
	if class == ClassTimeout && !cfg.RetryOnTimeout {
		return false
	}
	if class == ClassUnknown && cfg.RetryOnTransientOnly {
		return false
	}
	return true
}

// backoffDelay computes min(maxDelay, baseDelay * base^attempt), optionally
// scaled by a uniform jitter factor in [0.5, 1.0].
func backoffDelay(cfg *RetryConfig, attempt int) time.Duration {
	delay := time.Duration(float64(cfg.BaseDelay) * math.Pow(cfg.ExponentialBase, float64(attempt)))
	if delay > cfg.MaxDelay || delay < 0 {
		delay = cfg.MaxDelay
	}
	if cfg.Jitter {
		delay = time.Duration(float64(delay) * (0.5 + 0.5*rand.Float64()))
	}
	return delay
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampDuration(v, lo, hi time.Duration) time.Duration {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
