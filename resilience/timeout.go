package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// TimeoutStrategy selects what happens when the deadline expires.
type TimeoutStrategy string

const (
	// StrategyFail returns a failed TimeoutResult carrying a TimeoutError.
	StrategyFail TimeoutStrategy = "FAIL"
	// StrategyFallback returns success with the configured fallback value.
	StrategyFallback TimeoutStrategy = "FALLBACK"
	// StrategySkip returns a failed result marked skipped.
	StrategySkip TimeoutStrategy = "SKIP"
)

// TimeoutError reports an expired operation deadline. Its message contains
// "timed out" so the retry classifier maps it to TIMEOUT.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s timed out after %s", e.Op, e.Timeout)
	}
	return fmt.Sprintf("operation timed out after %s", e.Timeout)
}

// TimeoutConfig bounds a single operation.
type TimeoutConfig struct {
	Op            string
	Timeout       time.Duration
	Strategy      TimeoutStrategy
	FallbackValue interface{}
	// Cleanup is invoked exactly once when the deadline expires, before the
	// result is returned. The in-flight operation keeps its cancelled context
	// and is expected to unwind cooperatively.
	Cleanup func()
}

// TimeoutResult is the outcome of a deadline-bounded operation.
type TimeoutResult struct {
	Value    interface{}
	TimedOut bool
	Skipped  bool
	Err      error
}

// Succeeded reports whether the operation produced a usable value.
func (r *TimeoutResult) Succeeded() bool {
	return r.Err == nil
}

// RunWithTimeout executes op under the configured deadline. A zero timeout
// runs the operation directly. External cancellation of ctx propagates
// through unchanged: the surrounding ctx error is returned, not a timeout.
func RunWithTimeout(ctx context.Context, config *TimeoutConfig, op Operation) *TimeoutResult {
	if config == nil || config.Timeout <= 0 {
		value, err := op(ctx)
		return &TimeoutResult{Value: value, Err: err}
	}

	opCtx, cancel := context.WithTimeout(ctx, config.Timeout)
	defer cancel()

	type outcome struct {
		value interface{}
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		value, err := op(opCtx)
		done <- outcome{value: value, err: err}
	}()

	var cleanupOnce sync.Once
	runCleanup := func() {
		if config.Cleanup != nil {
			cleanupOnce.Do(config.Cleanup)
		}
	}

	select {
	case out := <-done:
		return &TimeoutResult{Value: out.value, Err: out.err}

	case <-opCtx.Done():
		// External cancellation wins over the deadline.
		if ctx.Err() != nil {
			return &TimeoutResult{Err: ctx.Err()}
		}
		cancel() // cooperative cancellation of the in-flight operation
		runCleanup()

		timeoutErr := &TimeoutError{Op: config.Op, Timeout: config.Timeout}
		switch config.Strategy {
		case StrategyFallback:
			return &TimeoutResult{Value: config.FallbackValue, TimedOut: true}
		case StrategySkip:
			return &TimeoutResult{TimedOut: true, Skipped: true, Err: timeoutErr}
		default:
			return &TimeoutResult{TimedOut: true, Err: timeoutErr}
		}
	}
}
