package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig(retries int) *RetryConfig {
	return &RetryConfig{
		RetryCount:      retries,
		BaseDelay:       100 * time.Millisecond,
		MaxDelay:        time.Second,
		ExponentialBase: 1.1,
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	value, meta, err := Retry(context.Background(), fastConfig(3), func(ctx context.Context) (interface{}, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("connection refused")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value != "ok" {
		t.Errorf("expected ok, got %v", value)
	}
	if meta.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", meta.Attempts)
	}
	if len(meta.Records) != 2 {
		t.Errorf("expected 2 failure records, got %d", len(meta.Records))
	}
	if meta.Records[0].Class != ClassTransient {
		t.Errorf("expected TRANSIENT classification, got %s", meta.Records[0].Class)
	}
}

func TestRetryCountZeroRunsExactlyOnce(t *testing.T) {
	calls := 0
	_, meta, err := Retry(context.Background(), fastConfig(0), func(ctx context.Context) (interface{}, error) {
		calls++
		return nil, errors.New("connection refused")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 || meta.Attempts != 1 {
		t.Errorf("retryCount=0 must run exactly one attempt, ran %d", calls)
	}
}

func TestRetryExhaustionReturnsLastErrorUnchanged(t *testing.T) {
	wantErr := errors.New("connection reset by peer")
	calls := 0
	_, meta, err := Retry(context.Background(), fastConfig(2), func(ctx context.Context) (interface{}, error) {
		calls++
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("exhaustion must re-raise the last error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("retryCount=2 means 3 attempts, got %d", calls)
	}
	if meta.FinalClass != ClassTransient {
		t.Errorf("expected TRANSIENT final class, got %s", meta.FinalClass)
	}
}

func TestPermanentErrorsAreNotRetried(t *testing.T) {
	calls := 0
	_, _, err := Retry(context.Background(), fastConfig(5), func(ctx context.Context) (interface{}, error) {
		calls++
		return nil, errors.New("403 forbidden")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("permanent errors must not retry, got %d calls", calls)
	}
}

func TestTimeoutRetryGate(t *testing.T) {
	timeoutErr := &TimeoutError{Timeout: time.Second}

	calls := 0
	cfg := fastConfig(2)
	_, _, _ = Retry(context.Background(), cfg, func(ctx context.Context) (interface{}, error) {
		calls++
		return nil, timeoutErr
	})
	if calls != 1 {
		t.Errorf("timeouts must not retry when RetryOnTimeout=false, got %d calls", calls)
	}

	calls = 0
	cfg.RetryOnTimeout = true
	_, _, _ = Retry(context.Background(), cfg, func(ctx context.Context) (interface{}, error) {
		calls++
		return nil, timeoutErr
	})
	if calls != 3 {
		t.Errorf("timeouts should retry when RetryOnTimeout=true, got %d calls", calls)
	}
}

func TestTransientOnlyBlocksUnknown(t *testing.T) {
	cfg := fastConfig(3)
	cfg.RetryOnTransientOnly = true
	calls := 0
	_, _, _ = Retry(context.Background(), cfg, func(ctx context.Context) (interface{}, error) {
		calls++
		return nil, errors.New("some opaque failure")
	})
	if calls != 1 {
		t.Errorf("unknown errors must not retry in transient-only mode, got %d calls", calls)
	}
}

func TestRetryDoesNotConsumeCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := Retry(ctx, fastConfig(5), func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("connection refused")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("cancellation must propagate unchanged, got %v", err)
	}
}

func TestBackoffDelayNeverExceedsMax(t *testing.T) {
	cfg := RetryConfig{
		BaseDelay:       2 * time.Second,
		MaxDelay:        5 * time.Second,
		ExponentialBase: 3,
	}
	norm := cfg.normalized()
	for attempt := 1; attempt <= 10; attempt++ {
		if d := backoffDelay(&norm, attempt); d > norm.MaxDelay {
			t.Errorf("attempt %d: delay %s exceeds max %s", attempt, d, norm.MaxDelay)
		}
	}
}

func TestJitterStaysInRange(t *testing.T) {
	cfg := RetryConfig{
		BaseDelay:       time.Second,
		MaxDelay:        time.Second,
		ExponentialBase: 2,
		Jitter:          true,
	}
	norm := cfg.normalized()
	for i := 0; i < 100; i++ {
		d := backoffDelay(&norm, 3)
		if d < 500*time.Millisecond || d > time.Second {
			t.Fatalf("jittered delay %s outside [0.5s, 1s]", d)
		}
	}
}

func TestConfigClamping(t *testing.T) {
	cfg := RetryConfig{
		RetryCount:      99,
		BaseDelay:       time.Millisecond,
		MaxDelay:        24 * time.Hour,
		ExponentialBase: 0.5,
	}
	norm := cfg.normalized()
	if norm.RetryCount != 10 {
		t.Errorf("RetryCount not clamped: %d", norm.RetryCount)
	}
	if norm.BaseDelay != 100*time.Millisecond {
		t.Errorf("BaseDelay not clamped: %s", norm.BaseDelay)
	}
	if norm.MaxDelay != time.Hour {
		t.Errorf("MaxDelay not clamped: %s", norm.MaxDelay)
	}
	if norm.ExponentialBase != 1.1 {
		t.Errorf("ExponentialBase not clamped: %v", norm.ExponentialBase)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		msg  string
		want ErrorClass
	}{
		{"connection reset by peer", ClassTransient},
		{"HTTP 429 Too Many Requests", ClassTransient},
		{"rate limit exceeded", ClassTransient},
		{"deadlock detected", ClassTransient},
		{"503 Service Unavailable", ClassTransient},
		{"request timed out", ClassTimeout},
		{"context deadline exceeded", ClassTimeout},
		{"401 unauthorized", ClassPermanent},
		{"validation failed: missing field", ClassPermanent},
		{"something inexplicable", ClassUnknown},
	}
	for _, tt := range tests {
		if got := Classify(errors.New(tt.msg)); got != tt.want {
			t.Errorf("Classify(%q) = %s, want %s", tt.msg, got, tt.want)
		}
	}
	if got := Classify(context.DeadlineExceeded); got != ClassTimeout {
		t.Errorf("context.DeadlineExceeded should classify TIMEOUT, got %s", got)
	}
}
