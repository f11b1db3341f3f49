package retry

import (
	"context"
	stderr "errors"
	"testing"
	"time"

	"github.com/objectfs/streamcache/pkg/errors"
)

// newTestRetryer records requested delays instead of sleeping.
func newTestRetryer(config Config) (*Retryer, *[]time.Duration) {
	r := New(config)
	slept := []time.Duration{}
	r.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return r, &slept
}

func TestRetryer_Success(t *testing.T) {
	retryer, _ := newTestRetryer(DefaultConfig())

	attempts := 0
	err := retryer.Do(context.Background(), func(context.Context) error {
		attempts++
		return nil
	})

	if err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestRetryer_RetryableError(t *testing.T) {
	config := DefaultConfig()
	config.Jitter = false
	retryer, slept := newTestRetryer(config)

	attempts := 0
	err := retryer.Do(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.NewError(errors.ErrCodeConnectionTimeout, "connection timeout")
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected nil error, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
	if len(*slept) != 2 {
		t.Errorf("Expected 2 delays, got %d", len(*slept))
	}
}

func TestRetryer_NonRetryableError(t *testing.T) {
	retryer, _ := newTestRetryer(DefaultConfig())

	attempts := 0
	testErr := errors.NewError(errors.ErrCodeObjectNotFound, "object not found")

	err := retryer.Do(context.Background(), func(context.Context) error {
		attempts++
		return testErr
	})

	if err != testErr {
		t.Errorf("Expected the original error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt (no retry), got %d", attempts)
	}
}

func TestRetryer_PlainErrorNotRetried(t *testing.T) {
	retryer, _ := newTestRetryer(DefaultConfig())

	attempts := 0
	err := retryer.Do(context.Background(), func(context.Context) error {
		attempts++
		return stderr.New("boom")
	})

	if err == nil || attempts != 1 {
		t.Errorf("Expected single failing attempt, got %d attempts, err=%v", attempts, err)
	}
}

func TestRetryer_MaxAttemptsExceeded(t *testing.T) {
	config := DefaultConfig()
	config.MaxAttempts = 3
	retryer, _ := newTestRetryer(config)

	attempts := 0
	testErr := errors.NewError(errors.ErrCodeNetworkError, "network error")

	err := retryer.Do(context.Background(), func(context.Context) error {
		attempts++
		return testErr
	})

	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}

	var cacheErr *errors.CacheError
	if !stderr.As(err, &cacheErr) || cacheErr.Code != errors.ErrCodeRetryExhausted {
		t.Fatalf("Expected RETRY_EXHAUSTED, got %v", err)
	}
	if !stderr.Is(err, testErr) {
		t.Error("Expected the last error to stay reachable")
	}
}

func TestRetryer_ContextCancellation(t *testing.T) {
	config := DefaultConfig()
	config.MaxAttempts = 10
	retryer := New(config)

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	retryer.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	err := retryer.Do(ctx, func(context.Context) error {
		attempts++
		return errors.NewError(errors.ErrCodeConnectionFailed, "connection failed")
	})

	if !stderr.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt before cancellation, got %d", attempts)
	}
}

func TestRetryer_ExponentialBackoff(t *testing.T) {
	config := DefaultConfig()
	config.MaxAttempts = 4
	config.InitialDelay = 100 * time.Millisecond
	config.MaxDelay = 1 * time.Second
	config.Multiplier = 2.0
	config.Jitter = false

	delays := []time.Duration{}
	config.OnRetry = func(attempt int, err error, delay time.Duration) {
		delays = append(delays, delay)
	}
	retryer, _ := newTestRetryer(config)

	_ = retryer.Do(context.Background(), func(context.Context) error {
		return errors.NewError(errors.ErrCodeNetworkError, "network error")
	})

	expectedDelays := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
	}
	if len(delays) != len(expectedDelays) {
		t.Fatalf("Expected %d delays, got %d", len(expectedDelays), len(delays))
	}
	for i, expected := range expectedDelays {
		if delays[i] != expected {
			t.Errorf("Delay %d: expected %v, got %v", i, expected, delays[i])
		}
	}
}

func TestRetryer_MaxDelayCap(t *testing.T) {
	config := DefaultConfig()
	config.MaxAttempts = 10
	config.InitialDelay = 1 * time.Second
	config.MaxDelay = 2 * time.Second
	config.Jitter = false
	retryer, slept := newTestRetryer(config)

	_ = retryer.Do(context.Background(), func(context.Context) error {
		return errors.NewError(errors.ErrCodeNetworkError, "network error")
	})

	for _, d := range *slept {
		if d > config.MaxDelay {
			t.Errorf("Delay %v exceeded configured max %v", d, config.MaxDelay)
		}
	}
}

func TestRetryer_WithMethods(t *testing.T) {
	original := New(DefaultConfig())

	modified := original.WithMaxAttempts(10)
	if modified.config.MaxAttempts != 10 {
		t.Errorf("Expected MaxAttempts=10, got %d", modified.config.MaxAttempts)
	}
	if original.config.MaxAttempts == 10 {
		t.Error("Original config was modified")
	}

	called := false
	modified = original.WithOnRetry(func(attempt int, err error, delay time.Duration) {
		called = true
	})
	modified.sleep = func(context.Context, time.Duration) error { return nil }

	_ = modified.Do(context.Background(), func(context.Context) error {
		return errors.NewError(errors.ErrCodeNetworkError, "network error")
	})
	if !called {
		t.Error("OnRetry callback was not called")
	}
}
