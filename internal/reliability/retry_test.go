package reliability

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errSink = errors.New("sink write failure")

func TestRetry_Success(t *testing.T) {
	attempts := 0
	fn := func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary error")
		}
		return nil
	}

	config := RetryConfig{
		MaxRetries:     5,
		InitialBackoff: 10 * time.Millisecond,
		Multiplier:     2.0,
	}

	err := Retry(context.Background(), config, fn)
	if err != nil {
		t.Errorf("Retry() error = %v, want nil", err)
	}

	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetry_MaxRetriesExceeded(t *testing.T) {
	attempts := 0
	fn := func(ctx context.Context) error {
		attempts++
		return errSink
	}

	var retried []int
	config := RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 1 * time.Millisecond,
		OnRetry: func(attempt int, err error) {
			retried = append(retried, attempt)
		},
	}

	err := Retry(context.Background(), config, fn)
	if !errors.Is(err, ErrMaxRetriesExceeded) {
		t.Errorf("expected ErrMaxRetriesExceeded, got %v", err)
	}
	if !errors.Is(err, errSink) {
		t.Errorf("expected last error to be wrapped, got %v", err)
	}

	if attempts != 4 { // Initial attempt + 3 retries
		t.Errorf("attempts = %d, want 4", attempts)
	}
	if len(retried) != 3 || retried[0] != 1 || retried[2] != 3 {
		t.Errorf("OnRetry attempts = %v, want [1 2 3]", retried)
	}
}

func TestRetry_Permanent(t *testing.T) {
	attempts := 0
	fn := func(ctx context.Context) error {
		attempts++
		return Permanent(errSink)
	}

	err := Retry(context.Background(), RetryConfig{MaxRetries: 5, InitialBackoff: time.Millisecond}, fn)
	if !errors.Is(err, errSink) {
		t.Errorf("expected wrapped errSink, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) should be nil")
	}
}

func TestRetry_ContextCanceled(t *testing.T) {
	fn := func(ctx context.Context) error {
		return errSink
	}

	config := RetryConfig{
		MaxRetries:     5,
		InitialBackoff: 100 * time.Millisecond,
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel immediately

	err := Retry(ctx, config, fn)
	if !errors.Is(err, ErrRetryAborted) {
		t.Errorf("expected ErrRetryAborted, got %v", err)
	}
	if !errors.Is(err, errSink) {
		t.Errorf("expected last error to be wrapped, got %v", err)
	}
}

func TestRetry_ContextErrorNotRetried(t *testing.T) {
	attempts := 0
	fn := func(ctx context.Context) error {
		attempts++
		return context.DeadlineExceeded
	}

	err := Retry(context.Background(), RetryConfig{MaxRetries: 3, InitialBackoff: time.Millisecond}, fn)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetry_ExponentialBackoff(t *testing.T) {
	attempts := []time.Time{}
	fn := func(ctx context.Context) error {
		attempts = append(attempts, time.Now())
		if len(attempts) < 3 {
			return errors.New("error")
		}
		return nil
	}

	config := RetryConfig{
		MaxRetries:     5,
		InitialBackoff: 50 * time.Millisecond,
		Multiplier:     2.0,
		MaxBackoff:     500 * time.Millisecond,
	}

	err := Retry(context.Background(), config, fn)
	if err != nil {
		t.Errorf("Retry() error = %v", err)
	}

	if len(attempts) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(attempts))
	}

	interval1 := attempts[1].Sub(attempts[0])
	interval2 := attempts[2].Sub(attempts[1])

	if interval2 < interval1 {
		t.Errorf("backoff did not increase: interval1=%v, interval2=%v", interval1, interval2)
	}
}

func TestExponentialBackoff(t *testing.T) {
	tests := []struct {
		attempt    int
		initial    time.Duration
		multiplier float64
		max        time.Duration
		want       time.Duration
	}{
		{0, 100 * time.Millisecond, 2.0, 10 * time.Second, 100 * time.Millisecond},
		{1, 100 * time.Millisecond, 2.0, 10 * time.Second, 200 * time.Millisecond},
		{2, 100 * time.Millisecond, 2.0, 10 * time.Second, 400 * time.Millisecond},
		{10, 100 * time.Millisecond, 2.0, 5 * time.Second, 5 * time.Second}, // Capped at max
	}

	for _, tt := range tests {
		got := ExponentialBackoff(tt.attempt, tt.initial, tt.multiplier, tt.max)
		if got != tt.want {
			t.Errorf("ExponentialBackoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func BenchmarkRetry(b *testing.B) {
	fn := func(ctx context.Context) error {
		return nil
	}

	config := RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 1 * time.Millisecond,
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Retry(context.Background(), config, fn)
	}
}
