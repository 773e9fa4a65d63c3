package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewRetry_Defaults(t *testing.T) {
	r := NewRetry(RetryConfig{})

	if r.Attempts() != 3 {
		t.Errorf("Attempts() = %d, want 3", r.Attempts())
	}
	if d := r.backoff(1); d != 100*time.Millisecond {
		t.Errorf("first delay = %v, want 100ms", d)
	}
	if r.retryIf(context.Canceled) {
		t.Error("default RetryIf retries context.Canceled")
	}
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		name    string
		backoff Backoff
		want    []time.Duration
	}{
		{
			name:    "exponential capped",
			backoff: Exponential(time.Millisecond, 5*time.Millisecond, 2),
			want:    []time.Duration{time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond, 5 * time.Millisecond, 5 * time.Millisecond},
		},
		{
			name:    "default",
			backoff: DefaultBackoff,
			want:    []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond},
		},
		{
			name:    "constant",
			backoff: Constant(10 * time.Millisecond),
			want:    []time.Duration{10 * time.Millisecond, 10 * time.Millisecond, 10 * time.Millisecond},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i, want := range tt.want {
				if got := tt.backoff(i + 1); got != want {
					t.Errorf("backoff(%d) = %v, want %v", i+1, got, want)
				}
			}
		})
	}
}

func TestWithJitter_StaysWithinQuarter(t *testing.T) {
	b := WithJitter(Constant(100 * time.Millisecond))
	for range 50 {
		d := b(1)
		if d < 100*time.Millisecond || d >= 125*time.Millisecond {
			t.Fatalf("jittered delay %v outside [100ms, 125ms)", d)
		}
	}
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	r := NewRetry(RetryConfig{MaxAttempts: 3, Backoff: Constant(time.Millisecond)})

	attempts := 0
	err := r.Execute(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("flaky")
		}
		return nil
	})

	if err != nil {
		t.Errorf("Execute() error = %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetry_Exhausted(t *testing.T) {
	r := NewRetry(RetryConfig{MaxAttempts: 2, Backoff: Constant(time.Millisecond)})
	testErr := errors.New("persistent")

	attempts := 0
	err := r.Execute(context.Background(), func(context.Context) error {
		attempts++
		return testErr
	})

	if !errors.Is(err, ErrMaxRetriesExceeded) {
		t.Errorf("Execute() error = %v, want ErrMaxRetriesExceeded", err)
	}
	if !errors.Is(err, testErr) {
		t.Errorf("Execute() error = %v, want wrapped %v", err, testErr)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestRetry_SingleAttemptReturnsErrorUnchanged(t *testing.T) {
	r := NewRetry(RetryConfig{MaxAttempts: 1})
	testErr := errors.New("once")

	err := r.Execute(context.Background(), func(context.Context) error { return testErr })
	if err != testErr {
		t.Errorf("Execute() error = %v, want %v", err, testErr)
	}
}

func TestRetry_RetryOn(t *testing.T) {
	retryable := errors.New("retryable")
	other := errors.New("other")
	r := NewRetry(RetryConfig{
		MaxAttempts: 3,
		Backoff:     Constant(time.Millisecond),
		RetryIf:     RetryOn(retryable),
	})

	tests := []struct {
		name     string
		err      error
		attempts int
	}{
		{"matching error", retryable, 3},
		{"wrapped matching error", errors.Join(errors.New("dial"), retryable), 3},
		{"other error", other, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attempts := 0
			_ = r.Execute(context.Background(), func(context.Context) error {
				attempts++
				return tt.err
			})
			if attempts != tt.attempts {
				t.Errorf("attempts = %d, want %d", attempts, tt.attempts)
			}
		})
	}
}

func TestRetry_ContextCancellation(t *testing.T) {
	r := NewRetry(RetryConfig{MaxAttempts: 10, Backoff: Constant(time.Second)})

	ctx, cancel := context.WithCancel(context.Background())
	err := r.Execute(ctx, func(context.Context) error {
		cancel()
		return errors.New("fail")
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Execute() error = %v, want context.Canceled", err)
	}
}

func TestRetry_OnRetry(t *testing.T) {
	var seen []int
	r := NewRetry(RetryConfig{
		MaxAttempts: 4,
		Backoff:     Exponential(time.Millisecond, 3*time.Millisecond, 2),
		OnRetry: func(n int, _ error, _ time.Duration) {
			seen = append(seen, n)
		},
	})

	_ = r.Execute(context.Background(), func(context.Context) error { return errors.New("x") })

	if len(seen) != 3 || seen[0] != 1 || seen[2] != 3 {
		t.Errorf("OnRetry calls = %v, want [1 2 3]", seen)
	}
}
