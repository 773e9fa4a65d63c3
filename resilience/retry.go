package resilience

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// Backoff returns how long to wait before retry n, counting from 1.
type Backoff func(n int) time.Duration

// Exponential waits base, base*factor, base*factor², ... capped at ceiling.
func Exponential(base, ceiling time.Duration, factor float64) Backoff {
	return func(n int) time.Duration {
		d := float64(base)
		for i := 1; i < n && d < float64(ceiling); i++ {
			d *= factor
		}
		return min(time.Duration(d), ceiling)
	}
}

// Constant waits d before every retry.
func Constant(d time.Duration) Backoff {
	return func(int) time.Duration { return d }
}

// WithJitter adds up to 25% random delay on top of b.
func WithJitter(b Backoff) Backoff {
	return func(n int) time.Duration {
		d := b(n)
		if d < 4 {
			return d
		}
		// #nosec G404 -- jitter is non-cryptographic timing variance.
		return d + time.Duration(rand.Int64N(int64(d/4)))
	}
}

// DefaultBackoff is used when RetryConfig.Backoff is nil.
var DefaultBackoff = Exponential(100*time.Millisecond, 5*time.Second, 2)

// RetryConfig configures the retry behavior.
type RetryConfig struct {
	// MaxAttempts counts the first call. One disables retrying.
	// Default: 3
	MaxAttempts int

	// Default: DefaultBackoff
	Backoff Backoff

	// RetryIf reports whether err should trigger another attempt.
	// Default: every non-nil error except context cancellation.
	RetryIf func(err error) bool

	// OnRetry is called before sleeping ahead of retry n.
	OnRetry func(n int, err error, delay time.Duration)
}

// Retry repeats an operation with backoff.
type Retry struct {
	attempts int
	backoff  Backoff
	retryIf  func(error) bool
	onRetry  func(int, error, time.Duration)
}

// NewRetry creates a retry handler, applying defaults.
func NewRetry(config RetryConfig) *Retry {
	r := &Retry{
		attempts: config.MaxAttempts,
		backoff:  config.Backoff,
		retryIf:  config.RetryIf,
		onRetry:  config.OnRetry,
	}
	if r.attempts <= 0 {
		r.attempts = 3
	}
	if r.backoff == nil {
		r.backoff = DefaultBackoff
	}
	if r.retryIf == nil {
		r.retryIf = func(err error) bool {
			return err != nil && !errors.Is(err, context.Canceled)
		}
	}
	return r
}

// RetryOn returns a RetryIf predicate matching any of targets via errors.Is.
func RetryOn(targets ...error) func(error) bool {
	return func(err error) bool {
		for _, target := range targets {
			if errors.Is(err, target) {
				return true
			}
		}
		return false
	}
}

// Attempts reports the configured attempt budget.
func (r *Retry) Attempts() int { return r.attempts }

// Execute runs op until it succeeds, RetryIf rejects its error, or the
// attempts are used up. An exhausted retry returns the last error wrapped
// in ErrMaxRetriesExceeded; a rejected error is returned unchanged.
func (r *Retry) Execute(ctx context.Context, op func(context.Context) error) error {
	for n := 1; ; n++ {
		err := op(ctx)
		switch {
		case err == nil:
			return nil
		case !r.retryIf(err):
			return err
		case n == r.attempts && n == 1:
			return err
		case n == r.attempts:
			return fmt.Errorf("%w after %d attempts: %w", ErrMaxRetriesExceeded, n, err)
		}

		delay := r.backoff(n)
		if r.onRetry != nil {
			r.onRetry(n, err, delay)
		}
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
