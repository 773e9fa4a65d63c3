package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// TimeoutConfig configures the timeout wrapper.
type TimeoutConfig struct {
	// Timeout is the maximum duration for the operation.
	// Default: 30 seconds
	Timeout time.Duration
}

// TimeoutError reports an operation that outlived its Timeout. It matches
// ErrTimeout.
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s after %s", ErrTimeout, e.After)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// errOwnDeadline marks cancellation caused by this wrapper's deadline, as
// opposed to a deadline inherited from the caller.
var errOwnDeadline = errors.New("resilience: timeout elapsed")

// Timeout bounds operations by a deadline.
type Timeout struct {
	after time.Duration
}

// NewTimeout creates a new timeout wrapper.
func NewTimeout(config TimeoutConfig) *Timeout {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &Timeout{after: config.Timeout}
}

// Duration returns the configured deadline.
func (t *Timeout) Duration() time.Duration { return t.after }

// Execute runs op under the deadline. It returns a *TimeoutError when this
// deadline passes first; cancellation or a deadline of the caller's ctx is
// returned as ctx.Err(). op keeps running until it observes its context.
func (t *Timeout) Execute(ctx context.Context, op func(context.Context) error) error {
	ctx, cancel := context.WithTimeoutCause(ctx, t.after, errOwnDeadline)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- op(ctx)
	}()

	var err error
	select {
	case err = <-done:
		if err == nil || !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
	case <-ctx.Done():
		err = ctx.Err()
	}
	if context.Cause(ctx) == errOwnDeadline {
		return &TimeoutError{After: t.after}
	}
	return err
}
