package runner

import (
	"context"
	"errors"
	"time"

	engineerrors "github.com/ducminhle1904/crypto-risk-engine/internal/errors"
)

// WithDeadline runs fn under a timeout. When the deadline passes first the
// caller gets ErrTimeout immediately; fn keeps its context and should stop on
// cancellation. Timeouts are not retried.
func WithDeadline[T any](ctx context.Context, timeout time.Duration, operation string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if timeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn(ctx)
		done <- outcome{v, err}
	}()

	select {
	case out := <-done:
		if out.err != nil && errors.Is(out.err, context.DeadlineExceeded) {
			return zero, engineerrors.NewTimeout("runner", operation, out.err).WithContext("timeout", timeout.String())
		}
		return out.value, out.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, engineerrors.NewTimeout("runner", operation, ctx.Err()).WithContext("timeout", timeout.String())
		}
		return zero, ctx.Err()
	}
}
