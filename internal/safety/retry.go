package safety

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog"
)

// Backoff controls how Retry spaces attempts.
type Backoff struct {
	MaxAttempts int           `yaml:"max_attempts" default:"3" validate:"min=1,max=10"`
	BaseDelay   time.Duration `yaml:"base_delay" default:"500ms"`
	MaxDelay    time.Duration `yaml:"max_delay" default:"10s"`
	Multiplier  float64       `yaml:"multiplier" default:"2" validate:"gte=1"`
	Jitter      bool          `yaml:"jitter" default:"true"`
}

// DefaultBackoff returns three attempts starting at 500ms and doubling.
func DefaultBackoff() Backoff {
	return Backoff{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second, Multiplier: 2, Jitter: true}
}

// Delay is the pause before retry number attempt (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	mult := 1.0
	for i := 0; i < attempt; i++ {
		mult *= b.Multiplier
	}
	delay := time.Duration(float64(b.BaseDelay) * mult)
	if b.MaxDelay > 0 && delay > b.MaxDelay {
		delay = b.MaxDelay
	}
	if b.Jitter && delay > 0 {
		delay = addJitter(delay)
	}
	return delay
}

// addJitter spreads retries by up to 10%
func addJitter(delay time.Duration) time.Duration {
	jitter := int64(float64(delay) * 0.1)
	if jitter <= 0 {
		return delay
	}
	return delay + time.Duration(rand.Int64N(jitter))
}

type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as worth retrying. Retry gives up immediately on
// errors that are not marked.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err carries a Transient mark
func IsTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}

// Retry runs fn until it succeeds, returns a non-transient error, ctx ends
// or the attempts are used up. The last error is returned unwrapped from
// its transient mark.
func Retry(ctx context.Context, b Backoff, logger zerolog.Logger, op string, fn func(context.Context) error) error {
	attempts := b.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if !IsTransient(err) || attempt == attempts-1 {
			break
		}
		delay := b.Delay(attempt)
		logger.Warn().Err(err).Str("op", op).Int("attempt", attempt+1).Dur("retry_in", delay).Msg("Transient failure, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	if t, ok := err.(*transientError); ok {
		return t.err
	}
	return err
}
