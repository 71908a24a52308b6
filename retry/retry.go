package retry

import (
	"context"
	"errors"
	"time"

	"github.com/superchain/gateway/tlog"
	"go.uber.org/zap"
)

// DelayFn is the type of function that can be called repeatedly to produce
// delays between attempts. A single value of DelayFn represents a single
// sequence of delays.
//
// Each call returns the delay before the next attempt, and a boolean value
// to indicate whether the next attempt is desired. If ok is false, the
// caller should stop trying and ignore the returned delay value. The caller
// is not expected to call the function again after receiving false.
//
// The delay function must return true as ok from the first call.
//
// Note that the first delay returned by the function is used before the
// very first attempt. For this reason, in most cases, the first call should
// return (0, true).
type DelayFn func() (delay time.Duration, ok bool)

// Config defines retry intervals.
//
// An implementation of Config is normally stateless.
type Config interface {
	// Delays returns a DelayFn representing the sequence of delays to use
	// between attempts. Each call to Delays returns a DelayFn representing
	// an independent sequence.
	Delays() DelayFn
}

// FixedConfig defines fixed retry intervals
type FixedConfig struct {
	// TryAfter is the delay before the first attempt
	TryAfter time.Duration

	// RetryAfter is the delay before each subsequent attempt
	RetryAfter time.Duration

	// MaxAttempts is the maximum number of attempts taken; 0 = unlimited
	MaxAttempts int
}

// Delays implements interface Config
func (c FixedConfig) Delays() DelayFn {
	attempts := 0
	return func() (time.Duration, bool) {
		attempts++
		switch {
		case attempts == 1:
			return c.TryAfter, true
		case c.MaxAttempts != 0 && attempts > c.MaxAttempts:
			return 0, false
		default:
			return c.RetryAfter, true
		}
	}
}

// ErrRetriable means the operation that caused the error should be retried.
type ErrRetriable struct {
	err error
}

func (r ErrRetriable) Error() string {
	return r.err.Error()
}

// Unwrap returns the next error in the error chain.
func (r ErrRetriable) Unwrap() error {
	return r.err
}

// Retriable wraps an error to tell Do that it should keep trying.
// Returns nil if err is nil.
func Retriable(err error) error {
	if err == nil {
		return nil
	}
	return ErrRetriable{err: err}
}

// Do executes the given function, retrying if necessary.
//
// The given Config is used to calculate the delays before each attempt.
//
// Wrap an error with Retriable to indicate that Do should try again.
//
// If the function returns success, or an error that isn't wrapped,
// Do returns that value immediately without trying more.
//
// A ErrRetriable error will be logged unless its message is exactly the
// same as the previous one.
func Do(ctx context.Context, c Config, f func() error) error {
	startedAt := time.Now()
	delays := c.Delays()
	var lastMessage string
	var r ErrRetriable
	for i := 0; ; i++ {
		logger := tlog.Get(ctx).With(zap.Int("attempts", i+1))

		delay, ok := delays()
		if !ok {
			if i == 0 {
				panic("ok is false on first attempt")
			}
			logger.Debug("Retry failed after maximum number of attempts", zap.Error(r.err), zap.Duration("duration", time.Since(startedAt)))
			return r.err
		}

		if err := Sleep(ctx, delay); err != nil {
			if i > 0 {
				logger.Debug("Retry canceled", zap.Error(err), zap.Duration("duration", time.Since(startedAt)))
			}
			return err
		}

		if err := f(); !errors.As(err, &r) {
			if i > 0 {
				if err != nil {
					logger.Debug("Retry finished with non-retriable error", zap.Error(err), zap.Duration("duration", time.Since(startedAt)))
				} else {
					logger.Debug("Retry succeeded", zap.Duration("duration", time.Since(startedAt)))
				}
			}
			return err
		}
		if errors.Is(r.err, ctx.Err()) {
			if i > 0 {
				logger.Debug("Retry canceled", zap.Error(r.err), zap.Duration("duration", time.Since(startedAt)))
			}
			return r.err // f wants to retry but the context is closing
		}

		newMessage := r.err.Error()
		if lastMessage != newMessage {
			logger.Debug("Will retry", zap.Error(r.err))
			lastMessage = newMessage
		}
	}
}

// Do1 is a single return value version of Do
func Do1[T any](ctx context.Context, c Config, f func() (T, error)) (T, error) {
	var t T
	err := Do(ctx, c, func() error {
		var err error
		t, err = f()
		return err
	})
	return t, err
}

// Sleep waits for the sooner event between two:
// -- closing the context, the error associated with the context returned
// -- the duration to elapse, nil returned
// If duration is 0 or negative the function returns immediately
func Sleep(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(duration):
		return nil
	}
}
