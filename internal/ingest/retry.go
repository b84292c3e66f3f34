package ingest

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"
	"github.com/sirupsen/logrus"
)

// RetryPolicy bounds retries of store calls. Delays double per attempt up
// to MaxDelay.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
	MaxDelay time.Duration
	Clock    clock.Clock
}

// DefaultRetryPolicy matches the config defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts: 3,
		Delay:    50 * time.Millisecond,
		MaxDelay: time.Second,
		Clock:    clock.WallClock,
	}
}

// do runs fn until it succeeds, attempts run out or ctx is done, and
// returns the last error from fn.
func (p RetryPolicy) do(ctx context.Context, log *logrus.Entry, op string, fn func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.Delay
	if delay <= 0 {
		delay = time.Millisecond
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.WallClock
	}

	var lastErr error
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			lastErr = fn()
			return lastErr
		},
		IsFatalError: func(error) bool {
			return ctx.Err() != nil
		},
		NotifyFunc: func(err error, attempt int) {
			log.WithError(err).Debugf("%s attempt %d failed", op, attempt)
		},
		Attempts:    attempts,
		Delay:       delay,
		MaxDelay:    p.MaxDelay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       clk,
		Stop:        ctx.Done(),
	})
	if err == nil {
		return nil
	}
	if lastErr != nil {
		return lastErr
	}
	return err
}
