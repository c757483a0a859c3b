package oracle

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/reel/errors"
)

// Policy bounds retries of transient provider failures.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
	Logger    *zap.SugaredLogger
}

// DefaultPolicy retries three times with exponential backoff from one second.
func DefaultPolicy() Policy {
	return Policy{Attempts: 3, BaseDelay: time.Second}
}

// Retry calls fn until it succeeds, returns a non-transient error, or the
// attempts run out. Only errors marked with ErrTransientProvider are
// retried. The wait doubles after every failure and aborts on ctx.
func Retry(ctx context.Context, p Policy, name string, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.BaseDelay

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !errors.IsTransient(err) || attempt == attempts {
			break
		}
		if p.Logger != nil {
			p.Logger.Warnw("Transient provider error, retrying",
				"provider", name,
				"attempt", attempt,
				"max_attempts", attempts,
				"delay", delay,
				"error", err,
			)
		}
		select {
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "%s: retry aborted", name)
		case <-time.After(delay):
		}
		delay *= 2
	}
	return errors.Wrapf(err, "%s", name)
}

// NewLimiter returns a limiter allowing requestsPerMinute calls, or an
// unlimited one for zero or negative values.
func NewLimiter(requestsPerMinute int) *rate.Limiter {
	if requestsPerMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1)
}

// Wait blocks on limiter, tolerating a nil limiter.
func Wait(ctx context.Context, limiter *rate.Limiter) error {
	if limiter == nil {
		return nil
	}
	if err := limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "rate limiter")
	}
	return nil
}
