// Package retry implements the bounded retry policy used for provider calls.
//
// The first attempt runs immediately. Retry n (n >= 1) waits BaseDelay * 2^n.
// Sleeping honours the context, so a caller deadline stops the loop between
// attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/folio/market-engine/internal/metrics"
)

// ErrExhausted is returned when every attempt failed.
var ErrExhausted = errors.New("retry: attempts exhausted")

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 2 * time.Second
)

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy is a bounded exponential retry policy. The zero value is not
// usable; construct with New.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	sleep       SleepFunc
}

// Option configures a Policy.
type Option func(*Policy)

// WithSleep overrides the sleep function (tests use a recorder).
func WithSleep(fn SleepFunc) Option {
	return func(p *Policy) { p.sleep = fn }
}

// New creates a policy. Non-positive values fall back to the defaults.
func New(maxAttempts int, baseDelay time.Duration, opts ...Option) Policy {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if baseDelay < 0 {
		baseDelay = DefaultBaseDelay
	}
	p := Policy{MaxAttempts: maxAttempts, BaseDelay: baseDelay, sleep: sleepCtx}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs fn until it succeeds, returns a permanent error, the attempts run
// out, or ctx is done. op labels the retry metric.
func (p Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	b := p.backOff()
	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			metrics.FetchRetries.WithLabelValues(op).Inc()
			if err := p.sleeper()(ctx, b.NextBackOff()); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return perm.Err
		}
		lastErr = err
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, p.MaxAttempts, lastErr)
}

// Delays returns the waits that precede each retry.
func (p Policy) Delays() []time.Duration {
	if p.MaxAttempts <= 1 {
		return nil
	}
	b := p.backOff()
	out := make([]time.Duration, p.MaxAttempts-1)
	for i := range out {
		out[i] = b.NextBackOff()
	}
	return out
}

func (p Policy) backOff() *backoff.ExponentialBackOff {
	first := 2 * p.BaseDelay
	b := &backoff.ExponentialBackOff{
		InitialInterval:     first,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         first << uint(max(p.MaxAttempts, 1)),
	}
	b.Reset()
	return b
}

func (p Policy) sleeper() SleepFunc {
	if p.sleep == nil {
		return sleepCtx
	}
	return p.sleep
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
