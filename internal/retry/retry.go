// Package retry wraps cenkalti/backoff for the two retry shapes quotebot
// needs: bounded retries for transient I/O at a call site, and unbounded
// retries for work that must eventually succeed.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds a retry loop. Zero fields take the defaults of
// backoff.NewExponentialBackOff, except MaxElapsed where zero means no limit.
type Policy struct {
	Initial     time.Duration
	Max         time.Duration
	MaxElapsed  time.Duration
	MaxAttempts uint64
}

// Transient is the call-site policy for store and index I/O.
var Transient = Policy{
	Initial:     50 * time.Millisecond,
	Max:         2 * time.Second,
	MaxElapsed:  10 * time.Second,
	MaxAttempts: 5,
}

// Notify is called after each failed attempt with the error and the wait
// before the next one.
type Notify func(err error, wait time.Duration)

// Do runs op until it succeeds, returns a Permanent error, ctx is done, or
// the policy is exhausted. The last error is returned.
func Do(ctx context.Context, p Policy, op func() error, notify Notify) error {
	return backoff.RetryNotify(op, p.backOff(ctx), backoff.Notify(notify))
}

// Forever runs op until it succeeds, returns a Permanent error, or ctx is
// done. Used where giving up would leave state divergent.
func Forever(ctx context.Context, p Policy, op func() error, notify Notify) error {
	p.MaxElapsed = 0
	p.MaxAttempts = 0
	return Do(ctx, p, op, notify)
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	if p.Initial > 0 {
		eb.InitialInterval = p.Initial
	}
	if p.Max > 0 {
		eb.MaxInterval = p.Max
	}
	eb.MaxElapsedTime = p.MaxElapsed
	eb.Reset()

	var b backoff.BackOff = eb
	if p.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, p.MaxAttempts)
	}
	return backoff.WithContext(b, ctx)
}
