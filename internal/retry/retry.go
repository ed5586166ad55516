// Package retry runs an operation under an explicit attempt budget with
// capped exponential backoff between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes how many times an operation runs and how long to wait
// between runs. Attempt n (0-based) waits min(Base*2^n, Max) before the next.
type Policy struct {
	MaxAttempts int
	Base        time.Duration
	Max         time.Duration
}

// DefaultPolicy mirrors the processor defaults: 3 attempts, 4s base, 10s cap.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, Base: 4 * time.Second, Max: 10 * time.Second}
}

func (p Policy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

// exponential builds a deterministic doubling schedule that never gives up
// on elapsed time; the attempt budget is enforced by WithMaxRetries.
func (p Policy) exponential() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Base
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = p.Max
	if b.MaxInterval <= 0 {
		b.MaxInterval = time.Duration(math.MaxInt64)
	}
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Backoff returns the delay after the given 0-based failed attempt.
func (p Policy) Backoff(attempt int) time.Duration {
	if p.Base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	b := p.exponential()
	next := b.NextBackOff()
	for i := 0; i < attempt && next < b.MaxInterval; i++ {
		next = b.NextBackOff()
	}
	return next
}

// Permanent marks err as not worth retrying. Do returns the wrapped error
// immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *backoff.PermanentError
	return errors.As(err, &p)
}

// Notify is called before each wait with the error of the attempt that just
// failed, its 0-based index and the delay until the next one.
type Notify func(err error, attempt int, next time.Duration)

// Do runs op until it succeeds, returns a permanent error, the attempts are
// exhausted, or ctx is done. It returns the number of attempts made and the
// last error, unwrapped from any Permanent marker. When ctx ends the retry
// loop, the returned error wraps both the last attempt's error and ctx.Err().
func Do(ctx context.Context, p Policy, op func(ctx context.Context, attempt int) error, notify ...Notify) (int, error) {
	var (
		attempts int
		last     error
	)
	operation := func() error {
		attempt := attempts
		attempts++
		last = op(ctx, attempt)
		return last
	}
	onRetry := func(err error, next time.Duration) {
		for _, fn := range notify {
			fn(err, attempts-1, next)
		}
	}

	schedule := backoff.WithContext(backoff.WithMaxRetries(p.exponential(), uint64(p.attempts()-1)), ctx)
	err := backoff.RetryNotify(operation, schedule, onRetry)
	if err == nil {
		return attempts, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) && last != nil && !errors.Is(last, ctxErr) {
		return attempts, fmt.Errorf("%w (retry aborted: %w)", last, ctxErr)
	}
	return attempts, err
}

// Sleep waits for d or until ctx is done. It paces polling loops, not
// retries.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context done: %w", ctx.Err())
	}
}
