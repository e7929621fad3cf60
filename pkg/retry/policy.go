// Package retry provides a reusable retry policy with exponential backoff
// and a consecutive-failure circuit breaker. One Policy instance guards one
// upstream dependency and is safe for concurrent use.
package retry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrBreakerOpen is returned when the breaker is open and the call was not
// attempted.
var ErrBreakerOpen = errors.New("circuit breaker open")

// permanentError marks an error that must not be retried.
type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent wraps an error so Do fails immediately instead of retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether the error was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Policy defines retry and breaker behavior for one upstream dependency.
type Policy struct {
	// MaxAttempts is the total attempt budget per call, including the first.
	MaxAttempts int

	// BackoffBase is the delay before the first retry; each subsequent retry
	// doubles it.
	BackoffBase time.Duration

	// BreakerThreshold is the number of consecutive failed calls that opens
	// the breaker. Zero disables the breaker.
	BreakerThreshold int

	// CoolDown is how long the breaker stays open before a probe call is
	// allowed through.
	CoolDown time.Duration

	mu           sync.Mutex
	consecutive  int
	openedAt     time.Time
	sleep        func(ctx context.Context, d time.Duration) error
}

// New creates a Policy with sane floors applied.
func New(maxAttempts int, backoffBase time.Duration, breakerThreshold int, coolDown time.Duration) *Policy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Policy{
		MaxAttempts:      maxAttempts,
		BackoffBase:      backoffBase,
		BreakerThreshold: breakerThreshold,
		CoolDown:         coolDown,
	}
}

// Do runs fn under the policy. Errors wrapped with Permanent fail
// immediately; other errors are retried with exponential backoff until the
// attempt budget is exhausted. Context cancellation aborts the wait.
func (p *Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if !p.allow() {
		return ErrBreakerOpen
	}

	var err error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			if werr := p.wait(ctx, p.backoff(attempt-1)); werr != nil {
				p.recordFailure()
				return werr
			}
		}

		err = fn(ctx)
		if err == nil {
			p.recordSuccess()
			return nil
		}
		if IsPermanent(err) {
			// Permanent errors are the upstream answering; they do not count
			// toward the breaker.
			p.recordSuccess()
			return err
		}
		if ctx.Err() != nil {
			break
		}
	}

	p.recordFailure()
	return err
}

// backoff returns the delay before retry number n (zero-based).
func (p *Policy) backoff(n int) time.Duration {
	d := p.BackoffBase
	for range n {
		d *= 2
	}
	return d
}

// wait sleeps for d, aborting early if the context is cancelled.
func (p *Policy) wait(ctx context.Context, d time.Duration) error {
	if p.sleep != nil {
		return p.sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("waiting for retry: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// allow reports whether a call may proceed given the breaker state.
func (p *Policy) allow() bool {
	if p.BreakerThreshold <= 0 {
		return true
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.consecutive < p.BreakerThreshold {
		return true
	}
	// Open; let a probe through once the cool-down has elapsed.
	if time.Since(p.openedAt) >= p.CoolDown {
		return true
	}
	return false
}

// recordSuccess resets the consecutive failure count.
func (p *Policy) recordSuccess() {
	if p.BreakerThreshold <= 0 {
		return
	}
	p.mu.Lock()
	p.consecutive = 0
	p.mu.Unlock()
}

// recordFailure bumps the consecutive failure count and re-arms the
// cool-down window when it crosses the threshold.
func (p *Policy) recordFailure() {
	if p.BreakerThreshold <= 0 {
		return
	}
	p.mu.Lock()
	p.consecutive++
	if p.consecutive >= p.BreakerThreshold {
		p.openedAt = time.Now()
	}
	p.mu.Unlock()
}
