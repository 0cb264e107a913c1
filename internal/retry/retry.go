package retry

// Package retry wraps callables with jittered exponential backoff.
//
// The k-th retry sleeps min(BaseDelay * BackoffFactor^(k-1), MaxDelay);
// with Jitter enabled the actual sleep is drawn uniformly from
// [0, nominal] (full jitter), which keeps many concurrent jobs from
// retrying in lockstep.

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Policy controls retry behaviour. Zero values are not usable; construct
// with one of the predefined policies or fill every field.
type Policy struct {
	// MaxAttempts is the total number of invocations, including the first.
	MaxAttempts int

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the nominal delay.
	MaxDelay time.Duration

	// BackoffFactor multiplies the nominal delay after each retry.
	BackoffFactor float64

	// Jitter draws the actual delay uniformly from [0, nominal].
	Jitter bool

	// Retriable decides whether an error is worth retrying. Nil means
	// every error is retriable.
	Retriable func(error) bool

	// OnRetry observes each scheduled retry. Failures inside the observer
	// are caught and logged; they never break the retry loop.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Predefined policies. Critical favours few, widely spaced attempts for
// expensive operations; Fast hammers cheap idempotent calls.
func Critical() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 2 * time.Second, MaxDelay: 60 * time.Second, BackoffFactor: 2.0, Jitter: true}
}

func Standard() Policy {
	return Policy{MaxAttempts: 5, BaseDelay: 500 * time.Millisecond, MaxDelay: 30 * time.Second, BackoffFactor: 2.0, Jitter: true}
}

func Fast() Policy {
	return Policy{MaxAttempts: 10, BaseDelay: 100 * time.Millisecond, MaxDelay: 5 * time.Second, BackoffFactor: 1.5, Jitter: true}
}

// Delay returns the nominal delay before the k-th retry (1-indexed).
func (p Policy) Delay(k int) time.Duration {
	if k < 1 {
		return 0
	}
	d := float64(p.BaseDelay)
	for i := 1; i < k; i++ {
		d *= p.BackoffFactor
		if time.Duration(d) >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if time.Duration(d) > p.MaxDelay {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Executor runs functions under a retry policy.
type Executor struct {
	log  *zap.Logger
	rand *rand.Rand
}

// New creates an executor. The logger receives observer failures and
// per-retry debug lines.
func New(log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{
		log:  log,
		rand: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Do invokes fn until it succeeds or the policy is exhausted. Errors the
// policy's predicate rejects propagate immediately without retry; after
// the final attempt the last error is returned unchanged. Context
// cancellation during a backoff sleep returns ctx.Err().
func (e *Executor) Do(ctx context.Context, p Policy, fn func() error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if p.Retriable != nil && !p.Retriable(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}

		delay := p.Delay(attempt)
		if p.Jitter && delay > 0 {
			delay = time.Duration(e.rand.Int63n(int64(delay) + 1))
		}

		e.notify(p, attempt, lastErr, delay)
		e.log.Debug("retrying after failure",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(lastErr),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

// notify runs the observer, containing panics so a broken observer cannot
// break the retry loop.
func (e *Executor) notify(p Policy, attempt int, err error, delay time.Duration) {
	if p.OnRetry == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.log.Warn("retry observer panicked", zap.Any("panic", r))
		}
	}()
	p.OnRetry(attempt, err, delay)
}
