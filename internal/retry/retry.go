package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"stakebridge/internal/logbus"
)

// Policy bounds the retry loop. Zero or out-of-range fields are normalized to
// safe values when the policy is applied.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultPolicy matches the reference deployment.
var DefaultPolicy = Policy{
	MaxAttempts:  5,
	InitialDelay: 500 * time.Millisecond,
	MaxDelay:     10 * time.Second,
	Multiplier:   2,
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 100 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = p.InitialDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	return p
}

// nextDelay advances the backoff, capped at MaxDelay.
func nextDelay(p Policy, current time.Duration) time.Duration {
	next := time.Duration(float64(current) * p.Multiplier)
	if next > p.MaxDelay {
		next = p.MaxDelay
	}
	return next
}

// ExhaustedError reports that every attempt failed, carrying the last cause.
type ExhaustedError struct {
	Operation string
	Attempts  int
	Cause     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Operation, e.Attempts, e.Cause)
}

func (e *ExhaustedError) Unwrap() error { return e.Cause }

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying; the executor returns it on the
// first attempt that produces it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Executor runs fallible operations under a bounded retry policy with
// exponential backoff, narrating attempts through the broadcaster.
type Executor struct {
	policy Policy
	bus    *logbus.Broadcaster
	logger *zap.Logger
}

func NewExecutor(policy Policy, bus *logbus.Broadcaster, logger *zap.Logger) *Executor {
	if bus == nil {
		bus = logbus.NewNop()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{policy: policy.normalized(), bus: bus, logger: logger}
}

// Do invokes fn up to MaxAttempts times, sleeping the backoff between failed
// attempts. The first success wins. Errors marked Permanent stop the loop
// immediately; everything else is retried until the budget is spent, at which
// point Do fails with an ExhaustedError wrapping the last cause.
func (e *Executor) Do(ctx context.Context, name string, fn func(context.Context) error) error {
	p := e.policy
	delay := p.InitialDelay

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		e.bus.Publishf("%s failed (attempt %d/%d): %v", name, attempt, p.MaxAttempts, err)
		e.logger.Warn("operation attempt failed",
			zap.String("operation", name),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", p.MaxAttempts),
			zap.Error(err),
		)

		if IsPermanent(err) {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}

		e.bus.Publishf("retrying %s in %s", name, delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay = nextDelay(p, delay)
	}

	return &ExhaustedError{Operation: name, Attempts: p.MaxAttempts, Cause: lastErr}
}
