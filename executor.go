package sagaorch

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ReasonTimeout is the failure reason for a call that did not finish before
// its deadline.
const ReasonTimeout = "timeout"

// Outcome is the result of one remote call. OK calls carry the participant's
// opaque response payload; failed calls carry a human-readable reason.
type Outcome struct {
	OK      bool
	Payload json.RawMessage
	Reason  string
}

// Succeeded returns a successful outcome carrying payload.
func Succeeded(payload json.RawMessage) Outcome {
	return Outcome{OK: true, Payload: payload}
}

// Failed returns a failed outcome with the given reason.
func Failed(reason string) Outcome {
	return Outcome{Reason: reason}
}

// StepExecutor performs a single remote call against a step address. The call
// is bounded by the context deadline. Implementations never panic on remote
// faults; every fault becomes a failed Outcome.
type StepExecutor interface {
	Invoke(ctx context.Context, address string, payload json.RawMessage) Outcome
}

// ExecutorFunc adapts an ordinary function to StepExecutor.
type ExecutorFunc func(ctx context.Context, address string, payload json.RawMessage) Outcome

func (f ExecutorFunc) Invoke(ctx context.Context, address string, payload json.RawMessage) Outcome {
	return f(ctx, address, payload)
}

// contextReason maps a context error to an outcome reason.
func contextReason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	return err.Error()
}

// RetryingExecutor retries failed calls with jittered exponential backoff. It
// is opt-in; by default every call is a single attempt. The wrapped executor
// must tolerate repeated calls for the same transaction.
type RetryingExecutor struct {
	next            StepExecutor
	maxTries        uint
	initialInterval time.Duration
	maxInterval     time.Duration
}

// NewRetryingExecutor wraps next so that each call makes at most maxTries
// attempts.
func NewRetryingExecutor(next StepExecutor, maxTries uint, initialInterval time.Duration) *RetryingExecutor {
	if maxTries == 0 {
		maxTries = 1
	}
	if initialInterval <= 0 {
		initialInterval = 100 * time.Millisecond
	}
	return &RetryingExecutor{
		next:            next,
		maxTries:        maxTries,
		initialInterval: initialInterval,
		maxInterval:     10 * initialInterval,
	}
}

// Invoke calls the wrapped executor until it succeeds, the attempts run out or
// the context ends. The last outcome is returned.
func (r *RetryingExecutor) Invoke(ctx context.Context, address string, payload json.RawMessage) Outcome {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initialInterval
	b.MaxInterval = r.maxInterval

	var last Outcome
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		last = r.next.Invoke(ctx, address, payload)
		if last.OK {
			return struct{}{}, nil
		}
		if ctx.Err() != nil {
			return struct{}{}, backoff.Permanent(errors.New(last.Reason))
		}
		return struct{}{}, errors.New(last.Reason)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(r.maxTries))

	if err != nil && !last.OK && last.Reason == "" {
		return Failed(contextReason(err))
	}
	return last
}
