package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds retries for a single model call. Exponential backoff with
// jitter, stopping early on fatal errors.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	CallTimeout     time.Duration
}

// DefaultPolicy matches the pipeline default of three attempts.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: time.Second,
		MaxInterval:     10 * time.Second,
		CallTimeout:     2 * time.Minute,
	}
}

// Do runs fn under the policy. The returned error is always an
// *UnavailableError carrying the classification of the last failure.
func (p Policy) Do(ctx context.Context, op string, fn func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	bo := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		bo.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		bo.MaxInterval = p.MaxInterval
	}

	attempt := 0
	operation := func() error {
		attempt++

		callCtx := ctx
		var cancel context.CancelFunc
		if p.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, p.CallTimeout)
			defer cancel()
		}

		err := fn(callCtx)
		if err == nil {
			return nil
		}

		// A per-call timeout is retryable as long as the parent
		// context is still live.
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			slog.Warn("llm call timed out", "op", op, "attempt", attempt)
			return err
		}

		if classify(err) == KindFatal {
			return backoff.Permanent(err)
		}

		slog.Warn("llm call failed, retrying", "op", op, "attempt", attempt, "error", err)
		return err
	}

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(attempts-1)), ctx))
	if err == nil {
		return nil
	}
	var ue *UnavailableError
	if errors.As(err, &ue) {
		return ue
	}
	return &UnavailableError{Op: op, Kind: classify(err), Err: err}
}
