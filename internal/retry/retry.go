// Package retry provides a bounded-retry wrapper for outbound service calls.
//
// The pipeline's fatal-error contract is unchanged: retries happen inside a
// single stage, and the stage still surfaces exactly one terminal error once
// the attempt budget or the turn deadline is exhausted.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds the retry behavior of one outbound call.
type Policy struct {
	MaxAttempts int           // total attempts, including the first
	InitialWait time.Duration // first backoff interval
}

// DefaultPolicy returns the policy applied to LLM and embedding calls.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		InitialWait: 200 * time.Millisecond,
	}
}

// Do runs fn with exponential backoff under the given policy. The context
// deadline is honored between attempts; the last attempt's error is returned.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.InitialWait <= 0 {
		p.InitialWait = 200 * time.Millisecond
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.InitialWait
	bo.MaxInterval = 5 * time.Second

	operation := func() error {
		return fn(ctx)
	}

	return backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(p.MaxAttempts-1)), ctx))
}
