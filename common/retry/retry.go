// Package retry holds the single backoff policy shared by every upstream
// client of the bridge: Kommo REST, Salesbot callbacks, the assistant REST
// backend (through NewHTTPClient) and the OpenAI SDK (through Do).
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy describes how many times a call is attempted and how long to wait
// between attempts. The wait before retry n (0-based) is BaseDelay*(n+1).
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 300 * time.Millisecond}
}

func (p Policy) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p Policy) Delay(retry int) time.Duration {
	return p.BaseDelay * time.Duration(retry+1)
}

// LinearBackOff adapts Policy to backoff.BackOff.
type LinearBackOff struct {
	policy Policy
	retry  int
}

func NewLinearBackOff(p Policy) *LinearBackOff {
	return &LinearBackOff{policy: p}
}

func (b *LinearBackOff) NextBackOff() time.Duration {
	d := b.policy.Delay(b.retry)
	b.retry++
	return d
}

func (b *LinearBackOff) Reset() {
	b.retry = 0
}

// Classifier reports whether err is worth another attempt.
type Classifier func(ctx context.Context, err error) bool

// Do runs op under the policy. Errors the classifier rejects are returned
// immediately; context cancellation always stops the loop.
func Do[T any](ctx context.Context, p Policy, retryable Classifier, op func(ctx context.Context) (T, error)) (T, error) {
	return backoff.Retry(ctx, func() (T, error) {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || !retryable(ctx, err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(NewLinearBackOff(p)),
		backoff.WithMaxTries(uint(p.Attempts())),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.WarnContext(ctx, "upstream call failed, retrying",
				"error", err,
				"retry_in_ms", next.Milliseconds())
		}),
	)
}

// IsRetryableStatus is the status half of the policy: rate limits and server
// errors are retried, every other 4xx fails fast.
func IsRetryableStatus(code int) bool {
	return code == 429 || code >= 500
}
