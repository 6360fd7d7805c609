package session

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/specialistvlad/gridlaunch/internal/ctxlog"
	"github.com/specialistvlad/gridlaunch/internal/model"
)

// Defaults for RetryPolicy.
const (
	DefaultAttempts = 20
	DefaultInterval = 10 * time.Second
)

// RetryPolicy bounds connection attempts.
type RetryPolicy struct {
	// Attempts is the total number of dials, including the first one.
	Attempts int
	// Interval is the fixed sleep between attempts.
	Interval time.Duration
}

// DefaultRetryPolicy returns 20 attempts spaced 10 seconds apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: DefaultAttempts, Interval: DefaultInterval}
}

// ConnectionError is returned once every attempt allowed for a host has failed.
type ConnectionError struct {
	Host     model.Host
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to %s after %d attempt(s): %v", e.Host, e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Permanent marks a dial error that retrying cannot fix, such as unusable
// key material. Connect stops on it immediately.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Connect dials host until it succeeds or the policy is exhausted.
func Connect(ctx context.Context, dialer Dialer, host model.Host, policy RetryPolicy) (Session, error) {
	logger := ctxlog.FromContext(ctx).With("host", host.String())
	if policy.Attempts <= 0 {
		policy.Attempts = 1
	}

	logger.Info("Connecting...", "attempts", policy.Attempts)

	attempts := 0
	var b backoff.BackOff = backoff.NewConstantBackOff(policy.Interval)
	b = backoff.WithMaxRetries(b, uint64(policy.Attempts-1))
	b = backoff.WithContext(b, ctx)

	sess, err := backoff.RetryNotifyWithData(
		func() (Session, error) {
			attempts++
			return dialer.Dial(ctx, host)
		},
		b,
		func(err error, next time.Duration) {
			logger.Warn("Connection attempt failed, retrying.", "attempt", attempts, "retry_in", next, "error", err)
		},
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("connecting to %s: %w", host, ctx.Err())
		}
		logger.Error("Giving up on host.", "attempts", attempts, "error", err)
		return nil, &ConnectionError{Host: host, Attempts: attempts, Err: err}
	}

	logger.Info("Connected.", "attempts", attempts)
	return sess, nil
}
