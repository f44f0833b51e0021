package gateway

import (
	"context"
	"errors"
	"log/slog"
	"time"

	dErrors "tally/pkg/domain-errors"
)

// RetryPolicy bounds one processor interaction: per-attempt timeout, total
// attempt count, and exponential backoff between attempts.
type RetryPolicy struct {
	MaxAttempts int
	Timeout     time.Duration
	BackoffBase time.Duration
}

// DefaultRetryPolicy suits a processor with p99 latency well under a second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Timeout:     5 * time.Second,
		BackoffBase: 200 * time.Millisecond,
	}
}

// Do runs fn under the policy. It returns nil on the first success, the
// context error if the caller gave up, or a CodeGatewayUnavailable error
// wrapping the last attempt's failure once the budget is exhausted.
func (p RetryPolicy) Do(ctx context.Context, logger *slog.Logger, op string, fn func(ctx context.Context) error) error {
	if logger == nil {
		logger = slog.Default()
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, p.Timeout)
		err := fn(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return ctx.Err()
		}

		logger.WarnContext(ctx, "gateway call failed",
			"op", op,
			"attempt", attempt,
			"max_attempts", p.MaxAttempts,
			"error", err,
		)

		if attempt == p.MaxAttempts {
			break
		}
		select {
		case <-time.After(p.BackoffBase << (attempt - 1)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return dErrors.Wrapf(lastErr, dErrors.CodeGatewayUnavailable,
		"%s failed after %d attempts", op, p.MaxAttempts)
}
