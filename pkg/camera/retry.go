package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// OpenWithRetry opens src, retrying with a constant delay. attempts <= 0
// retries until ctx is done. The final failure wraps ErrCameraUnavailable.
func OpenWithRetry(ctx context.Context, src Source, attempts int, delay time.Duration) error {
	opts := []backoff.RetryOption{
		backoff.WithBackOff(backoff.NewConstantBackOff(delay)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.Warn("Failed to open camera, retrying", "error", err, "retry_in", next)
		}),
	}
	if attempts > 0 {
		opts = append(opts, backoff.WithMaxTries(uint(attempts)))
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, src.Open(ctx)
	}, opts...)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil || errors.Is(err, ErrCameraUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrCameraUnavailable, err)
}
