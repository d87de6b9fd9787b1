package apperr

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

// BackoffFunc returns a fresh backoff; go-retry backoffs carry attempt state.
type BackoffFunc func() retry.Backoff

// DefaultBackoff retries three times starting at 50ms.
func DefaultBackoff() retry.Backoff {
	return retry.WithMaxRetries(3, retry.NewExponential(50*time.Millisecond))
}

// Retry runs fn until it succeeds, fails with a non-transient error, or b
// gives up. The last error is returned unwrapped.
func Retry(ctx context.Context, b BackoffFunc, fn func(ctx context.Context) error) error {
	if b == nil {
		b = DefaultBackoff
	}
	return retry.Do(ctx, b(), func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && Transient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}
