package luminaerr

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Retry runs fn with exponential backoff while it returns a transient
// error (per IsTransient), giving up and returning the last error once
// ctx is done or fn returns a non-transient error. Nothing in this
// module calls it: the Postgres connect loop in internal/lifecycle
// pauses a fixed second between attempts, and LLMManager does not
// retry failed provider calls.
func Retry(ctx context.Context, maxElapsed time.Duration, fn func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = maxElapsed
	withCtx := backoff.WithContext(bo, ctx)

	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, withCtx)
}
