package responder

import (
	"context"
	"time"
)

// retry runs fn up to attempts times, waiting backoff between failures.
// It returns nil on the first success, ctx.Err() if the context ends while
// waiting, and otherwise the last failure. Transient send failures are
// expected, so the outcome is a value, never a panic.
func retry(ctx context.Context, attempts int, backoff time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return err
}
