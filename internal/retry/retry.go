// Package retry provides a generic retry-with-backoff helper. It is used by
// network fetches; batch pipeline runs intentionally do not retry.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Do runs fn up to attempts times, doubling the delay after each failure.
// The last error is returned if every attempt fails. Waits respect ctx.
func Do(ctx context.Context, attempts int, delay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("attempts must be at least 1, got %d", attempts)
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		if err = fn(); err == nil {
			return nil
		}
	}
	return err
}
