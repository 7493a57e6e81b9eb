package cache

import (
	"context"
	"time"
)

// maxRetries bounds reconnection attempts before the hot tier degrades
// to absent reads and dropped writes.
const maxRetries = 3

// withRetry runs fn up to maxRetries+1 times with a short linear backoff,
// returning the last error. It does not retry on context cancellation.
func withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt < maxRetries {
			select {
			case <-time.After(time.Duration(attempt+1) * 20 * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return err
}
