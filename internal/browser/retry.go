package browser

import (
	"context"
	"fmt"
	"time"
)

// RetryOptions bounds a stale-reference retry loop.
type RetryOptions struct {
	// Attempts is the total number of times the action runs (default 3).
	Attempts int
	// Delay is the fixed pause before re-locating after a stale failure
	// (default 500ms).
	Delay time.Duration
}

func (o RetryOptions) withDefaults() RetryOptions {
	if o.Attempts <= 0 {
		o.Attempts = 3
	}
	if o.Delay <= 0 {
		o.Delay = 500 * time.Millisecond
	}
	return o
}

// RetryStale runs do against a DOM reference that may be invalidated by page
// mutation. On a stale-classified failure it sleeps briefly, re-acquires the
// reference through relocate, and tries again, up to opts.Attempts total
// attempts. Any non-stale error propagates immediately. The helper holds no
// state and is safe to call concurrently from independent leases.
func RetryStale[T any](
	ctx context.Context,
	handle T,
	opts RetryOptions,
	do func(context.Context, T) error,
	relocate func(context.Context) (T, error),
) error {
	opts = opts.withDefaults()

	var lastErr error
	for attempt := 1; attempt <= opts.Attempts; attempt++ {
		err := do(ctx, handle)
		if err == nil {
			return nil
		}
		if !IsStale(err) {
			return err
		}
		lastErr = err
		if attempt == opts.Attempts {
			break
		}

		select {
		case <-time.After(opts.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}

		fresh, locErr := relocate(ctx)
		if locErr != nil {
			return fmt.Errorf("failed to re-locate stale reference: %w", locErr)
		}
		handle = fresh
	}
	return fmt.Errorf("reference still stale after %d attempts: %w", opts.Attempts, lastErr)
}
