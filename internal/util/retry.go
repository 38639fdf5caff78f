package util

import (
	"context"
	"errors"
	"time"
)

// Backoff describes how often and how patiently an operation is retried.
// Waits grow from Base by doubling and are capped at Max when it is set.
type Backoff struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
}

func (b Backoff) wait(attempt int) time.Duration {
	if b.Base <= 0 || attempt == 0 {
		return 0
	}
	d := b.Base << min(attempt-1, 30)
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

// Retry calls fn until it succeeds, Attempts calls were made, or ctx is
// done. At least one call is made when ctx is live. Context errors returned
// by fn end the loop immediately; otherwise the last error is returned.
func Retry[T any](ctx context.Context, b Backoff, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var last error
	for attempt := range max(b.Attempts, 1) {
		if d := b.wait(attempt); d > 0 {
			t := time.NewTimer(d)
			select {
			case <-ctx.Done():
				t.Stop()
				return zero, ctx.Err()
			case <-t.C:
			}
		}
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, err
		}
		last = err
	}
	return zero, last
}

// RetryErr is Retry for operations without a result.
func RetryErr(ctx context.Context, b Backoff, fn func(context.Context) error) error {
	_, err := Retry(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
