package services

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrCallTimeout is returned when a host call does not finish within the
// configured bound.
var ErrCallTimeout = errors.New("host call timed out")

// callWithTimeout runs fn and stops waiting for it after timeout. fn gets the
// bounded context and must use it for anything that can block, so it can
// release its resources once the caller has given up. Host APIs like the SCM
// take no context; such a call keeps running in its goroutine until the host
// returns and only the caller is released.
func callWithTimeout[T any](ctx context.Context, timeout time.Duration, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v: v, err: err}
	}()

	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%s: %w after %v", op, ErrCallTimeout, timeout)
		}
		return zero, fmt.Errorf("%s: %w", op, ctx.Err())
	}
}
