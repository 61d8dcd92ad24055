package audio

import (
	"context"
	"sync"
)

// sharedDevice starts a process-wide device at most once. Only the start
// result is remembered; each caller waits for readiness under its own
// context, so an abandoned wait leaves the device usable for the next one.
type sharedDevice[T any] struct {
	once  sync.Once
	dev   T
	ready <-chan struct{}
	err   error
}

func (d *sharedDevice[T]) get(ctx context.Context, start func() (T, <-chan struct{}, error)) (T, error) {
	d.once.Do(func() {
		d.dev, d.ready, d.err = start()
	})

	var zero T
	if d.err != nil {
		return zero, d.err
	}
	select {
	case <-d.ready:
		return d.dev, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
