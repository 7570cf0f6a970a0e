package lazy

import (
	"context"
	"sync"
)

type state int

const (
	notStarted state = iota
	inProgress
	done
)

// Value holds an asynchronously computed resource that is initialised at most
// once. Every caller of GetOrInit observes the same in-flight or resolved result.
type Value[T any] struct {
	mu    sync.Mutex
	state state
	ready chan struct{}
	val   T
	err   error
}

// GetOrInit returns the memoized result, starting init if nobody has yet.
// init runs in its own goroutine with a context detached from the caller's
// cancellation, so a caller giving up never aborts the shared load.
func (v *Value[T]) GetOrInit(ctx context.Context, init func(context.Context) (T, error)) (T, error) {
	ready := v.start(ctx, init)
	select {
	case <-ready:
		return v.val, v.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Ensure starts init if nobody has yet, without waiting for the result.
func (v *Value[T]) Ensure(ctx context.Context, init func(context.Context) (T, error)) {
	v.start(ctx, init)
}

func (v *Value[T]) start(ctx context.Context, init func(context.Context) (T, error)) <-chan struct{} {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != notStarted {
		return v.ready
	}
	v.state = inProgress
	v.ready = make(chan struct{})
	loadCtx := context.WithoutCancel(ctx)
	go func() {
		val, err := init(loadCtx)
		v.mu.Lock()
		v.val, v.err = val, err
		v.state = done
		v.mu.Unlock()
		close(v.ready)
	}()
	return v.ready
}

// Peek returns the resolved value when the load finished successfully.
func (v *Value[T]) Peek() (T, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != done || v.err != nil {
		var zero T
		return zero, false
	}
	return v.val, true
}

// Started reports whether an initialisation has been kicked off.
func (v *Value[T]) Started() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state != notStarted
}
