package camera

import (
	"context"
	"sync"
)

// Op is the handle of an asynchronous camera operation. It is resolved
// exactly once, either with a value or with an error.
type Op[T any] struct {
	done chan struct{}
	once sync.Once
	val  T
	err  error
}

func newOp[T any]() *Op[T] {
	return &Op[T]{done: make(chan struct{})}
}

func failedOp[T any](err error) *Op[T] {
	op := newOp[T]()
	var zero T
	op.resolve(zero, err)
	return op
}

func (o *Op[T]) resolve(v T, err error) {
	o.once.Do(func() {
		o.val, o.err = v, err
		close(o.done)
	})
}

func (o *Op[T]) succeed(v T) { o.resolve(v, nil) }

func (o *Op[T]) fail(err error) {
	var zero T
	o.resolve(zero, err)
}

// Done is closed once the operation is resolved.
func (o *Op[T]) Done() <-chan struct{} {
	return o.done
}

// Result blocks until the operation is resolved and returns its outcome.
func (o *Op[T]) Result() (T, error) {
	<-o.done
	return o.val, o.err
}

// Wait is like Result but gives up when ctx is done.
func (o *Op[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-o.done:
		return o.val, o.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
