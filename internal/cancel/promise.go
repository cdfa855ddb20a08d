package cancel

import "context"

// Promise runs fn on its own goroutine and lets the caller drop the result.
//
// Canceling does not stop fn; it only guarantees that Await reports
// ErrCanceled instead of the outcome.
type Promise[T any] struct {
	token *Token
	done  chan struct{}
	value T
	err   error
}

// Go starts fn and returns its promise.
func Go[T any](ctx context.Context, fn func(context.Context) (T, error)) *Promise[T] {
	p := &Promise[T]{
		token: NewToken(),
		done:  make(chan struct{}),
	}
	go func() {
		defer close(p.done)
		p.value, p.err = fn(ctx)
	}()
	return p
}

// Cancel marks the promise as canceled.
func (p *Promise[T]) Cancel() {
	p.token.Cancel()
}

// IsCanceled reports whether Cancel has been called.
func (p *Promise[T]) IsCanceled() bool {
	return p.token.IsCanceled()
}

// Await blocks until fn returns or the promise is canceled.
func (p *Promise[T]) Await() (T, error) {
	var zero T
	select {
	case <-p.done:
	case <-p.token.Done():
		return zero, ErrCanceled
	}
	if p.token.IsCanceled() {
		return zero, ErrCanceled
	}
	return p.value, p.err
}
