// Package cancel provides cancellation tokens for async completions that must
// not touch shared state once their owner has gone away.
package cancel

import (
	"errors"
	"sync"
)

// ErrCanceled is returned by Promise.Await when the promise was canceled.
// Callers treat it as a no-op, never as a user-facing error.
var ErrCanceled = errors.New("canceled")

// Token is a one-shot cancellation flag.
type Token struct {
	once sync.Once
	done chan struct{}
}

// NewToken creates an active token.
func NewToken() *Token {
	return &Token{done: make(chan struct{})}
}

// Cancel flips the token. Calling it more than once is allowed.
func (t *Token) Cancel() {
	t.once.Do(func() { close(t.done) })
}

// IsCanceled reports whether Cancel has been called.
func (t *Token) IsCanceled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Done is closed once the token is canceled.
func (t *Token) Done() <-chan struct{} {
	return t.done
}
