package transport

import (
	"errors"
	"fmt"
)

// Kind classifies a failed chat request.
type Kind int

const (
	// KindGeneric covers every failure that is neither a timeout nor a rate limit.
	KindGeneric Kind = iota
	// KindTimeout means the request exceeded its time budget.
	KindTimeout
	// KindRateLimited means the backend answered 429.
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "generic"
	}
}

// Sentinel errors matched by errors.Is against an *Error.
var (
	ErrTimeout     = errors.New("chat request timed out")
	ErrRateLimited = errors.New("chat request rate limited")
)

// Error is returned for every failed chat request.
type Error struct {
	Kind       Kind
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("chat backend %s (status %d): %s", e.Kind, e.StatusCode, e.Message)
	case e.Message != "":
		return fmt.Sprintf("chat backend %s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("chat backend %s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("chat backend %s", e.Kind)
	}
}

// Unwrap exposes the underlying network error, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrTimeout:
		return e.Kind == KindTimeout
	case ErrRateLimited:
		return e.Kind == KindRateLimited
	}
	return false
}

// Detail returns the most human readable description available.
func (e *Error) Detail() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Error()
}
