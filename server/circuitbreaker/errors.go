package circuitbreaker

import (
	"errors"

	"github.com/sony/gobreaker"
)

// IsRejected reports whether err means the breaker refused the call rather
// than the call itself failing.
func IsRejected(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// abandonedError marks a failure caused by the caller's context ending.
type abandonedError struct {
	err error
}

func (e *abandonedError) Error() string { return e.err.Error() }

func (e *abandonedError) Unwrap() error { return e.err }

// isSuccessful keeps abandoned calls out of the failure counts.
func isSuccessful(err error) bool {
	var abandoned *abandonedError
	return err == nil || errors.As(err, &abandoned)
}
