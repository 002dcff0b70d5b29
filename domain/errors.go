package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation     = errors.New("validation failed")
	ErrNoFileSelected = fmt.Errorf("%w: no file selected", ErrValidation)
	ErrNoJobID        = fmt.Errorf("%w: no job identifier", ErrValidation)
	ErrInvalidVAT     = fmt.Errorf("%w: invalid VAT number", ErrValidation)

	ErrNotReadyYet          = errors.New("result not ready yet")
	ErrNoIdentifierReturned = errors.New("upload succeeded but could not extract a numeric ID")
	ErrNoResultProduced     = errors.New("no result produced")

	// ErrCancelled is returned for superseded or torn-down operations. It is never shown to the user.
	ErrCancelled = errors.New("operation cancelled")
	ErrTimedOut  = errors.New("request timed out")
)

// NetworkError wraps a transport failure that may succeed on retry.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	if e.Err == nil {
		return "network error"
	}
	return "network error: " + e.Err.Error()
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ServerError is a non-2xx status outside the "not ready" set.
type ServerError struct {
	Status int
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("Server error: %d", e.Status)
}

// IsTransient reports whether err is worth another attempt within the owning budget.
func IsTransient(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne) || errors.Is(err, ErrTimedOut)
}
