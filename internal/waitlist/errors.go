package waitlist

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicateSignup   = errors.New("a response using this email for this event already exists")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrTokenMismatch     = errors.New("confirmation token does not match")
	ErrInviteExpired     = errors.New("invitation has expired")
	ErrStateConflict     = errors.New("response state changed concurrently")
)

// ValidationError is returned synchronously to intake callers.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return e.Reason
}

func (e *ValidationError) Unwrap() error { return e.Err }

func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// TransitionError names the rejected edge.
func TransitionError(from, to State) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
