package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrForbidden               = errors.New("forbidden")
	ErrCodeGenerationExhausted = errors.New("reservation code generation exhausted")
)

type ValidationError struct {
	Field string
	Msg   string
	Err   error
}

func (e ValidationError) Error() string {
	if e.Msg != "" && e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Msg)
	}
	if e.Msg != "" {
		return e.Msg
	}
	if e.Field != "" {
		return fmt.Sprintf("invalid %s", e.Field)
	}
	return "validation error"
}

func (e ValidationError) Unwrap() error { return e.Err }

type NotFoundError struct {
	Resource string
	ID       int64
	Err      error
}

func (e NotFoundError) Error() string {
	switch {
	case e.Resource != "" && e.ID != 0:
		return fmt.Sprintf("%s %d not found", e.Resource, e.ID)
	case e.Resource != "":
		return fmt.Sprintf("%s not found", e.Resource)
	default:
		return "not found"
	}
}

func (e NotFoundError) Unwrap() error { return e.Err }

// ConflictError reports the legs that are already claimed by an active
// booking. Retryable is set when the conflict came from contention rather
// than from an existing claim.
type ConflictError struct {
	Legs      []Leg
	Retryable bool
	Err       error
}

func (e ConflictError) Error() string {
	if len(e.Legs) == 0 {
		if e.Retryable {
			return "conflict: contended, retry"
		}
		return "conflict"
	}

	parts := make([]string, 0, len(e.Legs))
	for _, l := range e.Legs {
		parts = append(parts, fmt.Sprintf("%s(%s)", l.Direction, l.Key()))
	}

	return "seat already booked: " + strings.Join(parts, ", ")
}

func (e ConflictError) Unwrap() error { return e.Err }

type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}

func IsNotFound(err error) bool {
	var target NotFoundError
	return errors.As(err, &target)
}

func IsValidation(err error) bool {
	var target ValidationError
	return errors.As(err, &target)
}

func IsConflict(err error) bool {
	var target ConflictError
	return errors.As(err, &target)
}

func IsInvalidTransition(err error) bool {
	var target InvalidTransitionError
	return errors.As(err, &target)
}

// AsConflict returns the first ConflictError in err's chain.
func AsConflict(err error) (ConflictError, bool) {
	var target ConflictError
	ok := errors.As(err, &target)
	return target, ok
}
