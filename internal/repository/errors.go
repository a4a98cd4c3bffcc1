package repository

import (
	"errors"
	"fmt"

	"github.com/kirinyoku/seatline/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrCodeTaken reports a reservation code collision.
	ErrCodeTaken = errors.New("reservation code taken")
	// ErrRetryable covers serialization failures, deadlocks and lock timeouts.
	ErrRetryable = errors.New("retryable storage conflict")
)

// LegTakenError reports that an active booking already holds Leg.
type LegTakenError struct {
	Leg domain.Leg
}

func (e *LegTakenError) Error() string {
	return fmt.Sprintf("leg taken: %s %s", e.Leg.Direction, e.Leg.Key())
}

func AsLegTaken(err error) (*LegTakenError, bool) {
	var target *LegTakenError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
