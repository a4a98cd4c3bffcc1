package domain

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

// Active statuses count against seat availability.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled},
}

// CanTransition checks from -> to against the ordinary lifecycle. The
// administrative override does not go through here.
func CanTransition(from, to Status) error {
	if !to.Valid() {
		return ValidationError{Field: "status", Msg: "unknown status " + string(to)}
	}

	for _, next := range transitions[from] {
		if next == to {
			return nil
		}
	}

	return InvalidTransitionError{From: from, To: to}
}

// EffectiveStatus reports completed for a confirmed booking whose last leg
// date is before today. The stored status is left untouched.
func (b Booking) EffectiveStatus(today time.Time) Status {
	if b.Status == StatusConfirmed && b.LastTravelDate().Before(DateOf(today)) {
		return StatusCompleted
	}
	return b.Status
}
