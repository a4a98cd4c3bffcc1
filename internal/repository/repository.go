// Package repository defines the storage contracts shared by the postgres
// and in-memory implementations.
package repository

import (
	"context"
	"time"

	"github.com/kirinyoku/seatline/internal/domain"
)

type InventoryRepo interface {
	GetRoute(ctx context.Context, id int64) (*domain.Route, error)
	GetVehicle(ctx context.Context, id int64) (*domain.Vehicle, error)
	GetSeat(ctx context.Context, id int64) (*domain.Seat, error)
	// ListSeats returns the vehicle's seats ordered by number.
	ListSeats(ctx context.Context, vehicleID int64) ([]domain.Seat, error)
	ListVehiclesByRoute(ctx context.Context, routeID int64) ([]domain.Vehicle, error)
}

type BookingRepo interface {
	// Create stores b with its legs as active claims and sets b.ID.
	// A leg held by another active booking yields *LegTakenError; a code
	// collision yields ErrCodeTaken.
	Create(ctx context.Context, b *domain.Booking) error
	Get(ctx context.Context, id int64) (*domain.Booking, error)
	// GetForUpdate locks the booking row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id int64) (*domain.Booking, error)
	GetByCode(ctx context.Context, code string) (*domain.Booking, error)
	ListByCustomer(ctx context.Context, customerID int64, limit, offset int) ([]domain.Booking, error)

	// ClaimedLegs returns the subset of keys held by active bookings.
	ClaimedLegs(ctx context.Context, keys []domain.LegKey) ([]domain.LegKey, error)
	// BookedSeatIDs returns seats of vehicleID claimed on date.
	BookedSeatIDs(ctx context.Context, vehicleID int64, date time.Time) ([]int64, error)

	UpdateStatus(ctx context.Context, id int64, status domain.Status, payment *domain.Payment) error
	ReleaseLegs(ctx context.Context, bookingID int64) error
	// ActivateLegs re-claims a booking's legs, failing with *LegTakenError
	// when another active booking holds one of them.
	ActivateLegs(ctx context.Context, bookingID int64) error
	ListDueForCompletion(ctx context.Context, today time.Time, limit int) ([]int64, error)
	AppendStatusEvent(ctx context.Context, ev domain.StatusChange) error
	ListStatusEvents(ctx context.Context, bookingID int64) ([]domain.StatusChange, error)
}

type Repos interface {
	Inventory() InventoryRepo
	Bookings() BookingRepo
}

// Store exposes non-transactional repositories and runs fn in a
// transaction whose repositories are passed as tx.
type Store interface {
	Repos
	RunTx(ctx context.Context, fn func(ctx context.Context, tx Repos) error) error
}
