package tickets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kirinyoku/seatline/internal/domain"
	"github.com/kirinyoku/seatline/internal/repository"
)

type Service struct {
	store repository.Store
	loc   *time.Location
	now   func() time.Time
}

// New builds the service; loc decides which bookings already count as
// completed.
func New(store repository.Store, loc *time.Location, now func() time.Time) *Service {
	if loc == nil {
		loc = time.UTC
	}

	if now == nil {
		now = time.Now
	}

	return &Service{store: store, loc: loc, now: now}
}

// BuildPayload assembles the ticket data handed to the renderer.
//
// Parameters:
//   - ctx: request-scoped context.
//   - bookingID: ID of the booking.
//   - actor: must own the booking or be an admin.
//
// Returns:
//   - *domain.TicketPayload: the assembled payload.
//   - error: domain.NotFoundError if the booking or its outbound
//     route, vehicle or seat is missing.
//   - error: domain.ErrForbidden if actor may not see the booking.
func (s *Service) BuildPayload(ctx context.Context, bookingID int64, actor domain.Actor) (*domain.TicketPayload, error) {
	const op = "service.tickets.BuildPayload"

	b, err := s.store.Bookings().Get(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, notFound(err, "booking", bookingID))
	}

	if b.CustomerID != actor.ID && !actor.IsAdmin() {
		return nil, fmt.Errorf("%s:%w", op, domain.ErrForbidden)
	}

	parts, err := s.parts(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	payload := domain.BuildTicketPayload(parts, domain.Today(s.now(), s.loc))

	return &payload, nil
}

func (s *Service) parts(ctx context.Context, b *domain.Booking) (domain.TicketParts, error) {
	inv := s.store.Inventory()
	p := domain.TicketParts{Booking: *b}

	route, err := inv.GetRoute(ctx, b.RouteID)
	if err != nil {
		return p, notFound(err, "route", b.RouteID)
	}
	p.Route = *route

	vehicle, err := inv.GetVehicle(ctx, b.VehicleID)
	if err != nil {
		return p, notFound(err, "vehicle", b.VehicleID)
	}
	p.Vehicle = *vehicle

	seat, err := inv.GetSeat(ctx, b.SeatID)
	if err != nil {
		return p, notFound(err, "seat", b.SeatID)
	}
	p.Seat = *seat

	if b.TripType != domain.RoundTrip {
		return p, nil
	}

	// return references are optional on the ticket; a missing row drops
	// only that field
	if b.ReturnVehicleID != nil {
		v, err := inv.GetVehicle(ctx, *b.ReturnVehicleID)
		switch {
		case err == nil:
			p.ReturnVehicle = v
		case !errors.Is(err, repository.ErrNotFound):
			return p, err
		}
	}

	if b.ReturnSeatID != nil {
		seat, err := inv.GetSeat(ctx, *b.ReturnSeatID)
		switch {
		case err == nil:
			p.ReturnSeat = seat
		case !errors.Is(err, repository.ErrNotFound):
			return p, err
		}
	}

	return p, nil
}

func notFound(err error, resource string, id int64) error {
	if errors.Is(err, repository.ErrNotFound) {
		return domain.NotFoundError{Resource: resource, ID: id, Err: err}
	}
	return err
}
