package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kirinyoku/seatline/internal/codegen"
	"github.com/kirinyoku/seatline/internal/domain"
	"github.com/kirinyoku/seatline/internal/repository"
	redisrepo "github.com/kirinyoku/seatline/internal/repository/redis"
)

type Config struct {
	InventoryTTL    time.Duration
	SeatMapTTL      time.Duration
	DefaultPageSize int
	MaxPageSize     int
	Location        *time.Location
	Now             func() time.Time
	// Codes describes the reservation code format; lookups by a code
	// that could never have been issued skip storage.
	Codes codegen.Config
}

type Service struct {
	store repository.Store
	cache *redisrepo.Cache
	codes *codegen.Generator
	cfg   Config
}

// New builds the read side. cache may be nil.
func New(store repository.Store, cache *redisrepo.Cache, cfg Config) *Service {
	if cfg.InventoryTTL <= 0 {
		cfg.InventoryTTL = 5 * time.Minute
	}

	if cfg.SeatMapTTL <= 0 {
		cfg.SeatMapTTL = 15 * time.Second
	}

	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = 20
	}

	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = 100
	}

	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Service{
		store: store,
		cache: cache,
		codes: codegen.New(cfg.Codes),
		cfg:   cfg,
	}
}

func (s *Service) today() time.Time {
	return domain.Today(s.cfg.Now(), s.cfg.Location)
}

// GetRoute retrieves a route by its ID through the cache.
//
// Returns:
//   - error: domain.NotFoundError if the route does not exist.
func (s *Service) GetRoute(ctx context.Context, id int64) (*domain.Route, error) {
	const op = "service.query.GetRoute"

	route, err := redisrepo.GetOrSetJSON(
		ctx,
		s.cache,
		redisrepo.KeyRoute(id),
		s.cfg.InventoryTTL,
		func(ctx context.Context) (domain.Route, error) {
			r, err := s.store.Inventory().GetRoute(ctx, id)
			if err != nil {
				return domain.Route{}, notFound(err, "route", id)
			}
			return *r, nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &route, nil
}

func (s *Service) GetVehicle(ctx context.Context, id int64) (*domain.Vehicle, error) {
	const op = "service.query.GetVehicle"

	vehicle, err := redisrepo.GetOrSetJSON(
		ctx,
		s.cache,
		redisrepo.KeyVehicle(id),
		s.cfg.InventoryTTL,
		func(ctx context.Context) (domain.Vehicle, error) {
			v, err := s.store.Inventory().GetVehicle(ctx, id)
			if err != nil {
				return domain.Vehicle{}, notFound(err, "vehicle", id)
			}
			return *v, nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &vehicle, nil
}

// ListRouteVehicles returns the vehicles assigned to a route.
func (s *Service) ListRouteVehicles(ctx context.Context, routeID int64) ([]domain.Vehicle, error) {
	const op = "service.query.ListRouteVehicles"

	if _, err := s.GetRoute(ctx, routeID); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	vehicles, err := redisrepo.GetOrSetJSON(
		ctx,
		s.cache,
		redisrepo.KeyRouteVehicles(routeID),
		s.cfg.InventoryTTL,
		func(ctx context.Context) ([]domain.Vehicle, error) {
			return s.store.Inventory().ListVehiclesByRoute(ctx, routeID)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return vehicles, nil
}

// SeatMap lists a vehicle's seats with their availability on date. The
// result is cached briefly and dropped whenever a leg on that vehicle and
// date is claimed or released.
//
// Parameters:
//   - ctx: request-scoped context.
//   - vehicleID: ID of the vehicle.
//   - date: travel date; only its calendar date is used.
//
// Returns:
//   - *domain.SeatMap: seats in display order with Booked and Bookable set.
//   - error: domain.NotFoundError if the vehicle does not exist.
func (s *Service) SeatMap(ctx context.Context, vehicleID int64, date time.Time) (*domain.SeatMap, error) {
	const op = "service.query.SeatMap"

	date = domain.DateOf(date)

	vehicle, err := s.GetVehicle(ctx, vehicleID)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	sm, err := redisrepo.GetOrSetGuardedJSON(
		ctx,
		s.cache,
		redisrepo.KeySeatMap(vehicleID, date),
		s.cfg.SeatMapTTL,
		func(ctx context.Context) (domain.SeatMap, error) {
			return s.loadSeatMap(ctx, vehicle, date)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &sm, nil
}

func (s *Service) loadSeatMap(ctx context.Context, vehicle *domain.Vehicle, date time.Time) (domain.SeatMap, error) {
	seats, err := s.store.Inventory().ListSeats(ctx, vehicle.ID)
	if err != nil {
		return domain.SeatMap{}, err
	}

	booked, err := s.store.Bookings().BookedSeatIDs(ctx, vehicle.ID, date)
	if err != nil {
		return domain.SeatMap{}, err
	}

	taken := make(map[int64]struct{}, len(booked))
	for _, id := range booked {
		taken[id] = struct{}{}
	}

	sellable := vehicle.IsActive && !date.Before(s.today())

	sm := domain.SeatMap{
		VehicleID: vehicle.ID,
		Date:      date,
		Seats:     make([]domain.SeatAvailability, 0, len(seats)),
		Total:     len(seats),
	}
	for _, seat := range seats {
		_, isBooked := taken[seat.ID]
		a := domain.SeatAvailability{
			Seat:     seat,
			Booked:   isBooked,
			Bookable: sellable && seat.IsAvailable && !isBooked,
		}
		if a.Bookable {
			sm.Available++
		}
		sm.Seats = append(sm.Seats, a)
	}

	return sm, nil
}

// GetBooking returns a booking its owner or an admin may see, with the
// effective status.
func (s *Service) GetBooking(ctx context.Context, id int64, actor domain.Actor) (*domain.Booking, error) {
	const op = "service.query.GetBooking"

	b, err := s.store.Bookings().Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, notFound(err, "booking", id))
	}

	if !CanView(b, actor) {
		return nil, fmt.Errorf("%s:%w", op, domain.ErrForbidden)
	}

	b.Status = b.EffectiveStatus(s.today())

	return b, nil
}

// GetBookingByCode looks a booking up by its reservation code. A code the
// generator could never have issued is reported as not found.
func (s *Service) GetBookingByCode(ctx context.Context, code string) (*domain.Booking, error) {
	const op = "service.query.GetBookingByCode"

	code = strings.TrimSpace(code)
	if !s.codes.Valid(code) {
		return nil, fmt.Errorf("%s:%w", op, domain.NotFoundError{Resource: "booking", Err: repository.ErrNotFound})
	}

	b, err := s.store.Bookings().GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%s:%w", op, domain.NotFoundError{Resource: "booking", Err: err})
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	b.Status = b.EffectiveStatus(s.today())

	return b, nil
}

// ListCustomerBookings pages through a customer's bookings, newest first.
func (s *Service) ListCustomerBookings(
	ctx context.Context,
	customerID int64,
	limit, offset int,
) ([]domain.Booking, error) {
	const op = "service.query.ListCustomerBookings"

	if limit <= 0 {
		limit = s.cfg.DefaultPageSize
	}

	if limit > s.cfg.MaxPageSize {
		limit = s.cfg.MaxPageSize
	}

	if offset < 0 {
		offset = 0
	}

	list, err := s.store.Bookings().ListByCustomer(ctx, customerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	today := s.today()
	for i := range list {
		list[i].Status = list[i].EffectiveStatus(today)
	}

	return list, nil
}

// BookingHistory returns the status events of a booking, oldest first.
func (s *Service) BookingHistory(ctx context.Context, id int64, actor domain.Actor) ([]domain.StatusChange, error) {
	const op = "service.query.BookingHistory"

	if _, err := s.GetBooking(ctx, id, actor); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	events, err := s.store.Bookings().ListStatusEvents(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return events, nil
}

// CanView reports whether actor may read b.
func CanView(b *domain.Booking, actor domain.Actor) bool {
	return b.CustomerID == actor.ID || actor.IsAdmin()
}

func notFound(err error, resource string, id int64) error {
	if errors.Is(err, repository.ErrNotFound) {
		return domain.NotFoundError{Resource: resource, ID: id, Err: err}
	}
	return err
}
