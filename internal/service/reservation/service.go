package reservation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kirinyoku/seatline/internal/codegen"
	"github.com/kirinyoku/seatline/internal/domain"
	"github.com/kirinyoku/seatline/internal/metrics"
	"github.com/kirinyoku/seatline/internal/repository"
	"github.com/kirinyoku/seatline/internal/uow"
	"go.uber.org/zap"
)

// Locker takes advisory per-leg locks. A lock that cannot be taken
// immediately is contention, not something to wait for.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Unlock(ctx context.Context, key, token string) error
}

type Limiter interface {
	Allow(ctx context.Context, suffix string) (allowed bool, current int64, retryAfter time.Duration, err error)
}

type SeatsNotifier interface {
	SeatsChanged(ctx context.Context, keys []domain.LegKey)
}

type Config struct {
	// Location decides what "today" is for travel date checks.
	Location     *time.Location
	Now          func() time.Time
	ClaimLockTTL time.Duration
	// MaxAttempts bounds reruns of the claim transaction after
	// serialization failures and lock timeouts.
	MaxAttempts int
	Codegen     codegen.Config
}

type Service struct {
	store    repository.Store
	uow      *uow.UoW
	codes    *codegen.Generator
	locker   Locker
	limiter  Limiter
	notifier SeatsNotifier
	metrics  *metrics.Metrics
	log      *zap.Logger
	cfg      Config
}

// New builds the service. locker, limiter and notifier may be nil.
func New(
	store repository.Store,
	locker Locker,
	limiter Limiter,
	notifier SeatsNotifier,
	m *metrics.Metrics,
	log *zap.Logger,
	cfg Config,
) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	if cfg.ClaimLockTTL <= 0 {
		cfg.ClaimLockTTL = 10 * time.Second
	}

	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}

	if log == nil {
		log = zap.NewNop()
	}

	return &Service{
		store:    store,
		uow:      uow.NewUoW(store),
		codes:    codegen.New(cfg.Codegen),
		locker:   locker,
		limiter:  limiter,
		notifier: notifier,
		metrics:  m,
		log:      log.Named("reservation"),
		cfg:      cfg,
	}
}

// Reserve validates req and atomically claims every leg it needs, storing
// a pending booking.
//
// Parameters:
//   - ctx: request-scoped context. Cancelling it rolls the claim back.
//   - req: the reservation request.
//   - rlKey: rate-limit bucket for the caller; empty disables limiting.
//
// Returns:
//   - *domain.Booking: the persisted booking with its code and fare.
//   - error: domain.ValidationError or domain.NotFoundError for bad input.
//   - error: domain.ConflictError naming the legs already claimed.
//   - error: RateLimitedError when the caller is over budget.
//   - error: domain.ErrCodeGenerationExhausted when no free code was found.
func (s *Service) Reserve(
	ctx context.Context,
	req domain.ReservationRequest,
	rlKey string,
) (*domain.Booking, error) {
	const op = "service.reservation.Reserve"

	start := time.Now()
	b, err := s.reserve(ctx, req, rlKey)
	s.metrics.ObserveReservation(resultOf(err), time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	s.log.Info("booking reserved",
		zap.Int64("booking_id", b.ID),
		zap.String("code", b.Code),
		zap.Int64("customer_id", b.CustomerID),
		zap.String("trip_type", string(b.TripType)),
		zap.Int64("fare_cents", b.FareCents),
	)

	return b, nil
}

func (s *Service) reserve(
	ctx context.Context,
	req domain.ReservationRequest,
	rlKey string,
) (*domain.Booking, error) {
	if err := s.checkRate(ctx, rlKey); err != nil {
		return nil, err
	}

	draft, err := s.validate(ctx, req)
	if err != nil {
		return nil, err
	}

	legs := draft.Legs()

	if err := s.precheck(ctx, legs); err != nil {
		return nil, err
	}

	release, err := s.lockLegs(ctx, legs)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := s.claim(ctx, draft, legs); err != nil {
		return nil, err
	}

	return draft, nil
}

func (s *Service) checkRate(ctx context.Context, key string) error {
	if s.limiter == nil || key == "" {
		return nil
	}

	ok, _, retry, err := s.limiter.Allow(ctx, key)
	if err != nil {
		s.log.Warn("rate limiter unavailable", zap.Error(err))
		return nil
	}
	if !ok {
		return RateLimitedError{RetryAfter: retry}
	}

	return nil
}

// validate has no side effects. It returns the booking to be stored,
// minus its code.
func (s *Service) validate(ctx context.Context, req domain.ReservationRequest) (*domain.Booking, error) {
	if !req.TripType.Valid() {
		return nil, domain.ValidationError{Field: "trip_type", Msg: "must be one_way or round_trip"}
	}

	if req.CustomerID <= 0 {
		return nil, domain.ValidationError{Field: "customer_id", Msg: "required"}
	}

	name := strings.TrimSpace(req.PassengerName)
	if name == "" {
		return nil, domain.ValidationError{Field: "passenger_name", Msg: "required"}
	}

	inv := s.store.Inventory()

	route, err := inv.GetRoute(ctx, req.RouteID)
	if err != nil {
		return nil, notFound(err, "route", req.RouteID)
	}
	if !route.IsActive {
		return nil, domain.ValidationError{Field: "route_id", Msg: "route is not in service"}
	}

	vehicle, _, err := s.vehicleSeat(ctx, req.VehicleID, req.SeatID, "vehicle_id", "seat_id")
	if err != nil {
		return nil, err
	}
	if !vehicle.Serves(route.ID) {
		return nil, domain.ValidationError{Field: "vehicle_id", Msg: "vehicle does not serve this route"}
	}

	today := domain.Today(s.cfg.Now(), s.cfg.Location)
	travel := domain.DateOf(req.TravelDate)
	if travel.Before(today) {
		return nil, domain.ValidationError{Field: "travel_date", Msg: "must not be in the past"}
	}

	fare, err := domain.ComputeFare(*route, req.TripType)
	if err != nil {
		return nil, err
	}

	b := &domain.Booking{
		CustomerID:    req.CustomerID,
		PassengerName: name,
		RouteID:       route.ID,
		VehicleID:     vehicle.ID,
		SeatID:        req.SeatID,
		TravelDate:    travel,
		TripType:      req.TripType,
		FareCents:     fare,
		Status:        domain.StatusPending,
	}

	if req.TripType == domain.OneWay {
		return b, nil
	}

	switch {
	case req.ReturnVehicleID == nil:
		return nil, domain.ValidationError{Field: "return_vehicle_id", Msg: "required for round trip"}
	case req.ReturnSeatID == nil:
		return nil, domain.ValidationError{Field: "return_seat_id", Msg: "required for round trip"}
	case req.ReturnDate == nil:
		return nil, domain.ValidationError{Field: "return_date", Msg: "required for round trip"}
	}

	rv, rs, err := s.vehicleSeat(ctx, *req.ReturnVehicleID, *req.ReturnSeatID, "return_vehicle_id", "return_seat_id")
	if err != nil {
		return nil, err
	}

	rd := domain.DateOf(*req.ReturnDate)
	if !rd.After(travel) {
		return nil, domain.ValidationError{Field: "return_date", Msg: "must be after travel date"}
	}

	b.ReturnVehicleID = &rv.ID
	b.ReturnSeatID = &rs.ID
	b.ReturnDate = &rd

	return b, nil
}

func (s *Service) vehicleSeat(
	ctx context.Context,
	vehicleID, seatID int64,
	vehicleField, seatField string,
) (*domain.Vehicle, *domain.Seat, error) {
	inv := s.store.Inventory()

	vehicle, err := inv.GetVehicle(ctx, vehicleID)
	if err != nil {
		return nil, nil, notFound(err, "vehicle", vehicleID)
	}
	if !vehicle.IsActive {
		return nil, nil, domain.ValidationError{Field: vehicleField, Msg: "vehicle is not in service"}
	}

	seat, err := inv.GetSeat(ctx, seatID)
	if err != nil {
		return nil, nil, notFound(err, "seat", seatID)
	}
	if seat.VehicleID != vehicle.ID {
		return nil, nil, domain.ValidationError{Field: seatField, Msg: "seat does not belong to vehicle"}
	}
	if !seat.IsAvailable {
		return nil, nil, domain.ValidationError{Field: seatField, Msg: "seat is out of service"}
	}

	return vehicle, seat, nil
}

// precheck is a fast path only; the claim transaction decides.
func (s *Service) precheck(ctx context.Context, legs []domain.Leg) error {
	claimed, err := s.store.Bookings().ClaimedLegs(ctx, domain.LegKeys(legs))
	if err != nil {
		return err
	}
	if len(claimed) > 0 {
		return domain.ConflictError{Legs: pickLegs(legs, claimed)}
	}

	return nil
}

// lockLegs takes every leg lock in key order or none of them. The returned
// release runs even after ctx is cancelled. A failing lock backend is
// skipped: the database constraint still holds.
func (s *Service) lockLegs(ctx context.Context, legs []domain.Leg) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}

	sorted := append([]domain.Leg(nil), legs...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Key().String() < sorted[j].Key().String()
	})

	type held struct {
		key   string
		token string
	}
	acquired := make([]held, 0, len(sorted))

	release := func() {
		rctx := context.WithoutCancel(ctx)
		for i := len(acquired) - 1; i >= 0; i-- {
			if err := s.locker.Unlock(rctx, acquired[i].key, acquired[i].token); err != nil {
				s.log.Warn("leg lock release failed",
					zap.String("leg", acquired[i].key),
					zap.Error(err),
				)
			}
		}
		acquired = acquired[:0]
	}

	for _, l := range sorted {
		key := l.Key().String()

		token, ok, err := s.locker.TryLock(ctx, key, s.cfg.ClaimLockTTL)
		if err != nil {
			release()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.log.Warn("leg locks unavailable, relying on storage constraint", zap.Error(err))
			return func() {}, nil
		}
		if !ok {
			release()
			return nil, domain.ConflictError{Legs: []domain.Leg{l}, Retryable: true}
		}

		acquired = append(acquired, held{key: key, token: token})
	}

	return release, nil
}

// claim stores draft and its legs in one transaction, drawing a new code on
// collisions and rerunning after retryable storage failures.
func (s *Service) claim(ctx context.Context, draft *domain.Booking, legs []domain.Leg) error {
	for attempt := 1; ; attempt++ {
		err := s.create(ctx, draft, legs)
		if err == nil {
			return nil
		}

		if lt, ok := repository.AsLegTaken(err); ok {
			return s.conflict(ctx, legs, lt, err)
		}

		if !errors.Is(err, repository.ErrRetryable) {
			return err
		}

		if attempt >= s.cfg.MaxAttempts {
			return domain.ConflictError{Legs: legs, Retryable: true, Err: err}
		}

		s.log.Debug("claim contended, retrying", zap.Int("attempt", attempt), zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 20 * time.Millisecond):
		}
	}
}

func (s *Service) create(ctx context.Context, draft *domain.Booking, legs []domain.Leg) error {
	_, err := s.codes.Generate(ctx, func(ctx context.Context, code string) error {
		b := *draft
		b.Code = code

		err := s.uow.Do(ctx, func(
			ctx context.Context,
			tx repository.Repos,
			after func(uow.AfterCommit),
		) error {
			if err := tx.Bookings().Create(ctx, &b); err != nil {
				return err
			}

			after(func(ctx context.Context) {
				if s.notifier != nil {
					s.notifier.SeatsChanged(ctx, domain.LegKeys(legs))
				}
			})

			return nil
		})
		if errors.Is(err, repository.ErrCodeTaken) {
			s.metrics.CodeCollision()
			return fmt.Errorf("%w: %w", codegen.ErrTaken, err)
		}
		if err != nil {
			return err
		}

		*draft = b
		return nil
	})

	return err
}

// conflict names every leg that is claimed now. The leg the insert tripped
// on is reported even if it was released in the meantime.
func (s *Service) conflict(ctx context.Context, legs []domain.Leg, lt *repository.LegTakenError, cause error) error {
	out := []domain.Leg{lt.Leg}

	claimed, err := s.store.Bookings().ClaimedLegs(context.WithoutCancel(ctx), domain.LegKeys(legs))
	if err == nil && len(claimed) > 0 {
		out = pickLegs(legs, claimed)
		if !containsLeg(out, lt.Leg) {
			out = append(out, lt.Leg)
		}
	}

	return domain.ConflictError{Legs: out, Err: cause}
}

func pickLegs(legs []domain.Leg, keys []domain.LegKey) []domain.Leg {
	set := make(map[domain.LegKey]struct{}, len(keys))
	for _, k := range keys {
		set[domain.LegKey{VehicleID: k.VehicleID, SeatID: k.SeatID, Date: domain.DateOf(k.Date)}] = struct{}{}
	}

	out := make([]domain.Leg, 0, len(keys))
	for _, l := range legs {
		if _, ok := set[l.Key()]; ok {
			out = append(out, l)
		}
	}

	return out
}

func containsLeg(legs []domain.Leg, l domain.Leg) bool {
	for _, x := range legs {
		if x.Direction == l.Direction && x.Key() == l.Key() {
			return true
		}
	}
	return false
}

func notFound(err error, resource string, id int64) error {
	if errors.Is(err, repository.ErrNotFound) {
		return domain.NotFoundError{Resource: resource, ID: id, Err: err}
	}
	return err
}

func resultOf(err error) string {
	var rl RateLimitedError

	switch {
	case err == nil:
		return "ok"
	case domain.IsConflict(err):
		return "conflict"
	case domain.IsValidation(err):
		return "invalid"
	case domain.IsNotFound(err):
		return "not_found"
	case errors.As(err, &rl):
		return "rate_limited"
	case errors.Is(err, domain.ErrCodeGenerationExhausted):
		return "code_exhausted"
	default:
		return "error"
	}
}
