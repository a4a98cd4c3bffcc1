package reservation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kirinyoku/seatline/internal/codegen"
	"github.com/kirinyoku/seatline/internal/domain"
	"github.com/kirinyoku/seatline/internal/metrics"
	"github.com/kirinyoku/seatline/internal/repository"
	"github.com/kirinyoku/seatline/internal/repository/memory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var now = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func day(offset int) time.Time {
	return domain.DateOf(now).AddDate(0, 0, offset)
}

func inventory() memory.Inventory {
	return memory.Inventory{
		Routes: []domain.Route{
			{ID: 1, Name: "Colombo - Kandy", Origin: "Colombo", Destination: "Kandy", BaseFareCents: 1500, Departure: 8 * time.Hour, IsActive: true},
			{ID: 2, Name: "Kandy - Colombo", Origin: "Kandy", Destination: "Colombo", BaseFareCents: 1500, Departure: 15 * time.Hour, IsActive: true},
			{ID: 3, Name: "Closed", BaseFareCents: 900},
		},
		Vehicles: []domain.Vehicle{
			{ID: 1, Number: "NB-1001", SeatCapacity: 3, RouteID: ptr(int64(1)), IsActive: true},
			{ID: 2, Number: "NB-2002", SeatCapacity: 2, RouteID: ptr(int64(2)), IsActive: true},
			{ID: 3, Number: "NB-3003", SeatCapacity: 1, RouteID: ptr(int64(1))},
		},
		Seats: []domain.Seat{
			{ID: 1, VehicleID: 1, Number: "1", IsAvailable: true},
			{ID: 2, VehicleID: 1, Number: "2", IsAvailable: true},
			{ID: 3, VehicleID: 1, Number: "3"},
			{ID: 4, VehicleID: 2, Number: "1", IsAvailable: true},
			{ID: 5, VehicleID: 2, Number: "2", IsAvailable: true},
			{ID: 6, VehicleID: 3, Number: "1", IsAvailable: true},
		},
	}
}

type recordingNotifier struct {
	mu   sync.Mutex
	keys [][]domain.LegKey
}

func (n *recordingNotifier) SeatsChanged(_ context.Context, keys []domain.LegKey) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.keys = append(n.keys, keys)
}

type stubLimiter struct {
	allowed bool
	retry   time.Duration
	err     error
}

func (l stubLimiter) Allow(context.Context, string) (bool, int64, time.Duration, error) {
	return l.allowed, 1, l.retry, l.err
}

// trackedLocker records which leg locks the service still holds.
type trackedLocker struct {
	*memory.LegLocker

	mu     sync.Mutex
	tokens map[string]string
}

func newTrackedLocker() *trackedLocker {
	return &trackedLocker{LegLocker: memory.NewLegLocker(), tokens: make(map[string]string)}
}

func (l *trackedLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token, ok, err := l.LegLocker.TryLock(ctx, key, ttl)
	if ok {
		l.mu.Lock()
		l.tokens[key] = token
		l.mu.Unlock()
	}
	return token, ok, err
}

func (l *trackedLocker) Unlock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	if l.tokens[key] == token {
		delete(l.tokens, key)
	}
	l.mu.Unlock()
	return l.LegLocker.Unlock(ctx, key, token)
}

func (l *trackedLocker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tokens)
}

type fixture struct {
	store    *memory.Store
	locker   *trackedLocker
	notifier *recordingNotifier
	metrics  *metrics.Metrics
	svc      *Service
}

func newFixture(t *testing.T, opts ...func(*Config)) *fixture {
	t.Helper()

	store := memory.New()
	require.NoError(t, store.Load(context.Background(), inventory()))

	cfg := Config{Now: func() time.Time { return now }}
	for _, o := range opts {
		o(&cfg)
	}

	f := &fixture{
		store:    store,
		locker:   newTrackedLocker(),
		notifier: &recordingNotifier{},
		metrics:  metrics.New(prometheus.NewRegistry()),
	}
	f.svc = New(store, f.locker, nil, f.notifier, f.metrics, zap.NewNop(), cfg)

	return f
}

func oneWay(seatID int64, travel time.Time) domain.ReservationRequest {
	return domain.ReservationRequest{
		CustomerID:    10,
		PassengerName: "Nimal Perera",
		RouteID:       1,
		VehicleID:     1,
		SeatID:        seatID,
		TripType:      domain.OneWay,
		TravelDate:    travel,
	}
}

func roundTrip(seatID int64, travel time.Time, returnSeatID int64, ret time.Time) domain.ReservationRequest {
	req := oneWay(seatID, travel)
	req.TripType = domain.RoundTrip
	req.ReturnVehicleID = ptr(int64(2))
	req.ReturnSeatID = ptr(returnSeatID)
	req.ReturnDate = ptr(ret)
	return req
}

func TestReserve_OneWay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.svc.Reserve(ctx, oneWay(1, day(2)), "")
	require.NoError(t, err)

	assert.NotZero(t, b.ID)
	assert.Equal(t, int64(1500), b.FareCents)
	assert.Equal(t, domain.StatusPending, b.Status)
	assert.True(t, f.svc.codes.Valid(b.Code))
	require.Len(t, b.Legs(), 1)

	claimed, err := f.store.Bookings().ClaimedLegs(ctx, domain.LegKeys(b.Legs()))
	require.NoError(t, err)
	assert.Len(t, claimed, 1)

	require.Len(t, f.notifier.keys, 1)
	assert.Equal(t, domain.LegKeys(b.Legs()), f.notifier.keys[0])
	assert.Equal(t, 0, f.locker.Held())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Reservations.WithLabelValues("ok")))
}

func TestReserve_RoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.svc.Reserve(ctx, roundTrip(1, day(1), 4, day(4)), "")
	require.NoError(t, err)

	assert.Equal(t, int64(3000), b.FareCents)
	legs := b.Legs()
	require.Len(t, legs, 2)
	assert.Equal(t, domain.Outbound, legs[0].Direction)
	assert.Equal(t, domain.Return, legs[1].Direction)

	claimed, err := f.store.Bookings().ClaimedLegs(ctx, domain.LegKeys(legs))
	require.NoError(t, err)
	assert.Len(t, claimed, 2)
}

func TestReserve_SameSeatBothDirections(t *testing.T) {
	f := newFixture(t)

	req := oneWay(1, day(1))
	req.TripType = domain.RoundTrip
	req.ReturnVehicleID = ptr(int64(1))
	req.ReturnSeatID = ptr(int64(1))
	req.ReturnDate = ptr(day(2))

	b, err := f.svc.Reserve(context.Background(), req, "")
	require.NoError(t, err)
	assert.Len(t, b.Legs(), 2)
}

func TestReserve_TravelDateBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Reserve(ctx, oneWay(1, day(0)), "")
	require.NoError(t, err, "today is bookable")

	_, err = f.svc.Reserve(ctx, oneWay(2, day(-1)), "")
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
}

func TestReserve_TodayFollowsLocation(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*3600)
	// 09:00 UTC is 19:00 on the same day in UTC+10; at 15:00 UTC it is
	// already the next day there.
	f := newFixture(t, func(c *Config) {
		c.Location = loc
		c.Now = func() time.Time { return now.Add(6 * time.Hour) }
	})

	_, err := f.svc.Reserve(context.Background(), oneWay(1, day(0)), "")
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))

	_, err = f.svc.Reserve(context.Background(), oneWay(1, day(1)), "")
	require.NoError(t, err)
}

func TestReserve_ReturnDateOrdering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Reserve(ctx, roundTrip(1, day(3), 4, day(3)), "")
	require.Error(t, err)
	var ve domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "return_date", ve.Field)

	_, err = f.svc.Reserve(ctx, roundTrip(1, day(3), 4, day(4)), "")
	require.NoError(t, err)
}

func TestReserve_Validation(t *testing.T) {
	cases := []struct {
		name     string
		mutate   func(r *domain.ReservationRequest)
		field    string
		notFound string
	}{
		{name: "bad trip type", mutate: func(r *domain.ReservationRequest) { r.TripType = "circle" }, field: "trip_type"},
		{name: "no passenger", mutate: func(r *domain.ReservationRequest) { r.PassengerName = "  " }, field: "passenger_name"},
		{name: "unknown route", mutate: func(r *domain.ReservationRequest) { r.RouteID = 99 }, notFound: "route"},
		{name: "inactive route", mutate: func(r *domain.ReservationRequest) { r.RouteID = 3 }, field: "route_id"},
		{name: "unknown vehicle", mutate: func(r *domain.ReservationRequest) { r.VehicleID = 99 }, notFound: "vehicle"},
		{name: "vehicle on other route", mutate: func(r *domain.ReservationRequest) { r.VehicleID, r.SeatID = 2, 4 }, field: "vehicle_id"},
		{name: "inactive vehicle", mutate: func(r *domain.ReservationRequest) { r.VehicleID, r.SeatID = 3, 6 }, field: "vehicle_id"},
		{name: "unknown seat", mutate: func(r *domain.ReservationRequest) { r.SeatID = 99 }, notFound: "seat"},
		{name: "seat of other vehicle", mutate: func(r *domain.ReservationRequest) { r.SeatID = 4 }, field: "seat_id"},
		{name: "seat out of service", mutate: func(r *domain.ReservationRequest) { r.SeatID = 3 }, field: "seat_id"},
		{name: "round trip without return vehicle", mutate: func(r *domain.ReservationRequest) {
			r.TripType = domain.RoundTrip
			r.ReturnSeatID = ptr(int64(4))
			r.ReturnDate = ptr(day(5))
		}, field: "return_vehicle_id"},
		{name: "round trip without return seat", mutate: func(r *domain.ReservationRequest) {
			r.TripType = domain.RoundTrip
			r.ReturnVehicleID = ptr(int64(2))
			r.ReturnDate = ptr(day(5))
		}, field: "return_seat_id"},
		{name: "round trip without return date", mutate: func(r *domain.ReservationRequest) {
			r.TripType = domain.RoundTrip
			r.ReturnVehicleID = ptr(int64(2))
			r.ReturnSeatID = ptr(int64(4))
		}, field: "return_date"},
		{name: "return seat of other vehicle", mutate: func(r *domain.ReservationRequest) {
			r.TripType = domain.RoundTrip
			r.ReturnVehicleID = ptr(int64(2))
			r.ReturnSeatID = ptr(int64(1))
			r.ReturnDate = ptr(day(5))
		}, field: "return_seat_id"},
		{name: "return before travel", mutate: func(r *domain.ReservationRequest) {
			r.TripType = domain.RoundTrip
			r.ReturnVehicleID = ptr(int64(2))
			r.ReturnSeatID = ptr(int64(4))
			r.ReturnDate = ptr(day(0))
		}, field: "return_date"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			req := oneWay(1, day(2))
			tc.mutate(&req)

			_, err := f.svc.Reserve(context.Background(), req, "")
			require.Error(t, err)

			if tc.notFound != "" {
				var nf domain.NotFoundError
				require.ErrorAs(t, err, &nf)
				assert.Equal(t, tc.notFound, nf.Resource)
			} else {
				var ve domain.ValidationError
				require.ErrorAs(t, err, &ve)
				assert.Equal(t, tc.field, ve.Field)
			}

			list, err := f.store.Bookings().ListByCustomer(context.Background(), 10, 0, 0)
			require.NoError(t, err)
			assert.Empty(t, list)
			assert.Empty(t, f.notifier.keys)
		})
	}
}

func TestReserve_ConflictNamesLeg(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Reserve(ctx, oneWay(1, day(2)), "")
	require.NoError(t, err)

	_, err = f.svc.Reserve(ctx, oneWay(1, day(2)), "")
	require.Error(t, err)

	ce, ok := domain.AsConflict(err)
	require.True(t, ok)
	assert.False(t, ce.Retryable)
	require.Len(t, ce.Legs, 1)
	assert.Equal(t, domain.Outbound, ce.Legs[0].Direction)
	assert.Equal(t, int64(1), ce.Legs[0].SeatID)

	_, err = f.svc.Reserve(ctx, oneWay(1, day(3)), "")
	assert.NoError(t, err, "same seat on another date is free")
}

func TestReserve_RoundTripReturnConflictCreatesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	other := domain.ReservationRequest{
		CustomerID:    20,
		PassengerName: "Kamala",
		RouteID:       2,
		VehicleID:     2,
		SeatID:        4,
		TripType:      domain.OneWay,
		TravelDate:    day(5),
	}
	_, err := f.svc.Reserve(ctx, other, "")
	require.NoError(t, err)

	_, err = f.svc.Reserve(ctx, roundTrip(1, day(2), 4, day(5)), "")
	require.Error(t, err)

	ce, ok := domain.AsConflict(err)
	require.True(t, ok)
	require.Len(t, ce.Legs, 1)
	assert.Equal(t, domain.Return, ce.Legs[0].Direction)

	list, err := f.store.Bookings().ListByCustomer(ctx, 10, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, list, "outbound leg must not be persisted alone")

	claimed, err := f.store.Bookings().ClaimedLegs(ctx, []domain.LegKey{{VehicleID: 1, SeatID: 1, Date: day(2)}})
	require.NoError(t, err)
	assert.Empty(t, claimed)
	assert.Equal(t, 0, f.locker.Held())
}

func TestReserve_ConcurrentSameKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)

	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start

			req := oneWay(2, day(1))
			req.CustomerID = int64(100 + i)

			_, err := f.svc.Reserve(ctx, req, "")

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case domain.IsConflict(err):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, conflicts)
	assert.Equal(t, 0, f.locker.Held())
}

func TestReserve_LockContentionIsRetryable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	key := domain.LegKey{VehicleID: 1, SeatID: 1, Date: day(2)}.String()
	_, ok, err := f.locker.TryLock(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.svc.Reserve(ctx, oneWay(1, day(2)), "")
	ce, isConflict := domain.AsConflict(err)
	require.True(t, isConflict)
	assert.True(t, ce.Retryable)
	assert.Equal(t, 1, f.locker.Held(), "only the foreign lock remains")
}

func TestReserve_ReleaseAfterCancelFreesKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.svc.Reserve(ctx, oneWay(1, day(2)), "")
	require.NoError(t, err)

	err = f.store.RunTx(ctx, func(ctx context.Context, tx repository.Repos) error {
		if err := tx.Bookings().UpdateStatus(ctx, b.ID, domain.StatusCancelled, nil); err != nil {
			return err
		}
		return tx.Bookings().ReleaseLegs(ctx, b.ID)
	})
	require.NoError(t, err)

	_, err = f.svc.Reserve(ctx, oneWay(1, day(2)), "")
	assert.NoError(t, err)
}

func TestReserve_CancelledContext(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.Reserve(ctx, oneWay(1, day(2)), "")
	require.Error(t, err)

	list, err := f.store.Bookings().ListByCustomer(context.Background(), 10, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Equal(t, 0, f.locker.Held())
}

func TestReserve_RateLimited(t *testing.T) {
	f := newFixture(t)
	f.svc.limiter = stubLimiter{allowed: false, retry: 3 * time.Second}

	_, err := f.svc.Reserve(context.Background(), oneWay(1, day(2)), "customer:10")
	var rl RateLimitedError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 3*time.Second, rl.RetryAfter)

	_, err = f.svc.Reserve(context.Background(), oneWay(1, day(2)), "")
	assert.NoError(t, err, "no key, no limit")
}

func TestReserve_LimiterOutageFailsOpen(t *testing.T) {
	f := newFixture(t)
	f.svc.limiter = stubLimiter{err: errors.New("redis down")}

	_, err := f.svc.Reserve(context.Background(), oneWay(1, day(2)), "customer:10")
	assert.NoError(t, err)
}

func TestReserve_CodeSpaceExhausted(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.Codegen = codegen.Config{Alphabet: "X", Length: 1, MaxAttempts: 3}
	})
	ctx := context.Background()

	b, err := f.svc.Reserve(ctx, oneWay(1, day(2)), "")
	require.NoError(t, err)
	assert.Equal(t, "X", b.Code)

	_, err = f.svc.Reserve(ctx, oneWay(2, day(2)), "")
	require.ErrorIs(t, err, domain.ErrCodeGenerationExhausted)
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.CodeCollisions))

	claimed, err := f.store.Bookings().ClaimedLegs(ctx, []domain.LegKey{{VehicleID: 1, SeatID: 2, Date: day(2)}})
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestReserve_CancelledBookingKeepsItsCode(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.Codegen = codegen.Config{Alphabet: "X", Length: 1, MaxAttempts: 3}
	})
	ctx := context.Background()

	b, err := f.svc.Reserve(ctx, oneWay(1, day(2)), "")
	require.NoError(t, err)

	err = f.store.RunTx(ctx, func(ctx context.Context, tx repository.Repos) error {
		if err := tx.Bookings().UpdateStatus(ctx, b.ID, domain.StatusCancelled, nil); err != nil {
			return err
		}
		return tx.Bookings().ReleaseLegs(ctx, b.ID)
	})
	require.NoError(t, err)

	_, err = f.svc.Reserve(ctx, oneWay(2, day(2)), "")
	require.ErrorIs(t, err, domain.ErrCodeGenerationExhausted)

	got, err := f.store.Bookings().GetByCode(ctx, "X")
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)
	assert.Equal(t, domain.StatusCancelled, got.Status)
}
