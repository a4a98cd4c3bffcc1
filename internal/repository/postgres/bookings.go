package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/kirinyoku/seatline/internal/domain"
	"github.com/kirinyoku/seatline/internal/repository"
)

type BookingRepo struct {
	pool  Pool
	db    DB
	store *Store
}

func (r *BookingRepo) With(db DB) *BookingRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *BookingRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// Create persists a pending booking together with one active leg row per
// leg. Without an outer transaction it opens its own, so the booking and
// its claims become visible together or not at all.
//
// Returns:
//   - error: repository.ErrCodeTaken if b.Code is already used.
//   - error: *repository.LegTakenError naming the first leg held by another
//     active booking.
//   - error: repository.ErrRetryable on serialization or lock timeout.
func (r *BookingRepo) Create(ctx context.Context, b *domain.Booking) error {
	const op = "postgres.BookingRepo.Create"

	if r.db != nil {
		if err := r.createCore(ctx, r.db, b); err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}
		return nil
	}

	store := r.store
	if store == nil {
		store = NewStore(r.pool, Options{})
	}

	tx, err := store.begin(ctx)
	if err != nil {
		return wrapDBErr(op, err)
	}

	defer tx.Rollback(context.WithoutCancel(ctx))

	if err := r.createCore(ctx, tx, b); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

func (r *BookingRepo) createCore(ctx context.Context, db DB, b *domain.Booking) error {
	const op = "postgres.BookingRepo.createCore"

	var returnDate *time.Time
	if b.ReturnDate != nil {
		d := domain.DateOf(*b.ReturnDate)
		returnDate = &d
	}

	err := db.QueryRow(ctx,
		`INSERT INTO bookings(code, customer_id, passenger_name, route_id,
		        vehicle_id, seat_id, travel_date, trip_type,
		        return_vehicle_id, return_seat_id, return_date,
		        fare_cents, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 RETURNING id, created_at, updated_at`,
		b.Code,
		b.CustomerID,
		b.PassengerName,
		b.RouteID,
		b.VehicleID,
		b.SeatID,
		domain.DateOf(b.TravelDate),
		string(b.TripType),
		b.ReturnVehicleID,
		b.ReturnSeatID,
		returnDate,
		b.FareCents,
		string(b.Status),
	).Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return wrapDBErr(op, err)
	}

	// one statement per leg so a violation names the leg that caused it
	for _, leg := range b.Legs() {
		if err := insertLeg(ctx, db, b.ID, leg); err != nil {
			return fmt.Errorf("%s:%w", op, err)
		}
	}

	return nil
}

func insertLeg(ctx context.Context, db DB, bookingID int64, leg domain.Leg) error {
	_, err := db.Exec(ctx,
		`INSERT INTO booking_legs(booking_id, direction, vehicle_id, seat_id, travel_date, active)
		 VALUES ($1, $2, $3, $4, $5, TRUE)`,
		bookingID, string(leg.Direction), leg.VehicleID, leg.SeatID, domain.DateOf(leg.Date),
	)
	if isUniqueViolation(err, constraintActiveLeg) {
		return &repository.LegTakenError{Leg: leg}
	}

	return translateDBErr(err)
}

// ClaimedLegs returns those keys currently held by an active booking.
func (r *BookingRepo) ClaimedLegs(ctx context.Context, keys []domain.LegKey) ([]domain.LegKey, error) {
	const op = "postgres.BookingRepo.ClaimedLegs"

	if len(keys) == 0 {
		return nil, nil
	}

	vehicleIDs := make([]int64, len(keys))
	seatIDs := make([]int64, len(keys))
	dates := make([]time.Time, len(keys))
	for i, k := range keys {
		vehicleIDs[i] = k.VehicleID
		seatIDs[i] = k.SeatID
		dates[i] = domain.DateOf(k.Date)
	}

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT l.vehicle_id, l.seat_id, l.travel_date
		 FROM booking_legs l
		 JOIN unnest($1::bigint[], $2::bigint[], $3::date[]) AS k(vehicle_id, seat_id, travel_date)
		   ON l.vehicle_id = k.vehicle_id
		  AND l.seat_id = k.seat_id
		  AND l.travel_date = k.travel_date
		 WHERE l.active`,
		vehicleIDs, seatIDs, dates,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	defer rows.Close()

	var out []domain.LegKey
	for rows.Next() {
		var k domain.LegKey
		if err := rows.Scan(&k.VehicleID, &k.SeatID, &k.Date); err != nil {
			return nil, wrapDBErr(op, err)
		}
		k.Date = domain.DateOf(k.Date)
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return out, nil
}

func (r *BookingRepo) BookedSeatIDs(ctx context.Context, vehicleID int64, date time.Time) ([]int64, error) {
	const op = "postgres.BookingRepo.BookedSeatIDs"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT seat_id
		 FROM booking_legs
		 WHERE active AND vehicle_id = $1 AND travel_date = $2
		 ORDER BY seat_id`,
		vehicleID, domain.DateOf(date),
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, wrapDBErr(op, err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return out, nil
}

// ReleaseLegs drops the booking's claims; the keys become claimable as soon
// as the surrounding transaction commits.
func (r *BookingRepo) ReleaseLegs(ctx context.Context, bookingID int64) error {
	const op = "postgres.BookingRepo.ReleaseLegs"

	db := r.handle()

	if _, err := db.Exec(ctx,
		`UPDATE booking_legs SET active = FALSE WHERE booking_id = $1 AND active`,
		bookingID,
	); err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

// ActivateLegs re-claims released legs one by one. Must run inside a
// transaction so that a conflict on the second leg undoes the first.
func (r *BookingRepo) ActivateLegs(ctx context.Context, bookingID int64) error {
	const op = "postgres.BookingRepo.ActivateLegs"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT direction, vehicle_id, seat_id, travel_date
		 FROM booking_legs
		 WHERE booking_id = $1 AND NOT active
		 ORDER BY direction`,
		bookingID,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	var legs []domain.Leg
	for rows.Next() {
		var (
			l   domain.Leg
			dir string
		)
		if err := rows.Scan(&dir, &l.VehicleID, &l.SeatID, &l.Date); err != nil {
			rows.Close()
			return wrapDBErr(op, err)
		}
		l.Direction = domain.Direction(dir)
		l.Date = domain.DateOf(l.Date)
		legs = append(legs, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return wrapDBErr(op, err)
	}

	for _, l := range legs {
		_, err := db.Exec(ctx,
			`UPDATE booking_legs SET active = TRUE
			 WHERE booking_id = $1 AND direction = $2`,
			bookingID, string(l.Direction),
		)
		if isUniqueViolation(err, constraintActiveLeg) {
			return fmt.Errorf("%s:%w", op, &repository.LegTakenError{Leg: l})
		}
		if err != nil {
			return wrapDBErr(op, err)
		}
	}

	return nil
}
