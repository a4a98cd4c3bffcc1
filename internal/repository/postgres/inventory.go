package postgres

import (
	"context"

	"github.com/kirinyoku/seatline/internal/domain"
)

// InventoryRepo reads routes, vehicles and seats. The reservation flow
// never writes through it.
type InventoryRepo struct {
	pool Pool
	db   DB
}

func (r *InventoryRepo) With(db DB) *InventoryRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *InventoryRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

// GetRoute retrieves a route by its ID.
//
// Returns:
//   - *domain.Route: the route when found.
//   - error: repository.ErrNotFound if the route is not found.
func (r *InventoryRepo) GetRoute(ctx context.Context, id int64) (*domain.Route, error) {
	const op = "postgres.InventoryRepo.GetRoute"

	db := r.handle()

	var (
		rt                 domain.Route
		departure, arrival int64
	)
	err := db.QueryRow(ctx,
		`SELECT id, name, origin, destination, base_fare_cents,
		        EXTRACT(EPOCH FROM departure_time)::bigint,
		        EXTRACT(EPOCH FROM arrival_time)::bigint,
		        is_active
		 FROM routes WHERE id = $1`,
		id,
	).Scan(
		&rt.ID,
		&rt.Name,
		&rt.Origin,
		&rt.Destination,
		&rt.BaseFareCents,
		&departure,
		&arrival,
		&rt.IsActive,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	rt.Departure = secondsToDuration(departure)
	rt.Arrival = secondsToDuration(arrival)

	return &rt, nil
}

// GetVehicle retrieves a vehicle by its ID.
//
// Returns:
//   - *domain.Vehicle: the vehicle when found; RouteID is nil when unassigned.
//   - error: repository.ErrNotFound if the vehicle is not found.
func (r *InventoryRepo) GetVehicle(ctx context.Context, id int64) (*domain.Vehicle, error) {
	const op = "postgres.InventoryRepo.GetVehicle"

	db := r.handle()

	var v domain.Vehicle
	err := db.QueryRow(ctx,
		`SELECT id, number, name, seat_capacity, route_id, is_active
		 FROM vehicles WHERE id = $1`,
		id,
	).Scan(&v.ID, &v.Number, &v.Name, &v.SeatCapacity, &v.RouteID, &v.IsActive)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return &v, nil
}

func (r *InventoryRepo) GetSeat(ctx context.Context, id int64) (*domain.Seat, error) {
	const op = "postgres.InventoryRepo.GetSeat"

	db := r.handle()

	var s domain.Seat
	err := db.QueryRow(ctx,
		`SELECT id, vehicle_id, number, is_window, is_available
		 FROM seats WHERE id = $1`,
		id,
	).Scan(&s.ID, &s.VehicleID, &s.Number, &s.IsWindow, &s.IsAvailable)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return &s, nil
}

// ListSeats lists a vehicle's seats in display order (shorter numbers first,
// so "A2" sorts before "A10").
func (r *InventoryRepo) ListSeats(ctx context.Context, vehicleID int64) ([]domain.Seat, error) {
	const op = "postgres.InventoryRepo.ListSeats"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT id, vehicle_id, number, is_window, is_available
		 FROM seats
		 WHERE vehicle_id = $1
		 ORDER BY length(number), number, id`,
		vehicleID,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	defer rows.Close()

	var out []domain.Seat
	for rows.Next() {
		var s domain.Seat
		if err := rows.Scan(&s.ID, &s.VehicleID, &s.Number, &s.IsWindow, &s.IsAvailable); err != nil {
			return nil, wrapDBErr(op, err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return out, nil
}

func (r *InventoryRepo) ListVehiclesByRoute(ctx context.Context, routeID int64) ([]domain.Vehicle, error) {
	const op = "postgres.InventoryRepo.ListVehiclesByRoute"

	db := r.handle()

	rows, err := db.Query(ctx,
		`SELECT id, number, name, seat_capacity, route_id, is_active
		 FROM vehicles
		 WHERE route_id = $1 AND is_active
		 ORDER BY number`,
		routeID,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	defer rows.Close()

	var out []domain.Vehicle
	for rows.Next() {
		var v domain.Vehicle
		if err := rows.Scan(&v.ID, &v.Number, &v.Name, &v.SeatCapacity, &v.RouteID, &v.IsActive); err != nil {
			return nil, wrapDBErr(op, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return out, nil
}
