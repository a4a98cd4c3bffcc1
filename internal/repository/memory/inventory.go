package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/kirinyoku/seatline/internal/domain"
	"github.com/kirinyoku/seatline/internal/repository"
)

type InventoryRepo struct {
	s    *Store
	inTx bool
}

// Inventory is reference data loaded into a Store.
type Inventory struct {
	Routes   []domain.Route
	Vehicles []domain.Vehicle
	Seats    []domain.Seat
}

// Load replaces the store's reference data.
func (s *Store) Load(ctx context.Context, inv Inventory) error {
	const op = "memory.Store.Load"

	for _, seat := range inv.Seats {
		found := false
		for _, v := range inv.Vehicles {
			if v.ID == seat.VehicleID {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%s: seat %d references unknown vehicle %d", op, seat.ID, seat.VehicleID)
		}
	}

	return with(ctx, s, false, func(st *state) error {
		st.routes = make(map[int64]domain.Route, len(inv.Routes))
		st.vehicles = make(map[int64]domain.Vehicle, len(inv.Vehicles))
		st.seats = make(map[int64]domain.Seat, len(inv.Seats))

		for _, r := range inv.Routes {
			st.routes[r.ID] = r
		}
		for _, v := range inv.Vehicles {
			st.vehicles[v.ID] = v
		}
		for _, seat := range inv.Seats {
			st.seats[seat.ID] = seat
		}

		return nil
	})
}

func (r *InventoryRepo) GetRoute(ctx context.Context, id int64) (*domain.Route, error) {
	const op = "memory.InventoryRepo.GetRoute"

	var out domain.Route
	err := with(ctx, r.s, r.inTx, func(st *state) error {
		rt, ok := st.routes[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = rt
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &out, nil
}

func (r *InventoryRepo) GetVehicle(ctx context.Context, id int64) (*domain.Vehicle, error) {
	const op = "memory.InventoryRepo.GetVehicle"

	var out domain.Vehicle
	err := with(ctx, r.s, r.inTx, func(st *state) error {
		v, ok := st.vehicles[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = v
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &out, nil
}

func (r *InventoryRepo) GetSeat(ctx context.Context, id int64) (*domain.Seat, error) {
	const op = "memory.InventoryRepo.GetSeat"

	var out domain.Seat
	err := with(ctx, r.s, r.inTx, func(st *state) error {
		seat, ok := st.seats[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = seat
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &out, nil
}

func (r *InventoryRepo) ListSeats(ctx context.Context, vehicleID int64) ([]domain.Seat, error) {
	const op = "memory.InventoryRepo.ListSeats"

	var out []domain.Seat
	err := with(ctx, r.s, r.inTx, func(st *state) error {
		for _, seat := range st.seats {
			if seat.VehicleID == vehicleID {
				out = append(out, seat)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	// same order as the postgres repository: length, then text, then id
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if len(a.Number) != len(b.Number) {
			return len(a.Number) < len(b.Number)
		}
		if a.Number != b.Number {
			return a.Number < b.Number
		}
		return a.ID < b.ID
	})

	return out, nil
}

func (r *InventoryRepo) ListVehiclesByRoute(ctx context.Context, routeID int64) ([]domain.Vehicle, error) {
	const op = "memory.InventoryRepo.ListVehiclesByRoute"

	var out []domain.Vehicle
	err := with(ctx, r.s, r.inTx, func(st *state) error {
		for _, v := range st.vehicles {
			if v.IsActive && v.Serves(routeID) {
				out = append(out, v)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })

	return out, nil
}
