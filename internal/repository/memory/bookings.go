package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/kirinyoku/seatline/internal/domain"
	"github.com/kirinyoku/seatline/internal/repository"
)

type BookingRepo struct {
	s    *Store
	inTx bool
}

func cloneBooking(b domain.Booking) domain.Booking {
	if b.ReturnVehicleID != nil {
		v := *b.ReturnVehicleID
		b.ReturnVehicleID = &v
	}
	if b.ReturnSeatID != nil {
		v := *b.ReturnSeatID
		b.ReturnSeatID = &v
	}
	if b.ReturnDate != nil {
		v := *b.ReturnDate
		b.ReturnDate = &v
	}
	if b.Payment != nil {
		p := *b.Payment
		b.Payment = &p
	}
	return b
}

// Create checks every leg before writing anything, so a conflict on the
// return leg leaves no trace even outside a transaction.
func (r *BookingRepo) Create(ctx context.Context, b *domain.Booking) error {
	const op = "memory.BookingRepo.Create"

	err := with(ctx, r.s, r.inTx, func(st *state) error {
		if _, taken := st.codes[b.Code]; taken {
			return repository.ErrCodeTaken
		}

		legs := b.Legs()
		seen := make(map[domain.LegKey]struct{}, len(legs))
		for _, l := range legs {
			k := l.Key()
			if _, held := st.active[k]; held {
				return &repository.LegTakenError{Leg: l}
			}
			if _, dup := seen[k]; dup {
				return &repository.LegTakenError{Leg: l}
			}
			seen[k] = struct{}{}
		}

		st.nextID++
		now := r.s.now().UTC()

		b.ID = st.nextID
		b.TravelDate = domain.DateOf(b.TravelDate)
		b.CreatedAt = now
		b.UpdatedAt = now

		st.bookings[b.ID] = cloneBooking(*b)
		st.codes[b.Code] = b.ID

		rows := make([]legRow, 0, len(legs))
		for _, l := range legs {
			rows = append(rows, legRow{leg: l, active: true})
			st.active[l.Key()] = b.ID
		}
		st.legs[b.ID] = rows

		return nil
	})
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}

func (r *BookingRepo) Get(ctx context.Context, id int64) (*domain.Booking, error) {
	const op = "memory.BookingRepo.Get"

	var out domain.Booking
	err := with(ctx, r.s, r.inTx, func(st *state) error {
		b, ok := st.bookings[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = cloneBooking(b)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &out, nil
}

// GetForUpdate is Get: transactions already hold the whole store.
func (r *BookingRepo) GetForUpdate(ctx context.Context, id int64) (*domain.Booking, error) {
	return r.Get(ctx, id)
}

func (r *BookingRepo) GetByCode(ctx context.Context, code string) (*domain.Booking, error) {
	const op = "memory.BookingRepo.GetByCode"

	var out domain.Booking
	err := with(ctx, r.s, r.inTx, func(st *state) error {
		id, ok := st.codes[code]
		if !ok {
			return repository.ErrNotFound
		}
		out = cloneBooking(st.bookings[id])
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &out, nil
}

func (r *BookingRepo) ListByCustomer(
	ctx context.Context,
	customerID int64,
	limit, offset int,
) ([]domain.Booking, error) {
	const op = "memory.BookingRepo.ListByCustomer"

	var all []domain.Booking
	err := with(ctx, r.s, r.inTx, func(st *state) error {
		for _, b := range st.bookings {
			if b.CustomerID == customerID {
				all = append(all, cloneBooking(b))
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})

	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}

	return all, nil
}

func (r *BookingRepo) ClaimedLegs(ctx context.Context, keys []domain.LegKey) ([]domain.LegKey, error) {
	const op = "memory.BookingRepo.ClaimedLegs"

	var out []domain.LegKey
	err := with(ctx, r.s, r.inTx, func(st *state) error {
		for _, k := range keys {
			k.Date = domain.DateOf(k.Date)
			if _, held := st.active[k]; held {
				out = append(out, k)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

func (r *BookingRepo) BookedSeatIDs(ctx context.Context, vehicleID int64, date time.Time) ([]int64, error) {
	const op = "memory.BookingRepo.BookedSeatIDs"

	date = domain.DateOf(date)

	var out []int64
	err := with(ctx, r.s, r.inTx, func(st *state) error {
		for k := range st.active {
			if k.VehicleID == vehicleID && k.Date.Equal(date) {
				out = append(out, k.SeatID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	return out, nil
}

func (r *BookingRepo) UpdateStatus(
	ctx context.Context,
	id int64,
	status domain.Status,
	payment *domain.Payment,
) error {
	const op = "memory.BookingRepo.UpdateStatus"

	err := with(ctx, r.s, r.inTx, func(st *state) error {
		b, ok := st.bookings[id]
		if !ok {
			return repository.ErrNotFound
		}

		b.Status = status
		if payment != nil {
			p := domain.Payment{Method: payment.Method}
			if payment.Reference != "" {
				p.Reference = payment.Reference
			} else if b.Payment != nil {
				p.Reference = b.Payment.Reference
			}
			b.Payment = &p
		}
		b.UpdatedAt = r.s.now().UTC()

		st.bookings[id] = b
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}

func (r *BookingRepo) ReleaseLegs(ctx context.Context, bookingID int64) error {
	const op = "memory.BookingRepo.ReleaseLegs"

	err := with(ctx, r.s, r.inTx, func(st *state) error {
		rows := st.legs[bookingID]
		for i := range rows {
			if !rows[i].active {
				continue
			}
			k := rows[i].leg.Key()
			if st.active[k] == bookingID {
				delete(st.active, k)
			}
			rows[i].active = false
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}

func (r *BookingRepo) ActivateLegs(ctx context.Context, bookingID int64) error {
	const op = "memory.BookingRepo.ActivateLegs"

	err := with(ctx, r.s, r.inTx, func(st *state) error {
		rows := st.legs[bookingID]

		for _, row := range rows {
			if row.active {
				continue
			}
			if holder, held := st.active[row.leg.Key()]; held && holder != bookingID {
				return &repository.LegTakenError{Leg: row.leg}
			}
		}

		for i := range rows {
			rows[i].active = true
			st.active[rows[i].leg.Key()] = bookingID
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}

func (r *BookingRepo) ListDueForCompletion(ctx context.Context, today time.Time, limit int) ([]int64, error) {
	const op = "memory.BookingRepo.ListDueForCompletion"

	today = domain.DateOf(today)

	var out []int64
	err := with(ctx, r.s, r.inTx, func(st *state) error {
		for id, b := range st.bookings {
			if b.Status == domain.StatusConfirmed && b.LastTravelDate().Before(today) {
				out = append(out, id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}

func (r *BookingRepo) AppendStatusEvent(ctx context.Context, ev domain.StatusChange) error {
	const op = "memory.BookingRepo.AppendStatusEvent"

	err := with(ctx, r.s, r.inTx, func(st *state) error {
		if _, ok := st.bookings[ev.BookingID]; !ok {
			return repository.ErrNotFound
		}
		ev.At = r.s.now().UTC()
		st.events = append(st.events, ev)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}

func (r *BookingRepo) ListStatusEvents(ctx context.Context, bookingID int64) ([]domain.StatusChange, error) {
	const op = "memory.BookingRepo.ListStatusEvents"

	var out []domain.StatusChange
	err := with(ctx, r.s, r.inTx, func(st *state) error {
		for _, ev := range st.events {
			if ev.BookingID == bookingID {
				out = append(out, ev)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}
