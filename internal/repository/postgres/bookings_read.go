package postgres

import (
	"context"

	"github.com/kirinyoku/seatline/internal/domain"
)

func (r *BookingRepo) Get(ctx context.Context, id int64) (*domain.Booking, error) {
	const op = "postgres.BookingRepo.Get"

	b, err := scanBooking(r.handle().QueryRow(ctx,
		`SELECT `+bookingColumns+`
		 FROM bookings WHERE id = $1`,
		id,
	))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return b, nil
}

// GetForUpdate locks the booking row. Concurrent transitions on the same
// booking queue behind it, so each sees the status the previous one left.
func (r *BookingRepo) GetForUpdate(ctx context.Context, id int64) (*domain.Booking, error) {
	const op = "postgres.BookingRepo.GetForUpdate"

	b, err := scanBooking(r.handle().QueryRow(ctx,
		`SELECT `+bookingColumns+`
		 FROM bookings WHERE id = $1
		 FOR UPDATE`,
		id,
	))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return b, nil
}

func (r *BookingRepo) GetByCode(ctx context.Context, code string) (*domain.Booking, error) {
	const op = "postgres.BookingRepo.GetByCode"

	b, err := scanBooking(r.handle().QueryRow(ctx,
		`SELECT `+bookingColumns+`
		 FROM bookings WHERE code = $1`,
		code,
	))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return b, nil
}

// ListByCustomer returns the customer's bookings, newest first.
func (r *BookingRepo) ListByCustomer(
	ctx context.Context,
	customerID int64,
	limit, offset int,
) ([]domain.Booking, error) {
	const op = "postgres.BookingRepo.ListByCustomer"

	rows, err := r.handle().Query(ctx,
		`SELECT `+bookingColumns+`
		 FROM bookings
		 WHERE customer_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2 OFFSET $3`,
		customerID, limit, offset,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	defer rows.Close()

	var out []domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, wrapDBErr(op, err)
		}
		out = append(out, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return out, nil
}
