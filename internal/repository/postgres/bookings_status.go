package postgres

import (
	"context"
	"time"

	"github.com/kirinyoku/seatline/internal/domain"
	"github.com/kirinyoku/seatline/internal/repository"
)

// UpdateStatus sets the stored status. Payment details are written only when
// payment is non-nil; existing values are kept otherwise.
func (r *BookingRepo) UpdateStatus(
	ctx context.Context,
	id int64,
	status domain.Status,
	payment *domain.Payment,
) error {
	const op = "postgres.BookingRepo.UpdateStatus"

	var method, ref *string
	if payment != nil {
		method = &payment.Method
		if payment.Reference != "" {
			ref = &payment.Reference
		}
	}

	tag, err := r.handle().Exec(ctx,
		`UPDATE bookings
		 SET status = $2,
		     payment_method = COALESCE($3, payment_method),
		     payment_ref = COALESCE($4, payment_ref),
		     updated_at = now()
		 WHERE id = $1`,
		id, string(status), method, ref,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}

	if tag.RowsAffected() == 0 {
		return wrapDBErr(op, repository.ErrNotFound)
	}

	return nil
}

// ListDueForCompletion returns confirmed bookings whose last leg date is
// before today.
func (r *BookingRepo) ListDueForCompletion(ctx context.Context, today time.Time, limit int) ([]int64, error) {
	const op = "postgres.BookingRepo.ListDueForCompletion"

	rows, err := r.handle().Query(ctx,
		`SELECT id
		 FROM bookings
		 WHERE status = 'confirmed'
		   AND GREATEST(travel_date, COALESCE(return_date, travel_date)) < $1
		 ORDER BY id
		 LIMIT $2`,
		domain.DateOf(today), limit,
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

func (r *BookingRepo) AppendStatusEvent(ctx context.Context, ev domain.StatusChange) error {
	const op = "postgres.BookingRepo.AppendStatusEvent"

	var reason *string
	if ev.Reason != "" {
		reason = &ev.Reason
	}

	if _, err := r.handle().Exec(ctx,
		`INSERT INTO booking_status_events(booking_id, from_status, to_status, actor_id, override, reason)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.BookingID, string(ev.From), string(ev.To), ev.ActorID, ev.Override, reason,
	); err != nil {
		return wrapDBErr(op, err)
	}

	return nil
}

func (r *BookingRepo) ListStatusEvents(ctx context.Context, bookingID int64) ([]domain.StatusChange, error) {
	const op = "postgres.BookingRepo.ListStatusEvents"

	rows, err := r.handle().Query(ctx,
		`SELECT booking_id, from_status, to_status, actor_id, override, COALESCE(reason, ''), created_at
		 FROM booking_status_events
		 WHERE booking_id = $1
		 ORDER BY id`,
		bookingID,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	defer rows.Close()

	var out []domain.StatusChange
	for rows.Next() {
		var (
			ev       domain.StatusChange
			from, to string
		)
		if err := rows.Scan(&ev.BookingID, &from, &to, &ev.ActorID, &ev.Override, &ev.Reason, &ev.At); err != nil {
			return nil, wrapDBErr(op, err)
		}
		ev.From = domain.Status(from)
		ev.To = domain.Status(to)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBErr(op, err)
	}

	return out, nil
}
