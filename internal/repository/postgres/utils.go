package postgres

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/kirinyoku/seatline/internal/domain"
)

// wrapDBErr maps common DB errors to repository-level errors and wraps them with
// the provided operation name.
func wrapDBErr(op string, err error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%s:%w", op, translateDBErr(err))
}

const bookingColumns = `id, code, customer_id, passenger_name, route_id,
	vehicle_id, seat_id, travel_date, trip_type,
	return_vehicle_id, return_seat_id, return_date,
	fare_cents, status, payment_method, payment_ref,
	created_at, updated_at`

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	var (
		b          domain.Booking
		tripType   string
		status     string
		payMethod  *string
		payRef     *string
		returnDate *time.Time
	)

	if err := row.Scan(
		&b.ID,
		&b.Code,
		&b.CustomerID,
		&b.PassengerName,
		&b.RouteID,
		&b.VehicleID,
		&b.SeatID,
		&b.TravelDate,
		&tripType,
		&b.ReturnVehicleID,
		&b.ReturnSeatID,
		&returnDate,
		&b.FareCents,
		&status,
		&payMethod,
		&payRef,
		&b.CreatedAt,
		&b.UpdatedAt,
	); err != nil {
		return nil, err
	}

	b.TripType = domain.TripType(tripType)
	b.Status = domain.Status(status)
	b.TravelDate = domain.DateOf(b.TravelDate)

	if returnDate != nil {
		d := domain.DateOf(*returnDate)
		b.ReturnDate = &d
	}

	if payMethod != nil {
		b.Payment = &domain.Payment{Method: *payMethod}
		if payRef != nil {
			b.Payment.Reference = *payRef
		}
	}

	return &b, nil
}

func secondsToDuration(s int64) time.Duration {
	return time.Duration(s) * time.Second
}
