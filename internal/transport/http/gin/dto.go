package httpgin

import (
	"time"

	"github.com/kirinyoku/seatline/internal/domain"
)

type ReserveRequest struct {
	// CustomerID is honoured for admins booking on behalf of a customer.
	CustomerID      int64   `json:"customer_id"`
	PassengerName   string  `json:"passenger_name" binding:"required"`
	RouteID         int64   `json:"route_id" binding:"required"`
	VehicleID       int64   `json:"vehicle_id" binding:"required"`
	SeatID          int64   `json:"seat_id" binding:"required"`
	TripType        string  `json:"trip_type" binding:"required"`
	TravelDate      string  `json:"travel_date" binding:"required"`
	ReturnVehicleID *int64  `json:"return_vehicle_id"`
	ReturnSeatID    *int64  `json:"return_seat_id"`
	ReturnDate      *string `json:"return_date"`
}

func (r ReserveRequest) toDomain(customerID int64) (domain.ReservationRequest, error) {
	travel, err := domain.ParseDate(r.TravelDate)
	if err != nil {
		return domain.ReservationRequest{}, domain.ValidationError{Field: "travel_date", Msg: "expected YYYY-MM-DD", Err: err}
	}

	out := domain.ReservationRequest{
		CustomerID:      customerID,
		PassengerName:   r.PassengerName,
		RouteID:         r.RouteID,
		VehicleID:       r.VehicleID,
		SeatID:          r.SeatID,
		TripType:        domain.TripType(r.TripType),
		TravelDate:      travel,
		ReturnVehicleID: r.ReturnVehicleID,
		ReturnSeatID:    r.ReturnSeatID,
	}

	if r.ReturnDate != nil && *r.ReturnDate != "" {
		rd, err := domain.ParseDate(*r.ReturnDate)
		if err != nil {
			return domain.ReservationRequest{}, domain.ValidationError{Field: "return_date", Msg: "expected YYYY-MM-DD", Err: err}
		}
		out.ReturnDate = &rd
	}

	return out, nil
}

type ConfirmPaymentRequest struct {
	Method    string `json:"method" binding:"required"`
	Reference string `json:"reference"`
}

type FailPaymentRequest struct {
	Reason string `json:"reason"`
}

type SetStatusRequest struct {
	Status string `json:"status" binding:"required"`
	Reason string `json:"reason"`
}

type ErrorResponse struct {
	Error     string   `json:"error"`
	Field     string   `json:"field,omitempty"`
	Legs      []LegDTO `json:"legs,omitempty"`
	Retryable bool     `json:"retryable,omitempty"`
}

type LegDTO struct {
	Direction string `json:"direction"`
	VehicleID int64  `json:"vehicle_id"`
	SeatID    int64  `json:"seat_id"`
	Date      string `json:"date"`
}

type BookingResponse struct {
	ID              int64     `json:"id"`
	Code            string    `json:"code"`
	CustomerID      int64     `json:"customer_id,omitempty"`
	PassengerName   string    `json:"passenger_name"`
	RouteID         int64     `json:"route_id"`
	VehicleID       int64     `json:"vehicle_id"`
	SeatID          int64     `json:"seat_id"`
	TravelDate      string    `json:"travel_date"`
	TripType        string    `json:"trip_type"`
	ReturnVehicleID *int64    `json:"return_vehicle_id,omitempty"`
	ReturnSeatID    *int64    `json:"return_seat_id,omitempty"`
	ReturnDate      *string   `json:"return_date,omitempty"`
	FareCents       int64     `json:"fare_cents"`
	Status          string    `json:"status"`
	PaymentMethod   string    `json:"payment_method,omitempty"`
	Legs            []LegDTO  `json:"legs"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type BookingListResponse struct {
	Items  []BookingResponse `json:"items"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
}

type CompleteDueResponse struct {
	Completed int `json:"completed"`
}

func toLegDTOs(legs []domain.Leg) []LegDTO {
	out := make([]LegDTO, 0, len(legs))
	for _, l := range legs {
		out = append(out, LegDTO{
			Direction: string(l.Direction),
			VehicleID: l.VehicleID,
			SeatID:    l.SeatID,
			Date:      l.Date.Format(domain.DateLayout),
		})
	}
	return out
}

func toBookingResponse(b *domain.Booking) BookingResponse {
	resp := BookingResponse{
		ID:              b.ID,
		Code:            b.Code,
		CustomerID:      b.CustomerID,
		PassengerName:   b.PassengerName,
		RouteID:         b.RouteID,
		VehicleID:       b.VehicleID,
		SeatID:          b.SeatID,
		TravelDate:      b.TravelDate.Format(domain.DateLayout),
		TripType:        string(b.TripType),
		ReturnVehicleID: b.ReturnVehicleID,
		ReturnSeatID:    b.ReturnSeatID,
		FareCents:       b.FareCents,
		Status:          string(b.Status),
		Legs:            toLegDTOs(b.Legs()),
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
	}

	if b.ReturnDate != nil {
		d := b.ReturnDate.Format(domain.DateLayout)
		resp.ReturnDate = &d
	}

	if b.Payment != nil {
		resp.PaymentMethod = b.Payment.Method
	}

	return resp
}

// toPublicBooking strips owner and payment details for lookups by code.
func toPublicBooking(b *domain.Booking) BookingResponse {
	resp := toBookingResponse(b)
	resp.CustomerID = 0
	resp.PaymentMethod = ""
	return resp
}
