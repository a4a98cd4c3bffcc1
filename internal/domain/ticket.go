package domain

import "time"

// TicketPayload is the read-only projection handed to ticket renderers.
type TicketPayload struct {
	Code          string    `json:"code"`
	PassengerName string    `json:"passenger_name"`
	Route         string    `json:"route"`
	Origin        string    `json:"origin"`
	Destination   string    `json:"destination"`
	Vehicle       string    `json:"vehicle"`
	Seat          string    `json:"seat"`
	TravelDate    string    `json:"travel_date"`
	DepartsAt     time.Time `json:"departs_at"`
	TripType      TripType  `json:"trip_type"`
	FareCents     int64     `json:"fare_cents"`
	Status        Status    `json:"status"`

	ReturnDate    *string `json:"return_date,omitempty"`
	ReturnVehicle *string `json:"return_vehicle,omitempty"`
	ReturnSeat    *string `json:"return_seat,omitempty"`
}

// TicketParts carries the reference data a payload is assembled from.
// ReturnVehicle and ReturnSeat are nil when the booking has no return leg or
// the referenced rows are missing.
type TicketParts struct {
	Booking       Booking
	Route         Route
	Vehicle       Vehicle
	Seat          Seat
	ReturnVehicle *Vehicle
	ReturnSeat    *Seat
}

// BuildTicketPayload assembles the payload. Return fields are emitted only
// for round trips and each independently of the others.
func BuildTicketPayload(p TicketParts, today time.Time) TicketPayload {
	b := p.Booking
	travel := DateOf(b.TravelDate)

	out := TicketPayload{
		Code:          b.Code,
		PassengerName: b.PassengerName,
		Route:         p.Route.Name,
		Origin:        p.Route.Origin,
		Destination:   p.Route.Destination,
		Vehicle:       p.Vehicle.Number,
		Seat:          p.Seat.Number,
		TravelDate:    travel.Format(DateLayout),
		DepartsAt:     travel.Add(p.Route.Departure),
		TripType:      b.TripType,
		FareCents:     b.FareCents,
		Status:        b.EffectiveStatus(today),
	}

	if b.TripType != RoundTrip {
		return out
	}

	if b.ReturnDate != nil {
		d := DateOf(*b.ReturnDate).Format(DateLayout)
		out.ReturnDate = &d
	}
	if p.ReturnVehicle != nil {
		v := p.ReturnVehicle.Number
		out.ReturnVehicle = &v
	}
	if p.ReturnSeat != nil {
		s := p.ReturnSeat.Number
		out.ReturnSeat = &s
	}

	return out
}
