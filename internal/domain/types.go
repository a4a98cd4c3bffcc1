package domain

import (
	"fmt"
	"time"
)

type TripType string

const (
	OneWay    TripType = "one_way"
	RoundTrip TripType = "round_trip"
)

func (t TripType) Valid() bool {
	return t == OneWay || t == RoundTrip
}

type Direction string

const (
	Outbound Direction = "outbound"
	Return   Direction = "return"
)

type Route struct {
	ID            int64         `json:"id"`
	Name          string        `json:"name"`
	Origin        string        `json:"origin"`
	Destination   string        `json:"destination"`
	BaseFareCents int64         `json:"base_fare_cents"`
	Departure     time.Duration `json:"departure"` // offset from midnight
	Arrival       time.Duration `json:"arrival"`
	IsActive      bool          `json:"is_active"`
}

type Vehicle struct {
	ID           int64  `json:"id"`
	Number       string `json:"number"`
	Name         string `json:"name"`
	SeatCapacity int    `json:"seat_capacity"`
	RouteID      *int64 `json:"route_id,omitempty"`
	IsActive     bool   `json:"is_active"`
}

// Serves reports whether the vehicle is assigned to routeID.
func (v Vehicle) Serves(routeID int64) bool {
	return v.RouteID != nil && *v.RouteID == routeID
}

// Seat is reference data. IsAvailable marks the seat as bookable at all;
// per-date availability is derived from active legs.
type Seat struct {
	ID          int64  `json:"id"`
	VehicleID   int64  `json:"vehicle_id"`
	Number      string `json:"number"`
	IsWindow    bool   `json:"is_window"`
	IsAvailable bool   `json:"is_available"`
}

type SeatAvailability struct {
	Seat
	Booked   bool `json:"booked"`
	Bookable bool `json:"bookable"`
}

type SeatMap struct {
	VehicleID int64              `json:"vehicle_id"`
	Date      time.Time          `json:"date"`
	Seats     []SeatAvailability `json:"seats"`
	Total     int                `json:"total"`
	Available int                `json:"available"`
}

// LegKey identifies one claimable (vehicle, seat, date) slot.
type LegKey struct {
	VehicleID int64
	SeatID    int64
	Date      time.Time
}

func (k LegKey) String() string {
	return fmt.Sprintf("%d:%d:%s", k.VehicleID, k.SeatID, k.Date.Format(DateLayout))
}

type Leg struct {
	Direction Direction `json:"direction"`
	VehicleID int64     `json:"vehicle_id"`
	SeatID    int64     `json:"seat_id"`
	Date      time.Time `json:"date"`
}

func (l Leg) Key() LegKey {
	return LegKey{VehicleID: l.VehicleID, SeatID: l.SeatID, Date: DateOf(l.Date)}
}

func LegKeys(legs []Leg) []LegKey {
	out := make([]LegKey, 0, len(legs))
	for _, l := range legs {
		out = append(out, l.Key())
	}
	return out
}

type Payment struct {
	Method    string `json:"method"`
	Reference string `json:"reference,omitempty"`
}

type Booking struct {
	ID              int64      `json:"id"`
	Code            string     `json:"code"`
	CustomerID      int64      `json:"customer_id"`
	PassengerName   string     `json:"passenger_name"`
	RouteID         int64      `json:"route_id"`
	VehicleID       int64      `json:"vehicle_id"`
	SeatID          int64      `json:"seat_id"`
	TravelDate      time.Time  `json:"travel_date"`
	TripType        TripType   `json:"trip_type"`
	ReturnVehicleID *int64     `json:"return_vehicle_id,omitempty"`
	ReturnSeatID    *int64     `json:"return_seat_id,omitempty"`
	ReturnDate      *time.Time `json:"return_date,omitempty"`
	FareCents       int64      `json:"fare_cents"`
	Status          Status     `json:"status"`
	Payment         *Payment   `json:"payment,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Legs returns the claims a booking holds: one for one-way trips, two for
// complete round trips.
func (b Booking) Legs() []Leg {
	legs := []Leg{{
		Direction: Outbound,
		VehicleID: b.VehicleID,
		SeatID:    b.SeatID,
		Date:      DateOf(b.TravelDate),
	}}

	if b.TripType == RoundTrip &&
		b.ReturnVehicleID != nil &&
		b.ReturnSeatID != nil &&
		b.ReturnDate != nil {
		legs = append(legs, Leg{
			Direction: Return,
			VehicleID: *b.ReturnVehicleID,
			SeatID:    *b.ReturnSeatID,
			Date:      DateOf(*b.ReturnDate),
		})
	}

	return legs
}

// LastTravelDate is the date of the final leg.
func (b Booking) LastTravelDate() time.Time {
	last := DateOf(b.TravelDate)
	if b.TripType == RoundTrip && b.ReturnDate != nil && DateOf(*b.ReturnDate).After(last) {
		last = DateOf(*b.ReturnDate)
	}
	return last
}

type ReservationRequest struct {
	CustomerID      int64
	PassengerName   string
	RouteID         int64
	VehicleID       int64
	SeatID          int64
	TripType        TripType
	TravelDate      time.Time
	ReturnVehicleID *int64
	ReturnSeatID    *int64
	ReturnDate      *time.Time
}

// Actor is the authenticated principal behind a state change.
type Actor struct {
	ID    int64
	Name  string
	Roles []string
}

func (a Actor) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
	RolePayments = "payments"
)

func (a Actor) IsAdmin() bool { return a.HasRole(RoleAdmin) }

// StatusChange is an audit record of a status mutation. Override marks the
// privileged path that skips the transition table.
type StatusChange struct {
	BookingID int64     `json:"booking_id"`
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	ActorID   int64     `json:"actor_id"`
	Override  bool      `json:"override"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}
