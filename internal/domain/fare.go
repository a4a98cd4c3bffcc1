package domain

// ComputeFare returns the price in minor units for a trip on route.
func ComputeFare(route Route, tripType TripType) (int64, error) {
	switch tripType {
	case OneWay:
		return route.BaseFareCents, nil
	case RoundTrip:
		return 2 * route.BaseFareCents, nil
	default:
		return 0, ValidationError{Field: "trip_type", Msg: "must be one_way or round_trip"}
	}
}
