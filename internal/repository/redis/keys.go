package redis

import (
	"fmt"
	"time"

	"github.com/kirinyoku/seatline/internal/domain"
)

const ns = "seatline:v1"

func KeyRoute(routeID int64) string {
	return fmt.Sprintf("%s:route:%d", ns, routeID)
}

func KeyRouteVehicles(routeID int64) string {
	return fmt.Sprintf("%s:route:%d:vehicles", ns, routeID)
}

func KeyVehicle(vehicleID int64) string {
	return fmt.Sprintf("%s:vehicle:%d", ns, vehicleID)
}

func KeySeatMap(vehicleID int64, date time.Time) string {
	return fmt.Sprintf("%s:vehicle:%d:seatmap:%s", ns, vehicleID, date.Format(domain.DateLayout))
}

func KeyLegLock(leg string) string {
	return fmt.Sprintf("%s:leglock:%s", ns, leg)
}

func KeyRateLimit(scope string) string {
	return fmt.Sprintf("%s:rl:%s", ns, scope)
}

func KeyIdemBooking(customerID int64, idemKey string) string {
	return fmt.Sprintf("%s:idem:bookings:%d:%s", ns, customerID, idemKey)
}

func ChannelSeatsChanged() string {
	return ns + ":seats:changed"
}
