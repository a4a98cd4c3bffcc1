package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/kirinyoku/seatline/internal/domain"
)

type seedFile struct {
	Routes []struct {
		ID            int64  `json:"id"`
		Name          string `json:"name"`
		Origin        string `json:"origin"`
		Destination   string `json:"destination"`
		BaseFareCents int64  `json:"base_fare_cents"`
		Departure     string `json:"departure"` // HH:MM
		Arrival       string `json:"arrival"`
		Inactive      bool   `json:"inactive"`
	} `json:"routes"`
	Vehicles []struct {
		ID       int64  `json:"id"`
		Number   string `json:"number"`
		Name     string `json:"name"`
		RouteID  *int64 `json:"route_id"`
		Inactive bool   `json:"inactive"`
		// Seats are generated as 1..Seats when no explicit list is given.
		Seats       int      `json:"seats"`
		SeatNumbers []string `json:"seat_numbers"`
		Windows     []string `json:"windows"`
	} `json:"vehicles"`
}

// LoadInventoryFile reads reference data from a JSON seed file.
func LoadInventoryFile(path string) (Inventory, error) {
	const op = "memory.LoadInventoryFile"

	raw, err := os.ReadFile(path)
	if err != nil {
		return Inventory{}, fmt.Errorf("%s:%w", op, err)
	}

	inv, err := ParseInventory(raw)
	if err != nil {
		return Inventory{}, fmt.Errorf("%s:%w", op, err)
	}

	return inv, nil
}

func ParseInventory(raw []byte) (Inventory, error) {
	var f seedFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return Inventory{}, err
	}

	var inv Inventory

	for _, r := range f.Routes {
		dep, err := clock(r.Departure)
		if err != nil {
			return Inventory{}, fmt.Errorf("route %d departure: %w", r.ID, err)
		}
		arr, err := clock(r.Arrival)
		if err != nil {
			return Inventory{}, fmt.Errorf("route %d arrival: %w", r.ID, err)
		}

		inv.Routes = append(inv.Routes, domain.Route{
			ID:            r.ID,
			Name:          r.Name,
			Origin:        r.Origin,
			Destination:   r.Destination,
			BaseFareCents: r.BaseFareCents,
			Departure:     dep,
			Arrival:       arr,
			IsActive:      !r.Inactive,
		})
	}

	var seatID int64
	for _, v := range f.Vehicles {
		numbers := v.SeatNumbers
		if len(numbers) == 0 {
			for i := 1; i <= v.Seats; i++ {
				numbers = append(numbers, fmt.Sprintf("%d", i))
			}
		}

		windows := make(map[string]bool, len(v.Windows))
		for _, w := range v.Windows {
			windows[w] = true
		}

		inv.Vehicles = append(inv.Vehicles, domain.Vehicle{
			ID:           v.ID,
			Number:       v.Number,
			Name:         v.Name,
			SeatCapacity: len(numbers),
			RouteID:      v.RouteID,
			IsActive:     !v.Inactive,
		})

		for _, n := range numbers {
			seatID++
			inv.Seats = append(inv.Seats, domain.Seat{
				ID:          seatID,
				VehicleID:   v.ID,
				Number:      n,
				IsWindow:    windows[n],
				IsAvailable: true,
			})
		}
	}

	return inv, nil
}

func clock(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}

	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}

	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
