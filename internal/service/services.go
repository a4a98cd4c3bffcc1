package service

import (
	"time"

	"github.com/kirinyoku/seatline/internal/metrics"
	"github.com/kirinyoku/seatline/internal/repository"
	redisrepo "github.com/kirinyoku/seatline/internal/repository/redis"
	"github.com/kirinyoku/seatline/internal/service/admin"
	"github.com/kirinyoku/seatline/internal/service/booking"
	"github.com/kirinyoku/seatline/internal/service/query"
	"github.com/kirinyoku/seatline/internal/service/reservation"
	"github.com/kirinyoku/seatline/internal/service/tickets"
	"go.uber.org/zap"
)

type Services struct {
	Reservation *reservation.Service
	Booking     *booking.Service
	Admin       *admin.Service
	Query       *query.Service
	Tickets     *tickets.Service
}

type Config struct {
	Location    *time.Location
	Now         func() time.Time
	Reservation reservation.Config
	Query       query.Config
}

// Deps are the collaborators shared by the services. Everything except
// Store may be nil.
type Deps struct {
	Store    repository.Store
	Cache    *redisrepo.Cache
	Locker   reservation.Locker
	Limiter  reservation.Limiter
	Notifier reservation.SeatsNotifier
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

func NewServices(d Deps, cfg Config) *Services {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}

	cfg.Reservation.Location = cfg.Location
	cfg.Reservation.Now = cfg.Now
	cfg.Query.Location = cfg.Location
	cfg.Query.Now = cfg.Now
	cfg.Query.Codes = cfg.Reservation.Codegen

	return &Services{
		Reservation: reservation.New(d.Store, d.Locker, d.Limiter, d.Notifier, d.Metrics, d.Logger, cfg.Reservation),
		Booking:     booking.New(d.Store, d.Notifier, d.Metrics, d.Logger, booking.Config{Location: cfg.Location, Now: cfg.Now}),
		Admin:       admin.New(d.Store, d.Notifier, d.Metrics, d.Logger, admin.Config{Location: cfg.Location, Now: cfg.Now}),
		Query:       query.New(d.Store, d.Cache, cfg.Query),
		Tickets:     tickets.New(d.Store, cfg.Location, cfg.Now),
	}
}
