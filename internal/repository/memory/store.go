// Package memory is an in-process implementation of the repository
// contracts. Transactions are serialized and rolled back by restoring a
// snapshot taken at begin.
package memory

import (
	"context"
	"time"

	"github.com/kirinyoku/seatline/internal/domain"
	"github.com/kirinyoku/seatline/internal/repository"
)

type legRow struct {
	leg    domain.Leg
	active bool
}

type state struct {
	routes   map[int64]domain.Route
	vehicles map[int64]domain.Vehicle
	seats    map[int64]domain.Seat

	bookings map[int64]domain.Booking
	codes    map[string]int64
	legs     map[int64][]legRow
	active   map[domain.LegKey]int64
	events   []domain.StatusChange
	nextID   int64
}

func newState() *state {
	return &state{
		routes:   make(map[int64]domain.Route),
		vehicles: make(map[int64]domain.Vehicle),
		seats:    make(map[int64]domain.Seat),
		bookings: make(map[int64]domain.Booking),
		codes:    make(map[string]int64),
		legs:     make(map[int64][]legRow),
		active:   make(map[domain.LegKey]int64),
	}
}

// clone copies everything a transaction can mutate. Inventory maps are
// read-only after Load and are shared.
func (s *state) clone() *state {
	cp := &state{
		routes:   s.routes,
		vehicles: s.vehicles,
		seats:    s.seats,
		bookings: make(map[int64]domain.Booking, len(s.bookings)),
		codes:    make(map[string]int64, len(s.codes)),
		legs:     make(map[int64][]legRow, len(s.legs)),
		active:   make(map[domain.LegKey]int64, len(s.active)),
		events:   append([]domain.StatusChange(nil), s.events...),
		nextID:   s.nextID,
	}

	for k, v := range s.bookings {
		cp.bookings[k] = v
	}
	for k, v := range s.codes {
		cp.codes[k] = v
	}
	for k, v := range s.legs {
		cp.legs[k] = append([]legRow(nil), v...)
	}
	for k, v := range s.active {
		cp.active[k] = v
	}

	return cp
}

type Store struct {
	// sem has capacity one; holding it is holding the store
	sem chan struct{}
	st  *state
	now func() time.Time
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		sem: make(chan struct{}, 1),
		st:  newState(),
		now: time.Now,
	}

	for _, o := range opts {
		o(s)
	}

	return s
}

func (s *Store) acquire(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) release() { <-s.sem }

// RunTx runs fn with exclusive access to the store. Any error from fn, or a
// context cancelled before fn returns, discards fn's writes.
func (s *Store) RunTx(
	ctx context.Context,
	fn func(ctx context.Context, tx repository.Repos) error,
) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	snapshot := s.st.clone()

	err := fn(ctx, txRepos{s: s})
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		s.st = snapshot
		return err
	}

	return nil
}

func (s *Store) Inventory() repository.InventoryRepo {
	return &InventoryRepo{s: s}
}

func (s *Store) Bookings() repository.BookingRepo {
	return &BookingRepo{s: s}
}

type txRepos struct {
	s *Store
}

func (t txRepos) Inventory() repository.InventoryRepo {
	return &InventoryRepo{s: t.s, inTx: true}
}

func (t txRepos) Bookings() repository.BookingRepo {
	return &BookingRepo{s: t.s, inTx: true}
}

// with runs fn against the current state, taking the store unless the
// caller already holds it through RunTx.
func with(ctx context.Context, s *Store, inTx bool, fn func(st *state) error) error {
	if inTx {
		return fn(s.st)
	}

	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	return fn(s.st)
}
