// Package booking drives the ordinary booking lifecycle: payment
// confirmation, payment failure and cancellation. Every change goes through
// domain.CanTransition; the privileged override lives in package admin.
package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kirinyoku/seatline/internal/domain"
	"github.com/kirinyoku/seatline/internal/metrics"
	"github.com/kirinyoku/seatline/internal/repository"
	"github.com/kirinyoku/seatline/internal/uow"
	"go.uber.org/zap"
)

type SeatsNotifier interface {
	SeatsChanged(ctx context.Context, keys []domain.LegKey)
}

type Config struct {
	Location *time.Location
	Now      func() time.Time
}

type Service struct {
	store    repository.Store
	uow      *uow.UoW
	notifier SeatsNotifier
	metrics  *metrics.Metrics
	log      *zap.Logger
	cfg      Config
}

func New(
	store repository.Store,
	notifier SeatsNotifier,
	m *metrics.Metrics,
	log *zap.Logger,
	cfg Config,
) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	if log == nil {
		log = zap.NewNop()
	}

	return &Service{
		store:    store,
		uow:      uow.NewUoW(store),
		notifier: notifier,
		metrics:  m,
		log:      log.Named("booking"),
		cfg:      cfg,
	}
}

type change struct {
	to      domain.Status
	payment *domain.Payment
	actorID int64
	reason  string
	// guard runs on the locked booking before the transition check.
	guard func(b *domain.Booking) error
}

// Confirm records a successful payment: pending -> confirmed.
//
// Returns:
//   - error: domain.NotFoundError if the booking does not exist.
//   - error: domain.InvalidTransitionError if it is not pending.
func (s *Service) Confirm(ctx context.Context, id int64, payment domain.Payment) (*domain.Booking, error) {
	const op = "service.booking.Confirm"

	if payment.Method == "" {
		return nil, fmt.Errorf("%s:%w", op, domain.ValidationError{Field: "method", Msg: "required"})
	}

	b, err := s.apply(ctx, id, change{to: domain.StatusConfirmed, payment: &payment})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return b, nil
}

// Fail records a failed payment. Only pending bookings can fail; the
// booking is cancelled and its seats go back on sale.
func (s *Service) Fail(ctx context.Context, id int64, reason string) (*domain.Booking, error) {
	const op = "service.booking.Fail"

	b, err := s.apply(ctx, id, change{
		to:     domain.StatusCancelled,
		reason: reason,
		guard: func(b *domain.Booking) error {
			if b.Status != domain.StatusPending {
				return domain.InvalidTransitionError{From: b.Status, To: domain.StatusCancelled}
			}
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return b, nil
}

// Cancel cancels a pending or confirmed booking on behalf of its owner or
// an admin. The legs are released in the same transaction.
//
// Returns:
//   - error: domain.ErrForbidden if actor neither owns the booking nor is admin.
//   - error: domain.InvalidTransitionError for cancelled or completed bookings.
func (s *Service) Cancel(ctx context.Context, id int64, actor domain.Actor) (*domain.Booking, error) {
	const op = "service.booking.Cancel"

	b, err := s.apply(ctx, id, change{
		to:      domain.StatusCancelled,
		actorID: actor.ID,
		guard: func(b *domain.Booking) error {
			if b.CustomerID != actor.ID && !actor.IsAdmin() {
				return domain.ErrForbidden
			}
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return b, nil
}

func (s *Service) apply(ctx context.Context, id int64, c change) (*domain.Booking, error) {
	var (
		out  *domain.Booking
		from domain.Status
	)

	err := s.uow.Do(ctx, func(
		ctx context.Context,
		tx repository.Repos,
		after func(uow.AfterCommit),
	) error {
		repo := tx.Bookings()

		b, err := repo.GetForUpdate(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return domain.NotFoundError{Resource: "booking", ID: id, Err: err}
			}
			return err
		}

		if c.guard != nil {
			if err := c.guard(b); err != nil {
				return err
			}
		}

		// a confirmed booking whose travel is over is completed even if
		// the sweep has not stored that yet
		from = b.EffectiveStatus(domain.Today(s.cfg.Now(), s.cfg.Location))
		if err := domain.CanTransition(from, c.to); err != nil {
			return err
		}

		if err := repo.UpdateStatus(ctx, id, c.to, c.payment); err != nil {
			return err
		}

		if c.to.Terminal() {
			if err := repo.ReleaseLegs(ctx, id); err != nil {
				return err
			}
		}

		if err := repo.AppendStatusEvent(ctx, domain.StatusChange{
			BookingID: id,
			From:      from,
			To:        c.to,
			ActorID:   c.actorID,
			Reason:    c.reason,
			At:        s.cfg.Now().UTC(),
		}); err != nil {
			return err
		}

		b.Status = c.to
		if c.payment != nil {
			b.Payment = c.payment
		}
		out = b

		keys := domain.LegKeys(b.Legs())
		after(func(ctx context.Context) {
			s.metrics.Transition(string(from), string(c.to), "lifecycle")
			if c.to.Terminal() && s.notifier != nil {
				s.notifier.SeatsChanged(ctx, keys)
			}
		})

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("booking status changed",
		zap.Int64("booking_id", id),
		zap.String("from", string(from)),
		zap.String("to", string(c.to)),
		zap.Int64("actor_id", c.actorID),
	)

	return out, nil
}
