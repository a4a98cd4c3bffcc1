// Package admin holds privileged booking operations that sit outside the
// ordinary lifecycle.
package admin

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

const completeBatch = 200

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
		log:      log.Named("admin"),
		cfg:      cfg,
	}
}

// SetStatus forces a booking into status, skipping the transition table.
// Leg uniqueness still holds: moving a booking back to an active status
// re-claims its legs and fails if another active booking holds one.
//
// Parameters:
//   - ctx: request-scoped context.
//   - id: booking ID.
//   - status: target status, any valid value.
//   - actor: must carry the admin role.
//   - reason: free text stored on the status event.
//
// Returns:
//   - *domain.Booking: the booking after the change.
//   - error: domain.ErrForbidden if actor is not an admin.
//   - error: domain.NotFoundError if the booking does not exist.
//   - error: domain.ConflictError if a leg is held by another booking.
func (s *Service) SetStatus(
	ctx context.Context,
	id int64,
	status domain.Status,
	actor domain.Actor,
	reason string,
) (*domain.Booking, error) {
	const op = "service.admin.SetStatus"

	if !actor.IsAdmin() {
		return nil, fmt.Errorf("%s:%w", op, domain.ErrForbidden)
	}

	if !status.Valid() {
		return nil, fmt.Errorf("%s:%w", op, domain.ValidationError{Field: "status", Msg: "unknown status " + string(status)})
	}

	var (
		out          *domain.Booking
		from         domain.Status
		legsReleased bool
		legsClaimed  bool
	)

	err := s.uow.Do(ctx, func(ctx context.Context, tx repository.Repos, after func(uow.AfterCommit)) error {
		repo := tx.Bookings()

		b, err := repo.GetForUpdate(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return domain.NotFoundError{Resource: "booking", ID: id, Err: err}
			}
			return err
		}

		from = b.Status
		if from == status {
			out = b
			return nil
		}

		if err := repo.UpdateStatus(ctx, id, status, nil); err != nil {
			return err
		}

		switch {
		case status.Active() && !from.Active():
			if err := repo.ActivateLegs(ctx, id); err != nil {
				if lt, ok := repository.AsLegTaken(err); ok {
					return domain.ConflictError{Legs: []domain.Leg{lt.Leg}, Err: err}
				}
				return err
			}
			legsClaimed = true
		case !status.Active() && from.Active():
			if err := repo.ReleaseLegs(ctx, id); err != nil {
				return err
			}
			legsReleased = true
		}

		if err := repo.AppendStatusEvent(ctx, domain.StatusChange{
			BookingID: id,
			From:      from,
			To:        status,
			ActorID:   actor.ID,
			Override:  true,
			Reason:    reason,
			At:        s.cfg.Now().UTC(),
		}); err != nil {
			return err
		}

		b.Status = status
		out = b

		keys := domain.LegKeys(b.Legs())
		after(func(ctx context.Context) {
			s.metrics.Transition(string(from), string(status), "override")
			if (legsClaimed || legsReleased) && s.notifier != nil {
				s.notifier.SeatsChanged(ctx, keys)
			}
		})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if from != status {
		s.log.Warn("booking status overridden",
			zap.Int64("booking_id", id),
			zap.String("from", string(from)),
			zap.String("to", string(status)),
			zap.Int64("actor_id", actor.ID),
			zap.String("reason", reason),
			zap.Bool("legs_released", legsReleased),
			zap.Bool("legs_claimed", legsClaimed),
		)
	}

	return out, nil
}

// CompleteDue stores completed for every confirmed booking whose last leg
// date is before today and releases its legs. Each booking is completed in
// its own transaction.
func (s *Service) CompleteDue(ctx context.Context, actor domain.Actor) (int, error) {
	const op = "service.admin.CompleteDue"

	if !actor.IsAdmin() {
		return 0, fmt.Errorf("%s:%w", op, domain.ErrForbidden)
	}

	today := domain.Today(s.cfg.Now(), s.cfg.Location)
	completed := 0

	for {
		ids, err := s.store.Bookings().ListDueForCompletion(ctx, today, completeBatch)
		if err != nil {
			return completed, fmt.Errorf("%s:%w", op, err)
		}

		done := 0
		for _, id := range ids {
			ok, err := s.complete(ctx, id, today, actor)
			if err != nil {
				return completed, fmt.Errorf("%s:%w", op, err)
			}
			if ok {
				done++
			}
		}
		completed += done

		if len(ids) < completeBatch || done == 0 {
			break
		}
	}

	if completed > 0 {
		s.log.Info("bookings completed", zap.Int("count", completed), zap.Time("before", today))
	}

	return completed, nil
}

func (s *Service) complete(ctx context.Context, id int64, today time.Time, actor domain.Actor) (bool, error) {
	completed := false

	err := s.uow.Do(ctx, func(ctx context.Context, tx repository.Repos, after func(uow.AfterCommit)) error {
		repo := tx.Bookings()

		b, err := repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}

		// re-check under the row lock; it may have been cancelled since listing
		if b.Status != domain.StatusConfirmed || !b.LastTravelDate().Before(today) {
			return nil
		}

		if err := repo.UpdateStatus(ctx, id, domain.StatusCompleted, nil); err != nil {
			return err
		}

		if err := repo.ReleaseLegs(ctx, id); err != nil {
			return err
		}

		if err := repo.AppendStatusEvent(ctx, domain.StatusChange{
			BookingID: id,
			From:      domain.StatusConfirmed,
			To:        domain.StatusCompleted,
			ActorID:   actor.ID,
			Reason:    "travel date passed",
			At:        s.cfg.Now().UTC(),
		}); err != nil {
			return err
		}

		completed = true
		after(func(context.Context) {
			s.metrics.Transition(string(domain.StatusConfirmed), string(domain.StatusCompleted), "lifecycle")
		})

		return nil
	})

	return completed, err
}
