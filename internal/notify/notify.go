// Package notify fans out seat availability changes after a commit: cached
// seat maps are dropped and other instances are told over pubsub.
package notify

import (
	"context"

	"github.com/kirinyoku/seatline/internal/domain"
	redisrepo "github.com/kirinyoku/seatline/internal/repository/redis"
	"go.uber.org/zap"
)

type Notifier struct {
	cache  *redisrepo.Cache
	pubsub *redisrepo.SeatsPubSub
	log    *zap.Logger
}

// New accepts nil cache and pubsub; the notifier then only logs.
func New(cache *redisrepo.Cache, pubsub *redisrepo.SeatsPubSub, log *zap.Logger) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Notifier{cache: cache, pubsub: pubsub, log: log}
}

// SeatsChanged never fails the caller; the commit already happened.
func (n *Notifier) SeatsChanged(ctx context.Context, keys []domain.LegKey) {
	if n == nil || len(keys) == 0 {
		return
	}

	if err := n.cache.InvalidateSeatMaps(ctx, keys); err != nil {
		n.log.Warn("seat map invalidation failed", zap.Error(err), zap.Int("keys", len(keys)))
	}

	if err := n.pubsub.PublishSeatsChanged(ctx, keys); err != nil {
		n.log.Warn("seats_changed publish failed", zap.Error(err))
	}

	n.log.Debug("seats changed", zap.Stringers("legs", keys))
}

// Apply handles a change received from another instance.
func (n *Notifier) Apply(ctx context.Context, seats []redisrepo.SeatChange) {
	keys := make([]domain.LegKey, 0, len(seats))
	for _, s := range seats {
		d, err := domain.ParseDate(s.Date)
		if err != nil {
			continue
		}
		keys = append(keys, domain.LegKey{VehicleID: s.VehicleID, SeatID: s.SeatID, Date: d})
	}

	if err := n.cache.InvalidateSeatMaps(ctx, keys); err != nil {
		n.log.Warn("seat map invalidation failed", zap.Error(err))
	}
}
