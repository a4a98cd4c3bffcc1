package notify

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/kirinyoku/seatline/internal/domain"
	redisrepo "github.com/kirinyoku/seatline/internal/repository/redis"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNotifier_SeatsChanged(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cache := redisrepo.New(rdb)
	d := time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, cache.SetString(ctx, redisrepo.KeySeatMap(1, d), "{}", time.Minute))

	n := New(cache, redisrepo.NewSeatsPubSub(rdb), zap.NewNop())
	n.SeatsChanged(ctx, []domain.LegKey{{VehicleID: 1, SeatID: 2, Date: d}})

	assert.False(t, mr.Exists(redisrepo.KeySeatMap(1, d)))
}

func TestNotifier_Apply(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cache := redisrepo.New(rdb)
	d := time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, cache.SetString(ctx, redisrepo.KeySeatMap(3, d), "{}", time.Minute))

	n := New(cache, nil, nil)
	n.Apply(ctx, []redisrepo.SeatChange{
		{VehicleID: 3, SeatID: 1, Date: "2026-05-02"},
		{VehicleID: 3, SeatID: 1, Date: "garbage"},
	})

	assert.False(t, mr.Exists(redisrepo.KeySeatMap(3, d)))
}

func TestNotifier_WithoutRedis(t *testing.T) {
	n := New(nil, nil, nil)
	assert.NotPanics(t, func() {
		n.SeatsChanged(context.Background(), []domain.LegKey{{VehicleID: 1}})
	})

	var nilN *Notifier
	assert.NotPanics(t, func() {
		nilN.SeatsChanged(context.Background(), []domain.LegKey{{VehicleID: 1}})
	})
}
