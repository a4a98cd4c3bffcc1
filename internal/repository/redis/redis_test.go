package redis

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/kirinyoku/seatline/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return mr, rdb
}

func TestCache_GetOrSetJSON(t *testing.T) {
	ctx := context.Background()
	_, rdb := newTestClient(t)
	c := New(rdb)

	var calls int32
	loader := func(ctx context.Context) (domain.Route, error) {
		atomic.AddInt32(&calls, 1)
		return domain.Route{ID: 7, Name: "Kyiv - Lviv", BaseFareCents: 1500}, nil
	}

	r1, err := GetOrSetJSON(ctx, c, KeyRoute(7), time.Minute, loader)
	require.NoError(t, err)
	r2, err := GetOrSetJSON(ctx, c, KeyRoute(7), time.Minute, loader)
	require.NoError(t, err)

	assert.Equal(t, r1, r2)
	assert.Equal(t, int64(1500), r2.BaseFareCents)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestCache_LoaderErrorNotCached(t *testing.T) {
	ctx := context.Background()
	_, rdb := newTestClient(t)
	c := New(rdb)

	boom := errors.New("boom")
	_, err := GetOrSetJSON(ctx, c, KeyVehicle(1), time.Minute, func(context.Context) (int, error) {
		return 0, boom
	})
	require.ErrorIs(t, err, boom)

	_, ok, err := c.GetString(ctx, KeyVehicle(1))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_NilIsPassThrough(t *testing.T) {
	ctx := context.Background()
	var c *Cache

	assert.Nil(t, New(nil))

	v, err := GetOrSetJSON(ctx, c, "k", time.Minute, func(context.Context) (string, error) {
		return "loaded", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "loaded", v)

	require.NoError(t, c.Del(ctx, "k"))
	require.NoError(t, c.InvalidateSeatMaps(ctx, []domain.LegKey{{VehicleID: 1, SeatID: 1}}))
}

func TestGetOrSetGuardedJSON(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestClient(t)
	c := New(rdb)

	d := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	key := KeySeatMap(1, d)

	// a booking lands while the map is being read
	v, err := GetOrSetGuardedJSON(ctx, c, key, time.Minute, func(ctx context.Context) (int, error) {
		require.NoError(t, c.InvalidateSeatMaps(ctx, []domain.LegKey{{VehicleID: 1, SeatID: 1, Date: d}}))
		return 2, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, v, "the caller still gets what it loaded")
	assert.False(t, mr.Exists(key), "stale load is not cached")

	v, err = GetOrSetGuardedJSON(ctx, c, key, time.Minute, func(context.Context) (int, error) {
		return 1, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.True(t, mr.Exists(key))
	assert.Equal(t, time.Minute, mr.TTL(key))

	v, err = GetOrSetGuardedJSON(ctx, c, key, time.Minute, func(context.Context) (int, error) {
		return 0, errors.New("not called")
	})
	require.NoError(t, err)
	assert.Equal(t, 1, v, "served from cache")
	assert.Equal(t, generationTTL, mr.TTL(generationKey(key)))
}

func TestCache_InvalidateSeatMaps(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestClient(t)
	c := New(rdb)

	d1 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	d2 := d1.AddDate(0, 0, 1)

	require.NoError(t, c.SetString(ctx, KeySeatMap(1, d1), "x", time.Minute))
	require.NoError(t, c.SetString(ctx, KeySeatMap(1, d2), "y", time.Minute))
	require.NoError(t, c.SetString(ctx, KeySeatMap(2, d1), "z", time.Minute))

	err := c.InvalidateSeatMaps(ctx, []domain.LegKey{
		{VehicleID: 1, SeatID: 3, Date: d1},
		{VehicleID: 1, SeatID: 4, Date: d1},
		{VehicleID: 2, SeatID: 9, Date: d1},
	})
	require.NoError(t, err)

	assert.False(t, mr.Exists(KeySeatMap(1, d1)))
	assert.False(t, mr.Exists(KeySeatMap(2, d1)))
	assert.True(t, mr.Exists(KeySeatMap(1, d2)))
}

func TestIdempotencyStore(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestClient(t)
	s := NewIdempotencyStore(rdb, time.Hour)
	key := KeyIdemBooking(42, "abc")

	ok, err := s.Begin(ctx, key, 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Begin(ctx, key, 10*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	r, err := s.Lookup(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, r, "claim is not a result")

	require.NoError(t, s.Finish(ctx, key, Replay{Status: 201, Body: []byte(`{"code":"AB12CD34"}`)}))

	r, err = s.Lookup(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, 201, r.Status)
	assert.JSONEq(t, `{"code":"AB12CD34"}`, string(r.Body))
	assert.False(t, mr.Exists(inflightKey(key)), "finish drops the claim")
	assert.Equal(t, time.Hour, mr.TTL(key))

	ok, err = s.Begin(ctx, key, 10*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "a stored result cannot be claimed again")
	assert.False(t, mr.Exists(inflightKey(key)))
}

func TestIdempotencyStore_Abort(t *testing.T) {
	ctx := context.Background()
	_, rdb := newTestClient(t)
	s := NewIdempotencyStore(rdb, time.Hour)
	key := KeyIdemBooking(42, "abc")

	ok, err := s.Begin(ctx, key, 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.Abort(ctx, key))

	ok, err = s.Begin(ctx, key, 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSlidingWindowLimiter(t *testing.T) {
	ctx := context.Background()
	_, rdb := newTestClient(t)

	l := NewSlidingWindowLimiter(rdb, "reserve", 2, time.Minute)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		allowed, cur, _, err := l.Allow(ctx, "customer:1")
		require.NoError(t, err)
		assert.True(t, allowed)
		assert.EqualValues(t, i+1, cur)
	}

	allowed, _, retry, err := l.Allow(ctx, "customer:1")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, time.Minute, retry)

	allowed, _, _, err = l.Allow(ctx, "customer:2")
	require.NoError(t, err)
	assert.True(t, allowed, "limits are per suffix")

	now = now.Add(time.Minute + time.Millisecond)
	allowed, _, _, err = l.Allow(ctx, "customer:1")
	require.NoError(t, err)
	assert.True(t, allowed, "window slid past earlier hits")
}

func TestLegLocker(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestClient(t)
	l := NewLegLocker(rdb)
	leg := "1:3:2026-03-01"

	tok, ok, err := l.TryLock(ctx, leg, 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, tok)

	_, ok, err = l.TryLock(ctx, leg, 5*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.Unlock(ctx, leg, "someone-else"))
	assert.True(t, mr.Exists(KeyLegLock(leg)), "foreign token must not release")

	require.NoError(t, l.Unlock(ctx, leg, tok))
	assert.False(t, mr.Exists(KeyLegLock(leg)))

	_, ok, err = l.TryLock(ctx, leg, 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(6 * time.Second)
	_, ok, err = l.TryLock(ctx, leg, 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "expired lock is free again")
}

func TestSeatsPubSub(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mr, rdb := newTestClient(t)

	assert.Nil(t, NewSeatsPubSub(nil))
	var nilPS *SeatsPubSub
	require.NoError(t, nilPS.PublishSeatsChanged(ctx, []domain.LegKey{{VehicleID: 1}}))

	ps := NewSeatsPubSub(rdb)
	got := make(chan []SeatChange, 1)
	done := make(chan error, 1)
	go func() {
		done <- ps.Subscribe(ctx, func(_ context.Context, seats []SeatChange) {
			got <- seats
		})
	}()

	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(ChannelSeatsChanged())[ChannelSeatsChanged()] == 1
	}, 2*time.Second, 10*time.Millisecond)

	d := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, ps.PublishSeatsChanged(ctx, []domain.LegKey{{VehicleID: 1, SeatID: 3, Date: d}}))

	select {
	case seats := <-got:
		require.Len(t, seats, 1)
		assert.Equal(t, SeatChange{VehicleID: 1, SeatID: 3, Date: "2026-03-01"}, seats[0])
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered")
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
