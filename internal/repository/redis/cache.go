package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/kirinyoku/seatline/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// Writes ARGV[2] to KEYS[1] for ARGV[3] ms only while the generation at
// KEYS[2] still equals ARGV[1].
const luaSetIfGeneration = `
local gen = redis.call('GET', KEYS[2]) or '0'
if gen ~= ARGV[1] then
  return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`

// Generation counters outlive any cached value they guard.
const generationTTL = 24 * time.Hour

// Cache is a JSON read-through cache. A nil *Cache is valid and caches
// nothing, which is how the service runs without redis.
type Cache struct {
	rdb      *redis.Client
	loads    singleflight.Group
	setIfGen *redis.Script
}

func New(client *redis.Client) *Cache {
	if client == nil {
		return nil
	}
	return &Cache{
		rdb:      client,
		setIfGen: redis.NewScript(luaSetIfGeneration),
	}
}

func (c *Cache) GetString(ctx context.Context, key string) (string, bool, error) {
	b, ok, err := c.get(ctx, key)
	return string(b), ok, err
}

func (c *Cache) SetString(ctx context.Context, key, val string, ttl time.Duration) error {
	if c == nil {
		return nil
	}
	return c.rdb.Set(ctx, key, val, ttl).Err()
}

func (c *Cache) Del(ctx context.Context, keys ...string) error {
	if c == nil || len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}

func (c *Cache) get(ctx context.Context, key string) ([]byte, bool, error) {
	if c == nil {
		return nil, false, nil
	}

	b, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, false, nil
	case err != nil:
		return nil, false, err
	}

	return b, true, nil
}

// GetOrSetJSON returns the cached value for key, or loads and stores it.
// Concurrent misses on one key share a single load; every caller decodes
// its own copy of the shared bytes. Cache failures fall through to the
// loader and a failed write is ignored.
func GetOrSetJSON[T any](
	ctx context.Context,
	c *Cache,
	key string,
	ttl time.Duration,
	loader func(ctx context.Context) (T, error),
) (T, error) {
	if c == nil {
		return loader(ctx)
	}

	return readThrough[T](ctx, c, key, func(ctx context.Context) ([]byte, error) {
		b, err := marshalLoad(ctx, loader)
		if err != nil {
			return nil, err
		}

		_ = c.rdb.Set(ctx, key, b, ttl).Err()

		return b, nil
	})
}

// GetOrSetGuardedJSON is GetOrSetJSON for keys dropped through Invalidate.
// The loaded value is only written if no invalidation happened while it
// was being loaded, so a load that raced a write cannot repopulate the
// key with data older than that write.
func GetOrSetGuardedJSON[T any](
	ctx context.Context,
	c *Cache,
	key string,
	ttl time.Duration,
	loader func(ctx context.Context) (T, error),
) (T, error) {
	if c == nil {
		return loader(ctx)
	}

	return readThrough[T](ctx, c, key, func(ctx context.Context) ([]byte, error) {
		gen, genErr := c.generation(ctx, key)

		b, err := marshalLoad(ctx, loader)
		if err != nil {
			return nil, err
		}

		if genErr == nil {
			_ = c.setIfGen.Run(ctx, c.rdb, []string{key, generationKey(key)}, gen, b, ttl.Milliseconds()).Err()
		}

		return b, nil
	})
}

func readThrough[T any](
	ctx context.Context,
	c *Cache,
	key string,
	load func(ctx context.Context) ([]byte, error),
) (T, error) {
	var out T

	if b, ok, err := c.get(ctx, key); err == nil && ok {
		if json.Unmarshal(b, &out) == nil {
			return out, nil
		}
	}

	raw, err, _ := c.loads.Do(key, func() (any, error) {
		return load(ctx)
	})
	if err != nil {
		return out, err
	}

	if err := json.Unmarshal(raw.([]byte), &out); err != nil {
		return out, err
	}

	return out, nil
}

func marshalLoad[T any](ctx context.Context, loader func(ctx context.Context) (T, error)) ([]byte, error) {
	v, err := loader(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func generationKey(key string) string { return key + ":gen" }

func (c *Cache) generation(ctx context.Context, key string) (string, error) {
	gen, err := c.rdb.Get(ctx, generationKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "0", nil
	}
	return gen, err
}

// Invalidate drops keys and bumps their generation so that loads already
// in flight through GetOrSetGuardedJSON do not write them back.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) error {
	if c == nil || len(keys) == 0 {
		return nil
	}

	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, k := range keys {
			p.Del(ctx, k)
			p.Incr(ctx, generationKey(k))
			p.Expire(ctx, generationKey(k), generationTTL)
		}
		return nil
	})

	return err
}

// InvalidateSeatMaps drops cached seat maps for every (vehicle, date) the
// keys touch.
func (c *Cache) InvalidateSeatMaps(ctx context.Context, keys []domain.LegKey) error {
	if c == nil || len(keys) == 0 {
		return nil
	}

	uniq := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		uniq[KeySeatMap(k.VehicleID, k.Date)] = struct{}{}
	}

	out := make([]string, 0, len(uniq))
	for k := range uniq {
		out = append(out, k)
	}

	return c.Invalidate(ctx, out...)
}
