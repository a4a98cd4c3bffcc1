package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Replay is the stored response of a completed idempotent request.
type Replay struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// IdempotencyStore remembers responses per Idempotency-Key. An in-flight
// request holds a short claim next to the result key; the claim is dropped
// when the result is written or the request fails.
type IdempotencyStore struct {
	rdb   *redis.Client
	ttl   time.Duration
	claim *redis.Script
}

func NewIdempotencyStore(rdb *redis.Client, ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{
		rdb:   rdb,
		ttl:   ttl,
		claim: redis.NewScript(luaClaimUnlessDone),
	}
}

func inflightKey(key string) string { return key + ":inflight" }

// Claims KEYS[2] for ARGV[1] ms unless a result is already stored at
// KEYS[1].
const luaClaimUnlessDone = `
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
if redis.call('SET', KEYS[2], 1, 'NX', 'PX', ARGV[1]) then
  return 1
end
return 0
`

// Begin claims key for one request. It reports false while another
// request holds the claim or once a result has been stored, so a caller
// that lost the race should Lookup again.
func (s *IdempotencyStore) Begin(ctx context.Context, key string, claimTTL time.Duration) (bool, error) {
	n, err := s.claim.Run(ctx, s.rdb, []string{key, inflightKey(key)}, claimTTL.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Finish stores r and releases the claim in one transaction.
func (s *IdempotencyStore) Finish(ctx context.Context, key string, r Replay) error {
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}

	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, key, b, s.ttl)
		p.Del(ctx, inflightKey(key))
		return nil
	})

	return err
}

// Lookup returns the stored response, or nil when there is none.
func (s *IdempotencyStore) Lookup(ctx context.Context, key string) (*Replay, error) {
	b, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var r Replay
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, err
	}

	return &r, nil
}

// Abort releases the claim without storing anything so the client may
// retry with the same key.
func (s *IdempotencyStore) Abort(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, inflightKey(key)).Err()
}
