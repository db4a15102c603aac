package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// admitScript runs check-and-increment atomically on the server.
// KEYS[1] window counter, KEYS[2] stats hash; ARGV[1] limit, ARGV[2] window ms.
// Returns {allowed, count, pttl}.
var admitScript = redis.NewScript(`
local count = tonumber(redis.call('GET', KEYS[1]) or '0')
local ttl = redis.call('PTTL', KEYS[1])
if count == 0 or ttl <= 0 then
  redis.call('SET', KEYS[1], 1, 'PX', ARGV[2])
  redis.call('HINCRBY', KEYS[2], 'allowed', 1)
  return {1, 1, tonumber(ARGV[2])}
end
if count >= tonumber(ARGV[1]) then
  redis.call('HINCRBY', KEYS[2], 'denied', 1)
  return {0, count, ttl}
end
count = redis.call('INCR', KEYS[1])
redis.call('HINCRBY', KEYS[2], 'allowed', 1)
return {1, count, ttl}
`)

// RedisWindow is the fixed-window limiter backed by Redis, for deployments
// running several replicas behind one quota. Window expiry uses Redis key TTLs.
type RedisWindow struct {
	rdb    redis.UniversalClient
	limit  int
	window time.Duration
	prefix string
	clock  Clock
}

// Stats are the cumulative decision counters kept alongside the windows.
type Stats struct {
	Allowed int64 `json:"allowed"`
	Denied  int64 `json:"denied"`
}

// NewRedisWindow admits limit requests per identity per window using rdb.
func NewRedisWindow(rdb redis.UniversalClient, limit int, window time.Duration, opts ...Option) *RedisWindow {
	s := newSettings(window, opts)
	return &RedisWindow{
		rdb:    rdb,
		limit:  limit,
		window: window,
		prefix: s.prefix,
		clock:  s.clock,
	}
}

func (r *RedisWindow) key(identity string) string {
	return r.prefix + ":window:" + identity
}

func (r *RedisWindow) statsKey() string {
	return r.prefix + ":stats"
}

// Admit implements Limiter.
func (r *RedisWindow) Admit(ctx context.Context, identity string) (Decision, error) {
	res, err := admitScript.Run(ctx, r.rdb,
		[]string{r.key(identity), r.statsKey()},
		r.limit, r.window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("admission script: %w", err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("admission script: unexpected reply length %d", len(res))
	}

	ttl := time.Duration(res[2]) * time.Millisecond
	d := Decision{
		Allowed:   res[0] == 1,
		Limit:     r.limit,
		Remaining: r.limit - int(res[1]),
		ResetAt:   r.clock().Add(ttl),
	}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	if !d.Allowed {
		d.RetryAfter = ttl
	}
	return d, nil
}

// Inspect returns the live window for identity.
func (r *RedisWindow) Inspect(ctx context.Context, identity string) (UsageRecord, bool, error) {
	key := r.key(identity)

	pipe := r.rdb.Pipeline()
	get := pipe.Get(ctx, key)
	pttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return UsageRecord{}, false, err
	}

	count, err := get.Int()
	if errors.Is(err, redis.Nil) {
		return UsageRecord{}, false, nil
	}
	if err != nil {
		return UsageRecord{}, false, err
	}

	ttl, err := pttl.Result()
	if err != nil {
		return UsageRecord{}, false, err
	}
	if ttl < 0 {
		ttl = 0
	}
	return UsageRecord{Count: count, WindowEnd: r.clock().Add(ttl)}, true, nil
}

// Reset forgets identity's window. It reports whether a window existed.
func (r *RedisWindow) Reset(ctx context.Context, identity string) (bool, error) {
	n, err := r.rdb.Del(ctx, r.key(identity)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Stats returns the cumulative allowed/denied counters.
func (r *RedisWindow) Stats(ctx context.Context) (Stats, error) {
	vals, err := r.rdb.HGetAll(ctx, r.statsKey()).Result()
	if err != nil {
		return Stats{}, err
	}
	var st Stats
	if v, ok := vals["allowed"]; ok {
		_, _ = fmt.Sscan(v, &st.Allowed)
	}
	if v, ok := vals["denied"]; ok {
		_, _ = fmt.Sscan(v, &st.Denied)
	}
	return st, nil
}

// Ping checks connectivity to the backing server.
func (r *RedisWindow) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}
