package httpmiddleware

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript trims the per-key sorted set to the window, then adds
// the request if there is room. Returns {allowed, remaining, oldest_ms}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local seq_key = KEYS[2]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)

local oldest = now
local first = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if #first >= 2 then
	oldest = tonumber(first[2])
end

if count < limit then
	local seq = redis.call('INCR', seq_key)
	redis.call('ZADD', key, now, now .. ':' .. seq)
	redis.call('PEXPIRE', key, window)
	redis.call('PEXPIRE', seq_key, window)
	return {1, limit - count - 1, oldest}
end
return {0, 0, oldest}
`)

var _ LimitStore = (*RedisStore)(nil)

// RedisStore is an exact sliding window counter shared by every server
// instance using the same redis.
type RedisStore struct {
	rdb    redis.Scripter
	prefix string
	max    int
	window time.Duration
}

// NewRedisStore creates a RedisStore allowing limit requests per window,
// storing keys under prefix.
func NewRedisStore(rdb redis.Scripter, prefix string, limit int, window time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: prefix, max: limit, window: window}
}

// Allow records a request for key if it is within the limit.
func (s *RedisStore) Allow(ctx context.Context, key string, now time.Time) (Decision, error) {
	k := s.prefix + key
	res, err := slidingWindowScript.Run(ctx, s.rdb, []string{k, k + ":seq"},
		now.UnixMilli(), s.window.Milliseconds(), s.max,
	).Int64Slice()
	if err != nil {
		return Decision{}, errors.Wrap(err, "run sliding window script")
	}
	if len(res) != 3 {
		return Decision{}, errors.Errorf("unexpected script result length %d", len(res))
	}

	return Decision{
		Allowed:   res[0] == 1,
		Remaining: int(res[1]),
		ResetAt:   time.UnixMilli(res[2]).Add(s.window),
	}, nil
}
