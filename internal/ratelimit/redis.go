package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// checkAndIncrScript checks every bucket against its limit and, only when
// all are below it, increments them together. Running as one script keeps
// the check-then-increment atomic across instances.
var checkAndIncrScript = redis.NewScript(`
for i = 1, #KEYS do
  local used = tonumber(redis.call('GET', KEYS[i]) or '0')
  if used >= tonumber(ARGV[i]) then
    local result = {0}
    for j = 1, #KEYS do
      result[j+1] = tonumber(redis.call('GET', KEYS[j]) or '0')
    end
    return result
  end
end
local result = {1}
for i = 1, #KEYS do
  result[i+1] = redis.call('INCR', KEYS[i])
  redis.call('EXPIRE', KEYS[i], ARGV[#KEYS + i])
end
return result
`)

// RedisCounterStore shares window counters across instances through one
// redis database.
type RedisCounterStore struct {
	rdb *redis.Client
}

func NewRedisCounterStore(rdb *redis.Client) *RedisCounterStore {
	return &RedisCounterStore{rdb: rdb}
}

func (r *RedisCounterStore) CheckAndIncrement(ctx context.Context, buckets []Bucket, _ time.Time) (bool, []int64, error) {
	keys := make([]string, 0, len(buckets))
	args := make([]interface{}, 0, 2*len(buckets))
	for _, b := range buckets {
		keys = append(keys, b.Key)
		args = append(args, b.Limit)
	}
	for _, b := range buckets {
		// buckets outlive their window so late reads still see the count
		args = append(args, int64((2 * b.Window.Size()).Seconds()))
	}

	raw, err := checkAndIncrScript.Run(ctx, r.rdb, keys, args...).Result()
	if err != nil {
		return false, nil, err
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) != len(buckets)+1 {
		return false, nil, fmt.Errorf("unexpected script reply: %v", raw)
	}

	allowed := values[0].(int64) == 1
	counts := make([]int64, len(buckets))
	for i := range buckets {
		counts[i], _ = values[i+1].(int64)
	}

	return allowed, counts, nil
}
