package repository

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// IDAllocator hands out the numeric part of CUST-<n>. rowCount is the
// customer tab's last row (header included) at the time of the call.
type IDAllocator interface {
	Allocate(ctx context.Context, rowCount int) (int, error)
}

// RowCountAllocator numbers customers by the tab's row count. Two concurrent
// creates can read the same count and receive the same ID; use
// RedisCounterAllocator when that matters.
type RowCountAllocator struct{}

var _ IDAllocator = RowCountAllocator{}

func (RowCountAllocator) Allocate(_ context.Context, rowCount int) (int, error) {
	return max(rowCount, 1), nil
}

// incrWithFloor never returns a value below ARGV[1], so a fresh counter picks
// up where the sheet already is.
var incrWithFloor = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
local floor = tonumber(ARGV[1])
if n < floor then
  redis.call('SET', KEYS[1], floor)
  n = floor
end
return n
`)

// RedisCounterAllocator is a monotonic counter shared by every process.
type RedisCounterAllocator struct {
	rds *redis.Client
	key string
}

var _ IDAllocator = (*RedisCounterAllocator)(nil)

func NewRedisCounterAllocator(rds *redis.Client, key string) *RedisCounterAllocator {
	if key == "" {
		key = "crm:customer:seq"
	}
	return &RedisCounterAllocator{rds: rds, key: key}
}

func (a *RedisCounterAllocator) Allocate(ctx context.Context, rowCount int) (int, error) {
	n, err := incrWithFloor.Run(ctx, a.rds, []string{a.key}, max(rowCount, 1)).Int()
	if err != nil {
		return 0, fmt.Errorf("%w: allocate customer id: %v", ErrBackendUnavailable, err)
	}
	return n, nil
}
