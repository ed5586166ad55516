package balancer

import (
	"context"
	"sync"
	"sync/atomic"
)

// Counter hands out monotonically increasing values per key. Round-robin
// style strategies take the value modulo their candidate space.
type Counter interface {
	Next(ctx context.Context, key string) (uint64, error)
}

// LocalCounter keeps counters in process memory.
type LocalCounter struct {
	counters sync.Map // key -> *atomic.Uint64
}

func NewLocalCounter() *LocalCounter { return &LocalCounter{} }

func (c *LocalCounter) Next(_ context.Context, key string) (uint64, error) {
	v, _ := c.counters.LoadOrStore(key, new(atomic.Uint64))
	return v.(*atomic.Uint64).Add(1) - 1, nil
}

// Incrementer is the slice of the cache used by RedisCounter.
type Incrementer interface {
	Incr(ctx context.Context, key string) (int64, error)
}

// RedisCounter shares counters across processes through INCR on
// lb_counter:{key}.
type RedisCounter struct {
	store Incrementer
}

func NewRedisCounter(store Incrementer) *RedisCounter {
	return &RedisCounter{store: store}
}

func (c *RedisCounter) Next(ctx context.Context, key string) (uint64, error) {
	n, err := c.store.Incr(ctx, "lb_counter:"+key)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, nil
	}
	return uint64(n - 1), nil
}
