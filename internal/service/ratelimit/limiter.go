// Package ratelimit throttles command-surface requests per user.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
)

// Limiter decides whether one more request for key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type bucket struct {
	tokens float64
	last   time.Time
}

// Memory is an in-process token bucket per key.
type Memory struct {
	mu         sync.Mutex
	m          map[string]*bucket
	capacity   float64
	refillRate float64 // tokens per second
	now        func() time.Time
}

func NewMemory(capacity int, refillPerSec float64) *Memory {
	return &Memory{
		m:          make(map[string]*bucket),
		capacity:   float64(capacity),
		refillRate: refillPerSec,
		now:        time.Now,
	}
}

// Allow consumes one token for key if available.
func (l *Memory) Allow(_ context.Context, key string) (bool, error) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.m[key]
	if !ok {
		b = &bucket{tokens: l.capacity, last: now}
		l.m[key] = b
	}
	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens = math.Min(l.capacity, b.tokens+elapsed*l.refillRate)
		b.last = now
	}
	if b.tokens >= 1 {
		b.tokens--
		return true, nil
	}
	return false, nil
}

// Redis shares the bucket across replicas using GCRA in Redis.
type Redis struct {
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
	prefix  string
}

func NewRedis(client redis.UniversalClient, prefix string, capacity int, refillPerSec float64) *Redis {
	return &Redis{
		limiter: redis_rate.NewLimiter(client),
		limit:   toLimit(capacity, refillPerSec),
		prefix:  prefix,
	}
}

func (l *Redis) Allow(ctx context.Context, key string) (bool, error) {
	res, err := l.limiter.Allow(ctx, l.prefix+":ratelimit:"+key, l.limit)
	if err != nil {
		return false, err
	}
	return res.Allowed > 0, nil
}

// toLimit expresses a fractional refill rate as whole tokens per period.
func toLimit(capacity int, refillPerSec float64) redis_rate.Limit {
	limit := redis_rate.Limit{Rate: 1, Burst: capacity, Period: time.Second}
	switch {
	case refillPerSec >= 1:
		limit.Rate = int(refillPerSec)
	case refillPerSec > 0:
		limit.Period = time.Duration(float64(time.Second) / refillPerSec)
	}
	return limit
}
