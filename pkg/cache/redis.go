package cache

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type RedisOption func(*redis.Options, *string)

func WithRedisHost(host string) RedisOption {
	return func(o *redis.Options, _ *string) {
		_, port, _ := net.SplitHostPort(o.Addr)
		o.Addr = net.JoinHostPort(host, port)
	}
}

func WithRedisPort(port int) RedisOption {
	return func(o *redis.Options, _ *string) {
		host, _, _ := net.SplitHostPort(o.Addr)
		o.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	}
}

func WithRedisPassword(password string) RedisOption {
	return func(o *redis.Options, _ *string) { o.Password = password }
}

func WithRedisDB(db int) RedisOption {
	return func(o *redis.Options, _ *string) { o.DB = db }
}

func WithRedisPool(size, minIdle int, timeout time.Duration) RedisOption {
	return func(o *redis.Options, _ *string) {
		o.PoolSize, o.MinIdleConns, o.PoolTimeout = size, minIdle, timeout
	}
}

// WithRedisPrefix namespaces every key of the cache.
func WithRedisPrefix(prefix string) RedisOption {
	return func(_ *redis.Options, p *string) { *p = prefix }
}

// unlockScript deletes the lock only while it still carries our token, so a
// tick that outlived its TTL cannot release a lock another replica took.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisCache implements Service on Redis. Its client is shared with the
// alert store and the rate limiter.
type RedisCache struct {
	client *redis.Client
	prefix string
	token  string
}

func NewRedisCache(opts ...RedisOption) (*RedisCache, error) {
	o := &redis.Options{Addr: "localhost:6379", PoolSize: 10}
	prefix := "cryptoalert"
	for _, opt := range opts {
		opt(o, &prefix)
	}
	client := redis.NewClient(o)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", o.Addr, err)
	}
	return newRedisCache(client, prefix), nil
}

func newRedisCache(client *redis.Client, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix, token: uuid.NewString()}
}

var _ Service = (*RedisCache)(nil)

func (c *RedisCache) Client() *redis.Client { return c.client }

func (c *RedisCache) Close() error { return c.client.Close() }

func (c *RedisCache) key(k string) string { return Key(c.prefix, k) }

func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(key), data, ttl).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return err
	}
	return decode(data, dest)
}

func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(k)
	}
	return c.client.Unlink(ctx, full...).Err()
}

func (c *RedisCache) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, c.key(key), c.token, ttl).Result()
}

func (c *RedisCache) Unlock(ctx context.Context, key string) error {
	return unlockScript.Run(ctx, c.client, []string{c.key(key)}, c.token).Err()
}
