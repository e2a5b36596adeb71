package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"time"

	"CryptoAlert/internal/domain/models"
	"CryptoAlert/internal/domain/repository"
	"CryptoAlert/pkg/util"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// RedisAlertStore keeps one JSON document per user. Every mutation is an
// optimistic WATCH/MULTI transaction on that document, so writes to the same
// user are linearized while different users never contend.
type RedisAlertStore struct {
	client     redis.UniversalClient
	prefix     string
	maxRetries int
	now        func() time.Time
}

// RedisStoreOption configures RedisAlertStore.
type RedisStoreOption func(*RedisAlertStore)

// WithRedisStorePrefix sets the key namespace.
func WithRedisStorePrefix(prefix string) RedisStoreOption {
	return func(s *RedisAlertStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithRedisStoreRetries bounds how often a contended transaction is retried.
func WithRedisStoreRetries(n int) RedisStoreOption {
	return func(s *RedisAlertStore) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// NewRedisAlertStore creates a store on an existing client.
func NewRedisAlertStore(client redis.UniversalClient, opts ...RedisStoreOption) *RedisAlertStore {
	s := &RedisAlertStore{
		client:     client,
		prefix:     "cryptoalert",
		maxRetries: 100,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ repository.AlertStore = (*RedisAlertStore)(nil)

func (s *RedisAlertStore) userKey(userID string) string {
	return fmt.Sprintf("%s:alerts:user:%s", s.prefix, userID)
}

func (s *RedisAlertStore) usersKey() string {
	return s.prefix + ":alerts:users"
}

func (s *RedisAlertStore) load(ctx context.Context, c redis.Cmdable, userID string) (models.UserAlertSet, error) {
	set := models.UserAlertSet{UserID: userID}
	b, err := c.Get(ctx, s.userKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return set, nil
	}
	if err != nil {
		return set, err
	}
	if err := json.Unmarshal(b, &set); err != nil {
		return set, fmt.Errorf("decode alerts of %s: %w", userID, err)
	}
	return set, nil
}

// mutate runs fn inside a WATCH transaction on the user's record. fn reports
// whether the record must be written back.
func (s *RedisAlertStore) mutate(ctx context.Context, userID string, fn func(set *models.UserAlertSet) (bool, error)) error {
	key := s.userKey(userID)
	txf := func(tx *redis.Tx) error {
		set, err := s.load(ctx, tx, userID)
		if err != nil {
			return err
		}
		write, err := fn(&set)
		if err != nil || !write {
			return err
		}
		data, err := json.Marshal(set)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(set.Rules) == 0 {
				pipe.Del(ctx, key)
				pipe.SRem(ctx, s.usersKey(), userID)
				return nil
			}
			pipe.Set(ctx, key, data, 0)
			pipe.SAdd(ctx, s.usersKey(), userID)
			return nil
		})
		return err
	}

	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(rand.Intn(attempt*2+1)) * time.Millisecond):
		}
	}
	return fmt.Errorf("%w: alerts of %s", models.ErrConcurrentModification, userID)
}

func (s *RedisAlertStore) Upsert(ctx context.Context, userID, symbol string, high, low *decimal.Decimal) (models.AlertRule, error) {
	symbol = util.NormalizeSymbol(symbol)
	var out models.AlertRule
	err := s.mutate(ctx, userID, func(set *models.UserAlertSet) (bool, error) {
		now := s.now().UTC()
		if i := set.Find(symbol); i >= 0 {
			next, err := set.Rules[i].Merge(high, low, now)
			if err != nil {
				return false, err
			}
			out = next
			if next.Revision == set.Rules[i].Revision {
				return false, nil
			}
			set.Rules[i] = next
			return true, nil
		}
		r, err := models.NewAlertRule(symbol, high, low, now)
		if err != nil {
			return false, err
		}
		set.Rules = append(set.Rules, r)
		out = r
		return true, nil
	})
	return out, err
}

func (s *RedisAlertStore) Remove(ctx context.Context, userID, symbol string) (bool, error) {
	symbol = util.NormalizeSymbol(symbol)
	var removed bool
	err := s.mutate(ctx, userID, func(set *models.UserAlertSet) (bool, error) {
		i := set.Find(symbol)
		removed = i >= 0
		if !removed {
			return false, nil
		}
		set.Rules = slices.Delete(set.Rules, i, i+1)
		return true, nil
	})
	return removed, err
}

func (s *RedisAlertStore) List(ctx context.Context, userID string) ([]models.AlertRule, error) {
	set, err := s.load(ctx, s.client, userID)
	if err != nil {
		return nil, err
	}
	if set.Rules == nil {
		return []models.AlertRule{}, nil
	}
	return set.Rules, nil
}

func (s *RedisAlertStore) UpdateState(ctx context.Context, userID, symbol string, observed models.AlertRule, state models.State) (bool, error) {
	symbol = util.NormalizeSymbol(symbol)
	var swapped bool
	err := s.mutate(ctx, userID, func(set *models.UserAlertSet) (bool, error) {
		swapped = false
		i := set.Find(symbol)
		if i < 0 {
			return false, nil
		}
		cur := &set.Rules[i]
		if cur.Revision != observed.Revision || cur.State != observed.State {
			return false, nil
		}
		cur.State = state
		swapped = true
		return true, nil
	})
	if err != nil {
		return false, err
	}
	return swapped, nil
}

func (s *RedisAlertStore) Snapshot(ctx context.Context) ([]models.UserAlertSet, error) {
	ids, err := s.client.SMembers(ctx, s.usersKey()).Result()
	if err != nil {
		return nil, err
	}
	slices.Sort(ids)

	const chunk = 100
	out := make([]models.UserAlertSet, 0, len(ids))
	for start := 0; start < len(ids); start += chunk {
		end := min(start+chunk, len(ids))
		keys := make([]string, 0, end-start)
		for _, id := range ids[start:end] {
			keys = append(keys, s.userKey(id))
		}
		vals, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, err
		}
		for i, v := range vals {
			raw, ok := v.(string)
			if !ok {
				continue // removed between SMEMBERS and MGET
			}
			set := models.UserAlertSet{UserID: ids[start+i]}
			if err := json.Unmarshal([]byte(raw), &set); err != nil {
				return nil, fmt.Errorf("decode alerts of %s: %w", set.UserID, err)
			}
			if len(set.Rules) > 0 {
				out = append(out, set)
			}
		}
	}
	return out, nil
}

// Close is a no-op: the client belongs to the cache layer.
func (s *RedisAlertStore) Close() error { return nil }
