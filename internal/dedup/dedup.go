// Package dedup remembers webhook deliveries that were already accepted so
// platform retries are not answered twice.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultTTL = 24 * time.Hour
	keyPrefix  = "helpdesk:dedup:"
)

// Deduper claims delivery keys. Claim reports true when the key was not seen
// within the TTL. Release forgets a claim.
type Deduper interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// redisAPI is the subset of *redis.Client used here.
type redisAPI interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type Redis struct {
	rdb redisAPI
	ttl time.Duration
}

func NewRedis(rdb redisAPI, ttl time.Duration) (*Redis, error) {
	if rdb == nil {
		return nil, errors.New("dedup: redis client must not be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{rdb: rdb, ttl: ttl}, nil
}

// NewRedisFromURL parses a redis:// or rediss:// URL.
func NewRedisFromURL(rawURL string, ttl time.Duration) (*Redis, *redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, nil, fmt.Errorf("dedup: parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	d, err := NewRedis(rdb, ttl)
	if err != nil {
		_ = rdb.Close()
		return nil, nil, err
	}
	return d, rdb, nil
}

func (r *Redis) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := r.rdb.SetNX(ctx, keyPrefix+key, time.Now().UTC().Format(time.RFC3339), r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup: claim %s: %w", key, err)
	}
	return ok, nil
}

func (r *Redis) Release(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("dedup: release %s: %w", key, err)
	}
	return nil
}

// Memory is a process-local Deduper for local development and tests.
type Memory struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[string]time.Time
	now  func() time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{ttl: ttl, seen: make(map[string]time.Time), now: time.Now}
}

func (m *Memory) Claim(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if exp, ok := m.seen[key]; ok && now.Before(exp) {
		return false, nil
	}
	m.seen[key] = now.Add(m.ttl)

	// sweep so the map does not grow without bound
	if len(m.seen) > 4096 {
		for k, exp := range m.seen {
			if !now.Before(exp) {
				delete(m.seen, k)
			}
		}
	}
	return true, nil
}

func (m *Memory) Release(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.seen, key)
	m.mu.Unlock()
	return nil
}
