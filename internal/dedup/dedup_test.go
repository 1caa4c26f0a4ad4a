package dedup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type fakeRedis struct {
	mu   sync.Mutex
	keys map[string]time.Duration
	err  error
}

func (f *fakeRedis) SetNX(_ context.Context, key string, _ any, ttl time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewBoolResult(false, f.err)
	}
	if _, ok := f.keys[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.keys[key] = ttl
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	var n int64
	for _, k := range keys {
		if _, ok := f.keys[k]; ok {
			delete(f.keys, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestRedis_ClaimRelease(t *testing.T) {
	fake := &fakeRedis{keys: map[string]time.Duration{}}
	d, err := NewRedis(fake, time.Hour)
	require.NoError(t, err)
	ctx := context.Background()

	ok, err := d.Claim(ctx, "whatsapp:wamid.A")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, time.Hour, fake.keys["helpdesk:dedup:whatsapp:wamid.A"])

	ok, err = d.Claim(ctx, "whatsapp:wamid.A")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, d.Release(ctx, "whatsapp:wamid.A"))
	ok, err = d.Claim(ctx, "whatsapp:wamid.A")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRedis_Errors(t *testing.T) {
	_, err := NewRedis(nil, time.Hour)
	require.Error(t, err)

	d, err := NewRedis(&fakeRedis{keys: map[string]time.Duration{}, err: errors.New("connection refused")}, 0)
	require.NoError(t, err)
	require.Equal(t, DefaultTTL, d.ttl)

	_, err = d.Claim(context.Background(), "k")
	require.Error(t, err)
	require.Contains(t, err.Error(), "connection refused")
	require.Error(t, d.Release(context.Background(), "k"))
}

func TestNewRedisFromURL_Invalid(t *testing.T) {
	_, _, err := NewRedisFromURL("http://not-redis", time.Hour)
	require.Error(t, err)
}

func TestMemory_ClaimExpiresAfterTTL(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory(time.Minute)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	ok, _ := m.Claim(ctx, "k")
	require.True(t, ok)
	ok, _ = m.Claim(ctx, "k")
	require.False(t, ok)

	now = now.Add(2 * time.Minute)
	ok, _ = m.Claim(ctx, "k")
	require.True(t, ok)

	require.NoError(t, m.Release(ctx, "k"))
	ok, _ = m.Claim(ctx, "k")
	require.True(t, ok)
}

func TestMemory_ConcurrentClaimsOneWinner(t *testing.T) {
	m := NewMemory(time.Hour)
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := m.Claim(context.Background(), "same"); ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, wins)
}
