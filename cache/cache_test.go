package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestRedis(t *testing.T) (Cache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	c, err := NewRedis(mr.Addr(), "", 0, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func backends(t *testing.T) map[string]Cache {
	t.Helper()
	redisCache, _ := newTestRedis(t)
	mem := NewMemory(time.Minute)
	t.Cleanup(func() { mem.Close() })
	return map[string]Cache{"redis": redisCache, "memory": mem}
}

func TestGetSetDelete(t *testing.T) {
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := c.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
			val, err := c.Get(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, "v", val)

			ok, err := c.Exists(ctx, "k")
			require.NoError(t, err)
			assert.True(t, ok)

			require.NoError(t, c.Delete(ctx, "k"))
			_, err = c.Get(ctx, "k")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestIncrCreatesWithTTLAndCounts(t *testing.T) {
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			for want := int64(1); want <= 5; want++ {
				got, err := c.Incr(ctx, "counter", time.Minute)
				require.NoError(t, err)
				assert.Equal(t, want, got)
			}
		})
	}
}

func TestIncrIsAtomicUnderConcurrency(t *testing.T) {
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			const workers = 50

			var wg sync.WaitGroup
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := c.Incr(ctx, "shared", time.Minute)
					assert.NoError(t, err)
				}()
			}
			wg.Wait()

			final, err := c.Incr(ctx, "shared", time.Minute)
			require.NoError(t, err)
			assert.Equal(t, int64(workers+1), final)
		})
	}
}

func TestMemoryExpiry(t *testing.T) {
	mem := NewMemory(time.Hour)
	defer mem.Close()
	ctx := context.Background()

	require.NoError(t, mem.Set(ctx, "short", "v", 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	_, err := mem.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err := mem.Exists(ctx, "short")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisExpiry(t *testing.T) {
	c, mr := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "short", "v", time.Second))
	mr.FastForward(2 * time.Second)

	_, err := c.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemorySweepEvicts(t *testing.T) {
	c := NewMemory(time.Hour).(*memoryCache)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", "v", time.Millisecond))
	require.NoError(t, c.Set(ctx, "b", "v", time.Hour))
	time.Sleep(10 * time.Millisecond)

	c.sweep(time.Now())

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.NotContains(t, c.entries, "a")
	assert.Contains(t, c.entries, "b")
}
