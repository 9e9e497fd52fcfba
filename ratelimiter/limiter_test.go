package ratelimiter

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T) (*SlidingWindow, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	w := New(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { w.Close() })
	return w, mr
}

func TestAllowWithinLimit(t *testing.T) {
	w, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		allowed, count, err := w.Allow(ctx, ScopeIP, "203.0.113.7", 5, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed, "request %d should be allowed", i)
		assert.Equal(t, i, count)
	}

	allowed, count, err := w.Allow(ctx, ScopeIP, "203.0.113.7", 5, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 6, count)
}

func TestScopesAreIndependent(t *testing.T) {
	w, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _, err := w.Allow(ctx, ScopeIP, "x", 2, time.Minute)
		require.NoError(t, err)
	}

	allowed, count, err := w.Allow(ctx, ScopeFingerprint, "x", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 1, count)
}

func TestCountDoesNotRecord(t *testing.T) {
	w, _ := newTestLimiter(t)
	ctx := context.Background()

	_, _, err := w.Allow(ctx, ScopeSite, "site-a", 100, time.Minute)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		n, err := w.Count(ctx, ScopeSite, "site-a", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	}
}

func TestNoLostUpdatesUnderConcurrency(t *testing.T) {
	w, _ := newTestLimiter(t)
	ctx := context.Background()
	const limit = 10
	const requests = 40

	var allowedCount int64
	var wg sync.WaitGroup
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed, _, err := w.Allow(ctx, ScopeIP, "198.51.100.1", limit, time.Minute)
			require.NoError(t, err)
			if allowed {
				atomic.AddInt64(&allowedCount, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(limit), allowedCount)

	n, err := w.Count(ctx, ScopeIP, "198.51.100.1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, requests, n)
}

func TestWindowSlides(t *testing.T) {
	w, mr := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _, err := w.Allow(ctx, ScopeIP, "10.0.0.1", 3, time.Second)
		require.NoError(t, err)
	}
	allowed, _, err := w.Allow(ctx, ScopeIP, "10.0.0.1", 3, time.Second)
	require.NoError(t, err)
	assert.False(t, allowed)

	mr.FastForward(2 * time.Second)

	allowed, count, err := w.Allow(ctx, ScopeIP, "10.0.0.1", 3, time.Second)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 1, count)
}

func TestReset(t *testing.T) {
	w, _ := newTestLimiter(t)
	ctx := context.Background()

	_, _, err := w.Allow(ctx, ScopeIP, "10.0.0.2", 1, time.Minute)
	require.NoError(t, err)
	require.NoError(t, w.Reset(ctx, ScopeIP, "10.0.0.2"))

	n, err := w.Count(ctx, ScopeIP, "10.0.0.2", time.Minute)
	require.NoError(t, err)
	assert.Zero(t, n)
}
