package lock

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"igsync/pkg/config"
	"igsync/pkg/logger"
)

func TestLocal(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	release, ok, err := l.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, l.Held())

	_, ok, err = l.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	release()
	release()
	assert.False(t, l.Held())

	release2, ok, _ := l.TryLock(ctx)
	assert.True(t, ok)
	release2()
}

func TestLocalSingleWinner(t *testing.T) {
	l := NewLocal()
	var winners int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, ok, _ := l.TryLock(context.Background()); ok {
				atomic.AddInt32(&winners, 1)
			}
		}()
	}
	close(start)
	wg.Wait()
	assert.Equal(t, int32(1), winners)
}

func TestRedis(t *testing.T) {
	addr := os.Getenv("IGSYNC_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("IGSYNC_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client, err := NewRedisClient(ctx, config.RedisConfig{Addr: addr})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	key := "igsync:test:" + uuid.NewString()
	a := NewRedis(client, key, time.Minute, logger.NewNopLogger())
	b := NewRedis(client, key, time.Minute, logger.NewNopLogger())

	release, ok, err := a.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	release()
	releaseB, ok, err := b.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	// a stale release must not free b's lock
	release()
	_, ok, _ = a.TryLock(ctx)
	assert.False(t, ok)
	releaseB()
}

func TestRedisHeldPastTTL(t *testing.T) {
	addr := os.Getenv("IGSYNC_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("IGSYNC_TEST_REDIS_ADDR not set")
	}
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx := context.Background()
	client, err := NewRedisClient(ctx, config.RedisConfig{Addr: addr})
	require.NoError(t, err)
	defer client.Close()

	key := "igsync:test:" + uuid.NewString()
	ttl := 300 * time.Millisecond
	a := NewRedis(client, key, ttl, logger.NewNopLogger())
	b := NewRedis(client, key, ttl, logger.NewNopLogger())

	release, ok, err := a.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(3 * ttl)
	_, ok, err = b.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "a held lock outlives its TTL")

	remaining, err := client.PTTL(ctx, key).Result()
	require.NoError(t, err)
	assert.Greater(t, remaining, time.Duration(0))

	release()
	releaseB, ok, err := b.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	releaseB()
}
