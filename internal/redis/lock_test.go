package redisclient

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
)

func TestProviderLockKey(t *testing.T) {
	id := uuid.MustParse("6f1c2a4e-9d8b-4c1e-8a7f-0b2d3e4f5a6b")
	assert.Equal(t, "lock:provider:6f1c2a4e-9d8b-4c1e-8a7f-0b2d3e4f5a6b", ProviderLockKey(id))
}

func newTestLocker(t *testing.T, ttl, wait time.Duration) Locker {
	t.Helper()

	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}

	rdb, err := NewRedisClient(context.Background(), addr, "", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	return NewRedisLocker(rdb, ttl, wait)
}

func TestRedisLockerIsExclusive(t *testing.T) {
	locker := newTestLocker(t, 2*time.Second, 2*time.Second)
	key := "lock:test:" + uuid.NewString()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.WithLock(context.Background(), key, func(ctx context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
}

func TestRedisLockerBoundedWait(t *testing.T) {
	locker := newTestLocker(t, 2*time.Second, 50*time.Millisecond)
	key := "lock:test:" + uuid.NewString()

	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = locker.WithLock(context.Background(), key, func(ctx context.Context) error {
			close(held)
			<-done
			return nil
		})
	}()
	<-held

	err := locker.WithLock(context.Background(), key, func(ctx context.Context) error {
		return nil
	})
	close(done)

	assert.ErrorIs(t, err, ErrLockNotAcquired)
}
