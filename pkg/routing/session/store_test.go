package session

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"procedure-assistant-be/internal/pkg/logger"
	"procedure-assistant-be/pkg/store"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_IsolatesCopies(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryStore(DefaultPolicy())

	s := &store.Session{ID: "s1", LastSuccessfulCollection: "passport"}
	require.NoError(t, r.Save(ctx, s))

	s.LastSuccessfulCollection = "mutated after save"

	got, ok, err := r.Get(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "passport", got.LastSuccessfulCollection)

	got.ConsecutiveLowConfidence = 9
	again, _, _ := r.Get(ctx, "s1")
	assert.Equal(t, 0, again.ConsecutiveLowConfidence)
}

func TestMemoryStore_Expiry(t *testing.T) {
	ctx := context.Background()
	policy := DefaultPolicy()
	policy.RecencyWindow = 20 * time.Millisecond
	policy.InactivityTTL = 20 * time.Millisecond
	policy.ClarificationTTL = time.Hour
	r := NewMemoryStore(policy)

	require.NoError(t, r.Save(ctx, &store.Session{ID: "idle"}))
	require.NoError(t, r.Save(ctx, &store.Session{ID: "pending", Pending: &store.ClarificationState{Stage: store.StageDocumentSelection}}))

	time.Sleep(60 * time.Millisecond)

	_, ok, _ := r.Get(ctx, "idle")
	assert.False(t, ok, "idle session past its window is evicted")
	_, ok, _ = r.Get(ctx, "pending")
	assert.True(t, ok, "pending clarification keeps the session")

	require.NoError(t, r.Delete(ctx, "pending"))
	_, ok, _ = r.Get(ctx, "pending")
	assert.False(t, ok)
}

func testRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opt)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisStore_RoundTrip(t *testing.T) {
	client := testRedisClient(t)
	ctx := context.Background()
	r := NewRedisStore(client, DefaultPolicy())
	s := &store.Session{ID: "redis-test", LastSuccessfulCollection: "passport", ConsecutiveLowConfidence: 2}
	require.NoError(t, r.Save(ctx, s))
	defer r.Delete(ctx, s.ID)

	got, ok, err := r.Get(ctx, s.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "passport", got.LastSuccessfulCollection)
	assert.Equal(t, 2, got.ConsecutiveLowConfidence)

	ttl, err := client.TTL(ctx, r.key(s.ID)).Result()
	require.NoError(t, err)
	assert.True(t, ttl > 0)
}

func TestKeyedLocker_SerializesSameKey(t *testing.T) {
	l := NewKeyedLocker()
	var inside, maxInside int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background(), "s1")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Equal(t, 0, l.size(), "idle keys are dropped")
}

func TestKeyedLocker_DifferentKeysInParallel(t *testing.T) {
	l := NewKeyedLocker()
	releaseA, err := l.Acquire(context.Background(), "a")
	require.NoError(t, err)
	defer releaseA()

	done := make(chan struct{})
	go func() {
		releaseB, err := l.Acquire(context.Background(), "b")
		if err == nil {
			releaseB()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
}

func TestKeyedLocker_ContextCancel(t *testing.T) {
	l := NewKeyedLocker()
	release, err := l.Acquire(context.Background(), "s1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "s1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release() // second call is a no-op
	assert.Equal(t, 0, l.size())
}

func TestRedisLocker_SerializesSameKey(t *testing.T) {
	client := testRedisClient(t)
	l := NewRedisLocker(client, 5*time.Second, logger.NewNopLogger())
	key := "test-" + uuid.NewString()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			release, err := l.Acquire(ctx, key)
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	n, err := client.Exists(context.Background(), l.key(key)).Result()
	require.NoError(t, err)
	assert.Zero(t, n, "lock key is removed on release")
}

func TestRedisLocker_ContextCancel(t *testing.T) {
	client := testRedisClient(t)
	l := NewRedisLocker(client, 5*time.Second, logger.NewNopLogger())
	key := "test-" + uuid.NewString()

	release, err := l.Acquire(context.Background(), key)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, key)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRedisLocker_ExpiredHolderKeepsNewOwnersLock(t *testing.T) {
	client := testRedisClient(t)
	ctx := context.Background()
	l := NewRedisLocker(client, 100*time.Millisecond, logger.NewNopLogger())
	key := "test-" + uuid.NewString()

	stale, err := l.Acquire(ctx, key)
	require.NoError(t, err)

	acquireCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	current, err := l.Acquire(acquireCtx, key)
	require.NoError(t, err, "lease expiry frees the lock")

	stale()
	n, err := client.Exists(ctx, l.key(key)).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "a stale release must not delete the new owner's lock")

	current()
	current() // second call is a no-op
	n, err = client.Exists(ctx, l.key(key)).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}
