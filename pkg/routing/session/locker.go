package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"procedure-assistant-be/internal/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker serializes turns of the same session. Acquire blocks until the key is
// free or ctx is done; the returned release func must be called exactly once.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

var (
	_ Locker = (*KeyedLocker)(nil)
	_ Locker = (*RedisLocker)(nil)
)

// KeyedLocker serializes turns of the same session while letting different
// sessions proceed in parallel. Entries are dropped once nobody holds or waits.
type KeyedLocker struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	ch   chan struct{}
	refs int
}

func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{locks: make(map[string]*keyedLock)}
}

func (l *KeyedLocker) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	lk, ok := l.locks[key]
	if !ok {
		lk = &keyedLock{ch: make(chan struct{}, 1)}
		l.locks[key] = lk
	}
	lk.refs++
	l.mu.Unlock()

	select {
	case lk.ch <- struct{}{}:
	case <-ctx.Done():
		l.unref(key, lk)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-lk.ch
			l.unref(key, lk)
		})
	}, nil
}

func (l *KeyedLocker) unref(key string, lk *keyedLock) {
	l.mu.Lock()
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}

func (l *KeyedLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// releaseScript deletes the lock only while it still holds our token, so a
// holder whose lease expired cannot free a lock taken over by another instance.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker serializes turns of one session across instances sharing a Redis.
// The lease expires after ttl so a crashed holder cannot block the session forever.
type RedisLocker struct {
	client  *redis.Client
	ttl     time.Duration
	prefix  string
	minWait time.Duration
	maxWait time.Duration
	logger  logger.ILogger
}

func NewRedisLocker(client *redis.Client, ttl time.Duration, logger logger.ILogger) *RedisLocker {
	return &RedisLocker{
		client:  client,
		ttl:     ttl,
		prefix:  "routing:lock:",
		minWait: 10 * time.Millisecond,
		maxWait: 200 * time.Millisecond,
		logger:  logger,
	}
}

func (l *RedisLocker) key(id string) string {
	return l.prefix + id
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	name := l.key(key)
	token := uuid.NewString()

	wait := l.minWait
	for {
		ok, err := l.client.SetNX(ctx, name, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("redis lock session %s: %w", key, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		if wait *= 2; wait > l.maxWait {
			wait = l.maxWait
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(name, token) })
	}, nil
}

// release runs on its own context: the request that held the lock may already be cancelled.
func (l *RedisLocker) release(name, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	n, err := releaseScript.Run(ctx, l.client, []string{name}, token).Int()
	switch {
	case err != nil:
		l.logger.Warn(module, "Failed to release session lock", map[string]interface{}{"lock": name, "error": err.Error()})
	case n == 0:
		l.logger.Warn(module, "Session lock expired before release", map[string]interface{}{"lock": name, "ttl": l.ttl.String()})
	}
}
