package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"procedure-assistant-be/pkg/store"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// Store persists sessions by id. Get returns a copy the caller may mutate freely;
// nothing is visible to other turns until Save.
type Store interface {
	Get(ctx context.Context, id string) (*store.Session, bool, error)
	Save(ctx context.Context, s *store.Session) error
	Delete(ctx context.Context, id string) error
}

// MemoryStore keeps sessions in process with a janitor sweep for expired ones.
type MemoryStore struct {
	cache  *cache.Cache
	policy Policy
}

func NewMemoryStore(policy Policy) *MemoryStore {
	sweep := policy.RecencyWindow
	if sweep <= 0 || sweep > 10*time.Minute {
		sweep = 10 * time.Minute
	}
	return &MemoryStore{
		cache:  cache.New(policy.TTL(nil), sweep),
		policy: policy,
	}
}

func (r *MemoryStore) Get(ctx context.Context, id string) (*store.Session, bool, error) {
	if x, found := r.cache.Get(id); found {
		return x.(*store.Session).Clone(), true, nil
	}
	return nil, false, nil
}

func (r *MemoryStore) Save(ctx context.Context, s *store.Session) error {
	r.cache.Set(s.ID, s.Clone(), r.policy.TTL(s))
	return nil
}

func (r *MemoryStore) Delete(ctx context.Context, id string) error {
	r.cache.Delete(id)
	return nil
}

func (r *MemoryStore) Count() int {
	return r.cache.ItemCount()
}

// RedisStore shares sessions across instances. Values are JSON with the policy TTL.
type RedisStore struct {
	client *redis.Client
	policy Policy
	prefix string
}

func NewRedisStore(client *redis.Client, policy Policy) *RedisStore {
	return &RedisStore{client: client, policy: policy, prefix: "routing:session:"}
}

func (r *RedisStore) key(id string) string {
	return r.prefix + id
}

func (r *RedisStore) Get(ctx context.Context, id string) (*store.Session, bool, error) {
	raw, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get session %s: %w", id, err)
	}

	var s store.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, false, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &s, true, nil
}

func (r *RedisStore) Save(ctx context.Context, s *store.Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", s.ID, err)
	}
	if err := r.client.Set(ctx, r.key(s.ID), raw, r.policy.TTL(s)).Err(); err != nil {
		return fmt.Errorf("redis save session %s: %w", s.ID, err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	return r.client.Del(ctx, r.key(id)).Err()
}
