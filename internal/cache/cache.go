package cache

import (
	"context"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// redisTimeout bounds a single redis round trip so a slow cache never holds up a cycle
const redisTimeout = 500 * time.Millisecond

// Cache is the byte store behind ChainCache. Misses and backend errors look the same.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration)
}

// Memory is an in-process TTL store. Expired entries are dropped on read and
// swept whenever a write finds the store at its soft limit.
type Memory struct {
	mu    sync.Mutex
	items map[string]item
	limit int
	now   func() time.Time
}

type item struct {
	val     []byte
	expires time.Time
}

// defaultMemoryLimit is enough for every index across a handful of sources
const defaultMemoryLimit = 1024

// New returns an in-process cache
func New() *Memory { return newMemory(time.Now) }

func newMemory(now func() time.Time) *Memory {
	return &Memory{items: make(map[string]item), limit: defaultMemoryLimit, now: now}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[key]
	if !ok {
		return nil, false
	}
	if it.expired(m.now()) {
		delete(m.items, key)
		return nil, false
	}
	return append([]byte(nil), it.val...), true
}

func (m *Memory) Set(_ context.Context, key string, val []byte, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if len(m.items) >= m.limit {
		for k, it := range m.items {
			if it.expired(now) {
				delete(m.items, k)
			}
		}
	}
	it := item{val: append([]byte(nil), val...)}
	if ttl > 0 {
		it.expires = now.Add(ttl)
	}
	m.items[key] = it
}

// Len reports the number of stored entries, expired ones included until swept
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (it item) expired(now time.Time) bool {
	return !it.expires.IsZero() && now.After(it.expires)
}

// Redis shares cached payloads between processes under a key prefix
type Redis struct {
	client *redis.Client
	prefix string
}

// NewAuto returns a redis-backed cache when addr is set, memory otherwise
func NewAuto(addr string, db int) Cache {
	if addr != "" {
		return NewRedis(redis.NewClient(&redis.Options{Addr: addr, DB: db}))
	}
	return New()
}

// NewRedis wraps an existing client
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client, prefix: "niftyrun:cache:"}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()
	v, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		return nil, false
	}
	return v, true
}

func (r *Redis) Set(ctx context.Context, key string, val []byte, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()
	_ = r.client.Set(ctx, r.prefix+key, val, ttl).Err()
}
