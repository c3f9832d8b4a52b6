// Package cache provides the TTL cache used by the fetch layer. The handle is
// constructed explicitly and injected into whatever needs it; there are no
// package-level singletons. A Redis backend is used when an address is
// configured, otherwise an in-process TTL map.
package cache

import (
	"context"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Cache is a byte-value TTL cache safe for concurrent use.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, val []byte, ttl time.Duration)
	Delete(key string)
	Stats() Stats
	Close() error
}

// Stats reports cache effectiveness counters.
type Stats struct {
	Hits    int64
	Misses  int64
	Entries int
}

// HitRatio returns hits over total lookups, zero when unused.
func (s Stats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Memory is an in-process TTL cache with a background janitor.
type Memory struct {
	mu         sync.RWMutex
	entries    map[string]memoryEntry
	maxEntries int
	hits       int64
	misses     int64
	stopCh     chan struct{}
	stopOnce   sync.Once
}

type memoryEntry struct {
	val      []byte
	expires  time.Time
	accessed time.Time
}

// NewMemory creates a memory cache bounded to maxEntries, evicting least
// recently accessed entries when full.
func NewMemory(maxEntries int) *Memory {
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	m := &Memory{
		entries:    make(map[string]memoryEntry),
		maxEntries: maxEntries,
		stopCh:     make(chan struct{}),
	}
	go m.janitor()
	return m
}

func (m *Memory) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Memory) sweep() {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, e := range m.entries {
		if !e.expires.IsZero() && now.After(e.expires) {
			delete(m.entries, key)
		}
	}
}

// Get returns the value for key if present and unexpired.
func (m *Memory) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok || (!e.expires.IsZero() && time.Now().After(e.expires)) {
		m.misses++
		return nil, false
	}
	e.accessed = time.Now()
	m.entries[key] = e
	m.hits++
	return e.val, true
}

// Set stores val under key for ttl; ttl <= 0 means no expiry.
func (m *Memory) Set(key string, val []byte, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.entries) >= m.maxEntries {
		m.evictOldest()
	}
	e := memoryEntry{val: append([]byte(nil), val...), accessed: time.Now()}
	if ttl > 0 {
		e.expires = time.Now().Add(ttl)
	}
	m.entries[key] = e
}

// evictOldest removes the least recently accessed entry. Caller holds the lock.
func (m *Memory) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for key, e := range m.entries {
		if oldestKey == "" || e.accessed.Before(oldest) {
			oldestKey = key
			oldest = e.accessed
		}
	}
	if oldestKey != "" {
		delete(m.entries, oldestKey)
	}
}

// Delete removes key from the cache.
func (m *Memory) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

// Stats returns hit/miss counters and the live entry count.
func (m *Memory) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{Hits: m.hits, Misses: m.misses, Entries: len(m.entries)}
}

// Close stops the janitor.
func (m *Memory) Close() error {
	m.stopOnce.Do(func() { close(m.stopCh) })
	return nil
}

// Redis adapts a go-redis client to the Cache interface. Operations use a
// short timeout so a slow Redis degrades to cache misses instead of stalling
// the fetch pool.
type Redis struct {
	client *redis.Client
	mu     sync.Mutex
	hits   int64
	misses int64
}

const redisOpTimeout = 500 * time.Millisecond

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// NewAuto returns a Redis cache when addr is non-empty, else a memory cache.
func NewAuto(addr string, db int) Cache {
	if addr != "" {
		return NewRedis(redis.NewClient(&redis.Options{Addr: addr, DB: db}))
	}
	return NewMemory(0)
}

func (r *Redis) Get(key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	v, err := r.client.Get(ctx, key).Bytes()

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.misses++
		return nil, false
	}
	r.hits++
	return v, true
}

func (r *Redis) Set(key string, val []byte, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	_ = r.client.Set(ctx, key, val, ttl).Err()
}

func (r *Redis) Delete(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	_ = r.client.Del(ctx, key).Err()
}

func (r *Redis) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{Hits: r.hits, Misses: r.misses}
}

func (r *Redis) Close() error {
	return r.client.Close()
}
