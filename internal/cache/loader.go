package cache

import (
	"context"
	"sync"
	"time"
)

// Loader wraps a Cache with per-key compute serialization: concurrent misses
// on the same key run the fill function once, while unrelated keys proceed in
// parallel.
type Loader struct {
	cache Cache

	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewLoader builds a Loader over the given cache handle.
func NewLoader(cache Cache) *Loader {
	return &Loader{cache: cache, locks: make(map[string]*keyLock)}
}

// Cache exposes the underlying handle.
func (l *Loader) Cache() Cache { return l.cache }

func (l *Loader) acquire(key string) *keyLock {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	kl.mu.Lock()
	return kl
}

func (l *Loader) release(key string, kl *keyLock) {
	kl.mu.Unlock()

	l.mu.Lock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}

// GetOrCompute returns the cached value for key, or runs fill under the key's
// lock and caches its result for ttl. Errors from fill are returned uncached.
func (l *Loader) GetOrCompute(ctx context.Context, key string, ttl time.Duration, fill func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if val, ok := l.cache.Get(key); ok {
		return val, nil
	}

	kl := l.acquire(key)
	defer l.release(key, kl)

	// Another caller may have filled the key while we waited on its lock.
	if val, ok := l.cache.Get(key); ok {
		return val, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	val, err := fill(ctx)
	if err != nil {
		return nil, err
	}
	l.cache.Set(key, val, ttl)
	return val, nil
}
