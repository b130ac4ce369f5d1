package cache

import (
	"context"
	"time"
)

// remote is the L2 side of a LayeredCache.
type remote interface {
	Service
	getBytes(ctx context.Context, key string) ([]byte, error)
	ttl(ctx context.Context, key string) time.Duration
	Close() error
}

// LayeredCache implements two-level cache (L1: Memory, L2: Redis).
// Locks always go to L2.
type LayeredCache struct {
	local    *MemoryCache
	remote   remote
	localTTL time.Duration
}

// NewLayeredCache creates a layered cache with memory and Redis.
func NewLayeredCache(redisCache *RedisCache, opts ...LayeredOption) *LayeredCache {
	return newLayered(redisCache, opts...)
}

func newLayered(r remote, opts ...LayeredOption) *LayeredCache {
	cfg := &LayeredConfig{
		MemoryMaxSize: 1000,
		LocalTTL:      2 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return &LayeredCache{
		local:    NewMemoryCache(WithMemoryMaxSize(cfg.MemoryMaxSize)),
		remote:   r,
		localTTL: cfg.LocalTTL,
	}
}

func (lc *LayeredCache) localFor(ttl time.Duration) time.Duration {
	if ttl <= 0 || ttl > lc.localTTL {
		return lc.localTTL
	}
	return ttl
}

func (lc *LayeredCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	// Write-through: Redis first, then memory
	if err := lc.remote.Set(ctx, key, data, ttl); err != nil {
		return err
	}
	return lc.local.Set(ctx, key, data, lc.localFor(ttl))
}

func (lc *LayeredCache) Get(ctx context.Context, key string, dest interface{}) error {
	var data []byte
	if err := lc.local.Get(ctx, key, &data); err == nil {
		return decode(data, dest)
	}

	data, err := lc.remote.getBytes(ctx, key)
	if err != nil {
		return err
	}
	_ = lc.local.Set(ctx, key, data, lc.localFor(lc.remote.ttl(ctx, key)))
	return decode(data, dest)
}

func (lc *LayeredCache) Delete(ctx context.Context, keys ...string) error {
	_ = lc.local.Delete(ctx, keys...)
	return lc.remote.Delete(ctx, keys...)
}

func (lc *LayeredCache) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return lc.remote.TryLock(ctx, key, ttl)
}

func (lc *LayeredCache) Unlock(ctx context.Context, key string) error {
	return lc.remote.Unlock(ctx, key)
}

// Close closes both cache layers.
func (lc *LayeredCache) Close() error {
	_ = lc.local.Close()
	return lc.remote.Close()
}
