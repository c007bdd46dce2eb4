package storage

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryStore is an in-process Store backed by ttlcache. It plays the role
// of tab-scoped storage, and of durable storage when Redis is not configured.
type MemoryStore struct {
	cache     *ttlcache.Cache[string, string]
	closeOnce sync.Once
	// failWrites lets tests simulate a full store.
	failWrites error
	mu         sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, string](ttlcache.NoTTL),
		ttlcache.WithDisableTouchOnHit[string, string](),
	)
	go cache.Start()

	return &MemoryStore{cache: cache}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	item := s.cache.Get(key)
	if item == nil || item.IsExpired() {
		return "", ErrNotFound
	}
	return item.Value(), nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.RLock()
	failure := s.failWrites
	s.mu.RUnlock()
	if failure != nil {
		return Wrap("set", key, failure)
	}

	if ttl <= 0 {
		ttl = ttlcache.NoTTL
	}
	s.cache.Set(key, value, ttl)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		s.cache.Delete(key)
	}
	return nil
}

func (s *MemoryStore) Keys(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	for _, key := range s.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// FailWrites makes every subsequent Set fail with err; nil restores writes.
func (s *MemoryStore) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWrites = err
}

// Close stops the expiry loop.
func (s *MemoryStore) Close() {
	s.closeOnce.Do(s.cache.Stop)
}
