package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"tenant-console/internal/storage"
)

const cachePrefix = "cache_"

// CacheEntry is the persisted form of a cached value. Timestamp and TTL are
// in milliseconds.
type CacheEntry struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	TTL       int64           `json:"ttl"`
}

func (e *CacheEntry) fresh(now time.Time) bool {
	return now.UnixMilli()-e.Timestamp <= e.TTL
}

// SetCache stores data under key for ttl (the configured default when zero).
func (c *Client) SetCache(ctx context.Context, key string, data any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.cfg.CacheTTL
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode cache value: %w", err)
	}
	entry, err := json.Marshal(CacheEntry{
		Data:      raw,
		Timestamp: c.clock.Now().UnixMilli(),
		TTL:       ttl.Milliseconds(),
	})
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}

	storeKey := cachePrefix + key
	return storage.Wrap("set", storeKey, c.store.Set(ctx, storeKey, string(entry), ttl))
}

// GetCache decodes the entry under key into v and reports whether a fresh
// entry existed. Stale or unreadable entries are removed and reported as a
// miss.
func (c *Client) GetCache(ctx context.Context, key string, v any) (bool, error) {
	storeKey := cachePrefix + key
	raw, err := c.store.Get(ctx, storeKey)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, storage.Wrap("get", storeKey, err)
	}

	var entry CacheEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil || !entry.fresh(c.clock.Now()) {
		if err != nil {
			c.logger.Warn("Dropping unreadable cache entry", zap.String("key", key), zap.Error(err))
		}
		return false, storage.Wrap("delete", storeKey, c.store.Delete(ctx, storeKey))
	}

	if err := json.Unmarshal(entry.Data, v); err != nil {
		c.logger.Warn("Dropping cache entry of unexpected shape", zap.String("key", key), zap.Error(err))
		return false, storage.Wrap("delete", storeKey, c.store.Delete(ctx, storeKey))
	}
	return true, nil
}

// ClearCache drops every cache entry whose key contains pattern, or all of
// them when pattern is empty.
func (c *Client) ClearCache(ctx context.Context, pattern string) error {
	keys, err := c.store.Keys(ctx, cachePrefix)
	if err != nil {
		return storage.Wrap("keys", cachePrefix, err)
	}

	var doomed []string
	for _, key := range keys {
		if pattern == "" || strings.Contains(key, pattern) {
			doomed = append(doomed, key)
		}
	}
	if len(doomed) == 0 {
		return nil
	}
	return storage.Wrap("delete", cachePrefix, c.store.Delete(ctx, doomed...))
}
