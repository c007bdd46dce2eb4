// Package redis holds the Redis-backed implementations of the console's
// shared state: the durable store, the login attempt ledger and the tab
// announcement channel.
package redis

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"tenant-console/internal/client"
	"tenant-console/internal/storage"
	"tenant-console/internal/util"
)

const opTimeout = 5 * time.Second

// Store is a storage.Store over Redis strings.
type Store struct {
	client *client.RedisClient
}

func NewStore(client *client.RedisClient) *Store {
	return &Store{client: client}
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	val, err := s.client.Get(ctx, key)
	if errors.Is(err, client.ErrKeyNotFound) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		util.Error("Failed to read key", zap.String("key", key), zap.Error(err))
		return "", storage.Wrap("get", key, err)
	}
	return val, nil
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, key, value, ttl); err != nil {
		util.Error("Failed to write key", zap.String("key", key), zap.Duration("ttl", ttl), zap.Error(err))
		return storage.Wrap("set", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := s.client.Del(ctx, keys...); err != nil {
		util.Error("Failed to delete keys", zap.Strings("keys", keys), zap.Error(err))
		return storage.Wrap("delete", "", err)
	}
	return nil
}

func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	keys, err := s.client.ScanKeys(ctx, prefix)
	if err != nil {
		return nil, storage.Wrap("keys", prefix, err)
	}
	return keys, nil
}
