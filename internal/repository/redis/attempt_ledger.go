package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tenant-console/internal/client"
	"tenant-console/internal/storage"
	"tenant-console/internal/util"
)

// AttemptLedger keeps each identity's failed logins in a sorted set scored
// by unix milliseconds, so trimming and counting are one transaction and
// every console sharing the Redis sees the same lockout.
type AttemptLedger struct {
	client *client.RedisClient
}

func NewAttemptLedger(client *client.RedisClient) *AttemptLedger {
	return &AttemptLedger{client: client}
}

func (l *AttemptLedger) Attempts(ctx context.Context, key string, since time.Time) ([]time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	scores, err := l.client.ZScoresAbove(ctx, key, float64(since.UnixMilli()))
	if err != nil {
		util.Error("Failed to read login attempts", zap.String("key", key), zap.Error(err))
		return nil, storage.Wrap("zrange", key, err)
	}

	out := make([]time.Time, len(scores))
	for i, score := range scores {
		out[i] = time.UnixMilli(int64(score))
	}
	return out, nil
}

func (l *AttemptLedger) Append(ctx context.Context, key string, at time.Time, window time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	floor := float64(at.Add(-window).UnixMilli())
	count, err := l.client.ZAddTrimmed(ctx, key, float64(at.UnixMilli()), uuid.NewString(), floor, window)
	if err != nil {
		util.Error("Failed to record login attempt", zap.String("key", key), zap.Error(err))
		return 0, storage.Wrap("zadd", key, err)
	}

	util.Debug("Login attempt recorded", zap.String("key", key), zap.Int64("count", count))
	return int(count), nil
}

func (l *AttemptLedger) Clear(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := l.client.Del(ctx, key); err != nil {
		return storage.Wrap("delete", key, err)
	}
	return nil
}
