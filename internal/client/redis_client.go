package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tenant-console/internal/config"
	"tenant-console/internal/util"
)

// ErrKeyNotFound is returned by Get for absent keys.
var ErrKeyNotFound = errors.New("redis key not found")

// RedisClient wraps go-redis and namespaces every key with a prefix so
// several consoles can share one Redis.
type RedisClient struct {
	Client *redis.Client
	prefix string
}

// NewRedisClient initializes a Redis client, with mutual TLS for rediss://.
func NewRedisClient(cfg *config.Config, logger *zap.Logger) (*RedisClient, error) {
	redisConfig := cfg.Redis
	logger = util.OrNop(logger)

	opts, err := redis.ParseURL(redisConfig.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Only set password if not already in URL
	if opts.Password == "" && redisConfig.Password != "" {
		opts.Password = redisConfig.Password
	}

	opts.DB = redisConfig.DB
	opts.PoolSize = redisConfig.PoolSize
	opts.MinIdleConns = max(redisConfig.PoolSize/2, 2)
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second
	opts.ConnMaxIdleTime = 5 * time.Minute

	if strings.HasPrefix(redisConfig.URL, "rediss://") {
		tlsConfig, err := loadRedisTLS()
		if err != nil {
			return nil, err
		}
		opts.TLSConfig = tlsConfig
	}

	rc := NewRedisClientFromConn(redis.NewClient(opts), redisConfig.Prefix)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Redis client initialized",
		zap.String("addr", opts.Addr),
		zap.Int("db", redisConfig.DB),
		zap.Int("pool_size", redisConfig.PoolSize),
		zap.String("prefix", redisConfig.Prefix),
	)
	return rc, nil
}

// NewRedisClientFromConn wraps an existing connection.
func NewRedisClientFromConn(conn *redis.Client, prefix string) *RedisClient {
	return &RedisClient{Client: conn, prefix: prefix}
}

func loadRedisTLS() (*tls.Config, error) {
	caFile := getEnv("REDIS_TLS_CA_FILE", "/app/certs/ca.crt")
	certFile := getEnv("REDIS_TLS_CERT_FILE", "/app/certs/redis.crt")
	keyFile := getEnv("REDIS_TLS_KEY_FILE", "/app/certs/redis.key")

	caCert, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read Redis CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if ok := pool.AppendCertsFromPEM(caCert); !ok {
		return nil, fmt.Errorf("failed to append CA cert")
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load Redis TLS certificate/key: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// Key applies the namespace prefix.
func (r *RedisClient) Key(key string) string {
	return r.prefix + key
}

// Unkey strips the namespace prefix from a key returned by Redis.
func (r *RedisClient) Unkey(key string) string {
	return strings.TrimPrefix(key, r.prefix)
}

func (r *RedisClient) Close() error {
	if r.Client == nil {
		return nil
	}
	if err := r.Client.Close(); err != nil {
		util.Error("failed to close Redis client", zap.Error(err))
		return err
	}
	util.Info("Redis client closed")
	return nil
}

// HealthCheck verifies connectivity with a ping and a write/read round trip.
func (r *RedisClient) HealthCheck(ctx context.Context) error {
	if err := r.Client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}

	testKey := r.Key("healthcheck")
	testValue := strconv.FormatInt(time.Now().UnixNano(), 10)
	if err := r.Client.Set(ctx, testKey, testValue, 10*time.Second).Err(); err != nil {
		return fmt.Errorf("redis set operation failed: %w", err)
	}
	val, err := r.Client.Get(ctx, testKey).Result()
	if err != nil {
		return fmt.Errorf("redis get operation failed: %w", err)
	}
	if val != testValue {
		return fmt.Errorf("redis data integrity failed")
	}
	return r.Client.Del(ctx, testKey).Err()
}

// ===================== CORE OPERATIONS =====================

func (r *RedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return r.Client.Set(ctx, r.Key(key), value, expiration).Err()
}

func (r *RedisClient) Get(ctx context.Context, key string) (string, error) {
	val, err := r.Client.Get(ctx, r.Key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrKeyNotFound
	}
	return val, err
}

func (r *RedisClient) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.Key(k)
	}
	return r.Client.Del(ctx, full...).Err()
}

// ScanKeys iterates SCAN over keys starting with prefix and returns them
// without the namespace.
func (r *RedisClient) ScanKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := r.Client.Scan(ctx, 0, r.Key(prefix)+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, r.Unkey(iter.Val()))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// ===================== SORTED SETS =====================

// ZAddTrimmed records member at score, drops members scored at or below
// minScore, refreshes the key's expiry and returns the remaining count, all
// in one transaction.
func (r *RedisClient) ZAddTrimmed(ctx context.Context, key string, score float64, member string, minScore float64, ttl time.Duration) (int64, error) {
	full := r.Key(key)
	pipe := r.Client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, full, "-inf", strconv.FormatFloat(minScore, 'f', -1, 64))
	pipe.ZAdd(ctx, full, redis.Z{Score: score, Member: member})
	if ttl > 0 {
		pipe.Expire(ctx, full, ttl)
	}
	count := pipe.ZCard(ctx, full)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return count.Val(), nil
}

// ZScoresAbove returns the scores of members scored strictly above floor.
func (r *RedisClient) ZScoresAbove(ctx context.Context, key string, floor float64) ([]float64, error) {
	members, err := r.Client.ZRangeByScoreWithScores(ctx, r.Key(key), &redis.ZRangeBy{
		Min: "(" + strconv.FormatFloat(floor, 'f', -1, 64),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}
	scores := make([]float64, len(members))
	for i, m := range members {
		scores[i] = m.Score
	}
	return scores, nil
}

// ===================== PUB/SUB =====================

func (r *RedisClient) Publish(ctx context.Context, channel string, message interface{}) error {
	return r.Client.Publish(ctx, r.Key(channel), message).Err()
}

// Subscribe opens a subscription and waits for Redis to confirm it, so
// messages published after it returns are delivered.
func (r *RedisClient) Subscribe(ctx context.Context, channel string) (*redis.PubSub, error) {
	sub := r.Client.Subscribe(ctx, r.Key(channel))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}
	return sub, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
