package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const dedupeKeyPrefix = "vaultsync:push:"

// RedisPushDedupeStore implements PushDedupeStore for Redis, letting several
// terminals behind one store share the record of delivered batches.
type RedisPushDedupeStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisPushDedupeStore creates a new Redis dedupe store
func NewRedisPushDedupeStore(addr, password string, db int, logger *zap.Logger) (*RedisPushDedupeStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisPushDedupeStore{
		client: client,
		logger: logger,
	}, nil
}

// MarkSeen records key with SET NX and reports whether it was new
func (s *RedisPushDedupeStore) MarkSeen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, dedupeKeyPrefix+key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark push batch: %w", err)
	}
	return ok, nil
}

// Forget removes key so the batch can be delivered again
func (s *RedisPushDedupeStore) Forget(ctx context.Context, key string) error {
	return s.client.Del(ctx, dedupeKeyPrefix+key).Err()
}

// Ping checks the Redis connection
func (s *RedisPushDedupeStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (s *RedisPushDedupeStore) Close() error {
	return s.client.Close()
}
