package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// InMemoryPushDedupeStore implements PushDedupeStore using an in-memory map.
// Used when no Redis is configured.
type InMemoryPushDedupeStore struct {
	data    map[string]time.Time
	mu      sync.Mutex
	maxSize int
	logger  *zap.Logger
	now     func() time.Time
}

// NewInMemoryPushDedupeStore creates a new in-memory dedupe store
func NewInMemoryPushDedupeStore(maxSize int, logger *zap.Logger) *InMemoryPushDedupeStore {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &InMemoryPushDedupeStore{
		data:    make(map[string]time.Time),
		maxSize: maxSize,
		logger:  logger,
		now:     time.Now,
	}
}

// MarkSeen records key and reports whether it was new or expired
func (s *InMemoryPushDedupeStore) MarkSeen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if expiresAt, ok := s.data[key]; ok && now.Before(expiresAt) {
		return false, nil
	}

	if len(s.data) >= s.maxSize {
		s.evictLocked(now)
	}

	s.data[key] = now.Add(ttl)
	return true, nil
}

// Forget removes key
func (s *InMemoryPushDedupeStore) Forget(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)
	return nil
}

// Ping always succeeds
func (s *InMemoryPushDedupeStore) Ping(ctx context.Context) error {
	return nil
}

// Close releases the map
func (s *InMemoryPushDedupeStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = make(map[string]time.Time)
	return nil
}

// evictLocked drops expired keys, or the entry closest to expiry if none are.
func (s *InMemoryPushDedupeStore) evictLocked(now time.Time) {
	var (
		oldestKey string
		oldestAt  time.Time
	)
	for k, expiresAt := range s.data {
		if !now.Before(expiresAt) {
			delete(s.data, k)
			continue
		}
		if oldestKey == "" || expiresAt.Before(oldestAt) {
			oldestKey, oldestAt = k, expiresAt
		}
	}
	if len(s.data) >= s.maxSize && oldestKey != "" {
		delete(s.data, oldestKey)
		s.logger.Debug("Evicted push dedupe key", zap.String("key", oldestKey))
	}
}
