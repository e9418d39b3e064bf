package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultWatermarkKey is the Redis key holding the incremental sync watermark.
const DefaultWatermarkKey = "catalogsearch:sync:watermark"

// WatermarkStore persists the start of the last successful incremental sync
// window. Load reports ok=false when no watermark was saved yet.
type WatermarkStore interface {
	Load(ctx context.Context) (t time.Time, ok bool, err error)
	Save(ctx context.Context, t time.Time) error
}

// RedisWatermarkStore keeps the watermark in Redis so that replicas and
// restarts share it.
type RedisWatermarkStore struct {
	client redis.Cmdable
	key    string
}

// NewRedisWatermarkStore creates a Redis-backed store. An empty key selects
// DefaultWatermarkKey.
func NewRedisWatermarkStore(client redis.Cmdable, key string) *RedisWatermarkStore {
	if key == "" {
		key = DefaultWatermarkKey
	}
	return &RedisWatermarkStore{client: client, key: key}
}

// Load reads the watermark.
func (s *RedisWatermarkStore) Load(ctx context.Context) (time.Time, bool, error) {
	raw, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("load watermark: %w", err)
	}

	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse watermark %q: %w", raw, err)
	}
	return t, true, nil
}

// Save overwrites the watermark.
func (s *RedisWatermarkStore) Save(ctx context.Context, t time.Time) error {
	if err := s.client.Set(ctx, s.key, t.UTC().Format(time.RFC3339Nano), 0).Err(); err != nil {
		return fmt.Errorf("save watermark: %w", err)
	}
	return nil
}

// MemoryWatermarkStore keeps the watermark in process memory.
type MemoryWatermarkStore struct {
	mu sync.Mutex
	t  time.Time
	ok bool
}

// NewMemoryWatermarkStore creates an empty in-memory store.
func NewMemoryWatermarkStore() *MemoryWatermarkStore {
	return &MemoryWatermarkStore{}
}

// Load reads the watermark.
func (s *MemoryWatermarkStore) Load(context.Context) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.t, s.ok, nil
}

// Save overwrites the watermark.
func (s *MemoryWatermarkStore) Save(_ context.Context, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.t, s.ok = t.UTC(), true
	return nil
}
