package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/forest/internal/store"
)

const (
	// DefaultLogTTL is the default retention of log records (7 days)
	DefaultLogTTL = 7 * 24 * time.Hour
)

// Store persists the broker state in Redis. Leaves and species are JSON
// blobs indexed by ID sets and name/address lookup keys.
type Store struct {
	client  *redis.Client
	logTTL  time.Duration
	maxLogs int64
}

// NewStore creates a new Redis store
func NewStore(client *redis.Client, logTTL time.Duration, maxLogs int) *Store {
	if logTTL <= 0 {
		logTTL = DefaultLogTTL
	}
	if maxLogs <= 0 {
		maxLogs = store.DefaultMaxLogs
	}
	return &Store{
		client:  client,
		logTTL:  logTTL,
		maxLogs: int64(maxLogs),
	}
}

// getJSON loads key into v, mapping a missing key to store.ErrNotFound.
func (s *Store) getJSON(ctx context.Context, key string, v any) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%s: %w", key, store.ErrNotFound)
		}
		return fmt.Errorf("failed to get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return nil
}

// lookup resolves an index key to the ID it points at.
func (s *Store) lookup(ctx context.Context, key string) (string, error) {
	id, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", fmt.Errorf("%s: %w", key, store.ErrNotFound)
		}
		return "", fmt.Errorf("failed to get %s: %w", key, err)
	}
	return id, nil
}
