package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// BatchStore keeps batch status in Redis for a bounded time.
type BatchStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewBatchStore builds a BatchStore. A zero ttl means 24h.
func NewBatchStore(client *redis.Client, ttl time.Duration) *BatchStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &BatchStore{client: client, ttl: ttl}
}

// Create stores b unless a batch with the same id exists. It reports whether
// the batch was created.
func (s *BatchStore) Create(ctx context.Context, b Batch) (bool, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return false, err
	}
	ok, err := s.client.SetNX(ctx, batchKey(b.ID), data, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("generation: create batch: %w", err)
	}
	return ok, nil
}

// Save overwrites the stored batch and refreshes its expiry.
func (s *BatchStore) Save(ctx context.Context, b Batch) error {
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, batchKey(b.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("generation: save batch: %w", err)
	}
	return nil
}

// Load returns the stored batch.
func (s *BatchStore) Load(ctx context.Context, id string) (Batch, error) {
	data, err := s.client.Get(ctx, batchKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Batch{}, ErrBatchNotFound
	}
	if err != nil {
		return Batch{}, fmt.Errorf("generation: load batch: %w", err)
	}
	var b Batch
	if err := json.Unmarshal(data, &b); err != nil {
		return Batch{}, fmt.Errorf("generation: decode batch: %w", err)
	}
	return b, nil
}

func batchKey(id string) string {
	return "batch:" + id
}
