package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces embedding entries in the shared Redis keyspace,
// keeping them apart from request/response records.
const keyPrefix = "emb:"

// Redis is a Cache backed by a Redis instance, shared across retriever
// restarts. Vectors are stored as JSON float arrays under "emb:<key>".
type Redis struct {
	client *redis.Client
	// ttl expires entries after the given duration; 0 keeps them forever,
	// matching the original deployment's behavior.
	ttl time.Duration
}

// NewRedis constructs a Redis cache over an already-connected client.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

// Get fetches and decodes the vector stored under key. A missing key is a
// plain miss; a decode failure is reported as an error so a corrupt entry
// is never silently served.
func (c *Redis) Get(ctx context.Context, key string) ([]float32, bool, error) {
	data, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: redis get: %w", err)
	}

	var vec []float32
	if err := json.Unmarshal(data, &vec); err != nil {
		return nil, false, fmt.Errorf("cache: decode entry %s: %w", key, err)
	}
	return vec, true, nil
}

// Put stores vec under key with the configured TTL.
func (c *Redis) Put(ctx context.Context, key string, vec []float32) error {
	data, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("cache: encode entry %s: %w", key, err)
	}
	if err := c.client.Set(ctx, keyPrefix+key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache: redis set: %w", err)
	}
	return nil
}
