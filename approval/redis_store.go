package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists approval decisions in Redis so they survive process
// restarts and are shared across replicas handling the same run. Each
// decision is stored as a string "1"/"0" under a per-run, per-gadget key
// with a TTL so stale decisions from long-finished runs expire on their
// own.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore builds a RedisStore. prefix namespaces keys (e.g.
// "agentcore:approval:"); ttl is the expiry applied to every write, zero
// meaning no expiry.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) key(runID, gadgetName string) string {
	return fmt.Sprintf("%s%s:%s", s.prefix, runID, gadgetName)
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, runID, gadgetName string) (bool, bool, error) {
	val, err := s.client.Get(ctx, s.key(runID, gadgetName)).Result()
	if errors.Is(err, redis.Nil) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return val == "1", true, nil
}

// Set implements Store.
func (s *RedisStore) Set(ctx context.Context, runID, gadgetName string, approved bool) error {
	val := "0"
	if approved {
		val = "1"
	}
	return s.client.Set(ctx, s.key(runID, gadgetName), val, s.ttl).Err()
}
