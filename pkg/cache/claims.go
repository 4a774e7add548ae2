package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ClaimStore hands out short-lived exclusive claims on event keys, used to
// skip webhook deliveries that are already being processed.
type ClaimStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewClaimStore creates a claim store under prefix
func NewClaimStore(client *redis.Client, prefix string, ttl time.Duration) *ClaimStore {
	return &ClaimStore{client: client, ttl: ttl, prefix: prefix + ":"}
}

// Claim returns true when the caller is the first to claim key
func (s *ClaimStore) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.prefix+key, time.Now().Unix(), s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim %s: %w", key, err)
	}
	return ok, nil
}

// Release drops a claim so a later delivery can retry
func (s *ClaimStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}
