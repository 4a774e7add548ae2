package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrInFlight is returned when another request holding the same key has not
// finished yet.
var ErrInFlight = errors.New("request with this idempotency key is in progress")

const inFlightMarker = "__in_flight__"

// StoredResponse is a replayable HTTP response
type StoredResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// IdempotencyStore caches responses keyed by the client's Idempotency-Key
type IdempotencyStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewIdempotencyStore creates a store for one endpoint scope
func NewIdempotencyStore(client *redis.Client, scope string, ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{
		client: client,
		ttl:    ttl,
		prefix: fmt.Sprintf("idempotency:%s:", scope),
	}
}

// Begin reserves key for a new request. It returns the stored response when
// the key was already completed and ErrInFlight when it is still reserved.
func (s *IdempotencyStore) Begin(ctx context.Context, key string) (*StoredResponse, error) {
	ok, err := s.client.SetNX(ctx, s.prefix+key, inFlightMarker, s.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to reserve idempotency key: %w", err)
	}
	if ok {
		return nil, nil
	}

	raw, err := s.client.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET; the caller may proceed
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read idempotency key: %w", err)
	}
	if raw == inFlightMarker {
		return nil, ErrInFlight
	}

	var resp StoredResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("failed to decode stored response: %w", err)
	}
	return &resp, nil
}

// Complete stores the final response for key
func (s *IdempotencyStore) Complete(ctx context.Context, key string, resp StoredResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.prefix+key, data, s.ttl).Err()
}

// Abandon releases a reservation so the client can retry with the same key
func (s *IdempotencyStore) Abandon(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}
