package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

// TestIdempotencyStore_Lifecycle tests reserve, in-flight, and replay
func TestIdempotencyStore_Lifecycle(t *testing.T) {
	_, client := newTestClient(t)
	store := NewIdempotencyStore(client, "create_booking", time.Hour)
	ctx := context.Background()

	resp, err := store.Begin(ctx, "key-1")
	require.NoError(t, err)
	assert.Nil(t, resp, "first request proceeds")

	_, err = store.Begin(ctx, "key-1")
	assert.ErrorIs(t, err, ErrInFlight)

	require.NoError(t, store.Complete(ctx, "key-1", StoredResponse{
		Status: 201,
		Body:   json.RawMessage(`{"booking":{"id":"b-1"}}`),
	}))

	resp, err = store.Begin(ctx, "key-1")
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 201, resp.Status)
	assert.JSONEq(t, `{"booking":{"id":"b-1"}}`, string(resp.Body))
}

// TestIdempotencyStore_Abandon tests that an abandoned key can be reused
func TestIdempotencyStore_Abandon(t *testing.T) {
	_, client := newTestClient(t)
	store := NewIdempotencyStore(client, "create_booking", time.Hour)
	ctx := context.Background()

	_, err := store.Begin(ctx, "key-2")
	require.NoError(t, err)
	require.NoError(t, store.Abandon(ctx, "key-2"))

	resp, err := store.Begin(ctx, "key-2")
	require.NoError(t, err)
	assert.Nil(t, resp)
}

// TestClaimStore_ClaimAndRelease tests claims and their expiry
func TestClaimStore_ClaimAndRelease(t *testing.T) {
	mr, client := newTestClient(t)
	store := NewClaimStore(client, "webhook", time.Minute)
	ctx := context.Background()

	ok, err := store.Claim(ctx, "order_1:pay_1:SUCCESS")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Claim(ctx, "order_1:pay_1:SUCCESS")
	require.NoError(t, err)
	assert.False(t, ok, "second delivery is skipped")

	require.NoError(t, store.Release(ctx, "order_1:pay_1:SUCCESS"))
	ok, err = store.Claim(ctx, "order_1:pay_1:SUCCESS")
	require.NoError(t, err)
	assert.True(t, ok, "released claim can be taken again")

	mr.FastForward(2 * time.Minute)
	ok, err = store.Claim(ctx, "order_1:pay_1:SUCCESS")
	require.NoError(t, err)
	assert.True(t, ok, "claims expire")
}
