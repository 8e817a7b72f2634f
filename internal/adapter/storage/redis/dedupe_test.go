package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdempotencyCache_SetAndGet(t *testing.T) {
	s, client := newTestClient(t)
	cache := NewIdempotencyCache(client)
	ctx := context.Background()

	key := "5b8e7c1a:order-001"
	txID := []byte("0f8fad5b-d9cb-469f-a165-70867728950e")

	got, err := cache.Get(ctx, key)
	assert.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, cache.Set(ctx, key, txID, 24*time.Hour))
	require.NoError(t, cache.Set(ctx, key, []byte("someone-else"), 24*time.Hour))

	got, err = cache.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, txID, got, "first writer wins")
	assert.True(t, s.Exists("fpay:idem:"+key))
}

func TestIdempotencyCache_Expiry(t *testing.T) {
	s, client := newTestClient(t)
	cache := NewIdempotencyCache(client)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "k", []byte("v"), time.Second))
	s.FastForward(2 * time.Second)

	got, err := cache.Get(ctx, "k")
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestIdempotencyCache_StoreDown(t *testing.T) {
	s, client := newTestClient(t)
	cache := NewIdempotencyCache(client)
	s.Close()

	_, err := cache.Get(context.Background(), "k")
	assert.Error(t, err)
	assert.Error(t, cache.Set(context.Background(), "k", []byte("v"), time.Minute))
}

func TestNonceStore_CheckAndSet(t *testing.T) {
	s, client := newTestClient(t)
	store := NewNonceStore(client)
	ctx := context.Background()

	tests := []struct {
		name    string
		scope   string
		nonce   string
		advance time.Duration
		want    bool
	}{
		{"first use", "callback:mpesa", "n-1", 0, true},
		{"replay", "callback:mpesa", "n-1", 0, false},
		{"same nonce other provider", "callback:airtel", "n-1", 0, true},
		{"expired nonce accepted again", "callback:mpesa", "n-1", 6 * time.Minute, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s.FastForward(tt.advance)
			ok, err := store.CheckAndSet(ctx, tt.scope, tt.nonce, 5*time.Minute)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
	assert.True(t, s.Exists("fpay:nonce:callback:mpesa:n-1"))
}
