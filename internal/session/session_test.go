package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	require.NoError(t, store.Create(ctx, "tok", 42, time.Hour))

	id, err := store.Lookup(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	require.NoError(t, store.Delete(ctx, "tok"))
	_, err = store.Lookup(ctx, "tok")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_Expiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	require.NoError(t, store.Create(ctx, "tok", 7, time.Minute))

	now = now.Add(59 * time.Second)
	_, err := store.Lookup(ctx, "tok")
	require.NoError(t, err)

	now = now.Add(time.Second)
	_, err = store.Lookup(ctx, "tok")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_CreateSweepsExpired(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	require.NoError(t, store.Create(ctx, "old", 1, time.Second))
	now = now.Add(time.Minute)
	require.NoError(t, store.Create(ctx, "new", 2, time.Hour))

	assert.Len(t, store.entries, 1)
}

func TestRedisStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := NewRedisStore(client)

	require.NoError(t, store.Create(ctx, "abc", 99, time.Hour))
	assert.True(t, mr.Exists("session:abc"))

	id, err := store.Lookup(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, int64(99), id)

	require.NoError(t, store.Delete(ctx, "abc"))
	_, err = store.Lookup(ctx, "abc")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_Expiry(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := NewRedisStore(client)

	require.NoError(t, store.Create(ctx, "abc", 1, time.Minute))
	mr.FastForward(2 * time.Minute)

	_, err := store.Lookup(ctx, "abc")
	assert.ErrorIs(t, err, ErrNotFound)
}
