package cache

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type trace struct {
	BaseDenom string `json:"base_denom"`
}

func TestFileStoreRoundTripAndExpiry(t *testing.T) {
	ctx := context.Background()
	clock := time.Now()
	store, err := NewFileStore(FileOptions{Dir: t.TempDir(), Prefix: "denom", TTL: time.Hour, Now: func() time.Time { return clock }})
	require.NoError(t, err)

	var got trace
	hit, err := store.Get(ctx, "ibc/27394FB0", &got)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, store.Put(ctx, "ibc/27394FB0", trace{BaseDenom: "uatom"}))

	hit, err = store.Get(ctx, "ibc/27394FB0", &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "uatom", got.BaseDenom)

	clock = clock.Add(2 * time.Hour)
	hit, err = store.Get(ctx, "ibc/27394FB0", &got)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestFileStoreKeysDoNotCollide(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(FileOptions{Dir: t.TempDir(), TTL: time.Hour})
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "ibc/ABC", "one"))
	require.NoError(t, store.Put(ctx, "ibc_ABC", "two"))

	var a, b string
	_, err = store.Get(ctx, "ibc/ABC", &a)
	require.NoError(t, err)
	_, err = store.Get(ctx, "ibc_ABC", &b)
	require.NoError(t, err)
	assert.Equal(t, "one", a)
	assert.Equal(t, "two", b)
}

func TestFileStoreCorruptEntry(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(FileOptions{Dir: t.TempDir(), TTL: time.Hour})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(store.path("k"), []byte("{not json"), 0o600))

	var v map[string]any
	hit, err := store.Get(ctx, "k", &v)
	assert.False(t, hit)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestFileStoreConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(FileOptions{Dir: t.TempDir(), TTL: time.Hour})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.Put(ctx, "block:100", map[string]string{"time": "2025-01-01T00:00:00Z"}))
		}()
	}
	wg.Wait()

	var v map[string]string
	hit, err := store.Get(ctx, "block:100", &v)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "2025-01-01T00:00:00Z", v["time"])
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := NewRedisStore(client, "lavareport", time.Minute)
	require.NoError(t, store.Put(ctx, "ibc/HASH", trace{BaseDenom: "ustars"}))
	assert.True(t, mr.Exists("lavareport:ibc/HASH"))

	var got trace
	hit, err := store.Get(ctx, "ibc/HASH", &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "ustars", got.BaseDenom)

	mr.FastForward(2 * time.Minute)
	hit, err = store.Get(ctx, "ibc/HASH", &got)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestNopStore(t *testing.T) {
	var s Store = Nop{}
	require.NoError(t, s.Put(context.Background(), "k", 1))
	var v int
	hit, err := s.Get(context.Background(), "k", &v)
	require.NoError(t, err)
	assert.False(t, hit)
}
