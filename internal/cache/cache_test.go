package cache

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/jengu/pricing-core/internal/database"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	db, err := database.New(database.Config{Path: "file::memory:?cache=shared"})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })

	c, err := New(Config{DB: db.Conn()}, zerolog.Nop())
	require.NoError(t, err)
	return c
}

func TestGetOrFetchCallsFetchOnlyOnceForSameKey(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	key := Fingerprint("weather", "40.1", "-74.2", "2026-01-01", "2026-01-07")

	calls := 0
	fetch := func(context.Context) ([]byte, error) {
		calls++
		return []byte("payload"), nil
	}

	v1, err := c.GetOrFetch(ctx, "weather", key, time.Hour, fetch)
	require.NoError(t, err)
	require.Equal(t, "payload", string(v1))

	v2, err := c.GetOrFetch(ctx, "weather", key, time.Hour, fetch)
	require.NoError(t, err)
	require.Equal(t, "payload", string(v2))
	require.Equal(t, 1, calls, "second call should hit the cache, not re-fetch")
}

func TestGetOrFetchExpiresTTL(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	key := Fingerprint("holiday", "US", "2026")

	require.NoError(t, c.Put(ctx, "holiday", key, []byte("v1"), -time.Second))

	calls := 0
	fetch := func(context.Context) ([]byte, error) {
		calls++
		return []byte("v2"), nil
	}
	v, err := c.GetOrFetch(ctx, "holiday", key, time.Hour, fetch)
	require.NoError(t, err)
	require.Equal(t, "v2", string(v))
	require.Equal(t, 1, calls, "expired entry must be treated as a miss")
}

func TestPutWithZeroTTLNeverExpires(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	key := Fingerprint("weather", "historical")

	require.NoError(t, c.Put(ctx, "weather", key, []byte("forever"), 0))
	v, ok, err := c.Get(ctx, "weather", key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "forever", string(v))
}

func TestFingerprintIsDeterministicAndOrderSensitive(t *testing.T) {
	a := Fingerprint("weather", "1", "2")
	b := Fingerprint("weather", "1", "2")
	c := Fingerprint("weather", "2", "1")
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
}
