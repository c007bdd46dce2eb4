package apiclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenant-console/internal/model"
	"tenant-console/internal/storage"
)

func newCacheClient(t *testing.T) (*Client, *storage.MemoryStore, *fakeClock) {
	t.Helper()
	store := storage.NewMemoryStore()
	t.Cleanup(store.Close)
	clock := &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	return New(Config{}, WithStore(store), WithClock(clock)), store, clock
}

func TestCacheRoundTripAndExpiry(t *testing.T) {
	ctx := context.Background()
	c, store, clock := newCacheClient(t)

	companies := []model.Company{{ID: "c1", Name: "Acme"}}
	require.NoError(t, c.SetCache(ctx, "companies", companies, 0))

	var got []model.Company
	hit, err := c.GetCache(ctx, "companies", &got)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, "Acme", got[0].Name)

	clock.Advance(5 * time.Minute)
	hit, err = c.GetCache(ctx, "companies", &got)
	require.NoError(t, err)
	assert.True(t, hit, "an entry is valid up to and including its ttl")

	clock.Advance(time.Millisecond)
	hit, err = c.GetCache(ctx, "companies", &got)
	require.NoError(t, err)
	assert.False(t, hit)

	_, err = store.Get(ctx, "cache_companies")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCacheMiss(t *testing.T) {
	c, _, _ := newCacheClient(t)

	var v []string
	hit, err := c.GetCache(context.Background(), "absent", &v)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestCacheDropsUnreadableEntry(t *testing.T) {
	ctx := context.Background()
	c, store, _ := newCacheClient(t)
	require.NoError(t, store.Set(ctx, "cache_broken", "{not json", 0))

	var v []string
	hit, err := c.GetCache(ctx, "broken", &v)
	require.NoError(t, err)
	assert.False(t, hit)

	_, err = store.Get(ctx, "cache_broken")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestClearCache(t *testing.T) {
	ctx := context.Background()
	c, store, _ := newCacheClient(t)

	require.NoError(t, c.SetCache(ctx, "companies", []string{"a"}, time.Minute))
	require.NoError(t, c.SetCache(ctx, "companies_c1_apps", []string{"b"}, time.Minute))
	require.NoError(t, c.SetCache(ctx, "applications", []string{"c"}, time.Minute))
	require.NoError(t, store.Set(ctx, "user_data", "{}", 0))

	require.NoError(t, c.ClearCache(ctx, "companies"))

	keys, err := store.Keys(ctx, "cache_")
	require.NoError(t, err)
	assert.Equal(t, []string{"cache_applications"}, keys)

	require.NoError(t, c.ClearCache(ctx, ""))
	keys, err = store.Keys(ctx, "cache_")
	require.NoError(t, err)
	assert.Empty(t, keys)

	_, err = store.Get(ctx, "user_data")
	assert.NoError(t, err, "only cache entries are cleared")
}
