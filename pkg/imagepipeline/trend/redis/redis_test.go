package redis_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	trendredis "github.com/tripshare/image-pipeline/pkg/imagepipeline/trend/redis"
)

func newStore(t *testing.T) *trendredis.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return trendredis.NewWithClient(client)
}

func TestBumpAccumulatesCount(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	require.NoError(t, store.Bump(ctx, "temple", "articles/a.jpg"))
	require.NoError(t, store.Bump(ctx, "temple", "articles/b.jpg"))

	record, err := store.Record(ctx, "temple")
	require.NoError(t, err)
	assert.EqualValues(t, 2, record.Count)
	assert.Equal(t, "temple", record.TagName)
	assert.Equal(t, "articles/b.jpg", record.CoverImage, "cover image is last-writer-wins")
	assert.False(t, record.LastUpdated.IsZero())
}

func TestRecordUnknownTag(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	record, err := store.Record(ctx, "never-bumped")
	require.NoError(t, err)
	assert.Equal(t, "never-bumped", record.TagName)
	assert.Zero(t, record.Count)
	assert.Empty(t, record.CoverImage)
}

func TestTopRanksByCount(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	for range 3 {
		require.NoError(t, store.Bump(ctx, "temple", "articles/a.jpg"))
	}
	for range 2 {
		require.NoError(t, store.Bump(ctx, "beach", "articles/b.jpg"))
	}
	require.NoError(t, store.Bump(ctx, "sunset", "articles/c.jpg"))

	top, err := store.Top(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"temple", "beach"}, top)
}
