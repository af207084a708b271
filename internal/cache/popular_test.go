package cache

import (
	"context"
	"testing"
	"time"

	"github.com/notes-bin/crystal/internal/model"
	"github.com/notes-bin/crystal/internal/redis"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := redis.NewClient(mr.Addr(), "", 0, 5)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func like(t *testing.T, c *redis.Client, imageID string, users ...string) {
	t.Helper()
	img, err := c.GetImage(context.Background(), imageID)
	require.NoError(t, err)
	if img == nil {
		require.NoError(t, c.AddImage(context.Background(), &model.Image{ID: imageID, User: "alice", CreatedAt: time.Now()}))
	}
	for _, u := range users {
		_, err := c.AddLike(context.Background(), imageID, &model.Like{UserID: u, CreatedAt: time.Now()})
		require.NoError(t, err)
	}
}

func TestPopular(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestClient(t)

	like(t, c, "a", "u1")
	like(t, c, "b", "u1", "u2", "u3")
	like(t, c, "c", "u1", "u2")

	t.Run("cold cache reads the ranking", func(t *testing.T) {
		ids, err := Popular(ctx, c)
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "c", "a"}, ids)
	})

	t.Run("refresh caches until ttl", func(t *testing.T) {
		ids, err := Refresh(ctx, c, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "c", "a"}, ids)

		like(t, c, "a", "u2", "u3", "u4", "u5")
		cached, err := Popular(ctx, c)
		require.NoError(t, err)
		assert.Equal(t, []string{"b", "c", "a"}, cached)

		mr.FastForward(2 * time.Minute)
		live, err := Popular(ctx, c)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, live)
	})
}

func TestStartPopularRefresh(t *testing.T) {
	c, _ := newTestClient(t)
	like(t, c, "a", "u1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		StartPopularRefresh(ctx, c, 60)
		close(done)
	}()

	require.Eventually(t, func() bool {
		ids, err := c.GetCachedPopular(context.Background())
		return err == nil && len(ids) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("refresher did not stop")
	}
}
