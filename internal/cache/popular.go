package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/notes-bin/crystal/internal/redis"
)

// PopularSize is how many images the popular list holds.
const PopularSize = 10

// StartPopularRefresh recomputes the popular list now and then every
// interval seconds until ctx is done. Each cached list outlives one missed tick.
func StartPopularRefresh(ctx context.Context, redis *redis.Client, interval int) {
	period := time.Duration(interval) * time.Second
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		ids, err := Refresh(ctx, redis, 2*period)
		if err != nil {
			slog.Error("Failed to refresh popular images", "error", err)
		} else {
			slog.Debug("Refreshed popular images", "ids", ids)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Refresh reads the most liked images and caches their ids for ttl.
func Refresh(ctx context.Context, redis *redis.Client, ttl time.Duration) ([]string, error) {
	ids, err := redis.TopLikedImages(ctx, PopularSize)
	if err != nil {
		return nil, err
	}
	if err := redis.CachePopular(ctx, ids, ttl); err != nil {
		return nil, err
	}
	return ids, nil
}

// Popular returns the cached popular ids, or the live ranking when the cache
// is cold.
func Popular(ctx context.Context, redis *redis.Client) ([]string, error) {
	ids, err := redis.GetCachedPopular(ctx)
	if err != nil {
		return nil, err
	}
	if ids != nil {
		return ids, nil
	}
	return redis.TopLikedImages(ctx, PopularSize)
}
