package redis

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/notes-bin/crystal/internal/model"

	"github.com/redis/go-redis/v9"
)

// AddLike records like for the image unless like.UserID already liked it.
// It reports whether a new like was stored, and fails with ErrImageNotFound
// once the image is deleted.
func (c *Client) AddLike(ctx context.Context, imageID string, like *model.Like) (bool, error) {
	data, err := json.Marshal(like)
	if err != nil {
		return false, err
	}
	var added bool
	key := imageLikesKey(imageID)
	err = c.watch(ctx, func(tx *redis.Tx) error {
		if err := requireKey(ctx, tx, imageKey(imageID), ErrImageNotFound); err != nil {
			return err
		}
		exists, err := tx.HExists(ctx, key, like.UserID).Result()
		if err != nil || exists {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, like.UserID, data)
			pipe.ZIncrBy(ctx, popularityKey, 1, imageID)
			return nil
		})
		added = err == nil
		return err
	}, imageKey(imageID), key)
	return added, err
}

// RemoveLike deletes userID's like and reports whether there was one.
func (c *Client) RemoveLike(ctx context.Context, imageID, userID string) (bool, error) {
	var removed bool
	key := imageLikesKey(imageID)
	err := c.watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.HExists(ctx, key, userID).Result()
		if err != nil || !exists {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HDel(ctx, key, userID)
			pipe.ZIncrBy(ctx, popularityKey, -1, imageID)
			return nil
		})
		removed = err == nil
		return err
	}, key)
	return removed, err
}

func (c *Client) HasLike(ctx context.Context, imageID, userID string) (bool, error) {
	return c.HExists(ctx, imageLikesKey(imageID), userID).Result()
}

func (c *Client) CountLikes(ctx context.Context, imageID string) (int64, error) {
	return c.HLen(ctx, imageLikesKey(imageID)).Result()
}

// ListLikes returns the likes of an image, newest first.
func (c *Client) ListLikes(ctx context.Context, imageID string) ([]*model.Like, error) {
	vals, err := c.HVals(ctx, imageLikesKey(imageID)).Result()
	if err != nil {
		return nil, err
	}
	likes := make([]*model.Like, 0, len(vals))
	for _, v := range vals {
		like, err := decode[model.Like]([]byte(v))
		if err != nil {
			return nil, err
		}
		likes = append(likes, like)
	}
	sort.Slice(likes, func(i, j int) bool { return likes[i].CreatedAt.After(likes[j].CreatedAt) })
	return likes, nil
}

// AddComment stores comment unless its image has been deleted.
func (c *Client) AddComment(ctx context.Context, comment *model.Comment) error {
	data, err := json.Marshal(comment)
	if err != nil {
		return err
	}
	return c.watch(ctx, func(tx *redis.Tx) error {
		if err := requireKey(ctx, tx, imageKey(comment.ImageID), ErrImageNotFound); err != nil {
			return err
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, imageCommentsKey(comment.ImageID), comment.ID, data)
			return nil
		})
		return err
	}, imageKey(comment.ImageID))
}

func (c *Client) GetComment(ctx context.Context, imageID, commentID string) (*model.Comment, error) {
	data, err := c.HGet(ctx, imageCommentsKey(imageID), commentID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decode[model.Comment](data)
}

func (c *Client) DeleteComment(ctx context.Context, imageID, commentID string) (bool, error) {
	n, err := c.HDel(ctx, imageCommentsKey(imageID), commentID).Result()
	return n > 0, err
}

// ListComments returns the comments of an image, oldest first.
func (c *Client) ListComments(ctx context.Context, imageID string) ([]*model.Comment, error) {
	vals, err := c.HVals(ctx, imageCommentsKey(imageID)).Result()
	if err != nil {
		return nil, err
	}
	comments := make([]*model.Comment, 0, len(vals))
	for _, v := range vals {
		comment, err := decode[model.Comment]([]byte(v))
		if err != nil {
			return nil, err
		}
		comments = append(comments, comment)
	}
	sort.Slice(comments, func(i, j int) bool { return comments[i].CreatedAt.Before(comments[j].CreatedAt) })
	return comments, nil
}

// TopLikedImages returns up to n image ids with at least one like, most liked first.
func (c *Client) TopLikedImages(ctx context.Context, n int) ([]string, error) {
	return c.ZRevRangeByScore(ctx, popularityKey, &redis.ZRangeBy{
		Min:   "1",
		Max:   "+inf",
		Count: int64(n),
	}).Result()
}

func (c *Client) CachePopular(ctx context.Context, ids []string, ttl time.Duration) error {
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return c.Set(ctx, popularCacheKey, data, ttl).Err()
}

// GetCachedPopular returns nil when the cache is cold.
func (c *Client) GetCachedPopular(ctx context.Context) ([]string, error) {
	data, err := c.Get(ctx, popularCacheKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}
