package redis

import (
	"context"
	"encoding/json"

	"github.com/notes-bin/crystal/internal/model"

	"github.com/redis/go-redis/v9"
)

// AddImage stores the image and, in the same transaction, adds it to its
// collection and bumps the collection's image counter.
func (c *Client) AddImage(ctx context.Context, img *model.Image) error {
	data, err := json.Marshal(img)
	if err != nil {
		return err
	}
	z := redis.Z{Score: score(img.CreatedAt), Member: img.ID}

	keys := []string{imageKey(img.ID)}
	if img.CollectionID != nil {
		keys = append(keys, collectionKey(*img.CollectionID))
	}
	return c.watch(ctx, func(tx *redis.Tx) error {
		if img.CollectionID != nil {
			if err := requireKey(ctx, tx, collectionKey(*img.CollectionID), ErrCollectionNotFound); err != nil {
				return err
			}
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, imageKey(img.ID), data, 0)
			pipe.ZAdd(ctx, userImagesKey(img.User), z)
			if img.CollectionID != nil {
				pipe.ZAdd(ctx, collectionImagesKey(*img.CollectionID), z)
				pipe.Incr(ctx, collectionCountKey(*img.CollectionID))
			}
			return nil
		})
		return err
	}, keys...)
}

// UpdateImage overwrites the image document. The previous collection is taken
// from the stored document, and when it differs membership and both counters
// move in the same transaction. It returns the previous collection id.
func (c *Client) UpdateImage(ctx context.Context, img *model.Image) (*string, error) {
	data, err := json.Marshal(img)
	if err != nil {
		return nil, err
	}

	keys := []string{imageKey(img.ID)}
	if img.CollectionID != nil {
		keys = append(keys, collectionKey(*img.CollectionID))
	}
	var prev *string
	err = c.watch(ctx, func(tx *redis.Tx) error {
		stored, err := storedImage(ctx, tx, img.ID)
		if err != nil {
			return err
		}
		prev = stored.CollectionID
		moved := !sameCollection(stored, img.CollectionID)

		var wasMember bool
		if moved && prev != nil {
			if err := tx.Watch(ctx, collectionImagesKey(*prev)).Err(); err != nil {
				return err
			}
			wasMember, err = isMember(ctx, tx, collectionImagesKey(*prev), img.ID)
			if err != nil {
				return err
			}
		}
		if moved && img.CollectionID != nil {
			if err := requireKey(ctx, tx, collectionKey(*img.CollectionID), ErrCollectionNotFound); err != nil {
				return err
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, imageKey(img.ID), data, 0)
			if !moved {
				return nil
			}
			if wasMember {
				pipe.ZRem(ctx, collectionImagesKey(*prev), img.ID)
				pipe.Decr(ctx, collectionCountKey(*prev))
			}
			if img.CollectionID != nil {
				pipe.ZAdd(ctx, collectionImagesKey(*img.CollectionID), redis.Z{Score: score(img.CreatedAt), Member: img.ID})
				pipe.Incr(ctx, collectionCountKey(*img.CollectionID))
			}
			return nil
		})
		return err
	}, keys...)
	if err != nil {
		return nil, err
	}
	return prev, nil
}

// DeleteImage removes the image with its likes and comments and, in the same
// transaction, drops it from the collection its stored document names. It
// returns the image as it was stored, or ErrImageNotFound.
func (c *Client) DeleteImage(ctx context.Context, id string) (*model.Image, error) {
	var img *model.Image
	err := c.watch(ctx, func(tx *redis.Tx) error {
		var err error
		img, err = storedImage(ctx, tx, id)
		if err != nil {
			return err
		}
		var wasMember bool
		if img.CollectionID != nil {
			if err := tx.Watch(ctx, collectionImagesKey(*img.CollectionID)).Err(); err != nil {
				return err
			}
			wasMember, err = isMember(ctx, tx, collectionImagesKey(*img.CollectionID), id)
			if err != nil {
				return err
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, imageKey(id), imageLikesKey(id), imageCommentsKey(id))
			pipe.ZRem(ctx, userImagesKey(img.User), id)
			pipe.ZRem(ctx, popularityKey, id)
			if wasMember {
				pipe.ZRem(ctx, collectionImagesKey(*img.CollectionID), id)
				pipe.Decr(ctx, collectionCountKey(*img.CollectionID))
			}
			return nil
		})
		return err
	}, imageKey(id))
	if err != nil {
		return nil, err
	}
	return img, nil
}

// GetImage returns the image with like and comment counts filled in.
func (c *Client) GetImage(ctx context.Context, id string) (*model.Image, error) {
	pipe := c.Pipeline()
	doc := pipe.Get(ctx, imageKey(id))
	likes := pipe.HLen(ctx, imageLikesKey(id))
	comments := pipe.HLen(ctx, imageCommentsKey(id))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	data, err := doc.Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	img, err := decode[model.Image](data)
	if err != nil {
		return nil, err
	}
	img.LikeCount = likes.Val()
	img.CommentCount = comments.Val()
	return img, nil
}

func (c *Client) getImages(ctx context.Context, ids []string) ([]*model.Image, error) {
	images := make([]*model.Image, 0, len(ids))
	for _, id := range ids {
		img, err := c.GetImage(ctx, id)
		if err != nil {
			return nil, err
		}
		if img == nil {
			continue
		}
		images = append(images, img)
	}
	return images, nil
}

// ListUserImages returns a page of a user's images, newest first. A
// non-positive limit returns everything from offset on.
func (c *Client) ListUserImages(ctx context.Context, userID string, offset, limit int) ([]*model.Image, error) {
	if offset < 0 {
		offset = 0
	}
	stop := int64(-1)
	if limit > 0 {
		stop = int64(offset + limit - 1)
	}
	ids, err := c.ZRevRange(ctx, userImagesKey(userID), int64(offset), stop).Result()
	if err != nil {
		return nil, err
	}
	return c.getImages(ctx, ids)
}

func (c *Client) ListCollectionImages(ctx context.Context, collectionID string) ([]*model.Image, error) {
	ids, err := c.CollectionImageIDs(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	return c.getImages(ctx, ids)
}

// SearchImages matches query against name and description of a user's
// images, case-insensitively.
func (c *Client) SearchImages(ctx context.Context, userID, query string, offset, limit int) ([]*model.Image, error) {
	all, err := c.ListUserImages(ctx, userID, 0, 0)
	if err != nil {
		return nil, err
	}
	images := []*model.Image{}
	for _, img := range all {
		if containsQuery(img.Name, query) || containsQuery(img.Description, query) {
			images = append(images, img)
		}
	}
	return page(images, offset, limit), nil
}

func requireKey(ctx context.Context, tx *redis.Tx, key string, notFound error) error {
	n, err := tx.Exists(ctx, key).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func isMember(ctx context.Context, tx *redis.Tx, key, member string) (bool, error) {
	err := tx.ZScore(ctx, key, member).Err()
	if err == redis.Nil {
		return false, nil
	}
	return err == nil, err
}

// sameCollection reports whether img sits in collection id, nil meaning none.
func sameCollection(img *model.Image, id *string) bool {
	if id == nil {
		return img.CollectionID == nil
	}
	return img.InCollection(*id)
}

// storedImage reads the image document inside a transaction.
func storedImage(ctx context.Context, tx *redis.Tx, id string) (*model.Image, error) {
	data, err := tx.Get(ctx, imageKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrImageNotFound
	}
	if err != nil {
		return nil, err
	}
	return decode[model.Image](data)
}
