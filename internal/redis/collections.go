package redis

import (
	"context"
	"encoding/json"

	"github.com/notes-bin/crystal/internal/model"

	"github.com/redis/go-redis/v9"
)

// CreateCollection stores a new collection with a zero image counter and
// indexes it under its owner.
func (c *Client) CreateCollection(ctx context.Context, col *model.Collection) error {
	data, err := json.Marshal(col)
	if err != nil {
		return err
	}
	_, err = c.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, collectionKey(col.ID), data, 0)
		pipe.Set(ctx, collectionCountKey(col.ID), 0, 0)
		pipe.ZAdd(ctx, userCollectionsKey(col.User), redis.Z{Score: score(col.CreatedAt), Member: col.ID})
		return nil
	})
	return err
}

// SaveCollection overwrites the collection document. It never touches the
// image counter, and does nothing if the collection was deleted meanwhile.
func (c *Client) SaveCollection(ctx context.Context, col *model.Collection) error {
	data, err := json.Marshal(col)
	if err != nil {
		return err
	}
	ok, err := c.SetXX(ctx, collectionKey(col.ID), data, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrCollectionNotFound
	}
	return nil
}

func (c *Client) GetCollection(ctx context.Context, id string) (*model.Collection, error) {
	pipe := c.Pipeline()
	doc := pipe.Get(ctx, collectionKey(id))
	count := pipe.Get(ctx, collectionCountKey(id))
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
	col, err := decode[model.Collection](data)
	if err != nil {
		return nil, err
	}
	n, err := count.Int64()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	col.ImageCount = n
	return col, nil
}

// ListCollections returns a user's collections, newest first.
func (c *Client) ListCollections(ctx context.Context, userID string) ([]*model.Collection, error) {
	ids, err := c.ZRevRange(ctx, userCollectionsKey(userID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	cols := make([]*model.Collection, 0, len(ids))
	for _, id := range ids {
		col, err := c.GetCollection(ctx, id)
		if err != nil {
			return nil, err
		}
		if col == nil {
			continue
		}
		cols = append(cols, col)
	}
	return cols, nil
}

// DeleteCollection removes the collection document, counter and indexes. It
// fails with ErrCollectionNotEmpty while images are still listed in it, so
// callers delete those first.
func (c *Client) DeleteCollection(ctx context.Context, col *model.Collection) error {
	members := collectionImagesKey(col.ID)
	return c.watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.ZCard(ctx, members).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrCollectionNotEmpty
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, collectionKey(col.ID), collectionCountKey(col.ID), members)
			pipe.ZRem(ctx, userCollectionsKey(col.User), col.ID)
			return nil
		})
		return err
	}, members)
}

func (c *Client) CollectionImageIDs(ctx context.Context, id string) ([]string, error) {
	return c.ZRevRange(ctx, collectionImagesKey(id), 0, -1).Result()
}

// RecountCollection resets the image counter to the size of the membership
// index and reports whether it had drifted.
func (c *Client) RecountCollection(ctx context.Context, id string) (bool, error) {
	var drifted bool
	err := c.watch(ctx, func(tx *redis.Tx) error {
		actual, err := tx.ZCard(ctx, collectionImagesKey(id)).Result()
		if err != nil {
			return err
		}
		stored, err := tx.Get(ctx, collectionCountKey(id)).Int64()
		if err != nil && err != redis.Nil {
			return err
		}
		drifted = stored != actual
		if !drifted {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, collectionCountKey(id), actual, 0)
			return nil
		})
		return err
	}, collectionImagesKey(id), collectionCountKey(id))
	return drifted, err
}
