package redis

import (
	"context"
	"encoding/json"

	"github.com/notes-bin/crystal/internal/model"

	"github.com/redis/go-redis/v9"
)

func (c *Client) PublishEvent(ctx context.Context, channel string, ev model.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return c.Publish(ctx, channel, data).Err()
}

// SubscribeEvents subscribes to channel. The caller closes the returned PubSub.
func (c *Client) SubscribeEvents(ctx context.Context, channel string) (*redis.PubSub, error) {
	sub := c.Subscribe(ctx, channel)
	// wait for the subscription confirmation so no event published after
	// this call returns is missed
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, err
	}
	return sub, nil
}
