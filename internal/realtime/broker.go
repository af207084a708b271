package realtime

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/notes-bin/crystal/internal/model"
	"github.com/notes-bin/crystal/internal/redis"
)

const Channel = "crystal:events"

// Broker carries events between instances over Redis pub/sub and feeds the
// ones it receives into the local hub.
type Broker struct {
	redis *redis.Client
	hub   *Hub
}

func NewBroker(redis *redis.Client, hub *Hub) *Broker {
	return &Broker{redis: redis, hub: hub}
}

func (b *Broker) Publish(ctx context.Context, ev model.Event) error {
	return b.redis.PublishEvent(ctx, Channel, ev)
}

// Run forwards events from Redis to the hub until ctx is done. ready, if
// not nil, is closed once the subscription is active.
func (b *Broker) Run(ctx context.Context, ready chan<- struct{}) error {
	sub, err := b.redis.SubscribeEvents(ctx, Channel)
	if err != nil {
		return err
	}
	defer sub.Close()
	if ready != nil {
		close(ready)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev model.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				slog.Error("Dropping malformed event", "error", err)
				continue
			}
			b.hub.Broadcast(ev)
		}
	}
}
