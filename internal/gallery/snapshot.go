package gallery

import (
	"context"
	"fmt"
	"strings"

	"github.com/notes-bin/crystal/internal/model"
)

type CollectionSnapshot struct {
	Collection *model.Collection `json:"collection"`
	Images     []*model.Image    `json:"images"`
}

type ImageSnapshot struct {
	Image    *model.Image     `json:"image"`
	Likes    []*model.Like    `json:"likes"`
	Comments []*model.Comment `json:"comments"`
}

// Snapshot returns the current state of topic as a snapshot event.
func (s *Service) Snapshot(ctx context.Context, topic string) (model.Event, error) {
	kind, id, ok := strings.Cut(topic, ":")
	if !ok || id == "" {
		return model.Event{}, fmt.Errorf("%w: topic %q", ErrInvalid, topic)
	}

	var data any
	switch kind {
	case "gallery":
		g, err := s.GetGallery(ctx, id)
		if err != nil {
			return model.Event{}, err
		}
		data = g

	case "collection":
		col, err := s.GetCollection(ctx, id)
		if err != nil {
			return model.Event{}, err
		}
		images, err := s.redis.ListCollectionImages(ctx, id)
		if err != nil {
			return model.Event{}, err
		}
		data = CollectionSnapshot{Collection: col, Images: images}

	case "image":
		img, err := s.GetImage(ctx, id)
		if err != nil {
			return model.Event{}, err
		}
		likes, err := s.redis.ListLikes(ctx, id)
		if err != nil {
			return model.Event{}, err
		}
		comments, err := s.redis.ListComments(ctx, id)
		if err != nil {
			return model.Event{}, err
		}
		data = ImageSnapshot{Image: img, Likes: likes, Comments: comments}

	default:
		return model.Event{}, fmt.Errorf("%w: unknown topic %q", ErrInvalid, kind)
	}
	return model.NewEvent(model.EventSnapshot, topic, data), nil
}
