package gallery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/notes-bin/crystal/internal/metrics"
	"github.com/notes-bin/crystal/internal/model"
	"github.com/notes-bin/crystal/internal/redis"

	"github.com/google/uuid"
)

const maxCollectionSweeps = 3

type CollectionInput struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Theme       *model.Theme `json:"theme"`
}

type CollectionUpdate struct {
	Name        *string      `json:"name"`
	Description *string      `json:"description"`
	Theme       *model.Theme `json:"theme"`
}

func validateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	return checkLength("name", name, MaxNameLength)
}

func (s *Service) CreateCollection(ctx context.Context, actor Actor, in CollectionInput) (*model.Collection, error) {
	actor, err := s.Resolve(ctx, actor)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	if err := validateCollectionName(name); err != nil {
		return nil, err
	}
	description := strings.TrimSpace(in.Description)
	if err := checkLength("description", description, MaxTextLength); err != nil {
		return nil, err
	}
	theme := model.DefaultTheme()
	if in.Theme != nil {
		theme = *in.Theme
	}

	now := time.Now()
	col := &model.Collection{
		ID:          uuid.New().String(),
		UserID:      actor.UID,
		User:        actor.UserID,
		Name:        name,
		Description: description,
		Theme:       theme,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.redis.CreateCollection(ctx, col); err != nil {
		return nil, err
	}
	metrics.RecordWrite("collection")
	s.publish(ctx, model.EventCollectionCreated, col, model.GalleryTopic(col.User))
	return col, nil
}

func (s *Service) GetCollection(ctx context.Context, id string) (*model.Collection, error) {
	col, err := s.redis.GetCollection(ctx, id)
	if err != nil {
		return nil, err
	}
	if col == nil {
		return nil, fmt.Errorf("%w: collection %s", ErrNotFound, id)
	}
	return col, nil
}

func (s *Service) ListCollections(ctx context.Context, gid string) ([]*model.Collection, error) {
	if _, err := s.user(ctx, gid); err != nil {
		return nil, err
	}
	return s.redis.ListCollections(ctx, gid)
}

func (s *Service) UpdateCollection(ctx context.Context, actor Actor, id string, in CollectionUpdate) (*model.Collection, error) {
	actor, err := s.Resolve(ctx, actor)
	if err != nil {
		return nil, err
	}
	col, err := s.GetCollection(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.owns(col.UserID) {
		return nil, ErrForbidden
	}

	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if err := validateCollectionName(name); err != nil {
			return nil, err
		}
		col.Name = name
	}
	if in.Description != nil {
		description := strings.TrimSpace(*in.Description)
		if err := checkLength("description", description, MaxTextLength); err != nil {
			return nil, err
		}
		col.Description = description
	}
	if in.Theme != nil {
		col.Theme = *in.Theme
	}
	col.UpdatedAt = time.Now()

	if err := s.redis.SaveCollection(ctx, col); err != nil {
		return nil, storeError(err)
	}
	metrics.RecordWrite("collection")
	s.publish(ctx, model.EventCollectionUpdated, col, model.GalleryTopic(col.User), model.CollectionTopic(col.ID))
	return col, nil
}

// DeleteCollection deletes every image in the collection, then the collection.
func (s *Service) DeleteCollection(ctx context.Context, actor Actor, id string) error {
	actor, err := s.Resolve(ctx, actor)
	if err != nil {
		return err
	}
	col, err := s.GetCollection(ctx, id)
	if err != nil {
		return err
	}
	if !actor.owns(col.UserID) {
		return ErrForbidden
	}
	return s.deleteCollection(ctx, col)
}

// deleteCollection deletes the collection's images and then the collection.
// An image added meanwhile makes the store refuse, and the sweep runs again.
func (s *Service) deleteCollection(ctx context.Context, col *model.Collection) error {
	var err error
	for i := 0; i < maxCollectionSweeps; i++ {
		if err = s.deleteCollectionImages(ctx, col.ID); err != nil {
			return err
		}
		err = s.redis.DeleteCollection(ctx, col)
		if !errors.Is(err, redis.ErrCollectionNotEmpty) {
			break
		}
	}
	if err != nil {
		return storeError(err)
	}
	metrics.RecordWrite("collection")
	s.publish(ctx, model.EventCollectionDeleted, map[string]string{"id": col.ID},
		model.GalleryTopic(col.User), model.CollectionTopic(col.ID))
	return nil
}

func (s *Service) deleteCollectionImages(ctx context.Context, id string) error {
	ids, err := s.redis.CollectionImageIDs(ctx, id)
	if err != nil {
		return err
	}
	for _, imageID := range ids {
		if err := s.deleteImage(ctx, imageID); err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("delete image %s: %w", imageID, err)
		}
	}
	return nil
}
