package gallery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/notes-bin/crystal/internal/metrics"
	"github.com/notes-bin/crystal/internal/model"

	"github.com/google/uuid"
)

type LikeStatus struct {
	Liked bool  `json:"liked"`
	Count int64 `json:"count"`
}

func (s *Service) likeStatus(ctx context.Context, actor Actor, imageID string) (*LikeStatus, error) {
	liked, err := s.redis.HasLike(ctx, imageID, actor.UID)
	if err != nil {
		return nil, err
	}
	count, err := s.redis.CountLikes(ctx, imageID)
	if err != nil {
		return nil, err
	}
	return &LikeStatus{Liked: liked, Count: count}, nil
}

// Like is idempotent: liking an image twice keeps a single like.
func (s *Service) Like(ctx context.Context, actor Actor, imageID string) (*LikeStatus, error) {
	actor, err := s.Resolve(ctx, actor)
	if err != nil {
		return nil, err
	}
	img, err := s.GetImage(ctx, imageID)
	if err != nil {
		return nil, err
	}
	like := &model.Like{UserID: actor.UID, UserName: actor.UserID, CreatedAt: time.Now()}
	added, err := s.redis.AddLike(ctx, img.ID, like)
	if err != nil {
		return nil, storeError(err)
	}
	status, err := s.likeStatus(ctx, actor, img.ID)
	if err != nil {
		return nil, err
	}
	if added {
		metrics.RecordWrite("like")
		s.publish(ctx, model.EventLikeAdded, map[string]any{"image_id": img.ID, "like": like, "count": status.Count},
			model.ImageTopic(img.ID), model.GalleryTopic(img.User))
	}
	return status, nil
}

func (s *Service) Unlike(ctx context.Context, actor Actor, imageID string) (*LikeStatus, error) {
	actor, err := s.Resolve(ctx, actor)
	if err != nil {
		return nil, err
	}
	img, err := s.GetImage(ctx, imageID)
	if err != nil {
		return nil, err
	}
	removed, err := s.redis.RemoveLike(ctx, img.ID, actor.UID)
	if err != nil {
		return nil, err
	}
	status, err := s.likeStatus(ctx, actor, img.ID)
	if err != nil {
		return nil, err
	}
	if removed {
		metrics.RecordWrite("like")
		s.publish(ctx, model.EventLikeRemoved, map[string]any{"image_id": img.ID, "user_id": actor.UID, "count": status.Count},
			model.ImageTopic(img.ID), model.GalleryTopic(img.User))
	}
	return status, nil
}

func (s *Service) LikeStatus(ctx context.Context, actor Actor, imageID string) (*LikeStatus, error) {
	if _, err := s.GetImage(ctx, imageID); err != nil {
		return nil, err
	}
	return s.likeStatus(ctx, actor, imageID)
}

func (s *Service) ListLikes(ctx context.Context, imageID string) ([]*model.Like, error) {
	if _, err := s.GetImage(ctx, imageID); err != nil {
		return nil, err
	}
	return s.redis.ListLikes(ctx, imageID)
}

func (s *Service) AddComment(ctx context.Context, actor Actor, imageID, text string) (*model.Comment, error) {
	actor, err := s.Resolve(ctx, actor)
	if err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: comment text is required", ErrInvalid)
	}
	if err := checkLength("comment", text, MaxTextLength); err != nil {
		return nil, err
	}
	img, err := s.GetImage(ctx, imageID)
	if err != nil {
		return nil, err
	}

	comment := &model.Comment{
		ID:        uuid.New().String(),
		ImageID:   img.ID,
		UserID:    actor.UID,
		UserName:  actor.UserID,
		Text:      text,
		CreatedAt: time.Now(),
	}
	if err := s.redis.AddComment(ctx, comment); err != nil {
		return nil, storeError(err)
	}
	metrics.RecordWrite("comment")
	s.publish(ctx, model.EventCommentAdded, comment, model.ImageTopic(img.ID), model.GalleryTopic(img.User))
	return comment, nil
}

func (s *Service) ListComments(ctx context.Context, imageID string) ([]*model.Comment, error) {
	if _, err := s.GetImage(ctx, imageID); err != nil {
		return nil, err
	}
	return s.redis.ListComments(ctx, imageID)
}

// DeleteComment is allowed for the comment's author, the image owner and admins.
func (s *Service) DeleteComment(ctx context.Context, actor Actor, imageID, commentID string) error {
	actor, err := s.Resolve(ctx, actor)
	if err != nil {
		return err
	}
	img, err := s.GetImage(ctx, imageID)
	if err != nil {
		return err
	}
	comment, err := s.redis.GetComment(ctx, imageID, commentID)
	if err != nil {
		return err
	}
	if comment == nil {
		return fmt.Errorf("%w: comment %s", ErrNotFound, commentID)
	}
	if comment.UserID != actor.UID && !actor.owns(img.UserID) {
		return ErrForbidden
	}
	if _, err := s.redis.DeleteComment(ctx, imageID, commentID); err != nil {
		return err
	}
	metrics.RecordWrite("comment")
	s.publish(ctx, model.EventCommentDeleted, map[string]string{"id": commentID, "image_id": imageID},
		model.ImageTopic(img.ID), model.GalleryTopic(img.User))
	return nil
}
