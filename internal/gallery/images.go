package gallery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/notes-bin/crystal/internal/metrics"
	"github.com/notes-bin/crystal/internal/model"
	"github.com/notes-bin/crystal/internal/storage"

	"github.com/google/uuid"
)

type ImageInput struct {
	URL          string  `json:"url"`
	Name         string  `json:"name"`
	Description  string  `json:"description"`
	CollectionID *string `json:"collection_id"`
}

// ImageUpdate changes the set fields. A non-nil CollectionID pointing at nil
// takes the image out of its collection.
type ImageUpdate struct {
	Name         *string
	Description  *string
	CollectionID **string
}

func validateImageURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: url must be an absolute http or https url", ErrInvalid)
	}
	return nil
}

// targetCollection checks that collection id exists and belongs to uid.
func (s *Service) targetCollection(ctx context.Context, id *string, uid string) error {
	if id == nil {
		return nil
	}
	col, err := s.GetCollection(ctx, *id)
	if err != nil {
		return err
	}
	if col.UserID != uid {
		return fmt.Errorf("%w: collection belongs to another user", ErrForbidden)
	}
	return nil
}

func (s *Service) newImage(actor Actor, in ImageInput) (*model.Image, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = model.DefaultImageName
	}
	if err := checkLength("name", name, MaxNameLength); err != nil {
		return nil, err
	}
	description := strings.TrimSpace(in.Description)
	if err := checkLength("description", description, MaxTextLength); err != nil {
		return nil, err
	}
	collectionID := in.CollectionID
	if collectionID != nil && *collectionID == "" {
		collectionID = nil
	}
	return &model.Image{
		ID:           uuid.New().String(),
		URL:          strings.TrimSpace(in.URL),
		Name:         name,
		Description:  description,
		CollectionID: collectionID,
		UserID:       actor.UID,
		User:         actor.UserID,
		CreatedAt:    time.Now(),
	}, nil
}

func (s *Service) addImage(ctx context.Context, img *model.Image) error {
	if err := s.redis.AddImage(ctx, img); err != nil {
		return storeError(err)
	}
	metrics.RecordWrite("image")
	s.publish(ctx, model.EventImageCreated, img, model.GalleryTopic(img.User), collectionTopic(img.CollectionID))
	return nil
}

// AddImageURL records an externally hosted image.
func (s *Service) AddImageURL(ctx context.Context, actor Actor, in ImageInput) (*model.Image, error) {
	actor, err := s.Resolve(ctx, actor)
	if err != nil {
		return nil, err
	}
	if err := validateImageURL(strings.TrimSpace(in.URL)); err != nil {
		return nil, err
	}
	img, err := s.newImage(actor, in)
	if err != nil {
		return nil, err
	}
	if err := s.targetCollection(ctx, img.CollectionID, actor.UID); err != nil {
		return nil, err
	}
	if err := s.addImage(ctx, img); err != nil {
		return nil, err
	}
	return img, nil
}

// AddImageFile stores an uploaded file and records an image served from it.
// filename is the client's name for the file and only used as a default name.
func (s *Service) AddImageFile(ctx context.Context, actor Actor, file io.Reader, filename string, in ImageInput) (*model.Image, error) {
	actor, err := s.Resolve(ctx, actor)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Name) == "" && filename != "" {
		in.Name = strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	}
	img, err := s.newImage(actor, in)
	if err != nil {
		return nil, err
	}
	if err := s.targetCollection(ctx, img.CollectionID, actor.UID); err != nil {
		return nil, err
	}

	upload, err := s.storage.Stage(file)
	if err != nil {
		return nil, err
	}
	defer upload.Close()
	metrics.RecordUpload(upload.Size)
	if err := s.retainFile(ctx, upload); err != nil {
		return nil, err
	}

	img.Filename = upload.Filename
	img.URL = s.publicURL + "/files/" + upload.Filename
	if _, err := s.storage.Thumbnail(upload.Filename); err != nil {
		slog.Warn("Failed to create thumbnail", "file", upload.Filename, "error", err)
	} else {
		img.ThumbnailURL = img.URL + "/thumbnail"
	}

	if err := s.addImage(ctx, img); err != nil {
		s.releaseFile(ctx, upload.Filename)
		return nil, err
	}
	return img, nil
}

// retainFile takes a reference on a staged upload and makes sure the file is
// on disk. Both happen under the file lock, so a concurrent release of the
// last reference either finishes first or sees this one.
func (s *Service) retainFile(ctx context.Context, upload *storage.Upload) error {
	unlock, err := s.redis.LockFile(ctx, upload.Filename)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.redis.RetainFile(ctx, upload.Filename); err != nil {
		return err
	}
	if err := upload.Commit(); err != nil {
		if _, rerr := s.redis.ReleaseFile(ctx, upload.Filename); rerr != nil {
			slog.Error("Failed to release file", "file", upload.Filename, "error", rerr)
		}
		return err
	}
	return nil
}

// releaseFile drops one reference to a stored upload and removes it from
// disk once nothing references it.
func (s *Service) releaseFile(ctx context.Context, filename string) {
	unlock, err := s.redis.LockFile(ctx, filename)
	if err != nil {
		slog.Error("Failed to lock file", "file", filename, "error", err)
		return
	}
	defer unlock()

	refs, err := s.redis.ReleaseFile(ctx, filename)
	if err != nil {
		slog.Error("Failed to release file", "file", filename, "error", err)
		return
	}
	if refs > 0 {
		return
	}
	if err := s.storage.Remove(filename); err != nil {
		slog.Error("Failed to remove file", "file", filename, "error", err)
	}
}

func (s *Service) GetImage(ctx context.Context, id string) (*model.Image, error) {
	img, err := s.redis.GetImage(ctx, id)
	if err != nil {
		return nil, err
	}
	if img == nil {
		return nil, fmt.Errorf("%w: image %s", ErrNotFound, id)
	}
	return img, nil
}

// GetImages returns the images among ids that still exist, in order.
func (s *Service) GetImages(ctx context.Context, ids []string) ([]*model.Image, error) {
	images := make([]*model.Image, 0, len(ids))
	for _, id := range ids {
		img, err := s.redis.GetImage(ctx, id)
		if err != nil {
			return nil, err
		}
		if img != nil {
			images = append(images, img)
		}
	}
	return images, nil
}

// ListImages pages through gid's images, newest first, optionally filtered
// by a case-insensitive query on name and description.
func (s *Service) ListImages(ctx context.Context, gid, query string, offset, limit int) ([]*model.Image, error) {
	if _, err := s.user(ctx, gid); err != nil {
		return nil, err
	}
	offset, limit = clampPage(offset, limit)
	query = strings.TrimSpace(query)
	if query == "" {
		return s.redis.ListUserImages(ctx, gid, offset, limit)
	}
	return s.redis.SearchImages(ctx, gid, query, offset, limit)
}

func (s *Service) ListCollectionImages(ctx context.Context, id string) ([]*model.Image, error) {
	if _, err := s.GetCollection(ctx, id); err != nil {
		return nil, err
	}
	return s.redis.ListCollectionImages(ctx, id)
}

func (s *Service) UpdateImage(ctx context.Context, actor Actor, id string, in ImageUpdate) (*model.Image, error) {
	actor, err := s.Resolve(ctx, actor)
	if err != nil {
		return nil, err
	}
	img, err := s.GetImage(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.owns(img.UserID) {
		return nil, ErrForbidden
	}

	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			name = model.DefaultImageName
		}
		if err := checkLength("name", name, MaxNameLength); err != nil {
			return nil, err
		}
		img.Name = name
	}
	if in.Description != nil {
		description := strings.TrimSpace(*in.Description)
		if err := checkLength("description", description, MaxTextLength); err != nil {
			return nil, err
		}
		img.Description = description
	}
	if in.CollectionID != nil {
		next := *in.CollectionID
		if next != nil && *next == "" {
			next = nil
		}
		if next != nil && !img.InCollection(*next) {
			if err := s.targetCollection(ctx, next, img.UserID); err != nil {
				return nil, err
			}
		}
		img.CollectionID = next
	}

	prev, err := s.redis.UpdateImage(ctx, img)
	if err != nil {
		return nil, storeError(err)
	}
	metrics.RecordWrite("image")
	s.publish(ctx, model.EventImageUpdated, img, model.ImageTopic(img.ID), model.GalleryTopic(img.User),
		collectionTopic(prev), collectionTopic(img.CollectionID))
	return img, nil
}

func (s *Service) DeleteImage(ctx context.Context, actor Actor, id string) error {
	actor, err := s.Resolve(ctx, actor)
	if err != nil {
		return err
	}
	img, err := s.GetImage(ctx, id)
	if err != nil {
		return err
	}
	if !actor.owns(img.UserID) {
		return ErrForbidden
	}
	return s.deleteImage(ctx, img.ID)
}

// BatchDeleteImages deletes the images in ids the actor may delete and
// returns their ids. Unknown and foreign ids are skipped.
func (s *Service) BatchDeleteImages(ctx context.Context, actor Actor, ids []string) ([]string, error) {
	actor, err := s.Resolve(ctx, actor)
	if err != nil {
		return nil, err
	}
	deleted := []string{}
	for _, id := range ids {
		img, err := s.redis.GetImage(ctx, id)
		if err != nil {
			return deleted, err
		}
		if img == nil || !actor.owns(img.UserID) {
			continue
		}
		err = s.deleteImage(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return deleted, err
		}
		deleted = append(deleted, id)
	}
	return deleted, nil
}

// deleteImage deletes the image as currently stored, so file references and
// events follow the stored document rather than an earlier read.
func (s *Service) deleteImage(ctx context.Context, id string) error {
	img, err := s.redis.DeleteImage(ctx, id)
	if err != nil {
		return storeError(err)
	}
	if img.Filename != "" {
		s.releaseFile(ctx, img.Filename)
	}
	metrics.RecordWrite("image")
	s.publish(ctx, model.EventImageDeleted, map[string]string{"id": img.ID},
		model.ImageTopic(img.ID), model.GalleryTopic(img.User), collectionTopic(img.CollectionID))
	return nil
}
