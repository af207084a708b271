package gallery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/notes-bin/crystal/internal/model"
)

type ProfileUpdate struct {
	FirstName   *string `json:"first_name"`
	LastName    *string `json:"last_name"`
	Title       *string `json:"title"`
	Description *string `json:"description"`
}

func (s *Service) user(ctx context.Context, gid string) (*model.User, error) {
	user, err := s.redis.GetUser(ctx, gid)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("%w: gallery %s", ErrNotFound, gid)
	}
	return user, nil
}

func (s *Service) GetProfile(ctx context.Context, gid string) (*model.Profile, error) {
	user, err := s.user(ctx, gid)
	if err != nil {
		return nil, err
	}
	profile := user.Public()
	return &profile, nil
}

func (s *Service) GetAccount(ctx context.Context, actor Actor) (*model.Account, error) {
	user, err := s.resolveUser(ctx, actor)
	if err != nil {
		return nil, err
	}
	account := user.Account()
	return &account, nil
}

// UpdateProfile changes only the fields that are set in in.
func (s *Service) UpdateProfile(ctx context.Context, actor Actor, in ProfileUpdate) (*model.Account, error) {
	user, err := s.resolveUser(ctx, actor)
	if err != nil {
		return nil, err
	}

	fields := []struct {
		name  string
		value *string
		dst   *string
		max   int
	}{
		{"first_name", in.FirstName, &user.FirstName, MaxNameLength},
		{"last_name", in.LastName, &user.LastName, MaxNameLength},
		{"title", in.Title, &user.Title, MaxNameLength},
		{"description", in.Description, &user.Description, MaxTextLength},
	}
	for _, f := range fields {
		if f.value == nil {
			continue
		}
		v := strings.TrimSpace(*f.value)
		if err := checkLength(f.name, v, f.max); err != nil {
			return nil, err
		}
		*f.dst = v
	}

	if err := s.redis.SaveUser(ctx, user); err != nil {
		return nil, err
	}
	s.publish(ctx, model.EventProfileUpdated, user.Public(), model.GalleryTopic(user.ID))
	account := user.Account()
	return &account, nil
}

// GetGallery returns the public view of gid: profile, every collection and
// the most recent images.
func (s *Service) GetGallery(ctx context.Context, gid string) (*model.Gallery, error) {
	user, err := s.user(ctx, gid)
	if err != nil {
		return nil, err
	}
	collections, err := s.redis.ListCollections(ctx, gid)
	if err != nil {
		return nil, err
	}
	images, err := s.redis.ListUserImages(ctx, gid, 0, galleryImageSize)
	if err != nil {
		return nil, err
	}
	return &model.Gallery{Profile: user.Public(), Collections: collections, Images: images}, nil
}

func (s *Service) ListAccounts(ctx context.Context) ([]model.Account, error) {
	ids, err := s.redis.ListUserIDs(ctx)
	if err != nil {
		return nil, err
	}
	accounts := make([]model.Account, 0, len(ids))
	for _, id := range ids {
		user, err := s.redis.GetUser(ctx, id)
		if err != nil {
			return nil, err
		}
		if user == nil {
			continue
		}
		accounts = append(accounts, user.Account())
	}
	return accounts, nil
}

// DeleteAccount removes gid with all of its collections and images. Users
// may delete themselves; admins may delete anyone except other admins.
func (s *Service) DeleteAccount(ctx context.Context, actor Actor, gid string) error {
	actor, err := s.Resolve(ctx, actor)
	if err != nil {
		return err
	}
	if actor.UserID != gid && !actor.IsAdmin {
		return ErrForbidden
	}
	user, err := s.user(ctx, gid)
	if err != nil {
		return err
	}
	if user.IsAdmin {
		return fmt.Errorf("%w: admin accounts cannot be deleted", ErrForbidden)
	}

	collections, err := s.redis.ListCollections(ctx, gid)
	if err != nil {
		return err
	}
	for _, col := range collections {
		if err := s.deleteCollection(ctx, col); err != nil {
			return err
		}
	}
	images, err := s.redis.ListUserImages(ctx, gid, 0, 0)
	if err != nil {
		return err
	}
	for _, img := range images {
		if err := s.deleteImage(ctx, img.ID); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	if err := s.redis.DeleteUser(ctx, user); err != nil {
		return err
	}
	slog.Info("Account deleted", "gallery_id", gid, "by", actor.UserID)
	return nil
}

// RecountAll resets every collection counter from its membership index and
// returns how many had drifted.
func (s *Service) RecountAll(ctx context.Context) (int, error) {
	ids, err := s.redis.ListUserIDs(ctx)
	if err != nil {
		return 0, err
	}
	fixed := 0
	for _, gid := range ids {
		collections, err := s.redis.ListCollections(ctx, gid)
		if err != nil {
			return fixed, err
		}
		for _, col := range collections {
			drifted, err := s.redis.RecountCollection(ctx, col.ID)
			if err != nil {
				return fixed, err
			}
			if drifted {
				slog.Warn("Collection counter repaired", "collection_id", col.ID, "stored", col.ImageCount)
				fixed++
			}
		}
	}
	return fixed, nil
}
