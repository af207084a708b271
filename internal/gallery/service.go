// Package gallery implements the gallery operations on top of the Redis
// store: ownership checks, validation, file bookkeeping and change events.
package gallery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/notes-bin/crystal/internal/model"
	"github.com/notes-bin/crystal/internal/redis"
	"github.com/notes-bin/crystal/internal/storage"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalid      = errors.New("invalid input")
	ErrUnauthorized = errors.New("account no longer exists")
)

const (
	MaxNameLength    = 100
	MaxTextLength    = 1000
	DefaultPageSize  = 50
	MaxPageSize      = 100
	galleryImageSize = 100
)

// Actor is the authenticated user performing an operation.
type Actor struct {
	UserID  string // gallery id
	UID     string
	IsAdmin bool
}

func (a Actor) owns(uid string) bool {
	return a.IsAdmin || a.UID == uid
}

// resolveUser loads the account behind actor. A token outliving its account,
// or naming a gallery id that was registered again since, gets ErrUnauthorized.
func (s *Service) resolveUser(ctx context.Context, actor Actor) (*model.User, error) {
	user, err := s.redis.GetUser(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil || user.UID != actor.UID {
		return nil, ErrUnauthorized
	}
	return user, nil
}

// Resolve checks actor against the stored account and returns it with the
// stored admin flag.
func (s *Service) Resolve(ctx context.Context, actor Actor) (Actor, error) {
	user, err := s.resolveUser(ctx, actor)
	if err != nil {
		return Actor{}, err
	}
	actor.IsAdmin = user.IsAdmin
	return actor, nil
}

// Publisher delivers change events to subscribers.
type Publisher interface {
	Publish(ctx context.Context, ev model.Event) error
}

type Service struct {
	redis     *redis.Client
	storage   *storage.Storage
	publisher Publisher
	publicURL string
}

func NewService(redis *redis.Client, storage *storage.Storage, publisher Publisher, publicURL string) *Service {
	return &Service{
		redis:     redis,
		storage:   storage,
		publisher: publisher,
		publicURL: strings.TrimRight(publicURL, "/"),
	}
}

// publish sends one event per topic. Failures are logged only.
func (s *Service) publish(ctx context.Context, typ string, data any, topics ...string) {
	if s.publisher == nil {
		return
	}
	seen := make(map[string]bool, len(topics))
	for _, topic := range topics {
		if topic == "" || seen[topic] {
			continue
		}
		seen[topic] = true
		if err := s.publisher.Publish(ctx, model.NewEvent(typ, topic, data)); err != nil {
			slog.Error("Failed to publish event", "type", typ, "topic", topic, "error", err)
		}
	}
}

func collectionTopic(id *string) string {
	if id == nil {
		return ""
	}
	return model.CollectionTopic(*id)
}

func checkLength(field, value string, max int) error {
	if utf8.RuneCountInString(value) > max {
		return fmt.Errorf("%w: %s must be at most %d characters", ErrInvalid, field, max)
	}
	return nil
}

func clampPage(offset, limit int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return offset, limit
}

// storeError maps store sentinels onto service errors.
func storeError(err error) error {
	switch {
	case errors.Is(err, redis.ErrCollectionNotFound):
		return fmt.Errorf("%w: collection", ErrNotFound)
	case errors.Is(err, redis.ErrImageNotFound):
		return fmt.Errorf("%w: image", ErrNotFound)
	case errors.Is(err, redis.ErrCollectionNotEmpty):
		return fmt.Errorf("%w: %w", redis.ErrConflict, err)
	}
	return err
}
