package model

import (
	"encoding/json"
	"time"
)

const (
	EventSnapshot          = "snapshot"
	EventProfileUpdated    = "profile.updated"
	EventCollectionCreated = "collection.created"
	EventCollectionUpdated = "collection.updated"
	EventCollectionDeleted = "collection.deleted"
	EventImageCreated      = "image.created"
	EventImageUpdated      = "image.updated"
	EventImageDeleted      = "image.deleted"
	EventLikeAdded         = "like.added"
	EventLikeRemoved       = "like.removed"
	EventCommentAdded      = "comment.added"
	EventCommentDeleted    = "comment.deleted"
)

// Event is a change notification delivered to topic subscribers.
type Event struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

func GalleryTopic(galleryID string) string       { return "gallery:" + galleryID }
func CollectionTopic(collectionID string) string { return "collection:" + collectionID }
func ImageTopic(imageID string) string           { return "image:" + imageID }

// NewEvent marshals data into an event. A value that cannot be marshalled
// produces an event with no data.
func NewEvent(typ, topic string, data any) Event {
	ev := Event{Type: typ, Topic: topic, Timestamp: time.Now()}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			ev.Data = raw
		}
	}
	return ev
}
