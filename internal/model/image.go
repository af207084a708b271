package model

import "time"

const DefaultImageName = "Untitled Image"

type Image struct {
	ID           string    `json:"id"`                      // uuid
	URL          string    `json:"url"`                     // external or /files/ url
	ThumbnailURL string    `json:"thumbnail_url,omitempty"` // only for uploaded files
	Filename     string    `json:"filename,omitempty"`      // stored upload, empty for url images
	Name         string    `json:"name"`                    // display name
	Description  string    `json:"description"`             // free text
	CollectionID *string   `json:"collection_id"`           // nil when not in a collection
	UserID       string    `json:"user_id"`                 // owner uid
	User         string    `json:"user"`                    // owner gallery id
	LikeCount    int64     `json:"like_count"`              // derived on read
	CommentCount int64     `json:"comment_count"`           // derived on read
	CreatedAt    time.Time `json:"created_at"`
}

// InCollection reports whether the image belongs to collection id.
func (img *Image) InCollection(id string) bool {
	return img.CollectionID != nil && *img.CollectionID == id
}

type Like struct {
	UserID    string    `json:"user_id"`   // liker uid
	UserName  string    `json:"user_name"` // liker gallery id
	CreatedAt time.Time `json:"created_at"`
}

type Comment struct {
	ID        string    `json:"id"`
	ImageID   string    `json:"image_id"`
	UserID    string    `json:"user_id"`
	UserName  string    `json:"user_name"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Gallery is the public view of one user.
type Gallery struct {
	Profile     Profile       `json:"profile"`
	Collections []*Collection `json:"collections"`
	Images      []*Image      `json:"images"`
}
