package model

import "time"

// Theme holds the gradient classes the frontend paints a collection with.
// The server stores it verbatim.
type Theme struct {
	Primary        string `json:"primary"`
	Secondary      string `json:"secondary"`
	Background     string `json:"background"`
	DarkBackground string `json:"dark_background"`
}

func DefaultTheme() Theme {
	return Theme{
		Primary:        "from-blue-500",
		Secondary:      "to-purple-500",
		Background:     "from-gray-50 via-blue-50 to-indigo-100",
		DarkBackground: "from-gray-900 via-gray-800 to-gray-900",
	}
}

type Collection struct {
	ID          string    `json:"id"`          // uuid
	UserID      string    `json:"user_id"`     // owner uid
	User        string    `json:"user"`        // owner gallery id
	Name        string    `json:"name"`        // display name
	Description string    `json:"description"` // free text
	Theme       Theme     `json:"theme"`       // gradient theme
	ImageCount  int64     `json:"image_count"` // kept in collection:<id>:count
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
