package model

import "time"

type User struct {
	ID          string    `json:"id"`          // gallery id, public
	UID         string    `json:"uid"`         // internal account id
	Email       string    `json:"email"`       // login email
	Password    string    `json:"password"`    // bcrypt hash
	FirstName   string    `json:"first_name"`  // first name
	LastName    string    `json:"last_name"`   // last name
	Title       string    `json:"title"`       // gallery headline
	Description string    `json:"description"` // gallery description
	IsAdmin     bool      `json:"is_admin"`    // admin flag
	CreatedAt   time.Time `json:"created_at"`  // registration time
}

// Profile is the part of a User that is visible on the public gallery.
type Profile struct {
	ID          string    `json:"id"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

func (u *User) Public() Profile {
	return Profile{
		ID:          u.ID,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		Title:       u.Title,
		Description: u.Description,
		CreatedAt:   u.CreatedAt,
	}
}

// Account is what a user sees about themselves. It never carries the password hash.
type Account struct {
	Profile
	UID     string `json:"uid"`
	Email   string `json:"email"`
	IsAdmin bool   `json:"is_admin"`
}

func (u *User) Account() Account {
	return Account{Profile: u.Public(), UID: u.UID, Email: u.Email, IsAdmin: u.IsAdmin}
}
