package model

import "time"

// User is read-only from the allocation engine's point of view.
type User struct {
	UserID    string    `json:"user_id"`
	Interests []string  `json:"interested_topics"`
	CreatedAt time.Time `json:"created_at"`
}

// Clone returns a deep copy.
func (u *User) Clone() *User {
	cp := *u
	cp.Interests = append([]string(nil), u.Interests...)
	return &cp
}
