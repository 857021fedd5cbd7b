package model

import "time"

// User is the profile the dispatcher needs about a recipient. IDs are
// the messaging platform's openid-style strings, not UUIDs.
type User struct {
	ID        string    `json:"id" db:"id"`
	Nickname  string    `json:"nickname" db:"nickname"`
	Subscribe bool      `json:"subscribe" db:"subscribe"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// DisplayName returns the nickname, or the raw id when unset.
func (u *User) DisplayName() string {
	if u.Nickname != "" {
		return u.Nickname
	}
	return u.ID
}
