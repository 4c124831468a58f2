package store

import "time"

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	Fullname     string    `json:"fullname"`
	PasswordHash *string   `json:"-"`
	GoogleID     *string   `json:"-"`
	Picture      string    `json:"picture"`
	Roles        []string  `json:"roles"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Session is a raw row of the sessions table. Data is the JSON payload as stored.
// A nil ExpiresAt never expires.
type Session struct {
	ID        string     `json:"id"`
	ExpiresAt *time.Time `json:"expiresAt"`
	Data      []byte     `json:"data"`
}

func (s *Session) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && !s.ExpiresAt.After(now)
}
