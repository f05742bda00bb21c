package model

import (
	"time"

	"github.com/google/uuid"
)

// Session is the server-side half of a login; the cookie only references it
type Session struct {
	ID        string    `json:"id" db:"id"`
	UserID    uuid.UUID `json:"userId" db:"user_id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	ExpiresAt time.Time `json:"expiresAt" db:"expires_at"`
}

func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
