package model

import (
	"time"

	"github.com/google/uuid"
)

// Challenge is a one-time nonce issued to an actor for a session.
type Challenge struct {
	ID        uuid.UUID `json:"id"         db:"id"`
	SessionID uuid.UUID `json:"session_id" db:"session_id"`
	ActorID   string    `json:"actor_id"   db:"actor_id"`
	Nonce     string    `json:"nonce"      db:"nonce"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
	Used      bool      `json:"used"       db:"used"`
}

// Expired reports whether the challenge window has closed at now.
func (c *Challenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
