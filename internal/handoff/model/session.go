package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionState is the lifecycle state of a handoff session.
type SessionState string

const (
	SessionStateActive    SessionState = "active"
	SessionStateCompleted SessionState = "completed"
	SessionStateExpired   SessionState = "expired"
)

// SecretKind is the proximity channel the session secret is delivered over.
type SecretKind string

const (
	SecretKindShortRangeSignal SecretKind = "short-range-signal"
	SecretKindVisualCode       SecretKind = "visual-code"
)

// Valid reports whether k is a known secret kind.
func (k SecretKind) Valid() bool {
	return k == SecretKindShortRangeSignal || k == SecretKindVisualCode
}

// Session is a time-boxed authorization window binding a customer order to a
// single-use proximity secret.
type Session struct {
	ID          uuid.UUID    `json:"id"           db:"id"`
	PrincipalID string       `json:"principal_id" db:"principal_id"`
	SubjectID   string       `json:"subject_id"   db:"subject_id"`
	Secret      string       `json:"-"            db:"secret"` // returned once, at activation
	SecretKind  SecretKind   `json:"secret_kind"  db:"secret_kind"`
	CreatedAt   time.Time    `json:"created_at"   db:"created_at"`
	ExpiresAt   time.Time    `json:"expires_at"   db:"expires_at"`
	State       SessionState `json:"state"        db:"state"`
}

// Expired reports whether the session is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// EffectiveState is the stored state with expiry applied at now.
// It never writes anything back.
func (s *Session) EffectiveState(now time.Time) SessionState {
	if s.State == SessionStateActive && s.Expired(now) {
		return SessionStateExpired
	}
	return s.State
}
