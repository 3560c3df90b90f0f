// Package repository persists sessions, challenges, identities and delivery
// events. PostgresStore is the production store; MemoryStore serves tests and
// single-process development. Both hand back exactly what was written.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/handoff/internal/handoff/model"
)

// Sentinel errors shared by every store implementation.
var (
	ErrNotFound         = errors.New("record not found")
	ErrConflict         = errors.New("record already exists")
	ErrChallengeUsed    = errors.New("challenge already used")
	ErrSessionNotActive = errors.New("session is not active")
)

// Timestamp normalises t to the precision and zone the database keeps, so a
// record reads back byte-for-byte equal to what was written.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// Store is the full persistence surface. Services depend on narrower slices
// of it.
type Store interface {
	CreateSession(ctx context.Context, s *model.Session) error
	GetSession(ctx context.Context, id uuid.UUID) (*model.Session, error)
	SetSessionState(ctx context.Context, id uuid.UUID, from, to model.SessionState) error
	ExpireSessions(ctx context.Context, now time.Time) (int64, error)

	CreateChallenge(ctx context.Context, ch *model.Challenge) error
	GetLatestUnusedChallenge(ctx context.Context, sessionID uuid.UUID, actorID string) (*model.Challenge, error)
	MarkChallengeUsed(ctx context.Context, id uuid.UUID) error
	GetChallengeByNonce(ctx context.Context, nonce string) (*model.Challenge, error)

	RegisterIdentity(ctx context.Context, id *model.Identity) error
	GetIdentity(ctx context.Context, actorID string) (*model.Identity, error)
	RevokeIdentity(ctx context.Context, actorID string) error

	// CompleteProof marks the challenge used, completes its session and
	// inserts ev atomically.
	CompleteProof(ctx context.Context, challengeID uuid.UUID, ev *model.DeliveryEvent) error
	CreateDeliveryEvent(ctx context.Context, ev *model.DeliveryEvent) error
	GetDeliveryEvent(ctx context.Context, id uuid.UUID) (*model.DeliveryEvent, error)
	UpdateEventAnchor(ctx context.Context, id uuid.UUID, ledgerRef string, anchoredAt time.Time) error
	RecordAnchorFailure(ctx context.Context, id uuid.UUID, attempts int, lastErr string, nextAt time.Time) error
	ListAnchorDue(ctx context.Context, now time.Time, maxAttempts, limit int) ([]*model.DeliveryEvent, error)
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
