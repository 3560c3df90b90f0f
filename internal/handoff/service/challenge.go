package service

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/handoff/internal/handoff/model"
	"github.com/jmerrifield20/handoff/internal/handoff/repository"
	"go.uber.org/zap"
)

// nonceBytes is the entropy of a challenge nonce (128 bits).
const nonceBytes = 16

// challengeStore is the storage interface required by ChallengeService.
type challengeStore interface {
	GetSession(ctx context.Context, id uuid.UUID) (*model.Session, error)
	CreateChallenge(ctx context.Context, ch *model.Challenge) error
	GetLatestUnusedChallenge(ctx context.Context, sessionID uuid.UUID, actorID string) (*model.Challenge, error)
}

// activeKeyLookup resolves an actor to its active key.
// *IdentityService satisfies it.
type activeKeyLookup interface {
	ActiveKey(ctx context.Context, actorID string) (*model.Identity, crypto.PublicKey, error)
}

// ChallengeService issues single-use nonces scoped to a session and actor.
type ChallengeService struct {
	store      challengeStore
	identities activeKeyLookup
	policy     Policy
	logger     *zap.Logger
	recorder   Recorder
	now        clock
}

// NewChallengeService creates a ChallengeService.
func NewChallengeService(store challengeStore, identities activeKeyLookup, policy Policy, logger *zap.Logger) *ChallengeService {
	return &ChallengeService{
		store:      store,
		identities: identities,
		policy:     policy,
		logger:     logger,
		recorder:   nopRecorder{},
		now:        systemClock,
	}
}

// SetRecorder installs a metrics recorder.
func (s *ChallengeService) SetRecorder(r Recorder) { s.recorder = r }

// SetClock overrides the time source. Intended for tests.
func (s *ChallengeService) SetClock(now func() time.Time) { s.now = now }

// Issue creates a challenge for actorID on the session. Earlier unused
// challenges for the same pair are left untouched; only the latest is
// accepted by the verifier.
func (s *ChallengeService) Issue(ctx context.Context, sessionID uuid.UUID, actorID string) (*model.Challenge, error) {
	if err := checkID("actor_id", actorID); err != nil {
		return nil, err
	}

	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	now := s.now()
	if err := checkSession(sess, now); err != nil {
		return nil, err
	}

	if _, _, err := s.identities.ActiveKey(ctx, actorID); err != nil {
		return nil, err
	}

	nonce, err := randomToken(nonceBytes)
	if err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	ch := &model.Challenge{
		ID:        uuid.New(),
		SessionID: sess.ID,
		ActorID:   actorID,
		Nonce:     nonce,
		CreatedAt: now,
		ExpiresAt: now.Add(s.policy.ChallengeTTL),
	}
	if err := s.store.CreateChallenge(ctx, ch); err != nil {
		return nil, fmt.Errorf("persist challenge: %w", err)
	}

	s.recorder.ChallengeIssued()
	s.logger.Info("challenge issued",
		zap.String("session_id", sess.ID.String()),
		zap.String("actor_id", actorID),
		zap.String("challenge_id", ch.ID.String()),
		zap.Time("expires_at", ch.ExpiresAt),
	)
	return ch, nil
}

// LatestUnused returns the most recently issued unused challenge for the
// pair, whether or not it has expired.
func (s *ChallengeService) LatestUnused(ctx context.Context, sessionID uuid.UUID, actorID string) (*model.Challenge, error) {
	ch, err := s.store.GetLatestUnusedChallenge(ctx, sessionID, actorID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("get latest challenge: %w", err)
	}
	return ch, nil
}
