package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/handoff/internal/handoff/model"
	"github.com/jmerrifield20/handoff/internal/handoff/repository"
	"go.uber.org/zap"
)

// secretBytes is the entropy of a session secret (256 bits).
const secretBytes = 32

// sessionStore is the storage interface required by SessionService.
type sessionStore interface {
	CreateSession(ctx context.Context, s *model.Session) error
	GetSession(ctx context.Context, id uuid.UUID) (*model.Session, error)
	ExpireSessions(ctx context.Context, now time.Time) (int64, error)
}

// SessionService owns the session lifecycle.
type SessionService struct {
	store    sessionStore
	policy   Policy
	logger   *zap.Logger
	recorder Recorder
	now      clock
}

// NewSessionService creates a SessionService.
func NewSessionService(store sessionStore, policy Policy, logger *zap.Logger) *SessionService {
	return &SessionService{
		store:    store,
		policy:   policy,
		logger:   logger,
		recorder: nopRecorder{},
		now:      systemClock,
	}
}

// SetRecorder installs a metrics recorder.
func (s *SessionService) SetRecorder(r Recorder) { s.recorder = r }

// SetClock overrides the time source. Intended for tests.
func (s *SessionService) SetClock(now func() time.Time) { s.now = now }

// Activate opens a session for (principalID, subjectID) valid for ttl and
// returns it with its secret. The secret is only ever returned here.
func (s *SessionService) Activate(ctx context.Context, principalID, subjectID string, ttl time.Duration, kind model.SecretKind) (*model.Session, error) {
	if err := checkID("principal_id", principalID); err != nil {
		return nil, err
	}
	if err := checkID("subject_id", subjectID); err != nil {
		return nil, err
	}
	if ttl <= 0 || ttl > s.policy.MaxSessionTTL {
		return nil, fmt.Errorf("%w: ttl must be in (0, %s]", ErrInvalidInput, s.policy.MaxSessionTTL)
	}
	if kind == "" {
		kind = model.SecretKindShortRangeSignal
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown secret_kind %q", ErrInvalidInput, kind)
	}

	// A collision on id or secret is cryptographically negligible; the store
	// still rejects one, and a fresh draw is taken.
	var sess *model.Session
	for attempt := 0; attempt < 3; attempt++ {
		secret, err := randomToken(secretBytes)
		if err != nil {
			return nil, fmt.Errorf("generate secret: %w", err)
		}
		now := s.now()
		sess = &model.Session{
			ID:          uuid.New(),
			PrincipalID: principalID,
			SubjectID:   subjectID,
			Secret:      secret,
			SecretKind:  kind,
			CreatedAt:   now,
			ExpiresAt:   now.Add(ttl),
			State:       model.SessionStateActive,
		}
		err = s.store.CreateSession(ctx, sess)
		if err == nil {
			break
		}
		if !errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("persist session: %w", err)
		}
		sess = nil
	}
	if sess == nil {
		return nil, errors.New("could not allocate a unique session")
	}

	s.recorder.SessionActivated(kind)
	s.logger.Info("session activated",
		zap.String("session_id", sess.ID.String()),
		zap.String("principal_id", principalID),
		zap.String("subject_id", subjectID),
		zap.Time("expires_at", sess.ExpiresAt),
	)
	return sess, nil
}

// Lookup returns the stored session. It never writes; use
// Session.EffectiveState to apply expiry.
func (s *SessionService) Lookup(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// ExpireStale persists the expired state for active sessions past expiry.
func (s *SessionService) ExpireStale(ctx context.Context) (int64, error) {
	n, err := s.store.ExpireSessions(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("expire sessions: %w", err)
	}
	if n > 0 {
		s.logger.Info("expired stale sessions", zap.Int64("count", n))
	}
	return n, nil
}

// RunSweeper calls ExpireStale every interval until ctx is cancelled.
func (s *SessionService) RunSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.ExpireStale(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("session sweep failed", zap.Error(err))
			}
		}
	}
}

// checkSession applies the usability rules shared by challenge issuance and
// proof verification.
func checkSession(sess *model.Session, now time.Time) error {
	switch sess.EffectiveState(now) {
	case model.SessionStateActive:
		return nil
	case model.SessionStateExpired:
		return ErrSessionExpired
	default:
		return ErrSessionNotActive
	}
}

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
