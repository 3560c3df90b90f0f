package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/handoff/internal/handoff/model"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// PostgresStore provides persistence for the handoff state machine.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore backed by the given pool.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// ── Sessions ────────────────────────────────────────────────────────────────

// CreateSession inserts a new session.
func (r *PostgresStore) CreateSession(ctx context.Context, s *model.Session) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO sessions (id, principal_id, subject_id, secret, secret_kind, created_at, expires_at, state)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.ID, s.PrincipalID, s.SubjectID, s.Secret, s.SecretKind, s.CreatedAt, s.ExpiresAt, s.State,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession returns a session by ID.
func (r *PostgresStore) GetSession(ctx context.Context, id uuid.UUID) (*model.Session, error) {
	s := &model.Session{}
	err := r.db.QueryRow(ctx,
		`SELECT id, principal_id, subject_id, secret, secret_kind, created_at, expires_at, state
		 FROM sessions WHERE id = $1`, id,
	).Scan(&s.ID, &s.PrincipalID, &s.SubjectID, &s.Secret, &s.SecretKind, &s.CreatedAt, &s.ExpiresAt, &s.State)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	s.CreatedAt = s.CreatedAt.UTC()
	s.ExpiresAt = s.ExpiresAt.UTC()
	return s, nil
}

// SetSessionState moves a session from one state to another. It fails with
// ErrSessionNotActive when the session is no longer in the from state.
func (r *PostgresStore) SetSessionState(ctx context.Context, id uuid.UUID, from, to model.SessionState) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE sessions SET state = $3 WHERE id = $1 AND state = $2`, id, from, to,
	)
	if err != nil {
		return fmt.Errorf("set session state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetSession(ctx, id); err != nil {
			return err
		}
		return ErrSessionNotActive
	}
	return nil
}

// ExpireSessions marks every active session past its expiry as expired and
// returns the number of rows changed.
func (r *PostgresStore) ExpireSessions(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE sessions SET state = 'expired' WHERE state = 'active' AND expires_at < $1`, now,
	)
	if err != nil {
		return 0, fmt.Errorf("expire sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ── Challenges ──────────────────────────────────────────────────────────────

// CreateChallenge inserts a new unused challenge.
func (r *PostgresStore) CreateChallenge(ctx context.Context, ch *model.Challenge) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO challenges (id, session_id, actor_id, nonce, created_at, expires_at, used)
		 VALUES ($1, $2, $3, $4, $5, $6, false)`,
		ch.ID, ch.SessionID, ch.ActorID, ch.Nonce, ch.CreatedAt, ch.ExpiresAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert challenge: %w", err)
	}
	return nil
}

// GetLatestUnusedChallenge returns the most recently issued unused challenge
// for the session+actor pair, expired or not.
func (r *PostgresStore) GetLatestUnusedChallenge(ctx context.Context, sessionID uuid.UUID, actorID string) (*model.Challenge, error) {
	ch := &model.Challenge{}
	err := r.db.QueryRow(ctx,
		`SELECT id, session_id, actor_id, nonce, created_at, expires_at, used
		 FROM challenges
		 WHERE session_id = $1 AND actor_id = $2 AND used = false
		 ORDER BY seq DESC
		 LIMIT 1`, sessionID, actorID,
	).Scan(&ch.ID, &ch.SessionID, &ch.ActorID, &ch.Nonce, &ch.CreatedAt, &ch.ExpiresAt, &ch.Used)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get latest unused challenge: %w", err)
	}
	ch.CreatedAt = ch.CreatedAt.UTC()
	ch.ExpiresAt = ch.ExpiresAt.UTC()
	return ch, nil
}

// GetChallengeByNonce returns the challenge that issued nonce, used or not.
func (r *PostgresStore) GetChallengeByNonce(ctx context.Context, nonce string) (*model.Challenge, error) {
	ch := &model.Challenge{}
	err := r.db.QueryRow(ctx,
		`SELECT id, session_id, actor_id, nonce, created_at, expires_at, used
		 FROM challenges
		 WHERE nonce = $1`, nonce,
	).Scan(&ch.ID, &ch.SessionID, &ch.ActorID, &ch.Nonce, &ch.CreatedAt, &ch.ExpiresAt, &ch.Used)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get challenge by nonce: %w", err)
	}
	ch.CreatedAt = ch.CreatedAt.UTC()
	ch.ExpiresAt = ch.ExpiresAt.UTC()
	return ch, nil
}

// MarkChallengeUsed flips used to true only if it is still false.
func (r *PostgresStore) MarkChallengeUsed(ctx context.Context, id uuid.UUID) error {
	return markChallengeUsed(ctx, r.db, id)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func markChallengeUsed(ctx context.Context, db execer, id uuid.UUID) error {
	tag, err := db.Exec(ctx,
		`UPDATE challenges SET used = true, used_at = now() WHERE id = $1 AND used = false`, id,
	)
	if err != nil {
		return fmt.Errorf("mark challenge used: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrChallengeUsed
	}
	return nil
}

// ── Identities ──────────────────────────────────────────────────────────────

// RegisterIdentity inserts an actor identity. Duplicate actor IDs yield ErrConflict.
func (r *PostgresStore) RegisterIdentity(ctx context.Context, id *model.Identity) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO identities (actor_id, public_key, key_kind, registered_at, status)
		 VALUES ($1, $2, $3, $4, $5)`,
		id.ActorID, id.PublicKey, id.KeyKind, id.RegisteredAt, id.Status,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert identity: %w", err)
	}
	return nil
}

// GetIdentity returns the identity registered for actorID.
func (r *PostgresStore) GetIdentity(ctx context.Context, actorID string) (*model.Identity, error) {
	id := &model.Identity{}
	err := r.db.QueryRow(ctx,
		`SELECT actor_id, public_key, key_kind, registered_at, status
		 FROM identities WHERE actor_id = $1`, actorID,
	).Scan(&id.ActorID, &id.PublicKey, &id.KeyKind, &id.RegisteredAt, &id.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get identity: %w", err)
	}
	id.RegisteredAt = id.RegisteredAt.UTC()
	return id, nil
}

// RevokeIdentity sets the identity status to revoked. The key is untouched.
func (r *PostgresStore) RevokeIdentity(ctx context.Context, actorID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE identities SET status = 'revoked' WHERE actor_id = $1`, actorID,
	)
	if err != nil {
		return fmt.Errorf("revoke identity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
