package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jmerrifield20/handoff/internal/handoff/model"
)

const eventColumns = `id, session_id, subject_id, principal_id, actor_id, secret_hash, challenge_nonce,
	proof_message, signature, evidence_hashes, proof_timestamp, received_at,
	anchor_hash, COALESCE(ledger_ref, ''), anchored_at, state, anchor_attempts,
	COALESCE(last_anchor_error, ''), next_anchor_at`

// CompleteProof atomically consumes the challenge, completes the session and
// inserts the minted event. Either all three writes land or none does.
func (r *PostgresStore) CompleteProof(ctx context.Context, challengeID uuid.UUID, ev *model.DeliveryEvent) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := markChallengeUsed(ctx, tx, challengeID); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx,
		`UPDATE sessions SET state = 'completed' WHERE id = $1 AND state = 'active'`, ev.SessionID,
	)
	if err != nil {
		return fmt.Errorf("complete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotActive
	}

	if err := insertEvent(ctx, tx, ev); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// CreateDeliveryEvent inserts an event outside the proof transaction.
func (r *PostgresStore) CreateDeliveryEvent(ctx context.Context, ev *model.DeliveryEvent) error {
	return insertEvent(ctx, r.db, ev)
}

func insertEvent(ctx context.Context, db execer, ev *model.DeliveryEvent) error {
	evidence := ev.EvidenceHashes
	if evidence == nil {
		evidence = []string{}
	}
	_, err := db.Exec(ctx,
		`INSERT INTO delivery_events
		   (id, session_id, subject_id, principal_id, actor_id, secret_hash, challenge_nonce,
		    proof_message, signature, evidence_hashes, proof_timestamp, received_at,
		    anchor_hash, state, anchor_attempts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, 0)`,
		ev.ID, ev.SessionID, ev.SubjectID, ev.PrincipalID, ev.ActorID, ev.SecretHash, ev.ChallengeNonce,
		ev.ProofMessage, ev.Signature, evidence, ev.ProofTimestamp, ev.ReceivedAt,
		ev.AnchorHash, ev.State,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("insert delivery event: %w", err)
	}
	return nil
}

// GetDeliveryEvent returns an event by ID.
func (r *PostgresStore) GetDeliveryEvent(ctx context.Context, id uuid.UUID) (*model.DeliveryEvent, error) {
	ev, err := scanEvent(r.db.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM delivery_events WHERE id = $1`, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get delivery event: %w", err)
	}
	return ev, nil
}

// UpdateEventAnchor records a successful anchoring. Only the anchoring
// bookkeeping columns are written.
func (r *PostgresStore) UpdateEventAnchor(ctx context.Context, id uuid.UUID, ledgerRef string, anchoredAt time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE delivery_events
		 SET ledger_ref = $2, anchored_at = $3, state = 'anchored',
		     last_anchor_error = NULL, next_anchor_at = NULL
		 WHERE id = $1`, id, ledgerRef, anchoredAt,
	)
	if err != nil {
		return fmt.Errorf("update event anchor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordAnchorFailure stores a failed anchoring attempt and when to retry.
func (r *PostgresStore) RecordAnchorFailure(ctx context.Context, id uuid.UUID, attempts int, lastErr string, nextAt time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE delivery_events
		 SET state = 'anchor_failed', anchor_attempts = $2, last_anchor_error = $3, next_anchor_at = $4
		 WHERE id = $1 AND state <> 'anchored'`, id, attempts, lastErr, nextAt,
	)
	if err != nil {
		return fmt.Errorf("record anchor failure: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListAnchorDue returns unanchored events whose retry time has passed and
// whose attempt count is below maxAttempts, oldest first.
func (r *PostgresStore) ListAnchorDue(ctx context.Context, now time.Time, maxAttempts, limit int) ([]*model.DeliveryEvent, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+eventColumns+` FROM delivery_events
		 WHERE state <> 'anchored'
		   AND anchor_attempts < $2
		   AND (next_anchor_at IS NULL OR next_anchor_at <= $1)
		 ORDER BY received_at ASC
		 LIMIT $3`, now, maxAttempts, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list anchor due: %w", err)
	}
	defer rows.Close()

	var out []*model.DeliveryEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan delivery event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func scanEvent(row pgx.Row) (*model.DeliveryEvent, error) {
	ev := &model.DeliveryEvent{}
	err := row.Scan(
		&ev.ID, &ev.SessionID, &ev.SubjectID, &ev.PrincipalID, &ev.ActorID, &ev.SecretHash, &ev.ChallengeNonce,
		&ev.ProofMessage, &ev.Signature, &ev.EvidenceHashes, &ev.ProofTimestamp, &ev.ReceivedAt,
		&ev.AnchorHash, &ev.LedgerRef, &ev.AnchoredAt, &ev.State, &ev.AnchorAttempts,
		&ev.LastAnchorError, &ev.NextAnchorAt,
	)
	if err != nil {
		return nil, err
	}
	ev.ProofTimestamp = ev.ProofTimestamp.UTC()
	ev.ReceivedAt = ev.ReceivedAt.UTC()
	if ev.AnchoredAt != nil {
		t := ev.AnchoredAt.UTC()
		ev.AnchoredAt = &t
	}
	if ev.NextAnchorAt != nil {
		t := ev.NextAnchorAt.UTC()
		ev.NextAnchorAt = &t
	}
	if len(ev.EvidenceHashes) == 0 {
		ev.EvidenceHashes = nil
	}
	return ev, nil
}
