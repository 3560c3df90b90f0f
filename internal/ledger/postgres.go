package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// advisoryLockKey serialises concurrent SubmitAnchor calls across every
// process sharing the database.
const advisoryLockKey = int64(1_159_876_544)

const entryColumns = `idx, timestamp, anchor_hash, correlation_id, prev_hash, hash`

// PostgresLedger persists the anchor chain to the anchor_ledger table. The
// genesis row is inserted by the schema migration.
type PostgresLedger struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresLedger creates a PostgresLedger backed by the given pool.
func NewPostgresLedger(pool *pgxpool.Pool, logger *zap.Logger) *PostgresLedger {
	return &PostgresLedger{pool: pool, logger: logger}
}

// SubmitAnchor implements Anchorer. Under a transaction-scoped advisory lock
// it returns the existing entry for anchorHash or appends a new one.
func (l *PostgresLedger) SubmitAnchor(ctx context.Context, anchorHash, correlationID string) (*Entry, error) {
	if err := validateAnchor(anchorHash); err != nil {
		return nil, err
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx: %w", ErrUnavailable, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return nil, fmt.Errorf("%w: acquire advisory lock: %w", ErrUnavailable, err)
	}

	existing, err := scanEntry(tx.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM anchor_ledger WHERE anchor_hash = $1 AND idx > 0`, anchorHash,
	))
	switch {
	case err == nil:
		return existing, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return nil, fmt.Errorf("%w: lookup anchor: %w", ErrUnavailable, err)
	}

	prev, err := scanEntry(tx.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM anchor_ledger ORDER BY idx DESC LIMIT 1`,
	))
	if err != nil {
		return nil, fmt.Errorf("%w: read ledger tail: %w", ErrUnavailable, err)
	}

	entry := chain(prev, anchorHash, correlationID, now())
	if _, err := tx.Exec(ctx,
		`INSERT INTO anchor_ledger (`+entryColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.Index, entry.Timestamp, entry.AnchorHash, entry.CorrelationID, entry.PrevHash, entry.Hash,
	); err != nil {
		return nil, fmt.Errorf("%w: insert ledger entry: %w", ErrUnavailable, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: commit ledger tx: %w", ErrUnavailable, err)
	}

	l.logger.Debug("anchor appended",
		zap.Int("idx", entry.Index),
		zap.String("anchor_hash", entry.AnchorHash),
		zap.String("correlation_id", entry.CorrelationID),
	)
	return entry, nil
}

// IsAnchored implements Anchorer.
func (l *PostgresLedger) IsAnchored(ctx context.Context, anchorHash string) (bool, error) {
	if err := validateAnchor(anchorHash); err != nil {
		return false, err
	}
	var exists bool
	if err := l.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM anchor_ledger WHERE anchor_hash = $1 AND idx > 0)`, anchorHash,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("%w: check anchor: %w", ErrUnavailable, err)
	}
	return exists, nil
}

// Lookup implements Ledger.
func (l *PostgresLedger) Lookup(ctx context.Context, anchorHash string) (*Entry, error) {
	e, err := scanEntry(l.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM anchor_ledger WHERE anchor_hash = $1 AND idx > 0`, anchorHash,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: lookup anchor: %w", ErrUnavailable, err)
	}
	return e, nil
}

// Get implements Ledger.
func (l *PostgresLedger) Get(ctx context.Context, index int) (*Entry, error) {
	e, err := scanEntry(l.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM anchor_ledger WHERE idx = $1`, index,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: index %d", ErrNotFound, index)
		}
		return nil, fmt.Errorf("get ledger entry %d: %w", index, err)
	}
	return e, nil
}

// Len implements Ledger.
func (l *PostgresLedger) Len(ctx context.Context) (int, error) {
	var n int
	if err := l.pool.QueryRow(ctx, "SELECT COUNT(*) FROM anchor_ledger").Scan(&n); err != nil {
		return 0, fmt.Errorf("count ledger entries: %w", err)
	}
	return n, nil
}

// Verify implements Ledger. It streams all rows ordered by idx and validates
// the hash chain. O(n) in ledger length.
func (l *PostgresLedger) Verify(ctx context.Context) error {
	rows, err := l.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM anchor_ledger ORDER BY idx ASC`,
	)
	if err != nil {
		return fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	var prev *Entry
	for rows.Next() {
		curr, err := scanEntry(rows)
		if err != nil {
			return fmt.Errorf("scan ledger row: %w", err)
		}
		if prev == nil {
			if curr.Hash != GenesisHash {
				return fmt.Errorf("genesis entry has wrong hash: got %q", curr.Hash)
			}
		} else if err := verifyLink(prev, curr); err != nil {
			return err
		}
		prev = curr
	}
	return rows.Err()
}

// Root implements Ledger.
func (l *PostgresLedger) Root(ctx context.Context) (string, error) {
	var hash string
	if err := l.pool.QueryRow(ctx,
		"SELECT hash FROM anchor_ledger ORDER BY idx DESC LIMIT 1",
	).Scan(&hash); err != nil {
		return "", fmt.Errorf("get ledger root: %w", err)
	}
	return hash, nil
}

func scanEntry(row pgx.Row) (*Entry, error) {
	e := &Entry{}
	if err := row.Scan(&e.Index, &e.Timestamp, &e.AnchorHash, &e.CorrelationID, &e.PrevHash, &e.Hash); err != nil {
		return nil, err
	}
	e.Timestamp = e.Timestamp.UTC()
	return e, nil
}
