// Package ledger implements the append-only anchor ledger that delivery event
// hashes are committed to.
//
// The chain begins with a well-known genesis entry whose Hash equals
// GenesisHash (64 hex zeros). Every subsequent entry records one anchor hash
// and the SHA-256 of its predecessor, so any rewrite of history is detectable
// via Verify. Submitting the same anchor hash twice returns the entry created
// the first time.
//
// Implementations:
//   - MemoryLedger: in-process, for testing and development.
//   - PostgresLedger: durable, serialised with an advisory lock.
//   - RedisLedger: durable, serialised with optimistic WATCH transactions.
//   - Client: a remote ledger reached over gRPC (see Server).
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmerrifield20/handoff/pkg/eventhash"
)

var (
	// ErrNotFound is returned when no entry exists for an index or anchor hash.
	ErrNotFound = errors.New("ledger entry not found")
	// ErrInvalidAnchor is returned for anchor hashes that are not "sha256:<hex>".
	ErrInvalidAnchor = errors.New("invalid anchor hash")
	// ErrUnavailable wraps transport and storage failures.
	ErrUnavailable = errors.New("ledger unavailable")
)

//go:generate mockgen -destination=mocks/mocks.go -package=mocks . Anchorer

// Anchorer is the narrow surface the anchoring service depends on.
type Anchorer interface {
	// SubmitAnchor records anchorHash and returns its entry. Idempotent.
	SubmitAnchor(ctx context.Context, anchorHash, correlationID string) (*Entry, error)

	// IsAnchored reports whether anchorHash has been recorded.
	IsAnchored(ctx context.Context, anchorHash string) (bool, error)
}

// Ledger is the full append-only chain.
type Ledger interface {
	Anchorer

	// Lookup returns the entry recording anchorHash.
	Lookup(ctx context.Context, anchorHash string) (*Entry, error)

	// Get returns the entry at the given zero-based index.
	Get(ctx context.Context, index int) (*Entry, error)

	// Len returns the total number of entries (including the genesis entry).
	Len(ctx context.Context) (int, error)

	// Verify walks the entire chain and checks hash consistency.
	// Returns nil if the chain is intact.
	Verify(ctx context.Context) error

	// Root returns the hash of the most recent entry (the chain tip).
	Root(ctx context.Context) (string, error)
}

func validateAnchor(anchorHash string) error {
	if !eventhash.Valid(anchorHash) {
		return fmt.Errorf("%w: %q", ErrInvalidAnchor, anchorHash)
	}
	return nil
}
