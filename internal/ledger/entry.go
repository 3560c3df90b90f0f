package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// GenesisHash is the canonical well-known hash of the genesis entry.
// All subsequent entry hashes chain from this constant.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Entry is a single record in the anchor ledger. Its Hash is the ledger
// reference handed back to callers.
type Entry struct {
	Index         int       `json:"index"`
	Timestamp     time.Time `json:"timestamp"`
	AnchorHash    string    `json:"anchor_hash"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	PrevHash      string    `json:"prev_hash"`
	Hash          string    `json:"hash"`
}

func newGenesis(now time.Time) *Entry {
	return &Entry{
		Index:     0,
		Timestamp: now,
		PrevHash:  GenesisHash,
		Hash:      GenesisHash, // well-known constant, not computed
	}
}

// chain builds the entry that follows prev.
func chain(prev *Entry, anchorHash, correlationID string, now time.Time) *Entry {
	e := &Entry{
		Index:         prev.Index + 1,
		Timestamp:     now,
		AnchorHash:    anchorHash,
		CorrelationID: correlationID,
		PrevHash:      prev.Hash,
	}
	e.Hash = hashEntry(e)
	return e
}

// now returns the current time at the precision every backend can store.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// hashEntry computes a deterministic SHA-256 hash over an entry's fields.
// Must never be called on the genesis entry (index 0).
func hashEntry(e *Entry) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s|%s|%s",
		e.Index, e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.AnchorHash, e.CorrelationID, e.PrevHash,
	)
	return hex.EncodeToString(h.Sum(nil))
}

// verifyChain checks a full ordered slice of entries.
func verifyChain(entries []*Entry) error {
	for i, curr := range entries {
		if i == 0 {
			if curr.Hash != GenesisHash {
				return fmt.Errorf("genesis entry has wrong hash: got %q", curr.Hash)
			}
			continue
		}
		if err := verifyLink(entries[i-1], curr); err != nil {
			return err
		}
	}
	return nil
}

func verifyLink(prev, curr *Entry) error {
	if curr.PrevHash != prev.Hash {
		return fmt.Errorf("hash chain broken at index %d", curr.Index)
	}
	if curr.Hash != hashEntry(curr) {
		return fmt.Errorf("entry %d has invalid hash", curr.Index)
	}
	return nil
}
