package ledger

import (
	"context"
	"fmt"
	"sync"
)

// MemoryLedger is an in-memory, thread-safe Ledger. Useful for tests and for
// single-process deployments that do not need durable anchoring.
type MemoryLedger struct {
	mu       sync.RWMutex
	entries  []*Entry
	byAnchor map[string]int
}

// NewMemoryLedger creates a MemoryLedger holding only the genesis entry.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		entries:  []*Entry{newGenesis(now())},
		byAnchor: make(map[string]int),
	}
}

// SubmitAnchor implements Anchorer.
func (l *MemoryLedger) SubmitAnchor(_ context.Context, anchorHash, correlationID string) (*Entry, error) {
	if err := validateAnchor(anchorHash); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if idx, ok := l.byAnchor[anchorHash]; ok {
		e := *l.entries[idx]
		return &e, nil
	}
	e := chain(l.entries[len(l.entries)-1], anchorHash, correlationID, now())
	l.entries = append(l.entries, e)
	l.byAnchor[anchorHash] = e.Index
	out := *e
	return &out, nil
}

// IsAnchored implements Anchorer.
func (l *MemoryLedger) IsAnchored(_ context.Context, anchorHash string) (bool, error) {
	if err := validateAnchor(anchorHash); err != nil {
		return false, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.byAnchor[anchorHash]
	return ok, nil
}

// Lookup implements Ledger.
func (l *MemoryLedger) Lookup(_ context.Context, anchorHash string) (*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	idx, ok := l.byAnchor[anchorHash]
	if !ok {
		return nil, ErrNotFound
	}
	e := *l.entries[idx]
	return &e, nil
}

// Get implements Ledger.
func (l *MemoryLedger) Get(_ context.Context, index int) (*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if index < 0 || index >= len(l.entries) {
		return nil, fmt.Errorf("%w: index %d out of range", ErrNotFound, index)
	}
	e := *l.entries[index]
	return &e, nil
}

// Len implements Ledger.
func (l *MemoryLedger) Len(_ context.Context) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries), nil
}

// Verify implements Ledger.
func (l *MemoryLedger) Verify(_ context.Context) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return verifyChain(l.entries)
}

// Root implements Ledger.
func (l *MemoryLedger) Root(_ context.Context) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.entries[len(l.entries)-1].Hash, nil
}
