package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/handoff/internal/handoff/model"
)

// MemoryStore is an in-process store with the same semantics as
// PostgresStore. All reads return copies.
type MemoryStore struct {
	mu         sync.RWMutex
	sessions   map[uuid.UUID]model.Session
	challenges []model.Challenge // insertion order
	identities map[string]model.Identity
	events     map[uuid.UUID]model.DeliveryEvent
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:   make(map[uuid.UUID]model.Session),
		identities: make(map[string]model.Identity),
		events:     make(map[uuid.UUID]model.DeliveryEvent),
	}
}

func (m *MemoryStore) CreateSession(_ context.Context, s *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return ErrConflict
	}
	for _, existing := range m.sessions {
		if existing.Secret == s.Secret {
			return ErrConflict
		}
	}
	m.sessions[s.ID] = *s
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, id uuid.UUID) (*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (m *MemoryStore) SetSessionState(_ context.Context, id uuid.UUID, from, to model.SessionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if s.State != from {
		return ErrSessionNotActive
	}
	s.State = to
	m.sessions[id] = s
	return nil
}

func (m *MemoryStore) ExpireSessions(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.sessions {
		if s.State == model.SessionStateActive && s.Expired(now) {
			s.State = model.SessionStateExpired
			m.sessions[id] = s
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) CreateChallenge(_ context.Context, ch *model.Challenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.challenges {
		if c.ID == ch.ID || c.Nonce == ch.Nonce {
			return ErrConflict
		}
	}
	c := *ch
	c.Used = false
	m.challenges = append(m.challenges, c)
	return nil
}

func (m *MemoryStore) GetLatestUnusedChallenge(_ context.Context, sessionID uuid.UUID, actorID string) (*model.Challenge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.challenges) - 1; i >= 0; i-- {
		c := m.challenges[i]
		if c.SessionID == sessionID && c.ActorID == actorID && !c.Used {
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) GetChallengeByNonce(_ context.Context, nonce string) (*model.Challenge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.challenges {
		if c.Nonce == nonce {
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) MarkChallengeUsed(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markChallengeUsedLocked(id)
}

func (m *MemoryStore) markChallengeUsedLocked(id uuid.UUID) error {
	for i := range m.challenges {
		if m.challenges[i].ID != id {
			continue
		}
		if m.challenges[i].Used {
			return ErrChallengeUsed
		}
		m.challenges[i].Used = true
		return nil
	}
	return ErrNotFound
}

func (m *MemoryStore) RegisterIdentity(_ context.Context, id *model.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.identities[id.ActorID]; ok {
		return ErrConflict
	}
	m.identities[id.ActorID] = *id
	return nil
}

func (m *MemoryStore) GetIdentity(_ context.Context, actorID string) (*model.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.identities[actorID]
	if !ok {
		return nil, ErrNotFound
	}
	return &id, nil
}

func (m *MemoryStore) RevokeIdentity(_ context.Context, actorID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.identities[actorID]
	if !ok {
		return ErrNotFound
	}
	id.Status = model.IdentityStatusRevoked
	m.identities[actorID] = id
	return nil
}

// CompleteProof applies the three proof writes under a single lock. Nothing
// is written unless every precondition holds.
func (m *MemoryStore) CompleteProof(_ context.Context, challengeID uuid.UUID, ev *model.DeliveryEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := -1
	for i := range m.challenges {
		if m.challenges[i].ID == challengeID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrNotFound
	}
	if m.challenges[idx].Used {
		return ErrChallengeUsed
	}
	s, ok := m.sessions[ev.SessionID]
	if !ok {
		return ErrNotFound
	}
	if s.State != model.SessionStateActive {
		return ErrSessionNotActive
	}
	if err := m.checkEventUniqueLocked(ev); err != nil {
		return err
	}

	m.challenges[idx].Used = true
	s.State = model.SessionStateCompleted
	m.sessions[s.ID] = s
	m.events[ev.ID] = copyEvent(*ev)
	return nil
}

func (m *MemoryStore) CreateDeliveryEvent(_ context.Context, ev *model.DeliveryEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkEventUniqueLocked(ev); err != nil {
		return err
	}
	m.events[ev.ID] = copyEvent(*ev)
	return nil
}

func (m *MemoryStore) checkEventUniqueLocked(ev *model.DeliveryEvent) error {
	for _, e := range m.events {
		if e.ID == ev.ID || e.SessionID == ev.SessionID || e.AnchorHash == ev.AnchorHash {
			return ErrConflict
		}
	}
	return nil
}

func (m *MemoryStore) GetDeliveryEvent(_ context.Context, id uuid.UUID) (*model.DeliveryEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ev, ok := m.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := copyEvent(ev)
	return &out, nil
}

func (m *MemoryStore) UpdateEventAnchor(_ context.Context, id uuid.UUID, ledgerRef string, anchoredAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok {
		return ErrNotFound
	}
	at := anchoredAt
	ev.LedgerRef = ledgerRef
	ev.AnchoredAt = &at
	ev.State = model.EventStateAnchored
	ev.LastAnchorError = ""
	ev.NextAnchorAt = nil
	m.events[id] = ev
	return nil
}

func (m *MemoryStore) RecordAnchorFailure(_ context.Context, id uuid.UUID, attempts int, lastErr string, nextAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok || ev.State == model.EventStateAnchored {
		return ErrNotFound
	}
	next := nextAt
	ev.State = model.EventStateAnchorFailed
	ev.AnchorAttempts = attempts
	ev.LastAnchorError = lastErr
	ev.NextAnchorAt = &next
	m.events[id] = ev
	return nil
}

func (m *MemoryStore) ListAnchorDue(_ context.Context, now time.Time, maxAttempts, limit int) ([]*model.DeliveryEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.DeliveryEvent
	for _, ev := range m.events {
		if ev.State == model.EventStateAnchored || ev.AnchorAttempts >= maxAttempts {
			continue
		}
		if ev.NextAnchorAt != nil && ev.NextAnchorAt.After(now) {
			continue
		}
		c := copyEvent(ev)
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func copyEvent(ev model.DeliveryEvent) model.DeliveryEvent {
	ev.ProofMessage = append([]byte(nil), ev.ProofMessage...)
	ev.Signature = append([]byte(nil), ev.Signature...)
	if ev.EvidenceHashes != nil {
		ev.EvidenceHashes = append([]string(nil), ev.EvidenceHashes...)
	}
	if ev.AnchoredAt != nil {
		t := *ev.AnchoredAt
		ev.AnchoredAt = &t
	}
	if ev.NextAnchorAt != nil {
		t := *ev.NextAnchorAt
		ev.NextAnchorAt = &t
	}
	return ev
}
