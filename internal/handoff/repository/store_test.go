package repository_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmerrifield20/handoff/internal/handoff/model"
	"github.com/jmerrifield20/handoff/internal/handoff/repository"
	"github.com/jmerrifield20/handoff/pkg/proofbundle"
)

var ctx = context.Background()

var t0 = repository.Timestamp(time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC))

func newSession(ttl time.Duration) *model.Session {
	return &model.Session{
		ID:          uuid.New(),
		PrincipalID: "cus_1",
		SubjectID:   "ord_1",
		Secret:      uuid.NewString(),
		SecretKind:  model.SecretKindShortRangeSignal,
		CreatedAt:   t0,
		ExpiresAt:   t0.Add(ttl),
		State:       model.SessionStateActive,
	}
}

func newChallenge(sessionID uuid.UUID, actorID string, at time.Time) *model.Challenge {
	return &model.Challenge{
		ID:        uuid.New(),
		SessionID: sessionID,
		ActorID:   actorID,
		Nonce:     uuid.NewString(),
		CreatedAt: at,
		ExpiresAt: at.Add(time.Minute),
	}
}

func newEvent(sess *model.Session, ch *model.Challenge, receivedAt time.Time) *model.DeliveryEvent {
	ev := &model.DeliveryEvent{
		ID:             uuid.New(),
		SessionID:      sess.ID,
		SubjectID:      sess.SubjectID,
		PrincipalID:    sess.PrincipalID,
		ActorID:        ch.ActorID,
		SecretHash:     proofbundle.SecretHash(sess.Secret),
		ChallengeNonce: ch.Nonce,
		ProofMessage:   []byte(`{"session_id":"` + sess.ID.String() + `"}`),
		Signature:      []byte{1, 2, 3, 4},
		EvidenceHashes: []string{strings.Repeat("ab", 32)},
		ProofTimestamp: receivedAt,
		ReceivedAt:     receivedAt,
		State:          model.EventStatePending,
	}
	h, err := ev.ComputeAnchorHash()
	if err != nil {
		panic(err)
	}
	ev.AnchorHash = h
	return ev
}

// runStoreContract exercises the behaviour every Store implementation shares.
func runStoreContract(t *testing.T, newStore func(t *testing.T) repository.Store) {
	t.Run("session round trip", func(t *testing.T) {
		s := newStore(t)
		sess := newSession(time.Minute)
		require.NoError(t, s.CreateSession(ctx, sess))

		got, err := s.GetSession(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, sess, got)

		dup := newSession(time.Minute)
		dup.Secret = sess.Secret
		assert.ErrorIs(t, s.CreateSession(ctx, dup), repository.ErrConflict)

		_, err = s.GetSession(ctx, uuid.New())
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("session state compare and set", func(t *testing.T) {
		s := newStore(t)
		sess := newSession(time.Minute)
		require.NoError(t, s.CreateSession(ctx, sess))

		require.NoError(t, s.SetSessionState(ctx, sess.ID, model.SessionStateActive, model.SessionStateCompleted))
		assert.ErrorIs(t,
			s.SetSessionState(ctx, sess.ID, model.SessionStateActive, model.SessionStateCompleted),
			repository.ErrSessionNotActive)
		assert.ErrorIs(t,
			s.SetSessionState(ctx, uuid.New(), model.SessionStateActive, model.SessionStateCompleted),
			repository.ErrNotFound)
	})

	t.Run("expire sessions", func(t *testing.T) {
		s := newStore(t)
		short := newSession(time.Minute)
		long := newSession(time.Hour)
		require.NoError(t, s.CreateSession(ctx, short))
		require.NoError(t, s.CreateSession(ctx, long))

		n, err := s.ExpireSessions(ctx, t0.Add(2*time.Minute))
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		got, err := s.GetSession(ctx, short.ID)
		require.NoError(t, err)
		assert.Equal(t, model.SessionStateExpired, got.State)
		got, err = s.GetSession(ctx, long.ID)
		require.NoError(t, err)
		assert.Equal(t, model.SessionStateActive, got.State)
	})

	t.Run("latest unused challenge", func(t *testing.T) {
		s := newStore(t)
		sess := newSession(time.Hour)
		require.NoError(t, s.CreateSession(ctx, sess))

		first := newChallenge(sess.ID, "dp_1", t0)
		second := newChallenge(sess.ID, "dp_1", t0.Add(time.Second))
		other := newChallenge(sess.ID, "dp_2", t0.Add(2*time.Second))
		for _, ch := range []*model.Challenge{first, second, other} {
			require.NoError(t, s.CreateChallenge(ctx, ch))
		}

		got, err := s.GetLatestUnusedChallenge(ctx, sess.ID, "dp_1")
		require.NoError(t, err)
		assert.Equal(t, second.ID, got.ID)

		require.NoError(t, s.MarkChallengeUsed(ctx, second.ID))
		assert.ErrorIs(t, s.MarkChallengeUsed(ctx, second.ID), repository.ErrChallengeUsed)

		got, err = s.GetLatestUnusedChallenge(ctx, sess.ID, "dp_1")
		require.NoError(t, err)
		assert.Equal(t, first.ID, got.ID)

		_, err = s.GetLatestUnusedChallenge(ctx, sess.ID, "dp_3")
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("challenge by nonce", func(t *testing.T) {
		s := newStore(t)
		sess := newSession(time.Hour)
		require.NoError(t, s.CreateSession(ctx, sess))
		ch := newChallenge(sess.ID, "dp_1", t0)
		require.NoError(t, s.CreateChallenge(ctx, ch))
		require.NoError(t, s.MarkChallengeUsed(ctx, ch.ID))

		got, err := s.GetChallengeByNonce(ctx, ch.Nonce)
		require.NoError(t, err)
		assert.Equal(t, ch.ID, got.ID)
		assert.Equal(t, "dp_1", got.ActorID)
		assert.True(t, got.Used)

		_, err = s.GetChallengeByNonce(ctx, "never-issued")
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("identities", func(t *testing.T) {
		s := newStore(t)
		_, pubPEM, err := proofbundle.GenerateKey(proofbundle.KeyEd25519)
		require.NoError(t, err)
		id := &model.Identity{
			ActorID:      "dp_1",
			PublicKey:    pubPEM,
			KeyKind:      proofbundle.KeyEd25519,
			RegisteredAt: t0,
			Status:       model.IdentityStatusActive,
		}
		require.NoError(t, s.RegisterIdentity(ctx, id))
		assert.ErrorIs(t, s.RegisterIdentity(ctx, id), repository.ErrConflict)

		require.NoError(t, s.RevokeIdentity(ctx, "dp_1"))
		got, err := s.GetIdentity(ctx, "dp_1")
		require.NoError(t, err)
		assert.Equal(t, model.IdentityStatusRevoked, got.Status)
		assert.Equal(t, pubPEM, got.PublicKey)

		assert.ErrorIs(t, s.RevokeIdentity(ctx, "nobody"), repository.ErrNotFound)
		_, err = s.GetIdentity(ctx, "nobody")
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("complete proof is atomic", func(t *testing.T) {
		s := newStore(t)
		sess := newSession(time.Hour)
		require.NoError(t, s.CreateSession(ctx, sess))
		ch := newChallenge(sess.ID, "dp_1", t0)
		require.NoError(t, s.CreateChallenge(ctx, ch))

		ev := newEvent(sess, ch, t0.Add(time.Second))
		require.NoError(t, s.CompleteProof(ctx, ch.ID, ev))

		got, err := s.GetDeliveryEvent(ctx, ev.ID)
		require.NoError(t, err)
		assert.Equal(t, ev, got)
		recomputed, err := got.ComputeAnchorHash()
		require.NoError(t, err)
		assert.Equal(t, ev.AnchorHash, recomputed)

		stored, err := s.GetSession(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, model.SessionStateCompleted, stored.State)

		// Replaying the challenge writes nothing.
		again := newEvent(sess, ch, t0.Add(2*time.Second))
		assert.ErrorIs(t, s.CompleteProof(ctx, ch.ID, again), repository.ErrChallengeUsed)
		_, err = s.GetDeliveryEvent(ctx, again.ID)
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("complete proof on an inactive session", func(t *testing.T) {
		s := newStore(t)
		sess := newSession(time.Hour)
		require.NoError(t, s.CreateSession(ctx, sess))
		ch := newChallenge(sess.ID, "dp_1", t0)
		require.NoError(t, s.CreateChallenge(ctx, ch))
		require.NoError(t, s.SetSessionState(ctx, sess.ID, model.SessionStateActive, model.SessionStateExpired))

		ev := newEvent(sess, ch, t0.Add(time.Second))
		assert.ErrorIs(t, s.CompleteProof(ctx, ch.ID, ev), repository.ErrSessionNotActive)

		// The challenge must not have been consumed.
		got, err := s.GetLatestUnusedChallenge(ctx, sess.ID, "dp_1")
		require.NoError(t, err)
		assert.Equal(t, ch.ID, got.ID)
	})

	t.Run("concurrent completion has one winner", func(t *testing.T) {
		s := newStore(t)
		sess := newSession(time.Hour)
		require.NoError(t, s.CreateSession(ctx, sess))
		ch := newChallenge(sess.ID, "dp_1", t0)
		require.NoError(t, s.CreateChallenge(ctx, ch))

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ev := newEvent(sess, ch, t0.Add(time.Duration(i+1)*time.Second))
				if s.CompleteProof(ctx, ch.ID, ev) == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})

	t.Run("anchor bookkeeping", func(t *testing.T) {
		s := newStore(t)
		var events []*model.DeliveryEvent
		for i := 0; i < 3; i++ {
			sess := newSession(time.Hour)
			require.NoError(t, s.CreateSession(ctx, sess))
			ch := newChallenge(sess.ID, "dp_1", t0)
			require.NoError(t, s.CreateChallenge(ctx, ch))
			ev := newEvent(sess, ch, t0.Add(time.Duration(3-i)*time.Second))
			require.NoError(t, s.CompleteProof(ctx, ch.ID, ev))
			events = append(events, ev)
		}

		due, err := s.ListAnchorDue(ctx, t0.Add(time.Minute), 8, 10)
		require.NoError(t, err)
		require.Len(t, due, 3)
		assert.Equal(t, events[2].ID, due[0].ID, "oldest first")

		anchoredAt := t0.Add(time.Minute)
		require.NoError(t, s.UpdateEventAnchor(ctx, events[0].ID, strings.Repeat("a", 64), anchoredAt))
		next := t0.Add(10 * time.Minute)
		require.NoError(t, s.RecordAnchorFailure(ctx, events[1].ID, 1, "ledger down", next))
		require.NoError(t, s.RecordAnchorFailure(ctx, events[2].ID, 8, "ledger down", t0))

		assert.ErrorIs(t,
			s.RecordAnchorFailure(ctx, events[0].ID, 1, "late failure", next),
			repository.ErrNotFound, "an anchored event is never downgraded")

		due, err = s.ListAnchorDue(ctx, t0.Add(5*time.Minute), 8, 10)
		require.NoError(t, err)
		assert.Empty(t, due)

		due, err = s.ListAnchorDue(ctx, next, 8, 10)
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, events[1].ID, due[0].ID)
		assert.Equal(t, 1, due[0].AnchorAttempts)
		assert.Equal(t, "ledger down", due[0].LastAnchorError)

		got, err := s.GetDeliveryEvent(ctx, events[0].ID)
		require.NoError(t, err)
		assert.Equal(t, model.EventStateAnchored, got.State)
		require.NotNil(t, got.AnchoredAt)
		assert.True(t, anchoredAt.Equal(*got.AnchoredAt))
		assert.Equal(t, events[0].AnchorHash, got.AnchorHash)

		assert.ErrorIs(t,
			s.UpdateEventAnchor(ctx, uuid.New(), "x", anchoredAt), repository.ErrNotFound)
	})
}
