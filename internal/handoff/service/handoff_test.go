package service_test

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/jmerrifield20/handoff/internal/handoff/model"
	"github.com/jmerrifield20/handoff/internal/handoff/service"
	"github.com/jmerrifield20/handoff/pkg/proofbundle"
)

var ctx = context.Background()

type HandoffSuite struct {
	suite.Suite
	f *fixture
}

func TestHandoffSuite(t *testing.T) {
	suite.Run(t, new(HandoffSuite))
}

func (s *HandoffSuite) SetupTest() {
	s.f = newFixture()
}

func (s *HandoffSuite) TestScenario() {
	t := s.T()
	f := s.f

	sess, err := f.sessions.Activate(ctx, "cus_1", "ord_1", 300*time.Second, "")
	s.Require().NoError(err)
	secret, err := base64.RawURLEncoding.DecodeString(sess.Secret)
	s.Require().NoError(err)
	s.Len(secret, 32)

	_, err = f.challenges.Issue(ctx, sess.ID, "dp_1")
	s.ErrorIs(err, service.ErrActorNotRegistered)

	dp := f.register(t, "dp_1", proofbundle.KeyEd25519)
	ch := f.issue(t, sess, dp)

	ev, err := f.verifier.Submit(ctx, f.proof(t, sess, ch, dp, nil))
	s.Require().NoError(err)
	s.Equal(model.EventStateAnchored, ev.State)
	s.NotEmpty(ev.LedgerRef)
	s.Equal(ch.Nonce, ev.ChallengeNonce)

	_, err = f.verifier.Submit(ctx, f.proof(t, sess, ch, dp, nil))
	s.ErrorIs(err, service.ErrChallengeInvalid)
	s.ErrorIs(err, service.ErrChallengeUsed)

	report, err := f.verification.Verify(ctx, ev.ID)
	s.Require().NoError(err)
	s.True(report.HashMatches)
	s.Equal(ev.AnchorHash, report.RecomputedHash)
	s.True(report.SignatureValid)
	s.True(report.LedgerConfirmed)
	s.Empty(report.LedgerError)

	stored, err := f.sessions.Lookup(ctx, sess.ID)
	s.Require().NoError(err)
	s.Equal(model.SessionStateCompleted, stored.State)
}

func (s *HandoffSuite) TestActivate_ttlBounds() {
	f := s.f
	maxTTL := service.DefaultPolicy().MaxSessionTTL

	for _, ttl := range []time.Duration{0, -time.Second, maxTTL + time.Second} {
		_, err := f.sessions.Activate(ctx, "cus_1", "ord_1", ttl, "")
		s.ErrorIs(err, service.ErrInvalidInput, "ttl %s", ttl)
	}

	for _, ttl := range []time.Duration{time.Second, 5 * time.Minute, maxTTL} {
		sess, err := f.sessions.Activate(ctx, "cus_1", "ord_1", ttl, "")
		s.Require().NoError(err)
		s.Equal(sess.CreatedAt.Add(ttl), sess.ExpiresAt)
		s.Equal(model.SessionStateActive, sess.State)
		s.Equal(model.SecretKindShortRangeSignal, sess.SecretKind)
	}
}

func (s *HandoffSuite) TestActivate_invalidInput() {
	f := s.f
	_, err := f.sessions.Activate(ctx, "", "ord_1", time.Minute, "")
	s.ErrorIs(err, service.ErrInvalidInput)
	_, err = f.sessions.Activate(ctx, "cus_1", strings.Repeat("x", 129), time.Minute, "")
	s.ErrorIs(err, service.ErrInvalidInput)
	_, err = f.sessions.Activate(ctx, "cus_1", "ord_1", time.Minute, "carrier-pigeon")
	s.ErrorIs(err, service.ErrInvalidInput)
}

func (s *HandoffSuite) TestActivate_uniqueIDsAndSecrets() {
	ids := map[uuid.UUID]bool{}
	secrets := map[string]bool{}
	for i := 0; i < 50; i++ {
		sess, err := s.f.sessions.Activate(ctx, "cus_1", "ord_1", time.Minute, model.SecretKindVisualCode)
		s.Require().NoError(err)
		s.False(ids[sess.ID])
		s.False(secrets[sess.Secret])
		ids[sess.ID] = true
		secrets[sess.Secret] = true
	}
}

func (s *HandoffSuite) TestLookup_neverWrites() {
	f := s.f
	sess := f.activate(s.T(), time.Minute)
	f.clock.Advance(2 * time.Minute)

	got, err := f.sessions.Lookup(ctx, sess.ID)
	s.Require().NoError(err)
	s.Equal(model.SessionStateActive, got.State, "lookup must not persist expiry")
	s.Equal(model.SessionStateExpired, got.EffectiveState(f.clock.Now()))

	n, err := f.sessions.ExpireStale(ctx)
	s.Require().NoError(err)
	s.EqualValues(1, n)

	got, err = f.sessions.Lookup(ctx, sess.ID)
	s.Require().NoError(err)
	s.Equal(model.SessionStateExpired, got.State)

	_, err = f.sessions.Lookup(ctx, uuid.New())
	s.ErrorIs(err, service.ErrSessionNotFound)
}

func (s *HandoffSuite) TestIssue_distinctFailures() {
	t := s.T()
	f := s.f
	dp := f.register(t, "dp_1", proofbundle.KeyECDSAP256)

	_, err := f.challenges.Issue(ctx, uuid.New(), dp.id)
	s.ErrorIs(err, service.ErrSessionNotFound)

	expiring := f.activate(t, 30*time.Second)
	f.clock.Advance(31 * time.Second)
	_, err = f.challenges.Issue(ctx, expiring.ID, dp.id)
	s.ErrorIs(err, service.ErrSessionExpired)

	done := f.activate(t, 5*time.Minute)
	ch := f.issue(t, done, dp)
	_, err = f.verifier.Submit(ctx, f.proof(t, done, ch, dp, nil))
	s.Require().NoError(err)
	_, err = f.challenges.Issue(ctx, done.ID, dp.id)
	s.ErrorIs(err, service.ErrSessionNotActive)

	open := f.activate(t, 5*time.Minute)
	_, err = f.challenges.Issue(ctx, open.ID, "dp_unknown")
	s.ErrorIs(err, service.ErrActorNotRegistered)

	s.Require().NoError(f.identities.Revoke(ctx, dp.id))
	_, err = f.challenges.Issue(ctx, open.ID, dp.id)
	s.ErrorIs(err, service.ErrActorNotRegistered)
}

func (s *HandoffSuite) TestIssue_latestUnusedWins() {
	t := s.T()
	f := s.f
	dp := f.register(t, "dp_1", proofbundle.KeyEd25519)
	sess := f.activate(t, 5*time.Minute)

	first := f.issue(t, sess, dp)
	f.clock.Advance(time.Second)
	second := f.issue(t, sess, dp)
	s.NotEqual(first.Nonce, second.Nonce)

	latest, err := f.challenges.LatestUnused(ctx, sess.ID, dp.id)
	s.Require().NoError(err)
	s.Equal(second.ID, latest.ID)

	_, err = f.verifier.Submit(ctx, f.proof(t, sess, first, dp, nil))
	s.ErrorIs(err, service.ErrChallengeInvalid)
	s.ErrorIs(err, service.ErrNonceMismatch)

	_, err = f.verifier.Submit(ctx, f.proof(t, sess, second, dp, nil))
	s.NoError(err)
}

func (s *HandoffSuite) TestProof_secretMismatchWithValidSignature() {
	t := s.T()
	f := s.f
	dp := f.register(t, "dp_1", proofbundle.KeyEd25519)
	sess := f.activate(t, 5*time.Minute)
	ch := f.issue(t, sess, dp)

	in := f.proof(t, sess, ch, dp, func(m *proofbundle.Message) {
		m.SecretHash = proofbundle.SecretHash("not-the-secret")
	})
	_, err := f.verifier.Submit(ctx, in)
	s.ErrorIs(err, service.ErrSecretMismatch)
	s.Equal(service.KindSecretMismatch, service.KindOf(err))

	// Nothing was consumed.
	latest, err := f.challenges.LatestUnused(ctx, sess.ID, dp.id)
	s.Require().NoError(err)
	s.Equal(ch.ID, latest.ID)
}

func (s *HandoffSuite) TestProof_expiredSession() {
	t := s.T()
	f := s.f
	dp := f.register(t, "dp_1", proofbundle.KeyEd25519)
	sess := f.activate(t, 30*time.Second)
	ch := f.issue(t, sess, dp)

	f.clock.Advance(45 * time.Second) // challenge (60s) still open
	_, err := f.verifier.Submit(ctx, f.proof(t, sess, ch, dp, nil))
	s.ErrorIs(err, service.ErrSessionInvalid)
	s.ErrorIs(err, service.ErrSessionExpired)
}

func (s *HandoffSuite) TestProof_expiredChallenge() {
	t := s.T()
	f := s.f
	dp := f.register(t, "dp_1", proofbundle.KeyEd25519)
	sess := f.activate(t, 10*time.Minute)
	ch := f.issue(t, sess, dp)

	f.clock.Advance(61 * time.Second)
	_, err := f.verifier.Submit(ctx, f.proof(t, sess, ch, dp, nil))
	s.ErrorIs(err, service.ErrChallengeInvalid)
	s.ErrorIs(err, service.ErrChallengeExpired)
}

func (s *HandoffSuite) TestProof_signatureInvalid() {
	t := s.T()
	f := s.f
	dp := f.register(t, "dp_1", proofbundle.KeyECDSAP256)
	sess := f.activate(t, 5*time.Minute)
	ch := f.issue(t, sess, dp)

	otherKey, _, err := proofbundle.GenerateKey(proofbundle.KeyECDSAP256)
	s.Require().NoError(err)
	impostor := actor{id: dp.id, kind: dp.kind, priv: otherKey}

	_, err = f.verifier.Submit(ctx, f.proof(t, sess, ch, impostor, nil))
	s.ErrorIs(err, service.ErrSignatureInvalid)
	s.Equal(service.KindSignatureInvalid, service.KindOf(err))
}

func (s *HandoffSuite) TestProof_revokedActorAfterChallenge() {
	t := s.T()
	f := s.f
	dp := f.register(t, "dp_1", proofbundle.KeyEd25519)
	sess := f.activate(t, 5*time.Minute)
	ch := f.issue(t, sess, dp)
	s.Require().NoError(f.identities.Revoke(ctx, dp.id))

	_, err := f.verifier.Submit(ctx, f.proof(t, sess, ch, dp, nil))
	s.ErrorIs(err, service.ErrSignatureInvalid)
	s.ErrorIs(err, service.ErrActorNotRegistered)
}

func (s *HandoffSuite) TestProof_afterCompletionWithoutReplay() {
	t := s.T()
	f := s.f
	first := f.register(t, "dp_1", proofbundle.KeyEd25519)
	second := f.register(t, "dp_2", proofbundle.KeyECDSAP256)
	sess := f.activate(t, 5*time.Minute)
	firstCh := f.issue(t, sess, first)
	secondCh := f.issue(t, sess, second)

	_, err := f.verifier.Submit(ctx, f.proof(t, sess, firstCh, first, nil))
	s.Require().NoError(err)

	// The second actor's challenge was never consumed.
	_, err = f.verifier.Submit(ctx, f.proof(t, sess, secondCh, second, nil))
	s.ErrorIs(err, service.ErrSessionInvalid)
	s.ErrorIs(err, service.ErrSessionNotActive)
	s.NotErrorIs(err, service.ErrChallengeUsed)

	// A nonce that was never issued is not a replay either.
	_, err = f.verifier.Submit(ctx, f.proof(t, sess, firstCh, first, func(m *proofbundle.Message) {
		m.Nonce = "never-issued"
	}))
	s.ErrorIs(err, service.ErrSessionInvalid)
	s.ErrorIs(err, service.ErrSessionNotActive)

	// The consumed nonce presented by another actor is not that actor's replay.
	_, err = f.verifier.Submit(ctx, f.proof(t, sess, firstCh, second, nil))
	s.ErrorIs(err, service.ErrSessionInvalid)

	_, err = f.verifier.Submit(ctx, f.proof(t, sess, firstCh, first, nil))
	s.ErrorIs(err, service.ErrChallengeInvalid)
	s.ErrorIs(err, service.ErrChallengeUsed)
}

func (s *HandoffSuite) TestProof_malformed() {
	t := s.T()
	f := s.f
	dp := f.register(t, "dp_1", proofbundle.KeyEd25519)
	sess := f.activate(t, 5*time.Minute)
	ch := f.issue(t, sess, dp)

	garbage := service.ProofInput{
		SessionID: sess.ID.String(),
		ActorID:   dp.id,
		Bundle:    proofbundle.Bundle{Message: "%%%", Signature: "AAAA"},
	}
	_, err := f.verifier.Submit(ctx, garbage)
	s.ErrorIs(err, service.ErrMalformedProof)

	mismatched := f.proof(t, sess, ch, dp, nil)
	mismatched.ActorID = "dp_2"
	_, err = f.verifier.Submit(ctx, mismatched)
	s.ErrorIs(err, service.ErrMalformedProof)

	badEvidence := f.proof(t, sess, ch, dp, nil)
	badEvidence.EvidenceHashes = []string{strings.Repeat("G", 64)}
	_, err = f.verifier.Submit(ctx, badEvidence)
	s.ErrorIs(err, service.ErrMalformedProof)
}

func (s *HandoffSuite) TestProof_unknownSession() {
	t := s.T()
	f := s.f
	dp := f.register(t, "dp_1", proofbundle.KeyEd25519)
	sess := &model.Session{ID: uuid.New(), Secret: "whatever"}
	ch := &model.Challenge{Nonce: "n"}

	_, err := f.verifier.Submit(ctx, f.proof(t, sess, ch, dp, nil))
	s.ErrorIs(err, service.ErrSessionInvalid)
	s.ErrorIs(err, service.ErrSessionNotFound)
}

func (s *HandoffSuite) TestProof_evidenceIsHashed() {
	t := s.T()
	f := s.f
	dp := f.register(t, "dp_1", proofbundle.KeyEd25519)
	sess := f.activate(t, 5*time.Minute)
	ch := f.issue(t, sess, dp)

	in := f.proof(t, sess, ch, dp, nil)
	in.EvidenceHashes = []string{strings.Repeat("ab", 32), strings.Repeat("cd", 32)}
	ev, err := f.verifier.Submit(ctx, in)
	s.Require().NoError(err)
	s.Equal(in.EvidenceHashes, ev.EvidenceHashes)

	stored, err := f.verification.Get(ctx, ev.ID)
	s.Require().NoError(err)
	recomputed, err := stored.ComputeAnchorHash()
	s.Require().NoError(err)
	s.Equal(ev.AnchorHash, recomputed)
}

// Two proofs racing on one challenge: exactly one wins.
func TestProof_concurrentSubmissionsOneWinner(t *testing.T) {
	f := newFixture()
	dp := f.register(t, "dp_1", proofbundle.KeyEd25519)
	sess := f.activate(t, 5*time.Minute)
	ch := f.issue(t, sess, dp)
	in := f.proof(t, sess, ch, dp, nil)

	const racers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		errs      []error
	)
	start := make(chan struct{})
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.verifier.Submit(ctx, in)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			errs = append(errs, err)
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	require.Len(t, errs, racers-1)
	for _, err := range errs {
		assert.True(t, errors.Is(err, service.ErrChallengeInvalid), "unexpected loser error: %v", err)
	}
}

func TestKindOf(t *testing.T) {
	err := errors.Join(errors.New("context"), service.ErrSecretMismatch)
	assert.Equal(t, service.KindSecretMismatch, service.KindOf(err))

	wrapped := service.KindOf(
		errors.Join(service.ErrSessionInvalid, service.ErrSessionExpired),
	)
	assert.Equal(t, service.KindSessionInvalid, wrapped)

	assert.Equal(t, service.KindInternal, service.KindOf(errors.New("boom")))
}

func TestPolicy_validate(t *testing.T) {
	assert.NoError(t, service.DefaultPolicy().Validate())

	bad := service.Policy{MaxSessionTTL: time.Minute, ChallengeTTL: time.Minute}
	assert.ErrorIs(t, bad.Validate(), service.ErrInvalidInput)
}
