package service_test

import (
	"crypto"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jmerrifield20/handoff/internal/handoff/model"
	"github.com/jmerrifield20/handoff/internal/handoff/repository"
	"github.com/jmerrifield20/handoff/internal/handoff/service"
	"github.com/jmerrifield20/handoff/internal/ledger"
	"github.com/jmerrifield20/handoff/pkg/proofbundle"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fixture wires every service over one MemoryStore and MemoryLedger.
type fixture struct {
	clock        *fakeClock
	store        *repository.MemoryStore
	ledger       *ledger.MemoryLedger
	identities   *service.IdentityService
	sessions     *service.SessionService
	challenges   *service.ChallengeService
	anchors      *service.AnchorService
	verifier     *service.ProofVerifier
	verification *service.VerificationService
}

func newFixture() *fixture {
	return newFixtureWithLedger(nil)
}

// newFixtureWithLedger wires the anchor path to anchorer, or to a fresh
// MemoryLedger when anchorer is nil.
func newFixtureWithLedger(anchorer ledger.Anchorer) *fixture {
	logger := zap.NewNop()
	f := &fixture{
		clock:  newFakeClock(),
		store:  repository.NewMemoryStore(),
		ledger: ledger.NewMemoryLedger(),
	}
	if anchorer == nil {
		anchorer = f.ledger
	}
	policy := service.DefaultPolicy()

	f.identities = service.NewIdentityService(f.store, logger)
	f.identities.SetClock(f.clock.Now)
	f.sessions = service.NewSessionService(f.store, policy, logger)
	f.sessions.SetClock(f.clock.Now)
	f.challenges = service.NewChallengeService(f.store, f.identities, policy, logger)
	f.challenges.SetClock(f.clock.Now)
	f.anchors = service.NewAnchorService(f.store, anchorer, service.DefaultAnchorPolicy(), logger)
	f.anchors.SetClock(f.clock.Now)
	f.verifier = service.NewProofVerifier(f.store, f.identities, f.anchors, logger)
	f.verifier.SetClock(f.clock.Now)
	f.verification = service.NewVerificationService(f.store, anchorer, time.Second, logger)
	return f
}

type actor struct {
	id   string
	kind proofbundle.KeyKind
	priv crypto.PrivateKey
}

func (f *fixture) register(t *testing.T, actorID string, kind proofbundle.KeyKind) actor {
	t.Helper()
	priv, pubPEM, err := proofbundle.GenerateKey(kind)
	require.NoError(t, err)
	_, err = f.identities.Register(ctx, actorID, pubPEM, kind)
	require.NoError(t, err)
	return actor{id: actorID, kind: kind, priv: priv}
}

func (f *fixture) activate(t *testing.T, ttl time.Duration) *model.Session {
	t.Helper()
	sess, err := f.sessions.Activate(ctx, "cus_1", "ord_1", ttl, "")
	require.NoError(t, err)
	return sess
}

func (f *fixture) issue(t *testing.T, sess *model.Session, a actor) *model.Challenge {
	t.Helper()
	ch, err := f.challenges.Issue(ctx, sess.ID, a.id)
	require.NoError(t, err)
	return ch
}

// proof builds a correctly signed proof; edit may alter the message first.
func (f *fixture) proof(t *testing.T, sess *model.Session, ch *model.Challenge, a actor, edit func(*proofbundle.Message)) service.ProofInput {
	t.Helper()
	msg := proofbundle.Message{
		SessionID:  sess.ID.String(),
		SecretHash: proofbundle.SecretHash(sess.Secret),
		Nonce:      ch.Nonce,
		ActorID:    a.id,
		Timestamp:  f.clock.Now(),
	}
	if edit != nil {
		edit(&msg)
	}
	b, err := proofbundle.Seal(msg, a.kind, a.priv)
	require.NoError(t, err)
	return service.ProofInput{SessionID: sess.ID.String(), ActorID: a.id, Bundle: b}
}
