package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/handoff/internal/handoff/model"
	"github.com/jmerrifield20/handoff/internal/handoff/repository"
	"github.com/jmerrifield20/handoff/pkg/proofbundle"
	"go.uber.org/zap"
)

const maxEvidence = 32

// proofStore is the storage interface required by ProofVerifier.
type proofStore interface {
	GetSession(ctx context.Context, id uuid.UUID) (*model.Session, error)
	GetLatestUnusedChallenge(ctx context.Context, sessionID uuid.UUID, actorID string) (*model.Challenge, error)
	GetChallengeByNonce(ctx context.Context, nonce string) (*model.Challenge, error)
	CompleteProof(ctx context.Context, challengeID uuid.UUID, ev *model.DeliveryEvent) error
}

// eventAnchorer anchors a freshly minted event. *AnchorService satisfies it.
type eventAnchorer interface {
	Anchor(ctx context.Context, ev *model.DeliveryEvent) (*model.AnchorResult, error)
}

// ProofInput is a proof submission as received from the actor.
type ProofInput struct {
	SessionID      string
	ActorID        string
	Bundle         proofbundle.Bundle
	EvidenceHashes []string
}

// ProofVerifier validates signed proof bundles and mints delivery events.
type ProofVerifier struct {
	store      proofStore
	identities activeKeyLookup
	anchorer   eventAnchorer
	logger     *zap.Logger
	recorder   Recorder
	now        clock
}

// NewProofVerifier creates a ProofVerifier. anchorer may be nil, in which
// case minted events stay pending for the retrier.
func NewProofVerifier(store proofStore, identities activeKeyLookup, anchorer eventAnchorer, logger *zap.Logger) *ProofVerifier {
	return &ProofVerifier{
		store:      store,
		identities: identities,
		anchorer:   anchorer,
		logger:     logger,
		recorder:   nopRecorder{},
		now:        systemClock,
	}
}

// SetRecorder installs a metrics recorder.
func (v *ProofVerifier) SetRecorder(r Recorder) { v.recorder = r }

// SetClock overrides the time source. Intended for tests.
func (v *ProofVerifier) SetClock(now func() time.Time) { v.now = now }

// Submit runs the verification sequence and, when every check passes, mints
// the delivery event. Checks run in a fixed order and stop at the first
// failure:
//
//  1. bundle structure                          → ErrMalformedProof
//  2. session exists, active, unexpired         → ErrSessionInvalid
//  3. latest unused challenge, unexpired, nonce → ErrChallengeInvalid
//  4. secret hash                               → ErrSecretMismatch
//  5. signature over the received bytes         → ErrSignatureInvalid
//
// The challenge is then consumed, the session completed and the event
// inserted in one store transaction. Anchoring follows outside it; a ledger
// failure is logged and leaves the event pending.
func (v *ProofVerifier) Submit(ctx context.Context, in ProofInput) (*model.DeliveryEvent, error) {
	ev, err := v.submit(ctx, in)
	if err != nil {
		v.recorder.ProofResult(string(KindOf(err)))
		v.logger.Info("proof rejected",
			zap.String("session_id", in.SessionID),
			zap.String("actor_id", in.ActorID),
			zap.String("kind", string(KindOf(err))),
			zap.Error(err),
		)
		return nil, err
	}
	v.recorder.ProofResult("verified")
	return ev, nil
}

func (v *ProofVerifier) submit(ctx context.Context, in ProofInput) (*model.DeliveryEvent, error) {
	// 1. Structure.
	dec, err := proofbundle.Decode(in.Bundle)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedProof, err)
	}
	msg := dec.Message
	if msg.SessionID != in.SessionID || msg.ActorID != in.ActorID {
		return nil, fmt.Errorf("%w: message does not match the request session or actor", ErrMalformedProof)
	}
	sessionID, err := uuid.Parse(in.SessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: session_id is not a UUID", ErrMalformedProof)
	}
	if err := checkEvidence(in.EvidenceHashes); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedProof, err.Error())
	}

	// 2. Session.
	sess, err := v.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrSessionInvalid, ErrSessionNotFound)
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	if sess.State == model.SessionStateCompleted {
		return nil, v.completedSessionError(ctx, sess.ID, msg)
	}
	now := v.now()
	if err := checkSession(sess, now); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSessionInvalid, err)
	}

	// 3. Challenge.
	ch, err := v.store.GetLatestUnusedChallenge(ctx, sessionID, in.ActorID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrChallengeInvalid, ErrChallengeNotFound)
		}
		return nil, fmt.Errorf("get challenge: %w", err)
	}
	if ch.Expired(now) {
		return nil, fmt.Errorf("%w: %w", ErrChallengeInvalid, ErrChallengeExpired)
	}
	if subtle.ConstantTimeCompare([]byte(ch.Nonce), []byte(msg.Nonce)) != 1 {
		return nil, fmt.Errorf("%w: %w", ErrChallengeInvalid, ErrNonceMismatch)
	}

	// 4. Secret binding.
	want := proofbundle.SecretHash(sess.Secret)
	if subtle.ConstantTimeCompare([]byte(want), []byte(msg.SecretHash)) != 1 {
		return nil, ErrSecretMismatch
	}

	// 5. Signature over the bytes as received.
	id, pub, err := v.identities.ActiveKey(ctx, in.ActorID)
	if err != nil {
		if errors.Is(err, ErrActorNotRegistered) {
			return nil, fmt.Errorf("%w: %w", ErrSignatureInvalid, err)
		}
		return nil, err
	}
	if err := proofbundle.Verify(id.KeyKind, pub, dec.Raw, dec.Signature); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSignatureInvalid, err.Error())
	}

	// 6. Mint.
	ev := &model.DeliveryEvent{
		ID:             uuid.New(),
		SessionID:      sess.ID,
		SubjectID:      sess.SubjectID,
		PrincipalID:    sess.PrincipalID,
		ActorID:        in.ActorID,
		SecretHash:     msg.SecretHash,
		ChallengeNonce: ch.Nonce,
		ProofMessage:   dec.Raw,
		Signature:      dec.Signature,
		EvidenceHashes: in.EvidenceHashes,
		ProofTimestamp: repository.Timestamp(msg.Timestamp),
		ReceivedAt:     now,
		State:          model.EventStatePending,
	}
	if len(ev.EvidenceHashes) == 0 {
		ev.EvidenceHashes = nil
	}
	if ev.AnchorHash, err = ev.ComputeAnchorHash(); err != nil {
		return nil, fmt.Errorf("compute anchor hash: %w", err)
	}

	if err := v.store.CompleteProof(ctx, ch.ID, ev); err != nil {
		switch {
		case errors.Is(err, repository.ErrChallengeUsed), errors.Is(err, repository.ErrConflict):
			return nil, fmt.Errorf("%w: %w", ErrChallengeInvalid, ErrChallengeUsed)
		case errors.Is(err, repository.ErrSessionNotActive):
			return nil, fmt.Errorf("%w: %w", ErrSessionInvalid, ErrSessionNotActive)
		}
		return nil, fmt.Errorf("complete proof: %w", err)
	}

	v.logger.Info("proof verified",
		zap.String("event_id", ev.ID.String()),
		zap.String("session_id", sess.ID.String()),
		zap.String("actor_id", in.ActorID),
		zap.String("anchor_hash", ev.AnchorHash),
	)

	if v.anchorer != nil {
		// Detached from the request so a client disconnect does not abort a
		// submission the ledger may already have accepted.
		if _, err := v.anchorer.Anchor(context.WithoutCancel(ctx), ev); err != nil {
			v.logger.Warn("anchoring deferred",
				zap.String("event_id", ev.ID.String()),
				zap.Error(err),
			)
		}
	}
	return ev, nil
}

func checkEvidence(hashes []string) error {
	if len(hashes) > maxEvidence {
		return fmt.Errorf("at most %d evidence hashes are accepted", maxEvidence)
	}
	for i, h := range hashes {
		if len(h) != 64 {
			return fmt.Errorf("evidence_hashes[%d] must be 64 hex characters", i)
		}
		for _, c := range h {
			if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
				return fmt.Errorf("evidence_hashes[%d] must be lowercase hex", i)
			}
		}
	}
	return nil
}

// completedSessionError distinguishes a replay of the consumed challenge from
// any other proof arriving after the session closed.
func (v *ProofVerifier) completedSessionError(ctx context.Context, sessionID uuid.UUID, msg proofbundle.Message) error {
	ch, err := v.store.GetChallengeByNonce(ctx, msg.Nonce)
	switch {
	case err == nil:
		if ch.Used && ch.SessionID == sessionID && ch.ActorID == msg.ActorID {
			return fmt.Errorf("%w: %w", ErrChallengeInvalid, ErrChallengeUsed)
		}
	case !errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("get challenge: %w", err)
	}
	return fmt.Errorf("%w: %w", ErrSessionInvalid, ErrSessionNotActive)
}
