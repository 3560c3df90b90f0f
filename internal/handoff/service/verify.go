package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/handoff/internal/handoff/model"
	"github.com/jmerrifield20/handoff/internal/handoff/repository"
	"github.com/jmerrifield20/handoff/internal/ledger"
	"github.com/jmerrifield20/handoff/pkg/proofbundle"
	"go.uber.org/zap"
)

// eventReader is the storage interface required by VerificationService.
type eventReader interface {
	GetDeliveryEvent(ctx context.Context, id uuid.UUID) (*model.DeliveryEvent, error)
	GetIdentity(ctx context.Context, actorID string) (*model.Identity, error)
}

// VerificationService answers audit queries about stored events.
type VerificationService struct {
	store         eventReader
	ledger        ledger.Anchorer
	ledgerTimeout time.Duration
	logger        *zap.Logger
	now           clock
}

// NewVerificationService creates a VerificationService. ledgerTimeout bounds
// the ledger presence check.
func NewVerificationService(store eventReader, l ledger.Anchorer, ledgerTimeout time.Duration, logger *zap.Logger) *VerificationService {
	return &VerificationService{
		store:         store,
		ledger:        l,
		ledgerTimeout: ledgerTimeout,
		logger:        logger,
		now:           systemClock,
	}
}

// Get returns a stored event.
func (s *VerificationService) Get(ctx context.Context, id uuid.UUID) (*model.DeliveryEvent, error) {
	ev, err := s.store.GetDeliveryEvent(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return ev, nil
}

// Verify recomputes the event's anchor hash, re-checks its stored signature
// against the actor's registered key and, when the event carries a ledger
// reference, asks the ledger whether the hash is present. A ledger failure
// is reported in the report rather than returned.
func (s *VerificationService) Verify(ctx context.Context, id uuid.UUID) (*model.VerificationReport, error) {
	ev, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	report := &model.VerificationReport{
		EventID:    ev.ID,
		State:      ev.State,
		AnchorHash: ev.AnchorHash,
		LedgerRef:  ev.LedgerRef,
		CheckedAt:  s.now(),
	}

	recomputed, err := ev.ComputeAnchorHash()
	if err != nil {
		return nil, fmt.Errorf("compute anchor hash: %w", err)
	}
	report.RecomputedHash = recomputed
	report.HashMatches = recomputed == ev.AnchorHash

	report.SignatureValid = s.signatureValid(ctx, ev)

	if ev.LedgerRef != "" && s.ledger != nil {
		callCtx, cancel := context.WithTimeout(ctx, s.ledgerTimeout)
		ok, err := s.ledger.IsAnchored(callCtx, ev.AnchorHash)
		cancel()
		if err != nil {
			report.LedgerError = err.Error()
			s.logger.Warn("ledger check failed",
				zap.String("event_id", ev.ID.String()),
				zap.Error(err),
			)
		} else {
			report.LedgerConfirmed = ok
		}
	}

	if !report.HashMatches || !report.SignatureValid {
		s.logger.Warn("event failed verification",
			zap.String("event_id", ev.ID.String()),
			zap.Bool("hash_matches", report.HashMatches),
			zap.Bool("signature_valid", report.SignatureValid),
		)
	}
	return report, nil
}

// signatureValid checks the stored signature over the stored message bytes
// with the actor's registered key, and that the signed message names the
// event's session, actor, nonce and secret hash. Revocation does not change
// the key, so events signed before revocation still verify.
func (s *VerificationService) signatureValid(ctx context.Context, ev *model.DeliveryEvent) bool {
	dec, err := proofbundle.Decode(proofbundle.Bundle{
		Message:   proofbundle.EncodeBytes(ev.ProofMessage),
		Signature: proofbundle.EncodeBytes(ev.Signature),
	})
	if err != nil {
		return false
	}
	m := dec.Message
	if m.SessionID != ev.SessionID.String() || m.ActorID != ev.ActorID ||
		m.Nonce != ev.ChallengeNonce || m.SecretHash != ev.SecretHash {
		return false
	}

	id, err := s.store.GetIdentity(ctx, ev.ActorID)
	if err != nil {
		return false
	}
	pub, kind, err := proofbundle.ParsePublicKey(id.PublicKey)
	if err != nil {
		return false
	}
	return proofbundle.Verify(kind, pub, ev.ProofMessage, ev.Signature) == nil
}
