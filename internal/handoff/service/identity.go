package service

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"time"

	"github.com/jmerrifield20/handoff/internal/handoff/model"
	"github.com/jmerrifield20/handoff/internal/handoff/repository"
	"github.com/jmerrifield20/handoff/pkg/proofbundle"
	"go.uber.org/zap"
)

const maxIDLen = 128

// identityStore is the storage interface required by IdentityService.
// *repository.PostgresStore and *repository.MemoryStore satisfy it.
type identityStore interface {
	RegisterIdentity(ctx context.Context, id *model.Identity) error
	GetIdentity(ctx context.Context, actorID string) (*model.Identity, error)
	RevokeIdentity(ctx context.Context, actorID string) error
}

// IdentityService is the registry of delivery-actor public keys.
type IdentityService struct {
	store  identityStore
	logger *zap.Logger
	now    clock
}

// NewIdentityService creates an IdentityService.
func NewIdentityService(store identityStore, logger *zap.Logger) *IdentityService {
	return &IdentityService{store: store, logger: logger, now: systemClock}
}

// SetClock overrides the time source. Intended for tests.
func (s *IdentityService) SetClock(now func() time.Time) { s.now = now }

// Register binds actorID to publicKey. kind may be empty, in which case it is
// taken from the key itself. A second registration for the same actor fails
// with ErrDuplicateRegistration and leaves the original key in place.
func (s *IdentityService) Register(ctx context.Context, actorID, publicKey string, kind proofbundle.KeyKind) (*model.Identity, error) {
	if err := checkID("actor_id", actorID); err != nil {
		return nil, err
	}
	_, parsedKind, err := proofbundle.ParsePublicKey(publicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedKey, err.Error())
	}
	if kind != "" && kind != parsedKind {
		return nil, fmt.Errorf("%w: key is %s, not %s", ErrMalformedKey, parsedKind, kind)
	}

	id := &model.Identity{
		ActorID:      actorID,
		PublicKey:    publicKey,
		KeyKind:      parsedKind,
		RegisteredAt: s.now(),
		Status:       model.IdentityStatusActive,
	}
	if err := s.store.RegisterIdentity(ctx, id); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrDuplicateRegistration
		}
		return nil, fmt.Errorf("persist identity: %w", err)
	}

	s.logger.Info("identity registered",
		zap.String("actor_id", actorID),
		zap.String("key_kind", string(parsedKind)),
	)
	return id, nil
}

// Get returns the identity registered for actorID, active or revoked.
func (s *IdentityService) Get(ctx context.Context, actorID string) (*model.Identity, error) {
	id, err := s.store.GetIdentity(ctx, actorID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrIdentityNotFound
		}
		return nil, fmt.Errorf("get identity: %w", err)
	}
	return id, nil
}

// Revoke marks the identity revoked. Its key is kept so past events stay
// verifiable, but it can no longer be used for new challenges or proofs.
func (s *IdentityService) Revoke(ctx context.Context, actorID string) error {
	if err := s.store.RevokeIdentity(ctx, actorID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrIdentityNotFound
		}
		return fmt.Errorf("revoke identity: %w", err)
	}
	s.logger.Info("identity revoked", zap.String("actor_id", actorID))
	return nil
}

// ActiveKey returns the parsed key of an active identity. Missing and revoked
// identities both yield ErrActorNotRegistered.
func (s *IdentityService) ActiveKey(ctx context.Context, actorID string) (*model.Identity, crypto.PublicKey, error) {
	id, err := s.store.GetIdentity(ctx, actorID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, ErrActorNotRegistered
		}
		return nil, nil, fmt.Errorf("get identity: %w", err)
	}
	if !id.Active() {
		return nil, nil, fmt.Errorf("%w: identity revoked", ErrActorNotRegistered)
	}
	pub, _, err := proofbundle.ParsePublicKey(id.PublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("stored key for %s: %w", actorID, err)
	}
	return id, pub, nil
}

func checkID(field, v string) error {
	if v == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidInput, field)
	}
	if len(v) > maxIDLen {
		return fmt.Errorf("%w: %s exceeds %d characters", ErrInvalidInput, field, maxIDLen)
	}
	return nil
}
