package model

import (
	"math"
	"time"

	"github.com/jmerrifield20/handoff/pkg/proofbundle"
)

// ActivateRequest is the payload for opening a handoff session.
type ActivateRequest struct {
	PrincipalID string     `json:"principal_id" binding:"required,max=128"`
	SubjectID   string     `json:"subject_id"   binding:"required,max=128"`
	TTLSeconds  int        `json:"ttl_seconds"  binding:"required,gt=0"`
	SecretKind  SecretKind `json:"secret_kind"  binding:"omitempty,oneof=short-range-signal visual-code"`
}

// TTL converts TTLSeconds to a duration. Values too large to represent
// saturate at the maximum duration instead of wrapping, so the session
// policy bound still rejects them.
func (r ActivateRequest) TTL() time.Duration {
	if int64(r.TTLSeconds) > math.MaxInt64/int64(time.Second) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(r.TTLSeconds) * time.Second
}

// IssueChallengeRequest is the payload for requesting a challenge nonce.
type IssueChallengeRequest struct {
	SessionID string `json:"session_id" binding:"required,uuid"`
	ActorID   string `json:"actor_id"   binding:"required,max=128"`
}

// SubmitProofRequest is the payload carrying a signed proof bundle.
type SubmitProofRequest struct {
	SessionID      string             `json:"session_id"      binding:"required,max=64"`
	ActorID        string             `json:"actor_id"        binding:"required,max=128"`
	ProofBundle    proofbundle.Bundle `json:"proof_bundle"    binding:"required"`
	EvidenceHashes []string           `json:"evidence_hashes" binding:"omitempty,max=32,dive,len=64,hexadecimal,lowercase"`
}

// RegisterIdentityRequest is the payload for registering an actor key.
type RegisterIdentityRequest struct {
	ActorID   string `json:"actor_id"   binding:"required,max=128"`
	PublicKey string `json:"public_key" binding:"required,max=4096"`
	KeyKind   string `json:"key_kind"   binding:"omitempty,oneof=ed25519 ecdsa-p256"`
}
