package client

import (
	"time"

	"github.com/jmerrifield20/handoff/pkg/proofbundle"
)

// ActivateRequest is the payload for ActivateSession.
type ActivateRequest struct {
	PrincipalID string
	SubjectID   string
	TTL         time.Duration
	SecretKind  string // "short-range-signal" (default) or "visual-code"
}

// ActivatedSession is returned once, at activation. Secret is not
// retrievable afterwards.
type ActivatedSession struct {
	SessionID  string    `json:"session_id"`
	Secret     string    `json:"secret"`
	SecretKind string    `json:"secret_kind"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Session is the public view of a session.
type Session struct {
	ID          string    `json:"id"`
	PrincipalID string    `json:"principal_id"`
	SubjectID   string    `json:"subject_id"`
	SecretKind  string    `json:"secret_kind"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	State       string    `json:"state"`
}

// Challenge is a single-use nonce issued to an actor.
type Challenge struct {
	ChallengeID string    `json:"challenge_id"`
	Nonce       string    `json:"nonce"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// ProofRequest is the payload for SubmitProof.
type ProofRequest struct {
	SessionID      string             `json:"session_id"`
	ActorID        string             `json:"actor_id"`
	ProofBundle    proofbundle.Bundle `json:"proof_bundle"`
	EvidenceHashes []string           `json:"evidence_hashes,omitempty"`
}

// ProofResult reports an accepted proof. AnchorState is "anchored" or
// "anchor_failed"; the proof is verified either way.
type ProofResult struct {
	Status      string `json:"status"`
	EventID     string `json:"event_id"`
	AnchorHash  string `json:"anchor_hash"`
	AnchorState string `json:"anchor_state"`
	LedgerRef   string `json:"ledger_ref,omitempty"`
}

// Event is a recorded delivery event.
type Event struct {
	ID              string     `json:"id"`
	SessionID       string     `json:"session_id"`
	SubjectID       string     `json:"subject_id"`
	PrincipalID     string     `json:"principal_id"`
	ActorID         string     `json:"actor_id"`
	SecretHash      string     `json:"secret_hash"`
	ChallengeNonce  string     `json:"challenge_nonce"`
	ProofMessage    []byte     `json:"proof_message"`
	Signature       []byte     `json:"signature"`
	EvidenceHashes  []string   `json:"evidence_hashes"`
	ProofTimestamp  time.Time  `json:"proof_timestamp"`
	ReceivedAt      time.Time  `json:"received_at"`
	AnchorHash      string     `json:"anchor_hash"`
	LedgerRef       string     `json:"ledger_ref,omitempty"`
	AnchoredAt      *time.Time `json:"anchored_at,omitempty"`
	State           string     `json:"state"`
	AnchorAttempts  int        `json:"anchor_attempts"`
	LastAnchorError string     `json:"last_anchor_error,omitempty"`
	NextAnchorAt    *time.Time `json:"next_anchor_at,omitempty"`
}

// VerificationReport is the audit result for one event.
type VerificationReport struct {
	EventID         string    `json:"event_id"`
	State           string    `json:"state"`
	AnchorHash      string    `json:"anchor_hash"`
	RecomputedHash  string    `json:"recomputed_hash"`
	HashMatches     bool      `json:"hash_matches"`
	SignatureValid  bool      `json:"signature_valid"`
	LedgerRef       string    `json:"ledger_ref,omitempty"`
	LedgerConfirmed bool      `json:"ledger_confirmed"`
	LedgerError     string    `json:"ledger_error,omitempty"`
	CheckedAt       time.Time `json:"checked_at"`
}

// AnchorResult is returned by AnchorEvent.
type AnchorResult struct {
	EventID    string     `json:"event_id"`
	AnchorHash string     `json:"anchor_hash"`
	LedgerRef  string     `json:"ledger_ref,omitempty"`
	AnchoredAt *time.Time `json:"anchored_at,omitempty"`
	State      string     `json:"state"`
}

// Identity is a registered actor key.
type Identity struct {
	ActorID      string    `json:"actor_id"`
	PublicKey    string    `json:"public_key"`
	KeyKind      string    `json:"key_kind"`
	RegisteredAt time.Time `json:"registered_at"`
	Status       string    `json:"status"`
}
