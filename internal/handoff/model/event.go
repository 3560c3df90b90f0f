package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/handoff/pkg/eventhash"
)

// EventState is the anchoring state of a delivery event.
type EventState string

const (
	EventStatePending      EventState = "pending"
	EventStateAnchored     EventState = "anchored"
	EventStateAnchorFailed EventState = "anchor_failed"
)

// DeliveryEvent is the record minted by a successful proof verification.
//
// AnchorHash is computed at mint time over every field above it. The fields
// below AnchorHash are anchoring bookkeeping and are excluded from the hash.
type DeliveryEvent struct {
	ID             uuid.UUID `json:"id"               db:"id"`
	SessionID      uuid.UUID `json:"session_id"       db:"session_id"`
	SubjectID      string    `json:"subject_id"       db:"subject_id"`
	PrincipalID    string    `json:"principal_id"     db:"principal_id"`
	ActorID        string    `json:"actor_id"         db:"actor_id"`
	SecretHash     string    `json:"secret_hash"      db:"secret_hash"`
	ChallengeNonce string    `json:"challenge_nonce"  db:"challenge_nonce"`
	ProofMessage   []byte    `json:"proof_message"    db:"proof_message"`
	Signature      []byte    `json:"signature"        db:"signature"`
	EvidenceHashes []string  `json:"evidence_hashes"  db:"evidence_hashes"`
	ProofTimestamp time.Time `json:"proof_timestamp"  db:"proof_timestamp"`
	ReceivedAt     time.Time `json:"received_at"      db:"received_at"`

	AnchorHash      string     `json:"anchor_hash"                 db:"anchor_hash"`
	LedgerRef       string     `json:"ledger_ref,omitempty"        db:"ledger_ref"`
	AnchoredAt      *time.Time `json:"anchored_at,omitempty"       db:"anchored_at"`
	State           EventState `json:"state"                       db:"state"`
	AnchorAttempts  int        `json:"anchor_attempts"             db:"anchor_attempts"`
	LastAnchorError string     `json:"last_anchor_error,omitempty" db:"last_anchor_error"`
	NextAnchorAt    *time.Time `json:"next_anchor_at,omitempty"    db:"next_anchor_at"`
}

// CanonicalFields returns the non-anchoring fields in their canonical form.
func (e *DeliveryEvent) CanonicalFields() eventhash.Fields {
	return eventhash.Fields{
		EventID:        e.ID.String(),
		SessionID:      e.SessionID.String(),
		SubjectID:      e.SubjectID,
		PrincipalID:    e.PrincipalID,
		ActorID:        e.ActorID,
		SecretHash:     e.SecretHash,
		ChallengeNonce: e.ChallengeNonce,
		ProofMessage:   e.ProofMessage,
		Signature:      e.Signature,
		EvidenceHashes: e.EvidenceHashes,
		ProofTimestamp: e.ProofTimestamp,
		ReceivedAt:     e.ReceivedAt,
	}
}

// ComputeAnchorHash recomputes the anchor hash from the stored fields.
func (e *DeliveryEvent) ComputeAnchorHash() (string, error) {
	h, _, err := eventhash.Sum(e.CanonicalFields())
	return h, err
}

// AnchorResult is the outcome of submitting an event to the ledger.
type AnchorResult struct {
	EventID    uuid.UUID  `json:"event_id"`
	AnchorHash string     `json:"anchor_hash"`
	LedgerRef  string     `json:"ledger_ref,omitempty"`
	AnchoredAt *time.Time `json:"anchored_at,omitempty"`
	State      EventState `json:"state"`
}

// VerificationReport is the audit answer for a stored event.
type VerificationReport struct {
	EventID         uuid.UUID  `json:"event_id"`
	State           EventState `json:"state"`
	AnchorHash      string     `json:"anchor_hash"`
	RecomputedHash  string     `json:"recomputed_hash"`
	HashMatches     bool       `json:"hash_matches"`
	SignatureValid  bool       `json:"signature_valid"`
	LedgerRef       string     `json:"ledger_ref,omitempty"`
	LedgerConfirmed bool       `json:"ledger_confirmed"`
	LedgerError     string     `json:"ledger_error,omitempty"`
	CheckedAt       time.Time  `json:"checked_at"`
}
