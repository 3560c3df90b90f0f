// Package eventhash defines the canonical serialization of a delivery event
// and the anchor hash computed over it.
//
// The encoding is a JSON object whose members always appear in the order of
// the Fields struct declaration. Timestamps are rendered RFC 3339 with
// nanoseconds in UTC, byte strings as unpadded base64url, and the evidence
// list keeps the order supplied by the actor. Two implementations given the
// same field values therefore feed byte-identical input to SHA-256.
package eventhash

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Version is the canonical encoding version embedded as the first member.
const Version = "handoff-event/v1"

// Prefix is prepended to the hex digest of every anchor hash.
const Prefix = "sha256:"

// Fields are the non-anchoring fields of a delivery event.
type Fields struct {
	EventID        string
	SessionID      string
	SubjectID      string
	PrincipalID    string
	ActorID        string
	SecretHash     string
	ChallengeNonce string
	ProofMessage   []byte
	Signature      []byte
	EvidenceHashes []string
	ProofTimestamp time.Time
	ReceivedAt     time.Time
}

// canonical fixes member order; encoding/json emits struct fields in
// declaration order.
type canonical struct {
	V              string   `json:"v"`
	EventID        string   `json:"event_id"`
	SessionID      string   `json:"session_id"`
	SubjectID      string   `json:"subject_id"`
	PrincipalID    string   `json:"principal_id"`
	ActorID        string   `json:"actor_id"`
	SecretHash     string   `json:"secret_hash"`
	ChallengeNonce string   `json:"challenge_nonce"`
	ProofMessage   string   `json:"proof_message"`
	Signature      string   `json:"signature"`
	EvidenceHashes []string `json:"evidence_hashes"`
	ProofTimestamp string   `json:"proof_timestamp"`
	ReceivedAt     string   `json:"received_at"`
}

// Canonical returns the canonical byte encoding of f.
func Canonical(f Fields) ([]byte, error) {
	evidence := f.EvidenceHashes
	if evidence == nil {
		evidence = []string{}
	}
	c := canonical{
		V:              Version,
		EventID:        f.EventID,
		SessionID:      f.SessionID,
		SubjectID:      f.SubjectID,
		PrincipalID:    f.PrincipalID,
		ActorID:        f.ActorID,
		SecretHash:     f.SecretHash,
		ChallengeNonce: f.ChallengeNonce,
		ProofMessage:   base64.RawURLEncoding.EncodeToString(f.ProofMessage),
		Signature:      base64.RawURLEncoding.EncodeToString(f.Signature),
		EvidenceHashes: evidence,
		ProofTimestamp: formatTime(f.ProofTimestamp),
		ReceivedAt:     formatTime(f.ReceivedAt),
	}
	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal canonical event: %w", err)
	}
	return b, nil
}

// Sum returns the anchor hash of f ("sha256:<hex>") together with the
// canonical bytes it was computed over.
func Sum(f Fields) (string, []byte, error) {
	b, err := Canonical(f)
	if err != nil {
		return "", nil, err
	}
	sum := sha256.Sum256(b)
	return Prefix + hex.EncodeToString(sum[:]), b, nil
}

// Valid reports whether h is a well-formed anchor hash.
func Valid(h string) bool {
	if !strings.HasPrefix(h, Prefix) {
		return false
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(h, Prefix))
	return err == nil && len(raw) == sha256.Size
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
