// Package proofbundle builds, signs and decodes handoff proof bundles.
//
// A proof bundle carries the exact bytes of a JSON message asserted by a
// delivery actor together with a signature over those bytes. Verifiers must
// check the signature against the bytes as received; the parsed Message is
// only used to read the asserted values.
package proofbundle

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// ErrMalformed is returned when a bundle or its message cannot be decoded.
var ErrMalformed = errors.New("malformed proof bundle")

// Message is the statement signed by the delivery actor.
type Message struct {
	SessionID  string    `json:"session_id"`
	SecretHash string    `json:"secret_hash"`
	Nonce      string    `json:"nonce"`
	ActorID    string    `json:"actor_id"`
	Timestamp  time.Time `json:"timestamp"`
}

// Bundle is the wire form of a proof: base64url message bytes plus signature.
type Bundle struct {
	Message   string `json:"message"   binding:"required,max=8192"`
	Signature string `json:"signature" binding:"required,max=1024"`
}

// Decoded is a bundle after structural decoding.
type Decoded struct {
	Raw       []byte
	Signature []byte
	Message   Message
}

// SecretHash returns the lowercase hex SHA-256 of a session secret as it is
// delivered to the actor (the base64url token string).
func SecretHash(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// Encode serialises msg into the byte sequence the actor signs.
func Encode(msg Message) ([]byte, error) {
	msg.Timestamp = msg.Timestamp.UTC()
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	return b, nil
}

// Decode base64-decodes the bundle and parses its message. Unknown message
// members and missing required members are rejected.
func Decode(b Bundle) (*Decoded, error) {
	raw, err := decodeB64(b.Message)
	if err != nil || len(raw) == 0 {
		return nil, fmt.Errorf("%w: message is not valid base64url", ErrMalformed)
	}
	sig, err := decodeB64(b.Signature)
	if err != nil || len(sig) == 0 {
		return nil, fmt.Errorf("%w: signature is not valid base64url", ErrMalformed)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var msg Message
	if err := dec.Decode(&msg); err != nil {
		return nil, fmt.Errorf("%w: message: %s", ErrMalformed, err.Error())
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after message", ErrMalformed)
	}

	switch {
	case msg.SessionID == "":
		return nil, fmt.Errorf("%w: session_id is required", ErrMalformed)
	case msg.ActorID == "":
		return nil, fmt.Errorf("%w: actor_id is required", ErrMalformed)
	case msg.Nonce == "":
		return nil, fmt.Errorf("%w: nonce is required", ErrMalformed)
	case !validSecretHash(msg.SecretHash):
		return nil, fmt.Errorf("%w: secret_hash must be 64 lowercase hex characters", ErrMalformed)
	case msg.Timestamp.IsZero():
		return nil, fmt.Errorf("%w: timestamp is required", ErrMalformed)
	}
	return &Decoded{Raw: raw, Signature: sig, Message: msg}, nil
}

// EncodeBytes renders b as unpadded base64url, the encoding used on the wire.
func EncodeBytes(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// decodeB64 accepts unpadded or padded base64url and standard base64.
func decodeB64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if b, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	if b, err := base64.URLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.StdEncoding.DecodeString(s)
}

func validSecretHash(h string) bool {
	if len(h) != 2*sha256.Size || strings.ToLower(h) != h {
		return false
	}
	_, err := hex.DecodeString(h)
	return err == nil
}
