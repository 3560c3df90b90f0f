package client

import (
	"crypto"
	"fmt"
	"os"
	"time"

	"github.com/jmerrifield20/handoff/pkg/proofbundle"
)

// Signer holds an actor's private key. It is written to disk by
// 'handoffctl keygen' and read back by LoadSigner.
type Signer struct {
	ActorID string
	Kind    proofbundle.KeyKind
	Key     crypto.PrivateKey
}

// LoadSigner reads a PEM private key from path.
//
//	signer, err := client.LoadSigner("dp_1", os.ExpandEnv("$HOME/.handoff/keys/dp_1.pem"))
func LoadSigner(actorID, path string) (*Signer, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key %s: %w", path, err)
	}
	return NewSigner(actorID, b)
}

// NewSigner parses a PEM private key (Ed25519 or ECDSA P-256).
func NewSigner(actorID string, pemText []byte) (*Signer, error) {
	key, kind, err := proofbundle.ParsePrivateKey(pemText)
	if err != nil {
		return nil, err
	}
	return &Signer{ActorID: actorID, Kind: kind, Key: key}, nil
}

// Seal builds and signs the proof message for a challenge.
func (s *Signer) Seal(sessionID, secret, nonce string, at time.Time) (proofbundle.Bundle, error) {
	return proofbundle.Seal(proofbundle.Message{
		SessionID:  sessionID,
		SecretHash: proofbundle.SecretHash(secret),
		Nonce:      nonce,
		ActorID:    s.ActorID,
		Timestamp:  at,
	}, s.Kind, s.Key)
}
