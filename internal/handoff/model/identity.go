package model

import (
	"time"

	"github.com/jmerrifield20/handoff/pkg/proofbundle"
)

// IdentityStatus is the state of a registered actor key.
type IdentityStatus string

const (
	IdentityStatusActive  IdentityStatus = "active"
	IdentityStatusRevoked IdentityStatus = "revoked"
)

// Identity binds a delivery actor to exactly one public key.
// The key never changes after registration.
type Identity struct {
	ActorID      string              `json:"actor_id"      db:"actor_id"`
	PublicKey    string              `json:"public_key"    db:"public_key"`
	KeyKind      proofbundle.KeyKind `json:"key_kind"      db:"key_kind"`
	RegisteredAt time.Time           `json:"registered_at" db:"registered_at"`
	Status       IdentityStatus      `json:"status"        db:"status"`
}

// Active reports whether the identity may be used for verification.
func (i *Identity) Active() bool {
	return i.Status == IdentityStatusActive
}
