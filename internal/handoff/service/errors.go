package service

import (
	"errors"
)

// Kind classifies a service failure. Callers and auditors depend on telling
// kinds apart, so they are never collapsed into a generic error.
type Kind string

const (
	KindInvalidInput          Kind = "invalid_input"
	KindNotFound              Kind = "not_found"
	KindExpired               Kind = "expired"
	KindStateConflict         Kind = "state_conflict"
	KindSecretMismatch        Kind = "secret_mismatch"
	KindSignatureInvalid      Kind = "signature_invalid"
	KindMalformedProof        Kind = "malformed_proof"
	KindDuplicateRegistration Kind = "duplicate_registration"
	KindLedgerUnavailable     Kind = "ledger_unavailable"
	KindSessionInvalid        Kind = "session_invalid"
	KindChallengeInvalid      Kind = "challenge_invalid"
	KindTampered              Kind = "tampered"
	KindInternal              Kind = "internal"
)

// Error is a typed service failure. The package-level values below are
// sentinels; wrap them with fmt.Errorf and test with errors.Is.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

// Precise causes.
var (
	ErrInvalidInput       = &Error{KindInvalidInput, "invalid input"}
	ErrMalformedKey       = &Error{KindInvalidInput, "malformed public key"}
	ErrSessionNotFound    = &Error{KindNotFound, "session not found"}
	ErrSessionExpired     = &Error{KindExpired, "session expired"}
	ErrSessionNotActive   = &Error{KindStateConflict, "session not active"}
	ErrActorNotRegistered = &Error{KindNotFound, "actor not registered"}
	ErrIdentityNotFound   = &Error{KindNotFound, "identity not found"}
	ErrChallengeNotFound  = &Error{KindNotFound, "no unused challenge for session and actor"}
	ErrChallengeExpired   = &Error{KindExpired, "challenge expired"}
	ErrChallengeUsed      = &Error{KindStateConflict, "challenge already used"}
	ErrNonceMismatch      = &Error{KindStateConflict, "nonce does not match the latest challenge"}
	ErrEventNotFound      = &Error{KindNotFound, "event not found"}
	ErrEventTampered      = &Error{KindTampered, "stored event does not match its anchor hash"}
)

// Outcome categories. Verifier failures wrap one of these around a cause.
var (
	ErrMalformedProof        = &Error{KindMalformedProof, "malformed proof"}
	ErrSessionInvalid        = &Error{KindSessionInvalid, "session invalid"}
	ErrChallengeInvalid      = &Error{KindChallengeInvalid, "challenge invalid"}
	ErrSecretMismatch        = &Error{KindSecretMismatch, "secret hash mismatch"}
	ErrSignatureInvalid      = &Error{KindSignatureInvalid, "signature invalid"}
	ErrDuplicateRegistration = &Error{KindDuplicateRegistration, "actor already registered"}
	ErrLedgerUnavailable     = &Error{KindLedgerUnavailable, "ledger unavailable"}
)

// KindOf returns the kind of the outermost *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}
