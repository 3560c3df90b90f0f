package service

import (
	"fmt"
	"time"

	"github.com/jmerrifield20/handoff/internal/handoff/model"
)

// Policy holds the session and challenge time limits.
type Policy struct {
	MaxSessionTTL time.Duration // upper bound accepted by Activate
	ChallengeTTL  time.Duration // fixed challenge window; shorter than MaxSessionTTL
}

// DefaultPolicy returns the limits used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxSessionTTL: time.Hour,
		ChallengeTTL:  60 * time.Second,
	}
}

// AnchorPolicy controls ledger submission and retry.
type AnchorPolicy struct {
	Timeout     time.Duration // bound on a single ledger call
	BaseBackoff time.Duration // delay after the first failure
	MaxBackoff  time.Duration
	MaxAttempts int // events reaching this many failures are left for manual anchoring
}

// DefaultAnchorPolicy returns the retry policy used when nothing is configured.
func DefaultAnchorPolicy() AnchorPolicy {
	return AnchorPolicy{
		Timeout:     5 * time.Second,
		BaseBackoff: 30 * time.Second,
		MaxBackoff:  time.Hour,
		MaxAttempts: 8,
	}
}

// Backoff returns the wait before retrying after the given failed attempt
// (1-based): BaseBackoff·5^(attempt-1), capped at MaxBackoff.
func (p AnchorPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 5
		if d >= p.MaxBackoff || d <= 0 {
			return p.MaxBackoff
		}
	}
	if d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// Recorder receives domain metrics. The handler package provides the
// Prometheus implementation.
type Recorder interface {
	SessionActivated(kind model.SecretKind)
	ChallengeIssued()
	ProofResult(outcome string)
	AnchorAttempt(result string)
}

type nopRecorder struct{}

func (nopRecorder) SessionActivated(model.SecretKind) {}
func (nopRecorder) ChallengeIssued()                  {}
func (nopRecorder) ProofResult(string)                {}
func (nopRecorder) AnchorAttempt(string)              {}

// clock returns the current time at store precision.
type clock func() time.Time

func systemClock() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// Validate checks the limits are usable together.
func (p Policy) Validate() error {
	if p.MaxSessionTTL <= 0 || p.ChallengeTTL <= 0 {
		return fmt.Errorf("%w: session and challenge ttl must be positive", ErrInvalidInput)
	}
	if p.ChallengeTTL >= p.MaxSessionTTL {
		return fmt.Errorf("%w: challenge ttl %s must be shorter than max session ttl %s",
			ErrInvalidInput, p.ChallengeTTL, p.MaxSessionTTL)
	}
	return nil
}
