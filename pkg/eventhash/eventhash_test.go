package eventhash_test

import (
	"strings"
	"testing"
	"time"

	"github.com/jmerrifield20/handoff/pkg/eventhash"
)

func sampleFields() eventhash.Fields {
	return eventhash.Fields{
		EventID:        "4b7b7a1e-2f0e-4a52-9d1c-7f1f8e0c1a11",
		SessionID:      "0e3a0b52-8d4c-4f61-a0b8-6c2e6d1f7b22",
		SubjectID:      "ord_1",
		PrincipalID:    "cus_1",
		ActorID:        "dp_1",
		SecretHash:     strings.Repeat("ab", 32),
		ChallengeNonce: "bm9uY2U",
		ProofMessage:   []byte(`{"session_id":"x"}`),
		Signature:      []byte{1, 2, 3},
		EvidenceHashes: []string{strings.Repeat("cd", 32)},
		ProofTimestamp: time.Date(2026, 10, 16, 12, 0, 0, 123456000, time.UTC),
		ReceivedAt:     time.Date(2026, 10, 16, 12, 0, 1, 0, time.UTC),
	}
}

func TestSum_deterministic(t *testing.T) {
	f := sampleFields()
	h1, _, err := eventhash.Sum(f)
	if err != nil {
		t.Fatal(err)
	}
	h2, _, err := eventhash.Sum(f)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Errorf("hash not deterministic: %q vs %q", h1, h2)
	}
	if !eventhash.Valid(h1) {
		t.Errorf("Valid(%q) = false", h1)
	}
}

func TestSum_timezoneIndependent(t *testing.T) {
	f := sampleFields()
	h1, _, _ := eventhash.Sum(f)

	loc := time.FixedZone("UTC+5", 5*3600)
	f.ProofTimestamp = f.ProofTimestamp.In(loc)
	f.ReceivedAt = f.ReceivedAt.In(loc)
	h2, _, _ := eventhash.Sum(f)

	if h1 != h2 {
		t.Error("hash must not depend on the time zone of stored timestamps")
	}
}

func TestSum_fieldChangeChangesHash(t *testing.T) {
	base, _, _ := eventhash.Sum(sampleFields())

	f := sampleFields()
	f.Signature = []byte{1, 2, 4}
	changed, _, _ := eventhash.Sum(f)
	if base == changed {
		t.Error("changing the signature must change the hash")
	}

	f = sampleFields()
	f.EvidenceHashes = append(f.EvidenceHashes, strings.Repeat("ef", 32))
	changed, _, _ = eventhash.Sum(f)
	if base == changed {
		t.Error("adding evidence must change the hash")
	}
}

func TestCanonical_fieldOrder(t *testing.T) {
	b, err := eventhash.Canonical(sampleFields())
	if err != nil {
		t.Fatal(err)
	}
	s := string(b)
	order := []string{`"v"`, `"event_id"`, `"session_id"`, `"subject_id"`, `"principal_id"`,
		`"actor_id"`, `"secret_hash"`, `"challenge_nonce"`, `"proof_message"`, `"signature"`,
		`"evidence_hashes"`, `"proof_timestamp"`, `"received_at"`}
	last := -1
	for _, k := range order {
		i := strings.Index(s, k)
		if i <= last {
			t.Fatalf("member %s out of order in %s", k, s)
		}
		last = i
	}
}

func TestCanonical_nilEvidenceIsEmptyArray(t *testing.T) {
	f := sampleFields()
	f.EvidenceHashes = nil
	b, _ := eventhash.Canonical(f)
	if !strings.Contains(string(b), `"evidence_hashes":[]`) {
		t.Errorf("nil evidence should encode as []: %s", b)
	}
}

func TestValid(t *testing.T) {
	for _, h := range []string{"", "sha256:", "sha256:zz", "md5:" + strings.Repeat("a", 64), "sha256:" + strings.Repeat("a", 62)} {
		if eventhash.Valid(h) {
			t.Errorf("Valid(%q) = true, want false", h)
		}
	}
}
