package handler_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jmerrifield20/handoff/internal/handoff/handler"
	"github.com/jmerrifield20/handoff/internal/handoff/repository"
	"github.com/jmerrifield20/handoff/internal/handoff/service"
	"github.com/jmerrifield20/handoff/internal/ledger"
	"github.com/jmerrifield20/handoff/pkg/proofbundle"
)

const adminSecret = "s3cret-operator-key"

type testEnv struct {
	router *gin.Engine
	store  *repository.MemoryStore
}

func setupRouter(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	store := repository.NewMemoryStore()
	l := ledger.NewMemoryLedger()
	policy := service.DefaultPolicy()

	identities := service.NewIdentityService(store, logger)
	sessions := service.NewSessionService(store, policy, logger)
	challenges := service.NewChallengeService(store, identities, policy, logger)
	anchors := service.NewAnchorService(store, l, service.DefaultAnchorPolicy(), logger)
	verifier := service.NewProofVerifier(store, identities, anchors, logger)
	verification := service.NewVerificationService(store, l, time.Second, logger)

	rec := handler.Recorder{}
	sessions.SetRecorder(rec)
	challenges.SetRecorder(rec)
	verifier.SetRecorder(rec)
	anchors.SetRecorder(rec)

	tokens := handler.NewAdminTokens(adminSecret, "handoff-test", time.Minute)
	admin := handler.RequireAdmin(tokens)

	r := gin.New()
	r.Use(handler.SecurityHeaders(), handler.PrometheusMiddleware())
	r.GET("/metrics", handler.MetricsHandler())
	v1 := r.Group("/api/v1")
	handler.NewSessionHandler(sessions, logger).Register(v1)
	handler.NewChallengeHandler(challenges, logger).Register(v1)
	handler.NewProofHandler(verifier, logger).Register(v1)
	handler.NewEventHandler(verification, anchors, admin, logger).Register(v1)
	handler.NewIdentityHandler(identities, admin, logger).Register(v1)
	handler.NewAuthHandler(tokens, logger).Register(v1)
	return &testEnv{router: r, store: store}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var resp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("expected %d, got %d: %s", want, w.Code, w.Body.String())
	}
}

type actorKeys struct {
	id   string
	kind proofbundle.KeyKind
	priv any
}

func (e *testEnv) registerActor(t *testing.T, actorID string) actorKeys {
	t.Helper()
	priv, pubPEM, err := proofbundle.GenerateKey(proofbundle.KeyEd25519)
	if err != nil {
		t.Fatal(err)
	}
	w, _ := e.do(t, http.MethodPost, "/api/v1/identities", map[string]any{
		"actor_id": actorID, "public_key": pubPEM,
	})
	expectStatus(t, w, http.StatusCreated)
	return actorKeys{id: actorID, kind: proofbundle.KeyEd25519, priv: priv}
}

func (e *testEnv) activate(t *testing.T, ttl int) (sessionID, secret string) {
	t.Helper()
	w, resp := e.do(t, http.MethodPost, "/api/v1/sessions", map[string]any{
		"principal_id": "cus_1", "subject_id": "ord_1", "ttl_seconds": ttl,
	})
	expectStatus(t, w, http.StatusCreated)
	return resp["session_id"].(string), resp["secret"].(string)
}

func (e *testEnv) challenge(t *testing.T, sessionID, actorID string) string {
	t.Helper()
	w, resp := e.do(t, http.MethodPost, "/api/v1/challenges", map[string]any{
		"session_id": sessionID, "actor_id": actorID,
	})
	expectStatus(t, w, http.StatusCreated)
	return resp["nonce"].(string)
}

func proofBody(t *testing.T, a actorKeys, sessionID, secret, nonce string) map[string]any {
	t.Helper()
	b, err := proofbundle.Seal(proofbundle.Message{
		SessionID:  sessionID,
		SecretHash: proofbundle.SecretHash(secret),
		Nonce:      nonce,
		ActorID:    a.id,
		Timestamp:  time.Now(),
	}, a.kind, a.priv)
	if err != nil {
		t.Fatal(err)
	}
	return map[string]any{
		"session_id":  sessionID,
		"actor_id":    a.id,
		"proof_bundle": map[string]string{"message": b.Message, "signature": b.Signature},
	}
}

func TestHandoffFlow_201(t *testing.T) {
	e := setupRouter(t)
	sessionID, secret := e.activate(t, 300)

	w, _ := e.do(t, http.MethodPost, "/api/v1/challenges", map[string]any{
		"session_id": sessionID, "actor_id": "dp_1",
	})
	expectStatus(t, w, http.StatusBadRequest) // actor not registered yet

	dp := e.registerActor(t, "dp_1")
	nonce := e.challenge(t, sessionID, dp.id)

	w, resp := e.do(t, http.MethodPost, "/api/v1/proofs", proofBody(t, dp, sessionID, secret, nonce))
	expectStatus(t, w, http.StatusCreated)
	if resp["status"] != "verified" {
		t.Errorf("status: got %v", resp["status"])
	}
	if resp["ledger_ref"] == nil || resp["anchor_state"] != "anchored" {
		t.Errorf("expected an anchored event, got %v", resp)
	}
	eventID := resp["event_id"].(string)

	w, _ = e.do(t, http.MethodPost, "/api/v1/proofs", proofBody(t, dp, sessionID, secret, nonce))
	expectStatus(t, w, http.StatusForbidden)

	w, report := e.do(t, http.MethodGet, "/api/v1/events/"+eventID+"/verify", nil)
	expectStatus(t, w, http.StatusOK)
	for _, k := range []string{"hash_matches", "signature_valid", "ledger_confirmed"} {
		if report[k] != true {
			t.Errorf("%s: got %v", k, report[k])
		}
	}

	w, sess := e.do(t, http.MethodGet, "/api/v1/sessions/"+sessionID, nil)
	expectStatus(t, w, http.StatusOK)
	if sess["state"] != "completed" {
		t.Errorf("session state: got %v", sess["state"])
	}
	if _, leaked := sess["secret"]; leaked {
		t.Error("session lookup must not return the secret")
	}
}

func TestSubmitProof_statusMapping(t *testing.T) {
	e := setupRouter(t)
	dp := e.registerActor(t, "dp_1")

	t.Run("secret mismatch 403", func(t *testing.T) {
		sessionID, _ := e.activate(t, 300)
		nonce := e.challenge(t, sessionID, dp.id)
		w, resp := e.do(t, http.MethodPost, "/api/v1/proofs", proofBody(t, dp, sessionID, "wrong", nonce))
		expectStatus(t, w, http.StatusForbidden)
		if resp["kind"] != string(service.KindSecretMismatch) {
			t.Errorf("kind: got %v", resp["kind"])
		}
	})

	t.Run("bad signature 401", func(t *testing.T) {
		sessionID, secret := e.activate(t, 300)
		nonce := e.challenge(t, sessionID, dp.id)
		otherPriv, _, _ := proofbundle.GenerateKey(proofbundle.KeyEd25519)
		forged := actorKeys{id: dp.id, kind: dp.kind, priv: otherPriv}
		w, _ := e.do(t, http.MethodPost, "/api/v1/proofs", proofBody(t, forged, sessionID, secret, nonce))
		expectStatus(t, w, http.StatusUnauthorized)
	})

	t.Run("stale nonce 403", func(t *testing.T) {
		sessionID, secret := e.activate(t, 300)
		first := e.challenge(t, sessionID, dp.id)
		e.challenge(t, sessionID, dp.id)
		w, _ := e.do(t, http.MethodPost, "/api/v1/proofs", proofBody(t, dp, sessionID, secret, first))
		expectStatus(t, w, http.StatusForbidden)
	})

	t.Run("unknown session 404", func(t *testing.T) {
		sessionID := uuid.NewString()
		w, _ := e.do(t, http.MethodPost, "/api/v1/proofs", proofBody(t, dp, sessionID, "x", "n"))
		expectStatus(t, w, http.StatusNotFound)
	})

	t.Run("malformed bundle 400", func(t *testing.T) {
		sessionID, _ := e.activate(t, 300)
		w, _ := e.do(t, http.MethodPost, "/api/v1/proofs", map[string]any{
			"session_id":   sessionID,
			"actor_id":     dp.id,
			"proof_bundle": map[string]string{"message": "%%%", "signature": "AAAA"},
		})
		expectStatus(t, w, http.StatusBadRequest)
	})

	t.Run("bad evidence 400", func(t *testing.T) {
		sessionID, secret := e.activate(t, 300)
		nonce := e.challenge(t, sessionID, dp.id)
		body := proofBody(t, dp, sessionID, secret, nonce)
		body["evidence_hashes"] = []string{strings.Repeat("Z", 64)}
		w, _ := e.do(t, http.MethodPost, "/api/v1/proofs", body)
		expectStatus(t, w, http.StatusBadRequest)
	})
}

func TestStrictDecoding_400(t *testing.T) {
	e := setupRouter(t)
	cases := map[string]string{
		"unknown field":  `{"principal_id":"c","subject_id":"s","ttl_seconds":60,"admin":true}`,
		"missing field":  `{"principal_id":"c","ttl_seconds":60}`,
		"bad kind":       `{"principal_id":"c","subject_id":"s","ttl_seconds":60,"secret_kind":"smoke"}`,
		"ttl too large":  `{"principal_id":"c","subject_id":"s","ttl_seconds":86400}`,
		"ttl overflows":  `{"principal_id":"c","subject_id":"s","ttl_seconds":18446744074}`,
		"ttl wraps":      `{"principal_id":"c","subject_id":"s","ttl_seconds":18446747074}`,
		"not json":       `principal_id=c`,
		"trailing brace": `{"principal_id":"c","subject_id":"s","ttl_seconds":60}}`,
		"trailing array": `{"principal_id":"c","subject_id":"s","ttl_seconds":60}]`,
		"two objects":    `{"principal_id":"c","subject_id":"s","ttl_seconds":60}{}`,
	}
	for name, body := range cases {
		w, _ := e.do(t, http.MethodPost, "/api/v1/sessions", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d: %s", name, w.Code, w.Body.String())
		}
	}
}

func TestIssueChallenge_statuses(t *testing.T) {
	e := setupRouter(t)
	dp := e.registerActor(t, "dp_1")

	w, _ := e.do(t, http.MethodPost, "/api/v1/challenges", map[string]any{
		"session_id": uuid.NewString(), "actor_id": dp.id,
	})
	expectStatus(t, w, http.StatusNotFound)

	w, _ = e.do(t, http.MethodPost, "/api/v1/challenges", map[string]any{
		"session_id": "not-a-uuid", "actor_id": dp.id,
	})
	expectStatus(t, w, http.StatusBadRequest)
}

func TestRegisterIdentity_statuses(t *testing.T) {
	e := setupRouter(t)
	e.registerActor(t, "dp_1")

	_, pubPEM, _ := proofbundle.GenerateKey(proofbundle.KeyECDSAP256)
	w, _ := e.do(t, http.MethodPost, "/api/v1/identities", map[string]any{
		"actor_id": "dp_1", "public_key": pubPEM,
	})
	expectStatus(t, w, http.StatusConflict)

	w, _ = e.do(t, http.MethodPost, "/api/v1/identities", map[string]any{
		"actor_id": "dp_2", "public_key": "ssh-rsa AAAA",
	})
	expectStatus(t, w, http.StatusBadRequest)

	w, resp := e.do(t, http.MethodGet, "/api/v1/identities/dp_1", nil)
	expectStatus(t, w, http.StatusOK)
	if resp["status"] != "active" {
		t.Errorf("status: got %v", resp["status"])
	}

	w, _ = e.do(t, http.MethodGet, "/api/v1/identities/nobody", nil)
	expectStatus(t, w, http.StatusNotFound)
}

func TestAdminRoutes(t *testing.T) {
	e := setupRouter(t)
	e.registerActor(t, "dp_1")

	w, _ := e.do(t, http.MethodPost, "/api/v1/identities/dp_1/revoke", nil)
	expectStatus(t, w, http.StatusUnauthorized)

	w, _ = e.do(t, http.MethodPost, "/api/v1/admin/token", map[string]string{"secret": "guess"})
	expectStatus(t, w, http.StatusUnauthorized)

	w, resp := e.do(t, http.MethodPost, "/api/v1/admin/token", map[string]string{"secret": adminSecret})
	expectStatus(t, w, http.StatusOK)
	bearer := "Bearer " + resp["token"].(string)

	w, _ = e.do(t, http.MethodPost, "/api/v1/identities/dp_1/revoke", nil, "Authorization", bearer)
	expectStatus(t, w, http.StatusOK)

	w, _ = e.do(t, http.MethodPost, "/api/v1/events/"+uuid.NewString()+"/anchor", nil, "Authorization", bearer)
	expectStatus(t, w, http.StatusNotFound)

	w, _ = e.do(t, http.MethodPost, "/api/v1/identities/dp_1/revoke", nil, "Authorization", "Bearer junk")
	expectStatus(t, w, http.StatusUnauthorized)
}

func TestGetEvent_404(t *testing.T) {
	e := setupRouter(t)

	w, _ := e.do(t, http.MethodGet, "/api/v1/events/"+uuid.NewString(), nil)
	expectStatus(t, w, http.StatusNotFound)

	w, _ = e.do(t, http.MethodGet, "/api/v1/events/"+uuid.NewString()+"/verify", nil)
	expectStatus(t, w, http.StatusNotFound)

	w, _ = e.do(t, http.MethodGet, "/api/v1/events/nope", nil)
	expectStatus(t, w, http.StatusBadRequest)
}

func TestMetrics_exposesDomainCounters(t *testing.T) {
	e := setupRouter(t)
	e.activate(t, 60)

	w, _ := e.do(t, http.MethodGet, "/metrics", nil)
	expectStatus(t, w, http.StatusOK)
	body := w.Body.String()
	for _, name := range []string{"handoff_sessions_activated_total", "handoff_requests_total"} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers not applied")
	}
}
