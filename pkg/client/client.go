package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// ErrNotFound is matched by APIErrors carrying HTTP 404.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx response from the handoff API.
type APIError struct {
	Status  int
	Message string
	Kind    string // error category reported by the server, if any
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("handoff API error %d (%s): %s", e.Status, e.Kind, e.Message)
	}
	return fmt.Sprintf("handoff API error %d: %s", e.Status, e.Message)
}

// Is lets errors.Is(err, ErrNotFound) match 404 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// Client is the handoff SDK entry point.
type Client struct {
	base       string
	httpClient *http.Client

	// admin token state, guarded by mu
	mu          sync.Mutex
	adminSecret string
	bearerToken string
	tokenExpiry time.Time // zero = token was set manually (no auto-refresh)
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client, overriding any TLS options.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithTimeout sets the per-request timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive")
		}
		c.httpClient.Timeout = d
		return nil
	}
}

// WithBearerToken attaches a pre-obtained admin token to admin requests.
// The token is treated as long-lived and will not be auto-refreshed.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		c.tokenExpiry = time.Time{}
		return nil
	}
}

// WithAdminSecret makes the client exchange secret for an admin token on
// first use of an admin route, refreshing it before expiry.
func WithAdminSecret(secret string) Option {
	return func(c *Client) error {
		c.adminSecret = secret
		return nil
	}
}

// WithInsecureSkipVerify disables TLS certificate verification.
// Only use this in development.
func WithInsecureSkipVerify() Option {
	return func(c *Client) error {
		c.httpClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
			},
			Timeout: 10 * time.Second,
		}
		return nil
	}
}

// New creates a Client for the API served at base, e.g.
// "https://handoff.example.com".
func New(base string, opts ...Option) (*Client, error) {
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", base, err)
	}
	c := &Client{
		base:       strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(base string, opts ...Option) *Client {
	c, err := New(base, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// ── Identities ───────────────────────────────────────────────────────────────

// RegisterIdentity binds actorID to publicKey (PKIX PEM or OpenSSH line).
// keyKind may be empty to let the server infer it.
func (c *Client) RegisterIdentity(ctx context.Context, actorID, publicKey, keyKind string) (*Identity, error) {
	req := map[string]string{"actor_id": actorID, "public_key": publicKey}
	if keyKind != "" {
		req["key_kind"] = keyKind
	}
	var out Identity
	if err := c.call(ctx, http.MethodPost, "/api/v1/identities", req, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetIdentity fetches the registered key of actorID.
func (c *Client) GetIdentity(ctx context.Context, actorID string) (*Identity, error) {
	var out Identity
	if err := c.call(ctx, http.MethodGet, "/api/v1/identities/"+url.PathEscape(actorID), nil, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

// RevokeIdentity revokes actorID's key. Requires admin credentials.
func (c *Client) RevokeIdentity(ctx context.Context, actorID string) error {
	return c.call(ctx, http.MethodPost, "/api/v1/identities/"+url.PathEscape(actorID)+"/revoke", nil, nil, true)
}

// ── Sessions and challenges ──────────────────────────────────────────────────

// ActivateSession opens a handoff session and returns its secret.
func (c *Client) ActivateSession(ctx context.Context, r ActivateRequest) (*ActivatedSession, error) {
	req := map[string]any{
		"principal_id": r.PrincipalID,
		"subject_id":   r.SubjectID,
		"ttl_seconds":  int(r.TTL / time.Second),
	}
	if r.SecretKind != "" {
		req["secret_kind"] = r.SecretKind
	}
	var out ActivatedSession
	if err := c.call(ctx, http.MethodPost, "/api/v1/sessions", req, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetSession fetches a session. The secret is never included.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	var out Session
	if err := c.call(ctx, http.MethodGet, "/api/v1/sessions/"+url.PathEscape(sessionID), nil, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

// IssueChallenge requests a fresh nonce for actorID on sessionID.
func (c *Client) IssueChallenge(ctx context.Context, sessionID, actorID string) (*Challenge, error) {
	req := map[string]string{"session_id": sessionID, "actor_id": actorID}
	var out Challenge
	if err := c.call(ctx, http.MethodPost, "/api/v1/challenges", req, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

// ── Proofs and events ────────────────────────────────────────────────────────

// SubmitProof posts a sealed proof bundle.
func (c *Client) SubmitProof(ctx context.Context, r ProofRequest) (*ProofResult, error) {
	var out ProofResult
	if err := c.call(ctx, http.MethodPost, "/api/v1/proofs", r, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

// Prove runs the actor side of a handoff: it issues a challenge, seals the
// proof message with signer and submits it.
func (c *Client) Prove(ctx context.Context, signer *Signer, sessionID, secret string, evidenceHashes []string) (*ProofResult, error) {
	ch, err := c.IssueChallenge(ctx, sessionID, signer.ActorID)
	if err != nil {
		return nil, fmt.Errorf("issue challenge: %w", err)
	}
	bundle, err := signer.Seal(sessionID, secret, ch.Nonce, time.Now())
	if err != nil {
		return nil, fmt.Errorf("seal proof: %w", err)
	}
	return c.SubmitProof(ctx, ProofRequest{
		SessionID:      sessionID,
		ActorID:        signer.ActorID,
		ProofBundle:    bundle,
		EvidenceHashes: evidenceHashes,
	})
}

// GetEvent fetches a recorded delivery event.
func (c *Client) GetEvent(ctx context.Context, eventID string) (*Event, error) {
	var out Event
	if err := c.call(ctx, http.MethodGet, "/api/v1/events/"+url.PathEscape(eventID), nil, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyEvent asks the server to re-check an event's hash, signature and
// ledger presence.
func (c *Client) VerifyEvent(ctx context.Context, eventID string) (*VerificationReport, error) {
	var out VerificationReport
	if err := c.call(ctx, http.MethodGet, "/api/v1/events/"+url.PathEscape(eventID)+"/verify", nil, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

// AnchorEvent forces an anchoring attempt. Requires admin credentials.
func (c *Client) AnchorEvent(ctx context.Context, eventID string) (*AnchorResult, error) {
	var out AnchorResult
	if err := c.call(ctx, http.MethodPost, "/api/v1/events/"+url.PathEscape(eventID)+"/anchor", nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

// ── Admin token ──────────────────────────────────────────────────────────────

// FetchAdminToken exchanges the configured admin secret for a token and
// caches it.
func (c *Client) FetchAdminToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshLocked(ctx)
}

func (c *Client) refreshLocked(ctx context.Context) (string, error) {
	if c.adminSecret == "" {
		return "", fmt.Errorf("no admin secret configured")
	}
	var payload struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := c.send(ctx, http.MethodPost, "/api/v1/admin/token", map[string]string{"secret": c.adminSecret}, &payload, ""); err != nil {
		return "", fmt.Errorf("admin token exchange: %w", err)
	}
	// Refresh 60 s before actual expiry to avoid clock-skew failures.
	c.bearerToken = payload.Token
	c.tokenExpiry = payload.ExpiresAt.Add(-60 * time.Second)
	return c.bearerToken, nil
}

// adminToken returns a valid bearer token, fetching a new one if the cached
// token is absent or approaching expiry. An empty token with a nil error
// means no admin credentials are configured.
func (c *Client) adminToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.bearerToken != "" && (c.tokenExpiry.IsZero() || time.Now().Before(c.tokenExpiry)) {
		return c.bearerToken, nil
	}
	if c.adminSecret == "" {
		return c.bearerToken, nil
	}
	return c.refreshLocked(ctx)
}

// ── Transport ────────────────────────────────────────────────────────────────

func (c *Client) call(ctx context.Context, method, path string, in, out any, admin bool) error {
	token := ""
	if admin {
		var err error
		if token, err = c.adminToken(ctx); err != nil {
			return err
		}
	}
	return c.send(ctx, method, path, in, out, token)
}

func (c *Client) send(ctx context.Context, method, path string, in, out any, token string) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var payload struct {
			Error string `json:"error"`
			Kind  string `json:"kind"`
		}
		if json.Unmarshal(respBytes, &payload) == nil && payload.Error != "" {
			apiErr.Message, apiErr.Kind = payload.Error, payload.Kind
		} else {
			apiErr.Message = strings.TrimSpace(string(respBytes))
		}
		return apiErr
	}

	if out != nil && len(respBytes) > 0 {
		if err := json.Unmarshal(respBytes, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
