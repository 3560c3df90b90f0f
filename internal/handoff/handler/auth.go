package handler

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const ctxAdminClaims = "handoff_admin_claims"

// AdminClaims are the JWT claims of an operator token.
type AdminClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// AdminTokens issues and verifies short-lived operator tokens. Tokens are
// only handed out in exchange for the static admin secret and are signed
// with a key derived from it, so rotating the secret invalidates them all.
type AdminTokens struct {
	secret []byte
	key    []byte
	issuer string
	ttl    time.Duration
}

// NewAdminTokens returns nil when secret is empty, which leaves admin routes
// open. Only do that in development.
func NewAdminTokens(secret, issuer string, ttl time.Duration) *AdminTokens {
	if secret == "" {
		return nil
	}
	if ttl == 0 {
		ttl = time.Hour
	}
	key := sha256.Sum256([]byte("handoff-admin-token|" + secret))
	return &AdminTokens{secret: []byte(secret), key: key[:], issuer: issuer, ttl: ttl}
}

// Exchange checks secret and issues a token.
func (a *AdminTokens) Exchange(secret string) (string, time.Time, error) {
	if subtle.ConstantTimeCompare([]byte(secret), a.secret) != 1 {
		return "", time.Time{}, fmt.Errorf("invalid admin secret")
	}
	now := time.Now().UTC()
	exp := now.Add(a.ttl)
	claims := AdminClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   "admin",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.New().String(),
		},
		Role: "admin",
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign admin token: %w", err)
	}
	return signed, exp, nil
}

// Verify parses and validates an operator token.
func (a *AdminTokens) Verify(tokenStr string) (*AdminClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&AdminClaims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return a.key, nil
		},
		jwt.WithIssuer(a.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("verify admin token: %w", err)
	}
	claims, ok := token.Claims.(*AdminClaims)
	if !ok || !token.Valid || claims.Role != "admin" {
		return nil, fmt.Errorf("not an admin token")
	}
	return claims, nil
}

// RequireAdmin returns a Gin middleware that enforces a valid admin Bearer
// token. A nil tokens value disables the check.
func RequireAdmin(tokens *AdminTokens) gin.HandlerFunc {
	if tokens == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "admin Bearer token required",
			})
			return
		}
		claims, err := tokens.Verify(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid token: " + err.Error(),
			})
			return
		}
		c.Set(ctxAdminClaims, claims)
		c.Next()
	}
}

// AuthHandler serves the admin token exchange.
type AuthHandler struct {
	tokens *AdminTokens
	logger *zap.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(tokens *AdminTokens, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{tokens: tokens, logger: logger}
}

// Register mounts POST /admin/token.
func (h *AuthHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/admin/token", h.Token)
}

// Token handles POST /admin/token {secret}.
func (h *AuthHandler) Token(c *gin.Context) {
	if h.tokens == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "admin tokens are not configured"})
		return
	}
	var req struct {
		Secret string `json:"secret" binding:"required,max=512"`
	}
	if err := bindStrict(c, &req); err != nil {
		respondError(c, h.logger, "admin token", err)
		return
	}
	token, exp, err := h.tokens.Exchange(req.Secret)
	if err != nil {
		h.logger.Warn("admin token exchange rejected", zap.String("client_ip", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "expires_at": exp})
}
