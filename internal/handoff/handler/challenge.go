package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmerrifield20/handoff/internal/handoff/model"
	"github.com/jmerrifield20/handoff/internal/handoff/service"
	"go.uber.org/zap"
)

// ChallengeHandler exposes challenge issuance.
type ChallengeHandler struct {
	svc    *service.ChallengeService
	logger *zap.Logger
}

// NewChallengeHandler creates a ChallengeHandler.
func NewChallengeHandler(svc *service.ChallengeService, logger *zap.Logger) *ChallengeHandler {
	return &ChallengeHandler{svc: svc, logger: logger}
}

// Register mounts the challenge routes on the given router group.
func (h *ChallengeHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/challenges", h.Issue)
}

// Issue handles POST /challenges.
func (h *ChallengeHandler) Issue(c *gin.Context) {
	var req model.IssueChallengeRequest
	if err := bindStrict(c, &req); err != nil {
		respondError(c, h.logger, "issue challenge", err)
		return
	}
	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session ID"})
		return
	}

	ch, err := h.svc.Issue(c.Request.Context(), sessionID, req.ActorID)
	if err != nil {
		// The actor is a request parameter here, not a resource.
		if errors.Is(err, service.ErrActorNotRegistered) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": service.KindOf(err)})
			return
		}
		respondError(c, h.logger, "issue challenge", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"challenge_id": ch.ID,
		"nonce":        ch.Nonce,
		"expires_at":   ch.ExpiresAt,
	})
}
