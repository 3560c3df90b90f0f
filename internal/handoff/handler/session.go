package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmerrifield20/handoff/internal/handoff/model"
	"github.com/jmerrifield20/handoff/internal/handoff/service"
	"go.uber.org/zap"
)

// SessionHandler exposes session activation and lookup.
type SessionHandler struct {
	svc    *service.SessionService
	logger *zap.Logger
	now    func() time.Time
}

// NewSessionHandler creates a SessionHandler.
func NewSessionHandler(svc *service.SessionService, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{svc: svc, logger: logger, now: time.Now}
}

// Register mounts the session routes on the given router group.
func (h *SessionHandler) Register(rg *gin.RouterGroup) {
	s := rg.Group("/sessions")
	{
		s.POST("", h.Activate)
		s.GET("/:id", h.Get)
	}
}

// Activate handles POST /sessions. The secret appears in this response only.
func (h *SessionHandler) Activate(c *gin.Context) {
	var req model.ActivateRequest
	if err := bindStrict(c, &req); err != nil {
		respondError(c, h.logger, "activate session", err)
		return
	}

	sess, err := h.svc.Activate(c.Request.Context(), req.PrincipalID, req.SubjectID,
		req.TTL(), req.SecretKind)
	if err != nil {
		respondError(c, h.logger, "activate session", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"session_id":  sess.ID,
		"secret":      sess.Secret,
		"secret_kind": sess.SecretKind,
		"expires_at":  sess.ExpiresAt,
	})
}

// Get handles GET /sessions/:id. The reported state has expiry applied; the
// stored record is not changed.
func (h *SessionHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session ID"})
		return
	}

	sess, err := h.svc.Lookup(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, "get session", err)
		return
	}
	sess.State = sess.EffectiveState(h.now())
	c.JSON(http.StatusOK, sess)
}
