package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/handoff/internal/handoff/model"
	"github.com/jmerrifield20/handoff/internal/handoff/service"
	"github.com/jmerrifield20/handoff/pkg/proofbundle"
	"go.uber.org/zap"
)

// IdentityHandler exposes the actor key registry.
type IdentityHandler struct {
	svc    *service.IdentityService
	admin  gin.HandlerFunc
	logger *zap.Logger
}

// NewIdentityHandler creates an IdentityHandler. admin guards revocation.
func NewIdentityHandler(svc *service.IdentityService, admin gin.HandlerFunc, logger *zap.Logger) *IdentityHandler {
	return &IdentityHandler{svc: svc, admin: admin, logger: logger}
}

// Register mounts the identity routes on the given router group.
func (h *IdentityHandler) Register(rg *gin.RouterGroup) {
	ids := rg.Group("/identities")
	{
		ids.POST("", h.Create)
		ids.GET("/:actor_id", h.Get)
		ids.POST("/:actor_id/revoke", h.admin, h.Revoke)
	}
}

// Create handles POST /identities, binding an actor to its public key.
func (h *IdentityHandler) Create(c *gin.Context) {
	var req model.RegisterIdentityRequest
	if err := bindStrict(c, &req); err != nil {
		respondError(c, h.logger, "register identity", err)
		return
	}

	id, err := h.svc.Register(c.Request.Context(), req.ActorID, req.PublicKey, proofbundle.KeyKind(req.KeyKind))
	if err != nil {
		respondError(c, h.logger, "register identity", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"status":   "registered",
		"actor_id": id.ActorID,
		"key_kind": id.KeyKind,
	})
}

// Get handles GET /identities/:actor_id.
func (h *IdentityHandler) Get(c *gin.Context) {
	id, err := h.svc.Get(c.Request.Context(), c.Param("actor_id"))
	if err != nil {
		respondError(c, h.logger, "get identity", err)
		return
	}
	c.JSON(http.StatusOK, id)
}

// Revoke handles POST /identities/:actor_id/revoke.
func (h *IdentityHandler) Revoke(c *gin.Context) {
	actorID := c.Param("actor_id")
	if err := h.svc.Revoke(c.Request.Context(), actorID); err != nil {
		respondError(c, h.logger, "revoke identity", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "revoked", "actor_id": actorID})
}
