package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmerrifield20/handoff/internal/handoff/service"
	"go.uber.org/zap"
)

// EventHandler exposes delivery events to auditors.
type EventHandler struct {
	verification *service.VerificationService
	anchors      *service.AnchorService
	admin        gin.HandlerFunc
	logger       *zap.Logger
}

// NewEventHandler creates an EventHandler. admin guards the manual
// re-anchor route; see RequireAdmin.
func NewEventHandler(verification *service.VerificationService, anchors *service.AnchorService, admin gin.HandlerFunc, logger *zap.Logger) *EventHandler {
	return &EventHandler{verification: verification, anchors: anchors, admin: admin, logger: logger}
}

// Register mounts the event routes on the given router group.
func (h *EventHandler) Register(rg *gin.RouterGroup) {
	ev := rg.Group("/events")
	{
		ev.GET("/:id", h.Get)
		ev.GET("/:id/verify", h.Verify)
		ev.POST("/:id/anchor", h.admin, h.Anchor)
	}
}

// Get handles GET /events/:id.
func (h *EventHandler) Get(c *gin.Context) {
	id, ok := eventID(c)
	if !ok {
		return
	}
	ev, err := h.verification.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, "get event", err)
		return
	}
	c.JSON(http.StatusOK, ev)
}

// Verify handles GET /events/:id/verify.
func (h *EventHandler) Verify(c *gin.Context) {
	id, ok := eventID(c)
	if !ok {
		return
	}
	report, err := h.verification.Verify(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, "verify event", err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// Anchor handles POST /events/:id/anchor for manual re-anchoring.
func (h *EventHandler) Anchor(c *gin.Context) {
	id, ok := eventID(c)
	if !ok {
		return
	}
	res, err := h.anchors.AnchorByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, "anchor event", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func eventID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event ID"})
		return uuid.Nil, false
	}
	return id, true
}
