package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/handoff/internal/handoff/model"
	"github.com/jmerrifield20/handoff/internal/handoff/service"
	"go.uber.org/zap"
)

// ProofHandler accepts signed proof bundles.
type ProofHandler struct {
	verifier *service.ProofVerifier
	logger   *zap.Logger
}

// NewProofHandler creates a ProofHandler.
func NewProofHandler(verifier *service.ProofVerifier, logger *zap.Logger) *ProofHandler {
	return &ProofHandler{verifier: verifier, logger: logger}
}

// Register mounts the proof routes on the given router group.
func (h *ProofHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/proofs", h.Submit)
}

// Submit handles POST /proofs. A verified proof is reported as such even when
// anchoring was deferred; anchor_state tells the two apart.
func (h *ProofHandler) Submit(c *gin.Context) {
	var req model.SubmitProofRequest
	if err := bindStrict(c, &req); err != nil {
		respondError(c, h.logger, "submit proof", err)
		return
	}

	ev, err := h.verifier.Submit(c.Request.Context(), service.ProofInput{
		SessionID:      req.SessionID,
		ActorID:        req.ActorID,
		Bundle:         req.ProofBundle,
		EvidenceHashes: req.EvidenceHashes,
	})
	if err != nil {
		respondError(c, h.logger, "submit proof", err)
		return
	}

	resp := gin.H{
		"status":       "verified",
		"event_id":     ev.ID,
		"anchor_hash":  ev.AnchorHash,
		"anchor_state": ev.State,
	}
	if ev.LedgerRef != "" {
		resp["ledger_ref"] = ev.LedgerRef
	}
	c.JSON(http.StatusCreated, resp)
}
