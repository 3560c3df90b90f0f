package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/handoff/internal/handoff/model"
	"github.com/jmerrifield20/handoff/internal/handoff/service"
	"go.uber.org/zap"
)

// statusFor maps a service error onto an HTTP status.
func statusFor(err error) int {
	var valErr *model.ErrValidation
	if errors.As(err, &valErr) {
		return http.StatusBadRequest
	}
	// An unknown session is reported as absent even when it surfaces as a
	// verifier step failure.
	if errors.Is(err, service.ErrSessionNotFound) {
		return http.StatusNotFound
	}

	switch service.KindOf(err) {
	case service.KindInvalidInput, service.KindMalformedProof, service.KindSessionInvalid,
		service.KindExpired, service.KindStateConflict:
		return http.StatusBadRequest
	case service.KindSignatureInvalid:
		return http.StatusUnauthorized
	case service.KindChallengeInvalid, service.KindSecretMismatch:
		return http.StatusForbidden
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindDuplicateRegistration, service.KindTampered:
		return http.StatusConflict
	case service.KindLedgerUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as {"error": ..., "kind": ...}. Internal errors are
// logged and replaced with a generic message.
func respondError(c *gin.Context, logger *zap.Logger, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error(op, zap.Error(err))
		c.JSON(status, gin.H{"error": op + " failed"})
		return
	}
	body := gin.H{"error": err.Error()}
	var valErr *model.ErrValidation
	if !errors.As(err, &valErr) {
		body["kind"] = service.KindOf(err)
	}
	c.JSON(status, body)
}
