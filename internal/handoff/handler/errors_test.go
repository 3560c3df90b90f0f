package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/gin-gonic/gin/binding"

	"github.com/jmerrifield20/handoff/internal/handoff/model"
	"github.com/jmerrifield20/handoff/internal/handoff/service"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&model.ErrValidation{Msg: "bad"}, http.StatusBadRequest},
		{fmt.Errorf("%w: x", service.ErrMalformedProof), http.StatusBadRequest},
		{fmt.Errorf("%w: %w", service.ErrSessionInvalid, service.ErrSessionExpired), http.StatusBadRequest},
		{fmt.Errorf("%w: %w", service.ErrSessionInvalid, service.ErrSessionNotActive), http.StatusBadRequest},
		{fmt.Errorf("%w: %w", service.ErrSessionInvalid, service.ErrSessionNotFound), http.StatusNotFound},
		{service.ErrSessionNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: %w", service.ErrChallengeInvalid, service.ErrNonceMismatch), http.StatusForbidden},
		{service.ErrSecretMismatch, http.StatusForbidden},
		{fmt.Errorf("%w: bad", service.ErrSignatureInvalid), http.StatusUnauthorized},
		{service.ErrDuplicateRegistration, http.StatusConflict},
		{service.ErrEventTampered, http.StatusConflict},
		{fmt.Errorf("%w: %w", service.ErrLedgerUnavailable, errors.New("eof")), http.StatusBadGateway},
		{service.ErrEventNotFound, http.StatusNotFound},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Errorf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestDescribeValidation(t *testing.T) {
	req := model.ActivateRequest{PrincipalID: "cus_1", TTLSeconds: -5}
	err := binding.Validator.ValidateStruct(&req)
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := describeValidation(err)
	for _, want := range []string{"SubjectID: failed required", "TTLSeconds: failed gt=0"} {
		if !strings.Contains(msg, want) {
			t.Errorf("%q missing %q", msg, want)
		}
	}
	if got := describeValidation(errors.New("plain")); got != "plain" {
		t.Errorf("non-validator error: got %q", got)
	}
}
