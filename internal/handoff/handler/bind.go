package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/jmerrifield20/handoff/internal/handoff/model"
)

// bindStrict decodes the JSON body into dst, rejecting unknown members, and
// runs the binding validator over the result.
func bindStrict(c *gin.Context, dst any) error {
	dec := json.NewDecoder(c.Request.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &model.ErrValidation{Msg: "invalid request body: " + err.Error()}
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return &model.ErrValidation{Msg: "invalid request body: trailing data"}
	}
	if err := binding.Validator.ValidateStruct(dst); err != nil {
		return &model.ErrValidation{Msg: describeValidation(err)}
	}
	return nil
}

// describeValidation renders validator errors as "Field: failed rule" pairs.
func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		parts = append(parts, fmt.Sprintf("%s: failed %s", jsonPath(fe.Namespace()), rule))
	}
	return "invalid request: " + strings.Join(parts, "; ")
}

// jsonPath drops the top-level type name from a validator namespace
// ("SubmitProofRequest.ProofBundle.Message" -> "ProofBundle.Message").
func jsonPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}
