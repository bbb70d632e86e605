// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/okian/merit/internal/adapters/repository"
	"github.com/okian/merit/internal/domain/signing"
)

// VerifyDependencies defines the interface for signature verification.
type VerifyDependencies interface {
	VerifyLatest(ctx context.Context, project, signature string) error
}

// VerifyHandler handles signature verification requests.
type VerifyHandler struct {
	deps VerifyDependencies
}

// NewVerifyHandler creates a new verify handler.
func NewVerifyHandler(deps VerifyDependencies) *VerifyHandler {
	return &VerifyHandler{deps: deps}
}

// verifyRequest mirrors the schema for POST /verify.
type verifyRequest struct {
	Project   string `json:"project"`
	Signature string `json:"signature"`
}

func (v verifyRequest) validate() error {
	switch {
	case strings.TrimSpace(v.Project) == "":
		return errors.New("missing project")
	case strings.TrimSpace(v.Signature) == "":
		return errors.New("missing signature")
	}
	return nil
}

type verifyResponse struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// HandlePostVerify handles POST /verify requests.
func (h *VerifyHandler) HandlePostVerify(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_verify"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	err := h.deps.VerifyLatest(r.Context(), req.Project, req.Signature)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, verifyResponse{Valid: true})
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, signing.ErrSignatureMismatch), errors.Is(err, signing.ErrStaleCalculation):
		writeJSON(w, http.StatusOK, verifyResponse{Valid: false, Reason: err.Error()})
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	}
}
