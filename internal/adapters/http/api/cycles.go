// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// CycleDependencies defines the interface for cycle submission.
type CycleDependencies interface {
	Enqueue(ctx context.Context, project string) (string, bool)
}

// CyclesHandler handles scoring-cycle requests.
type CyclesHandler struct {
	deps CycleDependencies
}

// NewCyclesHandler creates a new cycles handler.
func NewCyclesHandler(deps CycleDependencies) *CyclesHandler {
	return &CyclesHandler{deps: deps}
}

// cycleRequest mirrors the schema for POST /cycles.
type cycleRequest struct {
	Project string `json:"project"`
}

func (c cycleRequest) validate() error {
	if strings.TrimSpace(c.Project) == "" {
		return errors.New("missing project")
	}
	return nil
}

// HandlePostCycle handles POST /cycles requests.
func (h *CyclesHandler) HandlePostCycle(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_cycle"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req cycleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	id, ok := h.deps.Enqueue(r.Context(), req.Project)
	if !ok {
		writeError(w, http.StatusTooManyRequests, "backpressure", NewKind(op, ErrBackpressure))
		return
	}
	// An accepted submission with no job id means a cycle for the
	// project is already queued or running.
	if id == "" {
		writeJSON(w, http.StatusOK, ackResponse{Status: "pending"})
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted", JobID: id})
}
