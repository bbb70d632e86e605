// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/okian/merit/internal/adapters/repository"
	"github.com/okian/merit/internal/domain/model"
)

// RewardDependencies defines the interface for reward lookups.
type RewardDependencies interface {
	Latest(ctx context.Context, project string) (model.RewardCalculation, error)
	History(ctx context.Context, project string, limit int) ([]model.RewardCalculation, error)
}

// RewardsHandler handles reward lookup requests.
type RewardsHandler struct {
	deps       RewardDependencies
	maxHistory int
}

// NewRewardsHandler creates a new rewards handler.
func NewRewardsHandler(deps RewardDependencies, maxHistory int) *RewardsHandler {
	if maxHistory <= 0 {
		maxHistory = 100
	}
	return &RewardsHandler{deps: deps, maxHistory: maxHistory}
}

// HandleGetRewards handles GET /rewards/{project} and
// GET /rewards/{project}/history requests. Project names contain a
// slash ("owner/repo"), so the history suffix is matched last.
func (h *RewardsHandler) HandleGetRewards(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	project := strings.TrimPrefix(r.URL.Path, "/rewards/")
	wantHistory := false
	if strings.HasSuffix(project, "/history") {
		project = strings.TrimSuffix(project, "/history")
		wantHistory = true
	}
	if project == "" {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}

	if wantHistory {
		h.handleHistory(w, r, project)
		return
	}

	calc, err := h.deps.Latest(r.Context(), project)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	writeJSON(w, http.StatusOK, calc)
}

func (h *RewardsHandler) handleHistory(w http.ResponseWriter, r *http.Request, project string) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
			return
		}
		limit = parsed
	}
	if limit > h.maxHistory {
		limit = h.maxHistory
	}

	history, err := h.deps.History(r.Context(), project, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	if history == nil {
		history = []model.RewardCalculation{}
	}
	writeJSON(w, http.StatusOK, history)
}
