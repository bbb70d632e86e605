// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"net/http"

	"github.com/okian/merit/internal/domain/budget"
	"github.com/okian/merit/internal/domain/model"
)

// PoolDependencies defines the interface for pool state queries.
type PoolDependencies interface {
	PoolState(ctx context.Context) (model.MonthlyPoolState, error)
}

// PoolHandler handles reward-pool requests.
type PoolHandler struct {
	deps PoolDependencies
}

// NewPoolHandler creates a new pool handler.
func NewPoolHandler(deps PoolDependencies) *PoolHandler {
	return &PoolHandler{deps: deps}
}

// poolResponse augments the stored state with the derived balance.
type poolResponse struct {
	model.MonthlyPoolState
	RemainingUSD float64 `json:"remaining_usd"`
}

// HandleGetPool handles GET /pool requests.
func (h *PoolHandler) HandleGetPool(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	pool, err := h.deps.PoolState(r.Context())
	if err != nil {
		if budget.IsPoolNotFound(err) {
			writeError(w, http.StatusNotFound, "not_found", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	writeJSON(w, http.StatusOK, poolResponse{MonthlyPoolState: pool, RemainingUSD: pool.RemainingUSD()})
}
