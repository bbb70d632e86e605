// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/okian/merit/internal/domain/model"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	// Enqueue submits a scoring cycle for a project. The returned id is
	// empty when a cycle for the project is already pending; ok is false
	// on backpressure.
	Enqueue(ctx context.Context, project string) (string, bool)

	// Read operations expose stored reward calculations.
	Latest(ctx context.Context, project string) (model.RewardCalculation, error)
	History(ctx context.Context, project string, limit int) ([]model.RewardCalculation, error)
	PoolState(ctx context.Context) (model.MonthlyPoolState, error)
	VerifyLatest(ctx context.Context, project, signature string) error
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler  *HealthHandler
	statsHandler   *StatsHandler
	cyclesHandler  *CyclesHandler
	rewardsHandler *RewardsHandler
	poolHandler    *PoolHandler
	verifyHandler  *VerifyHandler
}

// NewServer creates a new API server with all handlers. maxHistory caps
// the limit a client may request on the history endpoint.
func NewServer(deps Dependencies, statsProvider StatsProvider, maxHistory int) *Server {
	return &Server{
		healthHandler:  NewHealthHandler(),
		statsHandler:   NewStatsHandler(statsProvider),
		cyclesHandler:  NewCyclesHandler(deps),
		rewardsHandler: NewRewardsHandler(deps, maxHistory),
		poolHandler:    NewPoolHandler(deps),
		verifyHandler:  NewVerifyHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(ctx context.Context, mux *http.ServeMux) {
	// Specific paths first (most specific to least specific)
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/cycles", MetricsMiddleware(s.cyclesHandler.HandlePostCycle, "cycles"))
	mux.HandleFunc("/rewards/", MetricsMiddleware(s.rewardsHandler.HandleGetRewards, "rewards"))
	mux.HandleFunc("/pool", MetricsMiddleware(s.poolHandler.HandleGetPool, "pool"))
	mux.HandleFunc("/verify", MetricsMiddleware(s.verifyHandler.HandlePostVerify, "verify"))
}

type ackResponse struct {
	Status string `json:"status"`
	JobID  string `json:"job_id,omitempty"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
