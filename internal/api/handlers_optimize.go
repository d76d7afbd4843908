package api

import (
	"net/http"

	"github.com/alpaca-lotto/internal/types"
)

// optimizeResponse flattens the optimization result into the response
// envelope, so clients read chosen/alternatives/reason at the top level.
type optimizeResponse struct {
	Success bool `json:"success"`
	*types.OptimizationResult
}

// handleOptimizeToken handles POST /api/optimize-token - pick the cheapest
// gas token from the submitted candidates
func (s *Server) handleOptimizeToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tokens          []types.Token          `json:"tokens"`
		UserPreferences *types.UserPreferences `json:"userPreferences"`
	}

	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if len(req.Tokens) == 0 {
		respondError(w, http.StatusBadRequest, "At least one token is required")
		return
	}

	result, err := s.optimizer.FindOptimalToken(r.Context(), req.Tokens, req.UserPreferences)
	if err != nil {
		respondServiceError(w, r, s.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, optimizeResponse{Success: true, OptimizationResult: result})
}
