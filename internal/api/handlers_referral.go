package api

import (
	"net/http"
	"strconv"

	"github.com/alpaca-lotto/internal/types"
)

// handleRegisterReferral handles POST /api/referral - register an address
// in the referral program, optionally attributed to a referrer's code
func (s *Server) handleRegisterReferral(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address    string `json:"address"`
		ReferredBy string `json:"referredBy"`
	}

	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := s.referrals.Register(r.Context(), req.Address, req.ReferredBy)
	if err != nil {
		respondServiceError(w, r, s.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"user":    user,
	})
}

// handleLeaderboard handles GET /api/leaderboard?limit=N
func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid limit parameter")
			return
		}
		limit = parsed
	}

	entries, err := s.referrals.Leaderboard(r.Context(), limit)
	if err != nil {
		respondServiceError(w, r, s.logger, err)
		return
	}
	if entries == nil {
		entries = []types.LeaderboardEntry{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"leaderboard": entries,
	})
}
