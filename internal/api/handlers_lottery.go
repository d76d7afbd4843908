package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/alpaca-lotto/internal/types"
)

// lotteryIDFromPath parses the {id} path variable. A non-integer id is a
// client error with the exact message the front-end matches on.
func lotteryIDFromPath(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid lottery ID")
		return 0, false
	}
	return id, true
}

// handleGetLotteries handles GET /api/lotteries - list all lotteries
func (s *Server) handleGetLotteries(w http.ResponseWriter, r *http.Request) {
	list, err := s.lottery.GetAllLotteries(r.Context())
	if err != nil {
		respondServiceError(w, r, s.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"lotteries": list.Lotteries,
		"source":    list.Source,
	})
}

// handleGetActiveLotteries handles GET /api/lotteries/active
func (s *Server) handleGetActiveLotteries(w http.ResponseWriter, r *http.Request) {
	list, err := s.lottery.GetActiveLotteries(r.Context())
	if err != nil {
		respondServiceError(w, r, s.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"lotteries": list.Lotteries,
		"source":    list.Source,
	})
}

// handleGetLottery handles GET /api/lottery/{id}
func (s *Server) handleGetLottery(w http.ResponseWriter, r *http.Request) {
	id, ok := lotteryIDFromPath(w, r)
	if !ok {
		return
	}

	lottery, err := s.lottery.GetLottery(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, s.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"lottery": lottery,
	})
}

// handleGetTickets handles GET /api/lottery/{id}/tickets/{address}
func (s *Server) handleGetTickets(w http.ResponseWriter, r *http.Request) {
	id, ok := lotteryIDFromPath(w, r)
	if !ok {
		return
	}
	address := mux.Vars(r)["address"]

	result, err := s.lottery.GetTickets(r.Context(), id, address)
	if err != nil {
		respondServiceError(w, r, s.logger, err)
		return
	}

	tickets := result.Tickets
	if tickets == nil {
		tickets = []int64{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"tickets": tickets,
		"source":  result.Source,
	})
}

// handleGetWinner handles GET /api/lottery/{id}/winner/{address}
func (s *Server) handleGetWinner(w http.ResponseWriter, r *http.Request) {
	id, ok := lotteryIDFromPath(w, r)
	if !ok {
		return
	}
	address := mux.Vars(r)["address"]

	result, err := s.lottery.IsWinner(r.Context(), id, address)
	if err != nil {
		respondServiceError(w, r, s.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"isWinner": result.IsWinner,
		"source":   result.Source,
	})
}

// handleGetLotteryPurchases handles GET /api/lottery/{id}/purchases
func (s *Server) handleGetLotteryPurchases(w http.ResponseWriter, r *http.Request) {
	id, ok := lotteryIDFromPath(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid limit parameter")
			return
		}
		limit = parsed
	}

	purchases, err := s.purchases.GetPurchases(r.Context(), id, limit)
	if err != nil {
		respondServiceError(w, r, s.logger, err)
		return
	}
	if purchases == nil {
		purchases = []*types.PurchaseRecord{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"purchases": purchases,
	})
}
