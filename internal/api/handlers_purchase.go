package api

import (
	"net/http"

	"github.com/alpaca-lotto/internal/service"
)

// handlePurchaseTickets handles POST /api/purchase-tickets. Authorization
// and lottery-state checks live in the purchase service; the handler only
// shapes the request and the envelope.
func (s *Server) handlePurchaseTickets(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LotteryID    int64  `json:"lotteryId"`
		Address      string `json:"address"`
		TicketCount  int    `json:"ticketCount"`
		Signature    string `json:"signature"`
		SessionKeyID string `json:"sessionKeyId"`
		TokenSymbol  string `json:"tokenSymbol"`
		ReferralCode string `json:"referralCode"`
	}

	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	record, err := s.purchases.PurchaseTickets(r.Context(), &service.PurchaseInput{
		LotteryID:    req.LotteryID,
		Address:      req.Address,
		TicketCount:  req.TicketCount,
		Signature:    req.Signature,
		SessionKeyID: req.SessionKeyID,
		TokenSymbol:  req.TokenSymbol,
		ReferralCode: req.ReferralCode,
	})
	if err != nil {
		respondServiceError(w, r, s.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"purchase": record,
	})
}

// handleClaimPrize handles POST /api/claim-prize. The claim fails closed
// whenever winner status cannot be verified against the chain.
func (s *Server) handleClaimPrize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LotteryID    int64  `json:"lotteryId"`
		Address      string `json:"address"`
		Signature    string `json:"signature"`
		SessionKeyID string `json:"sessionKeyId"`
	}

	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	claim, err := s.purchases.ClaimPrize(r.Context(), &service.ClaimInput{
		LotteryID:    req.LotteryID,
		Address:      req.Address,
		Signature:    req.Signature,
		SessionKeyID: req.SessionKeyID,
	})
	if err != nil {
		respondServiceError(w, r, s.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"claim":   claim,
	})
}
