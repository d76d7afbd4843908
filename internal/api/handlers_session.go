package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/alpaca-lotto/internal/auth"
	apperrors "github.com/alpaca-lotto/internal/errors"
	"github.com/alpaca-lotto/internal/storage"
	"github.com/alpaca-lotto/internal/types"
)

// handleCreateSessionKey handles POST /api/create-session-key. The owner
// signs a canonical message over address and duration; without a valid
// signature the key is never minted.
func (s *Server) handleCreateSessionKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address   string `json:"address"`
		Duration  int64  `json:"duration"`
		Signature string `json:"signature"`
	}

	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	// Validation rejects before authorization is considered
	if err := storage.ValidateAddress(req.Address); err != nil {
		respondServiceError(w, r, s.logger, err)
		return
	}
	if req.Duration <= 0 {
		respondServiceError(w, r, s.logger, apperrors.NewInvalidDurationError(req.Duration))
		return
	}

	if req.Signature == "" {
		respondServiceError(w, r, s.logger, apperrors.NewAuthorizationPendingError("create-session-key"))
		return
	}
	message := auth.SessionCreateMessage(req.Address, req.Duration)
	if err := s.verifier.Verify(req.Address, message, req.Signature); err != nil {
		respondServiceError(w, r, s.logger, err)
		return
	}

	key, err := s.sessions.Create(r.Context(), req.Address, req.Duration)
	if err != nil {
		respondServiceError(w, r, s.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"sessionKey": key,
	})
}

// handleRevokeSessionKey handles POST /api/revoke-session-key. The body
// names the key either as sessionKeyId or as the address+keyId pair; the
// key's recorded owner must sign the revocation.
func (s *Server) handleRevokeSessionKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionKeyID string `json:"sessionKeyId"`
		Address      string `json:"address"`
		KeyID        string `json:"keyId"`
		Signature    string `json:"signature"`
	}

	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	keyID := req.SessionKeyID
	if keyID == "" {
		keyID = req.KeyID
	}
	if keyID == "" {
		respondError(w, http.StatusBadRequest, "Session key ID is required")
		return
	}

	key, err := s.sessions.Get(r.Context(), keyID)
	if err != nil {
		respondServiceError(w, r, s.logger, err)
		return
	}
	if req.Address != "" && !strings.EqualFold(req.Address, key.Owner) {
		respondServiceError(w, r, s.logger,
			apperrors.NewUnauthorizedError("Session key does not belong to this address"))
		return
	}

	if req.Signature == "" {
		respondServiceError(w, r, s.logger, apperrors.NewAuthorizationPendingError("revoke-session-key"))
		return
	}
	message := auth.SessionRevokeMessage(key.Owner, keyID)
	if err := s.verifier.Verify(key.Owner, message, req.Signature); err != nil {
		respondServiceError(w, r, s.logger, err)
		return
	}

	revoked, err := s.sessions.Revoke(r.Context(), keyID)
	if err != nil {
		respondServiceError(w, r, s.logger, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"sessionKey": revoked,
	})
}

// handleListSessionKeys handles GET /api/session-keys/{address} - list an
// owner's keys with derived state attached
func (s *Server) handleListSessionKeys(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]

	keys, err := s.sessions.ListByOwner(r.Context(), address)
	if err != nil {
		respondServiceError(w, r, s.logger, err)
		return
	}
	if keys == nil {
		keys = []*types.SessionKeyInfo{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"sessionKeys": keys,
	})
}
