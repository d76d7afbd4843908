package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alpaca-lotto/internal/types"
)

// TestGetLotteries_Success tests the lottery listing envelope
func TestGetLotteries_Success(t *testing.T) {
	server := createTestServer()

	w := doRequest(server, "GET", "/api/lotteries", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["success"] != true {
		t.Errorf("Expected success=true, got %v", body["success"])
	}
	lotteries, ok := body["lotteries"].([]interface{})
	if !ok || len(lotteries) != 2 {
		t.Errorf("Expected 2 lotteries, got %v", body["lotteries"])
	}
	if body["source"] != "chain" {
		t.Errorf("Expected source 'chain', got %v", body["source"])
	}
}

// TestGetActiveLotteries_Success tests the active-only listing
func TestGetActiveLotteries_Success(t *testing.T) {
	server := createTestServer()

	w := doRequest(server, "GET", "/api/lotteries/active", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	body := decodeBody(t, w)
	lotteries, ok := body["lotteries"].([]interface{})
	if !ok || len(lotteries) != 1 {
		t.Errorf("Expected 1 active lottery, got %v", body["lotteries"])
	}
}

// TestGetLottery_Success tests a single lottery read
func TestGetLottery_Success(t *testing.T) {
	server := createTestServer()

	w := doRequest(server, "GET", "/api/lottery/7", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	body := decodeBody(t, w)
	lottery, ok := body["lottery"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected lottery object, got %v", body["lottery"])
	}
	if lottery["id"] != float64(7) {
		t.Errorf("Expected lottery id 7, got %v", lottery["id"])
	}
	if lottery["source"] != "chain" {
		t.Errorf("Expected source 'chain', got %v", lottery["source"])
	}
}

// TestGetTickets_Success tests the per-address ticket listing
func TestGetTickets_Success(t *testing.T) {
	server := createTestServer()

	w := doRequest(server, "GET", "/api/lottery/1/tickets/"+testOwnerAddress, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	body := decodeBody(t, w)
	tickets, ok := body["tickets"].([]interface{})
	if !ok || len(tickets) != 2 {
		t.Errorf("Expected 2 tickets, got %v", body["tickets"])
	}
}

// TestGetTickets_InvalidAddress tests boundary validation of the address var
func TestGetTickets_InvalidAddress(t *testing.T) {
	server := createTestServer()
	server.lottery = &mockLotteryService{
		ticketsFunc: func(ctx context.Context, id int64, address string) (*types.TicketsResult, error) {
			return nil, &types.ServiceError{Code: "INVALID_ADDRESS", Message: "Invalid Ethereum address format"}
		},
	}

	w := doRequest(server, "GET", "/api/lottery/1/tickets/not-an-address", nil)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

// TestGetWinner_Success tests the winner check envelope
func TestGetWinner_Success(t *testing.T) {
	server := createTestServer()

	w := doRequest(server, "GET", "/api/lottery/1/winner/"+testOwnerAddress, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["isWinner"] != true {
		t.Errorf("Expected isWinner=true, got %v", body["isWinner"])
	}
	if body["source"] != "chain" {
		t.Errorf("Expected source 'chain', got %v", body["source"])
	}
}

// TestGetLotteryPurchases_Success tests the purchase history listing
func TestGetLotteryPurchases_Success(t *testing.T) {
	server := createTestServer()

	w := doRequest(server, "GET", "/api/lottery/1/purchases", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	body := decodeBody(t, w)
	purchases, ok := body["purchases"].([]interface{})
	if !ok || len(purchases) != 1 {
		t.Errorf("Expected 1 purchase, got %v", body["purchases"])
	}
}

// TestOptimizeToken_Success tests the flattened optimization envelope
func TestOptimizeToken_Success(t *testing.T) {
	server := createTestServer()

	reqBody := map[string]interface{}{
		"tokens": []map[string]interface{}{
			{
				"address":  "0x0000000000000000000000000000000000000001",
				"symbol":   "USDC",
				"decimals": 6,
				"balance":  "25000000",
				"priceUsd": "1.00",
			},
		},
	}

	w := doRequest(server, "POST", "/api/optimize-token", reqBody)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["success"] != true {
		t.Errorf("Expected success=true, got %v", body["success"])
	}
	chosen, ok := body["chosen"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected chosen at top level, got %v", body)
	}
	token, ok := chosen["token"].(map[string]interface{})
	if !ok || token["symbol"] != "USDC" {
		t.Errorf("Expected chosen token USDC, got %v", chosen["token"])
	}
	if body["estimatedCostUsd"] != "0.50" {
		t.Errorf("Expected estimatedCostUsd '0.50', got %v", body["estimatedCostUsd"])
	}
}

// TestOptimizeToken_EmptyTokens tests that an empty token array is rejected
func TestOptimizeToken_EmptyTokens(t *testing.T) {
	server := createTestServer()

	w := doRequest(server, "POST", "/api/optimize-token", map[string]interface{}{
		"tokens": []interface{}{},
	})

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["success"] != false {
		t.Errorf("Expected success=false, got %v", body["success"])
	}
}

// TestOptimizeToken_MissingTokens tests that an absent tokens field is rejected
func TestOptimizeToken_MissingTokens(t *testing.T) {
	server := createTestServer()

	w := doRequest(server, "POST", "/api/optimize-token", map[string]interface{}{})

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

// TestOptimizeToken_MalformedBody tests the invalid JSON path
func TestOptimizeToken_MalformedBody(t *testing.T) {
	server := createTestServer()

	req := httptest.NewRequest("POST", "/api/optimize-token", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

// TestPurchaseTickets_Success tests a signed purchase
func TestPurchaseTickets_Success(t *testing.T) {
	server := createTestServer()

	w := doRequest(server, "POST", "/api/purchase-tickets", map[string]interface{}{
		"lotteryId":   int64(1),
		"address":     testOwnerAddress,
		"ticketCount": 3,
		"signature":   testSignature,
	})

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	purchase, ok := body["purchase"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected purchase object, got %v", body)
	}
	if purchase["ticketCount"] != float64(3) {
		t.Errorf("Expected ticketCount 3, got %v", purchase["ticketCount"])
	}
}

// TestPurchaseTickets_NoCredential tests that a purchase without signature
// or session key fails closed
func TestPurchaseTickets_NoCredential(t *testing.T) {
	server := createTestServer()

	w := doRequest(server, "POST", "/api/purchase-tickets", map[string]interface{}{
		"lotteryId":   int64(1),
		"address":     testOwnerAddress,
		"ticketCount": 3,
	})

	if w.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["success"] != false {
		t.Errorf("Expected success=false, got %v", body["success"])
	}
}

// TestPurchaseTickets_InvalidSignature tests the 401 mapping
func TestPurchaseTickets_InvalidSignature(t *testing.T) {
	server := createTestServer()

	w := doRequest(server, "POST", "/api/purchase-tickets", map[string]interface{}{
		"lotteryId":   int64(1),
		"address":     testOwnerAddress,
		"ticketCount": 3,
		"signature":   "0xwrong",
	})

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", w.Code)
	}
}

// TestPurchaseTickets_InactiveSessionKey tests that a revoked or expired
// session key is unauthorized
func TestPurchaseTickets_InactiveSessionKey(t *testing.T) {
	server := createTestServer()

	w := doRequest(server, "POST", "/api/purchase-tickets", map[string]interface{}{
		"lotteryId":    int64(1),
		"address":      testOwnerAddress,
		"ticketCount":  3,
		"sessionKeyId": "key-revoked",
	})

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", w.Code)
	}
}

// TestClaimPrize_Success tests a signed claim
func TestClaimPrize_Success(t *testing.T) {
	server := createTestServer()

	w := doRequest(server, "POST", "/api/claim-prize", map[string]interface{}{
		"lotteryId": int64(1),
		"address":   testOwnerAddress,
		"signature": testSignature,
	})

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	claim, ok := body["claim"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected claim object, got %v", body)
	}
	if claim["prizeWei"] != "500000000000000000" {
		t.Errorf("Expected prizeWei, got %v", claim["prizeWei"])
	}
}

// TestClaimPrize_NoCredential tests that claims fail closed
func TestClaimPrize_NoCredential(t *testing.T) {
	server := createTestServer()

	w := doRequest(server, "POST", "/api/claim-prize", map[string]interface{}{
		"lotteryId": int64(1),
		"address":   testOwnerAddress,
	})

	if w.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", w.Code)
	}
}

// TestCreateSessionKey_Success tests a signed session key creation
func TestCreateSessionKey_Success(t *testing.T) {
	server := createTestServer()

	w := doRequest(server, "POST", "/api/create-session-key", map[string]interface{}{
		"address":   testOwnerAddress,
		"duration":  int64(3600),
		"signature": testSignature,
	})

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	key, ok := body["sessionKey"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected sessionKey object, got %v", body)
	}
	if key["id"] != testSessionKeyID {
		t.Errorf("Expected key id %q, got %v", testSessionKeyID, key["id"])
	}
	if key["state"] != "active" {
		t.Errorf("Expected state 'active', got %v", key["state"])
	}
}

// TestCreateSessionKey_MissingAddress tests validation before authorization
func TestCreateSessionKey_MissingAddress(t *testing.T) {
	server := createTestServer()

	w := doRequest(server, "POST", "/api/create-session-key", map[string]interface{}{
		"duration": int64(3600),
	})

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

// TestCreateSessionKey_NonPositiveDuration tests the duration guard
func TestCreateSessionKey_NonPositiveDuration(t *testing.T) {
	server := createTestServer()

	for _, duration := range []int64{0, -60} {
		w := doRequest(server, "POST", "/api/create-session-key", map[string]interface{}{
			"address":   testOwnerAddress,
			"duration":  duration,
			"signature": testSignature,
		})

		if w.Code != http.StatusBadRequest {
			t.Errorf("duration %d: expected status 400, got %d", duration, w.Code)
		}
	}
}

// TestCreateSessionKey_NoSignature tests that key creation fails closed
func TestCreateSessionKey_NoSignature(t *testing.T) {
	server := createTestServer()

	w := doRequest(server, "POST", "/api/create-session-key", map[string]interface{}{
		"address":  testOwnerAddress,
		"duration": int64(3600),
	})

	if w.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", w.Code)
	}
}

// TestCreateSessionKey_BadSignature tests the 401 mapping
func TestCreateSessionKey_BadSignature(t *testing.T) {
	server := createTestServer()

	w := doRequest(server, "POST", "/api/create-session-key", map[string]interface{}{
		"address":   testOwnerAddress,
		"duration":  int64(3600),
		"signature": "0xwrong",
	})

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", w.Code)
	}
}

// TestRevokeSessionKey_Success tests revocation via sessionKeyId
func TestRevokeSessionKey_Success(t *testing.T) {
	server := createTestServer()

	w := doRequest(server, "POST", "/api/revoke-session-key", map[string]interface{}{
		"sessionKeyId": testSessionKeyID,
		"signature":    testSignature,
	})

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	key, ok := body["sessionKey"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected sessionKey object, got %v", body)
	}
	if key["revoked"] != true {
		t.Errorf("Expected revoked=true, got %v", key["revoked"])
	}
}

// TestRevokeSessionKey_AddressKeyIDForm tests the alternate body shape
func TestRevokeSessionKey_AddressKeyIDForm(t *testing.T) {
	server := createTestServer()

	w := doRequest(server, "POST", "/api/revoke-session-key", map[string]interface{}{
		"address":   testOwnerAddress,
		"keyId":     testSessionKeyID,
		"signature": testSignature,
	})

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
}

// TestRevokeSessionKey_UnknownID tests the 404 mapping
func TestRevokeSessionKey_UnknownID(t *testing.T) {
	server := createTestServer()

	w := doRequest(server, "POST", "/api/revoke-session-key", map[string]interface{}{
		"sessionKeyId": "no-such-key",
		"signature":    testSignature,
	})

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

// TestRevokeSessionKey_WrongOwner tests that a mismatched address is rejected
func TestRevokeSessionKey_WrongOwner(t *testing.T) {
	server := createTestServer()

	w := doRequest(server, "POST", "/api/revoke-session-key", map[string]interface{}{
		"address":   "0x0000000000000000000000000000000000000bad",
		"keyId":     testSessionKeyID,
		"signature": testSignature,
	})

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", w.Code)
	}
}

// TestRevokeSessionKey_MissingID tests the required-field check
func TestRevokeSessionKey_MissingID(t *testing.T) {
	server := createTestServer()

	w := doRequest(server, "POST", "/api/revoke-session-key", map[string]interface{}{
		"signature": testSignature,
	})

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["error"] != "Session key ID is required" {
		t.Errorf("Expected missing-id message, got %v", body["error"])
	}
}

// TestListSessionKeys_Success tests the per-owner listing
func TestListSessionKeys_Success(t *testing.T) {
	server := createTestServer()

	w := doRequest(server, "GET", "/api/session-keys/"+testOwnerAddress, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	body := decodeBody(t, w)
	keys, ok := body["sessionKeys"].([]interface{})
	if !ok || len(keys) != 1 {
		t.Errorf("Expected 1 session key, got %v", body["sessionKeys"])
	}
}

// TestListSessionKeys_EmptyIsArray tests that an empty listing is [] not null
func TestListSessionKeys_EmptyIsArray(t *testing.T) {
	server := createTestServer()
	server.sessions = &mockSessionService{
		listFunc: func(ctx context.Context, owner string) ([]*types.SessionKeyInfo, error) {
			return nil, nil
		},
	}

	w := doRequest(server, "GET", "/api/session-keys/"+testOwnerAddress, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if _, ok := body["sessionKeys"].([]interface{}); !ok {
		t.Errorf("Expected empty array, got %v", body["sessionKeys"])
	}
}

// TestRegisterReferral_Success tests referral registration
func TestRegisterReferral_Success(t *testing.T) {
	server := createTestServer()

	w := doRequest(server, "POST", "/api/referral", map[string]interface{}{
		"address": testOwnerAddress,
	})

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	user, ok := body["user"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected user object, got %v", body)
	}
	if user["referralCode"] != "ALPACA42" {
		t.Errorf("Expected referral code, got %v", user["referralCode"])
	}
}

// TestLeaderboard_Success tests the leaderboard listing and limit passthrough
func TestLeaderboard_Success(t *testing.T) {
	server := createTestServer()
	var gotLimit int
	server.referrals = &mockReferralService{
		leaderboardFunc: func(ctx context.Context, limit int) ([]types.LeaderboardEntry, error) {
			gotLimit = limit
			return []types.LeaderboardEntry{
				{Rank: 1, Address: testOwnerAddress, Points: 99, TicketsPurchased: 99},
			}, nil
		},
	}

	w := doRequest(server, "GET", "/api/leaderboard?limit=5", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if gotLimit != 5 {
		t.Errorf("Expected limit 5 passed through, got %d", gotLimit)
	}
	body := decodeBody(t, w)
	entries, ok := body["leaderboard"].([]interface{})
	if !ok || len(entries) != 1 {
		t.Errorf("Expected 1 leaderboard entry, got %v", body["leaderboard"])
	}
}

// TestLeaderboard_InvalidLimit tests the limit parse guard
func TestLeaderboard_InvalidLimit(t *testing.T) {
	server := createTestServer()

	w := doRequest(server, "GET", "/api/leaderboard?limit=abc", nil)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}
