// Package types provides common type definitions for the AlpacaLotto backend.
package types

import "time"

// UserTier represents the service tier level
type UserTier string

const (
	// TierFree represents the free service tier with limited features
	TierFree UserTier = "free"
	// TierPaid represents the paid service tier with full features
	TierPaid UserTier = "paid"
)

// LotteryStatus represents the lifecycle state of a lottery
type LotteryStatus string

const (
	// LotteryStatusActive represents a lottery currently selling tickets
	LotteryStatusActive LotteryStatus = "active"
	// LotteryStatusClosed represents a lottery no longer selling tickets
	LotteryStatusClosed LotteryStatus = "closed"
	// LotteryStatusDrawn represents a lottery whose winners have been drawn
	LotteryStatusDrawn LotteryStatus = "drawn"
)

// DataSource indicates where a lottery payload was produced
type DataSource string

const (
	// SourceChain marks data read from the lottery contract
	SourceChain DataSource = "chain"
	// SourceMock marks deterministic fallback data served while the chain is unreachable
	SourceMock DataSource = "mock"
)

// SessionKeyState represents the observable state of a session key
type SessionKeyState string

const (
	// SessionStateActive represents a key that is neither revoked nor expired
	SessionStateActive SessionKeyState = "active"
	// SessionStateExpiringSoon represents an active key inside the caller's warning window
	SessionStateExpiringSoon SessionKeyState = "expiring_soon"
	// SessionStateExpired represents a key whose expiry has passed (terminal)
	SessionStateExpired SessionKeyState = "expired"
	// SessionStateRevoked represents an explicitly revoked key (terminal)
	SessionStateRevoked SessionKeyState = "revoked"
)

// ReasonInsufficientBalance is reported when no candidate token can cover the
// estimated gas cost.
const ReasonInsufficientBalance = "insufficient_balance"

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}

// Token represents a candidate ERC-20 token for gas payment. Snapshot per
// optimization call; balances and prices are strings to avoid float drift.
type Token struct {
	Address        string  `json:"address"`                  // Token contract address
	Symbol         string  `json:"symbol"`                   // Token symbol (e.g., "USDC")
	Decimals       int     `json:"decimals"`                 // Token decimals (0-18)
	Balance        string  `json:"balance"`                  // User-held amount in smallest units
	PriceUSD       string  `json:"priceUsd"`                 // USD price per whole token
	GasEstimateUSD *string `json:"gasEstimateUsd,omitempty"` // Per-token gas estimate, overrides the reference
}

// UserPreferences weights the optimizer's choice; defaults to cost minimization
type UserPreferences struct {
	PreferredSymbol *string `json:"preferredSymbol,omitempty"` // Wins ties against equal-cost tokens
}

// RankedToken is a candidate token annotated with its effective gas cost
type RankedToken struct {
	Token              Token  `json:"token"`
	EffectiveCostUSD   string `json:"effectiveCostUsd"`   // Estimated gas cost in USD
	EffectiveCostUnits string `json:"effectiveCostUnits"` // Same cost in the token's smallest units
	Sufficient         bool   `json:"sufficient"`         // Balance covers EffectiveCostUnits
}

// OptimizationResult is the outcome of a token optimization request.
// Chosen is nil when no token can cover the gas cost; callers must check.
type OptimizationResult struct {
	Chosen           *RankedToken  `json:"chosen"`
	EstimatedCostUSD string        `json:"estimatedCostUsd"` // Cost of the chosen token, empty when Chosen is nil
	Alternatives     []RankedToken `json:"alternatives"`     // Ranked ascending by effective cost
	Reason           *string       `json:"reason,omitempty"` // Populated when Chosen is nil
}

// SessionKey is a time-bounded authorization permitting transactions without
// per-action wallet signing. The server clock is authoritative for expiry.
type SessionKey struct {
	ID        string     `json:"id"`
	Owner     string     `json:"owner"`    // Owner wallet address
	Duration  int64      `json:"duration"` // Requested lifetime in seconds
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt time.Time  `json:"expiresAt"` // CreatedAt + Duration
	Revoked   bool       `json:"revoked"`
	RevokedAt *time.Time `json:"revokedAt,omitempty"`
}

// SessionKeyInfo is a SessionKey with its derived state attached
type SessionKeyInfo struct {
	SessionKey
	State         SessionKeyState `json:"state"`
	TimeRemaining int64           `json:"timeRemaining"` // Seconds until expiry, never negative
}

// Lottery represents a lottery as read from the contract (or mock fallback)
type Lottery struct {
	ID          int64         `json:"id"`
	Name        string        `json:"name"`
	Status      LotteryStatus `json:"status"`
	TicketPrice string        `json:"ticketPrice"` // Price per ticket in wei
	PrizePool   string        `json:"prizePool"`   // Pool size in wei
	TicketCount int64         `json:"ticketCount"` // Tickets sold
	DrawTime    time.Time     `json:"drawTime"`
	Winners     []string      `json:"winners,omitempty"` // Winner addresses once drawn
	Source      DataSource    `json:"source"`            // "chain" or "mock"
}

// TicketsResult lists the ticket numbers an address holds in a lottery
type TicketsResult struct {
	LotteryID int64      `json:"lotteryId"`
	Address   string     `json:"address"`
	Tickets   []int64    `json:"tickets"`
	Source    DataSource `json:"source"`
}

// WinnerResult reports whether an address won a lottery
type WinnerResult struct {
	LotteryID int64      `json:"lotteryId"`
	Address   string     `json:"address"`
	IsWinner  bool       `json:"isWinner"`
	Source    DataSource `json:"source"`
}

// PurchaseRecord is one recorded ticket purchase
type PurchaseRecord struct {
	ID          string    `json:"id"`
	LotteryID   int64     `json:"lotteryId"`
	Buyer       string    `json:"buyer"`
	TicketCount int       `json:"ticketCount"`
	GasToken    *string   `json:"gasToken,omitempty"` // Symbol of the token used to pay gas
	CostUSD     *string   `json:"costUsd,omitempty"`  // Estimated gas cost in USD
	TxHash      *string   `json:"txHash,omitempty"`   // On-chain hash once the bundler lands it
	PurchasedAt time.Time `json:"purchasedAt"`
}

// ClaimResult reports a prize claim accepted by the backend
type ClaimResult struct {
	LotteryID int64     `json:"lotteryId"`
	Address   string    `json:"address"`
	PrizeWei  string    `json:"prizeWei"`
	ClaimedAt time.Time `json:"claimedAt"`
}

// ReferralUser is a participant in the referral program
type ReferralUser struct {
	Address          string    `json:"address"`
	ReferralCode     string    `json:"referralCode"`
	ReferredBy       *string   `json:"referredBy,omitempty"` // Referrer wallet address, if any
	Points           int64     `json:"points"`
	TicketsPurchased int64     `json:"ticketsPurchased"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// LeaderboardEntry is one row of the points leaderboard
type LeaderboardEntry struct {
	Rank             int    `json:"rank"`
	Address          string `json:"address"`
	Points           int64  `json:"points"`
	TicketsPurchased int64  `json:"ticketsPurchased"`
}
