package service

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alpaca-lotto/internal/auth"
	apperrors "github.com/alpaca-lotto/internal/errors"
	"github.com/alpaca-lotto/internal/logging"
	"github.com/alpaca-lotto/internal/metrics"
	"github.com/alpaca-lotto/internal/models"
	"github.com/alpaca-lotto/internal/storage"
	"github.com/alpaca-lotto/internal/types"
)

// maxTicketsPerPurchase bounds a single purchase. The ClickHouse row stores
// the count as int32 and referral points scale linearly with it.
const maxTicketsPerPurchase = 10000

// SignatureVerifier checks an EIP-191 personal-sign signature against an
// expected signer address
type SignatureVerifier interface {
	Verify(address, message, signatureHex string) error
}

// SessionAuthorizer checks that a session key exists, belongs to the owner,
// and is still active
type SessionAuthorizer interface {
	Authorize(ctx context.Context, keyID, owner string) error
}

// LotteryStateProvider supplies the lottery state purchases and claims are
// checked against. Implemented by LotteryService.
type LotteryStateProvider interface {
	GetLottery(ctx context.Context, lotteryID int64) (*types.Lottery, error)
	IsWinner(ctx context.Context, lotteryID int64, address string) (*types.WinnerResult, error)
	InvalidateLottery(ctx context.Context, lotteryID int64) error
}

// PurchaseStore persists purchase rows for analytics queries
type PurchaseStore interface {
	Insert(ctx context.Context, purchase *models.Purchase) error
	GetByLottery(ctx context.Context, lotteryID int64, limit int) ([]*models.Purchase, error)
	GetByBuyer(ctx context.Context, buyer string, limit int) ([]*models.Purchase, error)
}

// ReferralCrediter applies referral attribution and leaderboard points
type ReferralCrediter interface {
	GetByCode(ctx context.Context, code string) (*models.ReferralUser, error)
	Create(ctx context.Context, user *models.ReferralUser) (bool, error)
	CreditPurchase(ctx context.Context, address string, tickets, points, referrerBonus int64) error
}

// PurchasePublisher pushes purchase events to connected WebSocket clients
type PurchasePublisher interface {
	PublishPurchase(record *types.PurchaseRecord)
}

// PurchaseService validates, authorizes, and records ticket purchases and
// prize claims. Mutations fail closed: no credential means no write, and
// mock-sourced lottery state never authorizes a purchase or claim.
type PurchaseService struct {
	lotteries LotteryStateProvider
	purchases PurchaseStore
	referrals ReferralCrediter
	sessions  SessionAuthorizer
	verifier  SignatureVerifier
	publisher PurchasePublisher
	now       func() time.Time
	logger    *logging.Logger
}

// PurchaseServiceConfig holds configuration for the purchase service
type PurchaseServiceConfig struct {
	// Lotteries supplies lottery and winner state. Required.
	Lotteries LotteryStateProvider

	// Purchases persists purchase rows. Required.
	Purchases PurchaseStore

	// Referrals credits points on purchases. Optional; nil disables
	// referral crediting.
	Referrals ReferralCrediter

	// Sessions authorizes session-key credentials. Optional; nil rejects
	// session-key requests.
	Sessions SessionAuthorizer

	// Verifier checks request signatures. Optional; nil rejects
	// signature requests.
	Verifier SignatureVerifier

	// Publisher receives purchase events. Optional.
	Publisher PurchasePublisher

	// Clock overrides the time source for tests. Default: time.Now UTC.
	Clock func() time.Time

	// Logger for purchase events. If nil, the global logger is used.
	Logger *logging.Logger
}

// NewPurchaseService creates a new purchase service
func NewPurchaseService(cfg *PurchaseServiceConfig) (*PurchaseService, error) {
	if cfg == nil || cfg.Lotteries == nil {
		return nil, fmt.Errorf("lottery state provider is required")
	}
	if cfg.Purchases == nil {
		return nil, fmt.Errorf("purchase store is required")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &PurchaseService{
		lotteries: cfg.Lotteries,
		purchases: cfg.Purchases,
		referrals: cfg.Referrals,
		sessions:  cfg.Sessions,
		verifier:  cfg.Verifier,
		publisher: cfg.Publisher,
		now:       clock,
		logger:    logger.WithField("component", "purchase_service"),
	}, nil
}

// PurchaseInput defines a ticket purchase request
type PurchaseInput struct {
	LotteryID    int64  `json:"lotteryId"`
	Address      string `json:"address"`
	TicketCount  int    `json:"ticketCount"`
	Signature    string `json:"signature,omitempty"`
	SessionKeyID string `json:"sessionKeyId,omitempty"`
	TokenSymbol  string `json:"tokenSymbol,omitempty"`
	ReferralCode string `json:"referralCode,omitempty"`
}

// ClaimInput defines a prize claim request
type ClaimInput struct {
	LotteryID    int64  `json:"lotteryId"`
	Address      string `json:"address"`
	Signature    string `json:"signature,omitempty"`
	SessionKeyID string `json:"sessionKeyId,omitempty"`
}

// PurchaseTickets records an authorized ticket purchase, credits referral
// points, invalidates the lottery's cache entries, and publishes the event
func (s *PurchaseService) PurchaseTickets(ctx context.Context, input *PurchaseInput) (*types.PurchaseRecord, error) {
	if input == nil {
		return nil, apperrors.NewInvalidParameterError("body", "request body is required").ToServiceError()
	}
	if input.LotteryID <= 0 {
		return nil, &types.ServiceError{
			Code:    "INVALID_LOTTERY_ID",
			Message: "Invalid lottery ID",
		}
	}
	if err := storage.ValidateAddress(input.Address); err != nil {
		return nil, err
	}
	if input.TicketCount < 1 {
		return nil, apperrors.NewInvalidParameterError("ticketCount", "must be at least 1").ToServiceError()
	}
	if input.TicketCount > maxTicketsPerPurchase {
		return nil, apperrors.NewInvalidParameterError("ticketCount",
			fmt.Sprintf("must not exceed %d", maxTicketsPerPurchase)).ToServiceError()
	}

	buyer := strings.ToLower(input.Address)
	message := auth.PurchaseMessage(input.LotteryID, buyer, input.TicketCount)
	if err := s.authorize(ctx, buyer, message, input.Signature, input.SessionKeyID, "purchase-tickets"); err != nil {
		return nil, err
	}

	lottery, err := s.lotteries.GetLottery(ctx, input.LotteryID)
	if err != nil {
		return nil, err
	}
	if lottery.Source != types.SourceChain {
		// Chain state is unavailable; recording a purchase against mock
		// state would fabricate success.
		s.logger.WithFields(map[string]interface{}{
			"lottery_id": input.LotteryID,
			"source":     lottery.Source,
		}).Warn("Purchase rejected, lottery state not chain-backed")
		return nil, &types.ServiceError{
			Code:    "UPSTREAM_FAILURE",
			Message: "Lottery state is unavailable, purchases are temporarily disabled",
		}
	}
	if lottery.Status != types.LotteryStatusActive {
		return nil, &types.ServiceError{
			Code:    "INVALID_INPUT",
			Message: "Lottery is not selling tickets",
			Details: map[string]interface{}{
				"lottery_id": input.LotteryID,
				"status":     lottery.Status,
			},
		}
	}

	row := &models.Purchase{
		ID:          uuid.New().String(),
		LotteryID:   input.LotteryID,
		Buyer:       buyer,
		TicketCount: int32(input.TicketCount),
		PurchasedAt: s.now(),
	}
	if symbol := strings.ToUpper(strings.TrimSpace(input.TokenSymbol)); symbol != "" {
		row.GasToken = &symbol
	}

	if err := s.purchases.Insert(ctx, row); err != nil {
		if svcErr, ok := err.(*types.ServiceError); ok {
			return nil, svcErr
		}
		s.logger.WithError(err).WithField("lottery_id", input.LotteryID).Error("Failed to record purchase")
		return nil, apperrors.NewDatabaseError("record purchase", err).ToServiceError()
	}
	metrics.PurchasesRecorded.Inc()
	metrics.TicketsSold.Add(float64(input.TicketCount))

	s.creditReferral(ctx, buyer, input.ReferralCode, int64(input.TicketCount))

	if err := s.lotteries.InvalidateLottery(ctx, input.LotteryID); err != nil {
		s.logger.WithError(err).WithField("lottery_id", input.LotteryID).Warn("Cache invalidation failed after purchase")
	}

	record := row.ToRecord()
	if s.publisher != nil {
		s.publisher.PublishPurchase(record)
	}

	s.logger.WithFields(map[string]interface{}{
		"lottery_id":   input.LotteryID,
		"buyer":        buyer,
		"ticket_count": input.TicketCount,
	}).Info("Purchase recorded")

	return record, nil
}

// ClaimPrize verifies winner status on chain-backed data and authorizes the
// claim. A mock-sourced winner check can never authorize a payout.
func (s *PurchaseService) ClaimPrize(ctx context.Context, input *ClaimInput) (*types.ClaimResult, error) {
	if input == nil {
		return nil, apperrors.NewInvalidParameterError("body", "request body is required").ToServiceError()
	}
	if input.LotteryID <= 0 {
		return nil, &types.ServiceError{
			Code:    "INVALID_LOTTERY_ID",
			Message: "Invalid lottery ID",
		}
	}
	if err := storage.ValidateAddress(input.Address); err != nil {
		return nil, err
	}

	claimer := strings.ToLower(input.Address)
	message := auth.ClaimMessage(input.LotteryID, claimer)
	if err := s.authorize(ctx, claimer, message, input.Signature, input.SessionKeyID, "claim-prize"); err != nil {
		return nil, err
	}

	winner, err := s.lotteries.IsWinner(ctx, input.LotteryID, claimer)
	if err != nil {
		return nil, err
	}
	if winner.Source != types.SourceChain {
		s.logger.WithFields(map[string]interface{}{
			"lottery_id": input.LotteryID,
			"address":    claimer,
			"source":     winner.Source,
		}).Warn("Claim rejected, winner status not chain-backed")
		return nil, &types.ServiceError{
			Code:    "UPSTREAM_FAILURE",
			Message: "Winner status cannot be verified right now",
		}
	}
	if !winner.IsWinner {
		return nil, apperrors.NewUnauthorizedError("Address is not a winner of this lottery").ToServiceError()
	}

	lottery, err := s.lotteries.GetLottery(ctx, input.LotteryID)
	if err != nil {
		return nil, err
	}
	if lottery.Source != types.SourceChain {
		return nil, &types.ServiceError{
			Code:    "UPSTREAM_FAILURE",
			Message: "Prize pool cannot be verified right now",
		}
	}

	prize, err := splitPrizePool(lottery.PrizePool, len(lottery.Winners))
	if err != nil {
		s.logger.WithError(err).WithField("lottery_id", input.LotteryID).Error("Prize pool arithmetic failed")
		return nil, apperrors.NewInternalError("failed to compute prize share", err).ToServiceError()
	}

	result := &types.ClaimResult{
		LotteryID: input.LotteryID,
		Address:   claimer,
		PrizeWei:  prize,
		ClaimedAt: s.now(),
	}

	s.logger.WithFields(map[string]interface{}{
		"lottery_id": input.LotteryID,
		"address":    claimer,
		"prize_wei":  prize,
	}).Info("Prize claim authorized")

	return result, nil
}

// GetPurchases returns a lottery's purchase history, newest first
func (s *PurchaseService) GetPurchases(ctx context.Context, lotteryID int64, limit int) ([]*types.PurchaseRecord, error) {
	if lotteryID <= 0 {
		return nil, &types.ServiceError{
			Code:    "INVALID_LOTTERY_ID",
			Message: "Invalid lottery ID",
		}
	}

	rows, err := s.purchases.GetByLottery(ctx, lotteryID, limit)
	if err != nil {
		s.logger.WithError(err).WithField("lottery_id", lotteryID).Error("Failed to load purchases")
		return nil, apperrors.NewDatabaseError("load purchases", err).ToServiceError()
	}
	return purchaseRecords(rows), nil
}

// GetPurchasesByBuyer returns one address's purchase history, newest first
func (s *PurchaseService) GetPurchasesByBuyer(ctx context.Context, buyer string, limit int) ([]*types.PurchaseRecord, error) {
	if err := storage.ValidateAddress(buyer); err != nil {
		return nil, err
	}

	rows, err := s.purchases.GetByBuyer(ctx, strings.ToLower(buyer), limit)
	if err != nil {
		s.logger.WithError(err).WithField("buyer", strings.ToLower(buyer)).Error("Failed to load purchases")
		return nil, apperrors.NewDatabaseError("load purchases", err).ToServiceError()
	}
	return purchaseRecords(rows), nil
}

// authorize accepts exactly one credential: an EIP-191 signature over the
// canonical message, or an active session key owned by the address. No
// credential fails closed with authorization_pending.
func (s *PurchaseService) authorize(ctx context.Context, address, message, signature, sessionKeyID, operation string) error {
	switch {
	case signature != "":
		if s.verifier == nil {
			return apperrors.NewInvalidSignatureError(address).ToServiceError()
		}
		if err := s.verifier.Verify(address, message, signature); err != nil {
			if catErr, ok := err.(*apperrors.CategorizedError); ok {
				return catErr.ToServiceError()
			}
			return err
		}
		return nil
	case sessionKeyID != "":
		if s.sessions == nil {
			return &types.ServiceError{
				Code:    "SESSION_KEY_INACTIVE",
				Message: "session key is not active",
			}
		}
		return s.sessions.Authorize(ctx, sessionKeyID, address)
	default:
		return apperrors.NewAuthorizationPendingError(operation).ToServiceError()
	}
}

// creditReferral attributes the purchase and adds points: one point per
// ticket to the buyer, a 10% bonus to the referrer. Crediting failures do
// not fail the purchase; the analytics rows remain the reconciliation
// source.
func (s *PurchaseService) creditReferral(ctx context.Context, buyer, referralCode string, tickets int64) {
	if s.referrals == nil {
		return
	}

	var referredBy *string
	if code := strings.TrimSpace(referralCode); code != "" {
		referrer, err := s.referrals.GetByCode(ctx, code)
		switch {
		case err != nil:
			s.logger.WithError(err).WithField("referral_code", code).Warn("Referral code lookup failed, purchase stays unattributed")
		case strings.EqualFold(referrer.Address, buyer):
			s.logger.WithField("address", buyer).Warn("Self-referral ignored")
		default:
			addr := strings.ToLower(referrer.Address)
			referredBy = &addr
		}
	}

	created, err := s.referrals.Create(ctx, &models.ReferralUser{
		Address:      buyer,
		ReferralCode: storage.NewReferralCode(),
		ReferredBy:   referredBy,
	})
	if err != nil {
		s.logger.WithError(err).WithField("address", buyer).Error("Failed to ensure referral user")
		return
	}
	if !created && referredBy != nil {
		// Attribution is first-write-wins; an existing row keeps its
		// original referrer.
		s.logger.WithField("address", buyer).Debug("Referral attribution unchanged for existing user")
	}

	points := tickets
	bonus := points / 10
	if err := s.referrals.CreditPurchase(ctx, buyer, tickets, points, bonus); err != nil {
		s.logger.WithError(err).WithField("address", buyer).Error("Failed to credit referral points")
	}
}

// splitPrizePool divides the pool evenly among winners, in wei
func splitPrizePool(prizePool string, winners int) (string, error) {
	pool, ok := new(big.Int).SetString(prizePool, 10)
	if !ok {
		return "", fmt.Errorf("malformed prize pool %q", prizePool)
	}
	if pool.Sign() < 0 {
		return "", fmt.Errorf("negative prize pool %q", prizePool)
	}
	if winners < 1 {
		winners = 1
	}
	share := new(big.Int).Quo(pool, big.NewInt(int64(winners)))
	return share.String(), nil
}

func purchaseRecords(rows []*models.Purchase) []*types.PurchaseRecord {
	records := make([]*types.PurchaseRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.ToRecord())
	}
	return records
}
