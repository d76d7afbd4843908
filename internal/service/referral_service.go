package service

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/alpaca-lotto/internal/errors"
	"github.com/alpaca-lotto/internal/logging"
	"github.com/alpaca-lotto/internal/models"
	"github.com/alpaca-lotto/internal/storage"
	"github.com/alpaca-lotto/internal/types"
)

// defaultLeaderboardLimit is returned when no limit is requested
const defaultLeaderboardLimit = 10

// maxLeaderboardLimit caps one leaderboard page
const maxLeaderboardLimit = 100

// ReferralStore persists referral program participants
type ReferralStore interface {
	Create(ctx context.Context, user *models.ReferralUser) (bool, error)
	GetByAddress(ctx context.Context, address string) (*models.ReferralUser, error)
	GetByCode(ctx context.Context, code string) (*models.ReferralUser, error)
	Leaderboard(ctx context.Context, limit int) ([]*models.ReferralUser, error)
	Count(ctx context.Context) (int64, error)
}

// ReferralService manages referral registration and the points leaderboard.
// Attribution is first-write-wins: an address is referred at most once, and
// never by itself.
type ReferralService struct {
	store  ReferralStore
	logger *logging.Logger
}

// ReferralServiceConfig holds configuration for the referral service
type ReferralServiceConfig struct {
	// Store is the referral repository. Required.
	Store ReferralStore

	// Logger for referral events. If nil, the global logger is used.
	Logger *logging.Logger
}

// NewReferralService creates a new referral service
func NewReferralService(cfg *ReferralServiceConfig) (*ReferralService, error) {
	if cfg == nil || cfg.Store == nil {
		return nil, fmt.Errorf("referral store is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &ReferralService{
		store:  cfg.Store,
		logger: logger.WithField("component", "referral_service"),
	}, nil
}

// Register enrolls an address in the referral program and returns its user
// row. Registering an already-enrolled address without a referral code is
// idempotent; with one, it conflicts.
func (s *ReferralService) Register(ctx context.Context, address, referralCode string) (*types.ReferralUser, error) {
	if err := storage.ValidateAddress(address); err != nil {
		return nil, err
	}
	addr := strings.ToLower(address)

	var referredBy *string
	code := strings.TrimSpace(referralCode)
	if code != "" {
		referrer, err := s.store.GetByCode(ctx, code)
		if err != nil {
			if svcErr, ok := err.(*types.ServiceError); ok && svcErr.Code == "USER_NOT_FOUND" {
				return nil, apperrors.NewInvalidParameterError("referredBy", "unknown referral code").ToServiceError()
			}
			return nil, err
		}
		if strings.EqualFold(referrer.Address, addr) {
			return nil, &types.ServiceError{
				Code:    "INVALID_INPUT",
				Message: "Self-referral is not allowed",
			}
		}
		referrerAddr := strings.ToLower(referrer.Address)
		referredBy = &referrerAddr
	}

	created, err := s.store.Create(ctx, &models.ReferralUser{
		Address:      addr,
		ReferralCode: storage.NewReferralCode(),
		ReferredBy:   referredBy,
	})
	if err != nil {
		s.logger.WithError(err).WithField("address", addr).Error("Failed to create referral user")
		return nil, apperrors.NewDatabaseError("register referral user", err).ToServiceError()
	}

	if !created && referredBy != nil {
		return nil, &types.ServiceError{
			Code:    "REFERRAL_CONFLICT",
			Message: "Address is already registered and keeps its original referrer",
		}
	}

	user, err := s.store.GetByAddress(ctx, addr)
	if err != nil {
		return nil, err
	}

	if created {
		s.logger.WithFields(map[string]interface{}{
			"address":  addr,
			"referred": referredBy != nil,
		}).Info("Referral user registered")
	}
	return user.ToType(), nil
}

// GetUser returns one participant by address
func (s *ReferralService) GetUser(ctx context.Context, address string) (*types.ReferralUser, error) {
	if err := storage.ValidateAddress(address); err != nil {
		return nil, err
	}
	user, err := s.store.GetByAddress(ctx, strings.ToLower(address))
	if err != nil {
		return nil, err
	}
	return user.ToType(), nil
}

// Leaderboard returns the top participants ranked by points
func (s *ReferralService) Leaderboard(ctx context.Context, limit int) ([]types.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = defaultLeaderboardLimit
	}
	if limit > maxLeaderboardLimit {
		limit = maxLeaderboardLimit
	}

	users, err := s.store.Leaderboard(ctx, limit)
	if err != nil {
		s.logger.WithError(err).Error("Failed to load leaderboard")
		return nil, apperrors.NewDatabaseError("load leaderboard", err).ToServiceError()
	}

	entries := make([]types.LeaderboardEntry, 0, len(users))
	for i, user := range users {
		entries = append(entries, types.LeaderboardEntry{
			Rank:             i + 1,
			Address:          user.Address,
			Points:           user.Points,
			TicketsPurchased: user.TicketsPurchased,
		})
	}
	return entries, nil
}

// ParticipantCount returns the number of enrolled addresses
func (s *ReferralService) ParticipantCount(ctx context.Context) (int64, error) {
	return s.store.Count(ctx)
}
