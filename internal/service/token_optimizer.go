package service

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alpaca-lotto/internal/logging"
	"github.com/alpaca-lotto/internal/types"
)

// GasReferenceSource supplies the current reference gas estimate in USD.
// Implemented by the gas oracle client; a nil source falls back to the
// configured static estimate.
type GasReferenceSource interface {
	ReferenceGasUSD(ctx context.Context) (decimal.Decimal, error)
}

// PriceSource resolves a token symbol to its current USD price. Implemented
// by the price client; used only when a snapshot omits a token's price.
type PriceSource interface {
	TokenPriceUSD(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// TokenOptimizer selects the cheapest viable token to pay transaction gas
// with. Ranking is deterministic: same inputs, same output.
type TokenOptimizer struct {
	referenceGasUSD decimal.Decimal
	gasSource       GasReferenceSource
	priceSource     PriceSource
	logger          *logging.Logger
}

// TokenOptimizerConfig holds configuration for the token optimizer
type TokenOptimizerConfig struct {
	// ReferenceGasUSD is the static fallback gas estimate in USD,
	// used when no gas source is configured or the source fails.
	ReferenceGasUSD decimal.Decimal

	// GasSource optionally supplies a live reference estimate.
	GasSource GasReferenceSource

	// PriceSource optionally fills in missing token prices.
	PriceSource PriceSource

	// Logger for optimizer events. If nil, the global logger is used.
	Logger *logging.Logger
}

// NewTokenOptimizer creates a new token optimizer
func NewTokenOptimizer(cfg *TokenOptimizerConfig) *TokenOptimizer {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	referenceGasUSD := cfg.ReferenceGasUSD
	if referenceGasUSD.IsZero() || referenceGasUSD.IsNegative() {
		// Sane default when unconfigured: a typical L2 transaction cost
		referenceGasUSD = decimal.NewFromFloat(0.05)
	}

	return &TokenOptimizer{
		referenceGasUSD: referenceGasUSD,
		gasSource:       cfg.GasSource,
		priceSource:     cfg.PriceSource,
		logger:          logger,
	}
}

// rankedCandidate pairs a token with its decimal cost figures during ranking
type rankedCandidate struct {
	token     types.Token
	costUSD   decimal.Decimal
	costUnits *big.Int
	balance   *big.Int
}

// FindOptimalToken ranks candidate tokens by effective gas cost and returns
// the cheapest one whose balance covers that cost. When no token qualifies
// the result carries a nil Chosen and a reason; callers must check for nil.
func (o *TokenOptimizer) FindOptimalToken(ctx context.Context, tokens []types.Token, prefs *types.UserPreferences) (*types.OptimizationResult, error) {
	if len(tokens) == 0 {
		return nil, &types.ServiceError{
			Code:    "INVALID_TOKEN_LIST",
			Message: "tokens must be a non-empty list",
		}
	}

	// Validate the full snapshot before ranking anything
	for i, token := range tokens {
		if err := o.validateToken(i, &token); err != nil {
			return nil, err
		}
	}

	referenceCost := o.resolveReferenceGasUSD(ctx)

	// Build candidates: positive balance, positive price
	candidates := make([]*rankedCandidate, 0, len(tokens))
	for _, token := range tokens {
		balance, ok := new(big.Int).SetString(token.Balance, 10)
		if !ok {
			return nil, &types.ServiceError{
				Code:    "INVALID_TOKEN_BALANCE",
				Message: fmt.Sprintf("token %s: balance is not a valid integer", token.Symbol),
				Details: map[string]interface{}{
					"symbol":  token.Symbol,
					"balance": token.Balance,
				},
			}
		}
		if balance.Sign() <= 0 {
			continue
		}

		price := o.resolvePrice(ctx, &token)
		if price.Sign() <= 0 {
			// Unpriced tokens cannot be ranked
			continue
		}

		costUSD := referenceCost
		if token.GasEstimateUSD != nil {
			if override, err := decimal.NewFromString(*token.GasEstimateUSD); err == nil && override.Sign() > 0 {
				costUSD = override
			}
		}

		// costUnits = ceil(costUSD / price * 10^decimals), conservative so a
		// token is never chosen with a balance that rounds short
		scale := decimal.New(1, int32(token.Decimals))
		costUnits := costUSD.Div(price).Mul(scale).Ceil().BigInt()

		candidates = append(candidates, &rankedCandidate{
			token:     token,
			costUSD:   costUSD,
			costUnits: costUnits,
			balance:   balance,
		})
	}

	if len(candidates) == 0 {
		return insufficientBalanceResult(nil), nil
	}

	o.rankCandidates(candidates, prefs)

	ranked := make([]types.RankedToken, len(candidates))
	chosenIdx := -1
	for i, c := range candidates {
		sufficient := c.balance.Cmp(c.costUnits) >= 0
		ranked[i] = types.RankedToken{
			Token:              c.token,
			EffectiveCostUSD:   c.costUSD.String(),
			EffectiveCostUnits: c.costUnits.String(),
			Sufficient:         sufficient,
		}
		if chosenIdx == -1 && sufficient {
			chosenIdx = i
		}
	}

	if chosenIdx == -1 {
		return insufficientBalanceResult(ranked), nil
	}

	chosen := ranked[chosenIdx]
	alternatives := make([]types.RankedToken, 0, len(ranked)-1)
	alternatives = append(alternatives, ranked[:chosenIdx]...)
	alternatives = append(alternatives, ranked[chosenIdx+1:]...)

	o.logger.WithFields(map[string]interface{}{
		"chosen":     chosen.Token.Symbol,
		"costUsd":    chosen.EffectiveCostUSD,
		"candidates": len(candidates),
	}).Debug("Token optimization complete")

	return &types.OptimizationResult{
		Chosen:           &chosen,
		EstimatedCostUSD: chosen.EffectiveCostUSD,
		Alternatives:     alternatives,
	}, nil
}

// validateToken enforces the input constraints for a single snapshot entry
func (o *TokenOptimizer) validateToken(index int, token *types.Token) error {
	if token.Symbol == "" {
		return &types.ServiceError{
			Code:    "INVALID_TOKEN",
			Message: fmt.Sprintf("token at index %d: symbol is required", index),
		}
	}
	if token.Decimals <= 0 || token.Decimals > 18 {
		return &types.ServiceError{
			Code:    "INVALID_TOKEN_DECIMALS",
			Message: fmt.Sprintf("token %s: decimals must be between 1 and 18, got %d", token.Symbol, token.Decimals),
			Details: map[string]interface{}{
				"symbol":   token.Symbol,
				"decimals": token.Decimals,
			},
		}
	}
	if token.Balance == "" {
		return &types.ServiceError{
			Code:    "INVALID_TOKEN_BALANCE",
			Message: fmt.Sprintf("token %s: balance is required", token.Symbol),
		}
	}
	balance, ok := new(big.Int).SetString(token.Balance, 10)
	if !ok {
		return &types.ServiceError{
			Code:    "INVALID_TOKEN_BALANCE",
			Message: fmt.Sprintf("token %s: balance is not a valid integer", token.Symbol),
			Details: map[string]interface{}{
				"symbol":  token.Symbol,
				"balance": token.Balance,
			},
		}
	}
	if balance.Sign() < 0 {
		return &types.ServiceError{
			Code:    "INVALID_TOKEN_BALANCE",
			Message: fmt.Sprintf("token %s: balance must be non-negative", token.Symbol),
			Details: map[string]interface{}{
				"symbol":  token.Symbol,
				"balance": token.Balance,
			},
		}
	}
	return nil
}

// rankCandidates sorts by ascending effective USD cost, breaking ties by the
// preferred symbol first and then lexical symbol order
func (o *TokenOptimizer) rankCandidates(candidates []*rankedCandidate, prefs *types.UserPreferences) {
	var preferred string
	if prefs != nil && prefs.PreferredSymbol != nil {
		preferred = strings.ToUpper(*prefs.PreferredSymbol)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		cmp := candidates[i].costUSD.Cmp(candidates[j].costUSD)
		if cmp != 0 {
			return cmp < 0
		}
		if preferred != "" {
			iPref := strings.ToUpper(candidates[i].token.Symbol) == preferred
			jPref := strings.ToUpper(candidates[j].token.Symbol) == preferred
			if iPref != jPref {
				return iPref
			}
		}
		return candidates[i].token.Symbol < candidates[j].token.Symbol
	})
}

// resolveReferenceGasUSD returns the live oracle estimate when available,
// otherwise the configured static value
func (o *TokenOptimizer) resolveReferenceGasUSD(ctx context.Context) decimal.Decimal {
	if o.gasSource == nil {
		return o.referenceGasUSD
	}

	estimate, err := o.gasSource.ReferenceGasUSD(ctx)
	if err != nil || estimate.Sign() <= 0 {
		if err != nil {
			o.logger.WithError(err).Warn("Gas oracle unavailable, using static reference estimate")
		}
		return o.referenceGasUSD
	}
	return estimate
}

// resolvePrice returns the token's snapshot price, consulting the price
// source when the snapshot omits one. A zero result excludes the token from
// ranking.
func (o *TokenOptimizer) resolvePrice(ctx context.Context, token *types.Token) decimal.Decimal {
	if token.PriceUSD != "" {
		if price, err := decimal.NewFromString(token.PriceUSD); err == nil {
			return price
		}
	}

	if o.priceSource != nil {
		if price, err := o.priceSource.TokenPriceUSD(ctx, token.Symbol); err == nil {
			return price
		}
	}

	return decimal.Zero
}

// insufficientBalanceResult builds the null-chosen result returned when no
// candidate covers its effective cost
func insufficientBalanceResult(ranked []types.RankedToken) *types.OptimizationResult {
	reason := types.ReasonInsufficientBalance
	if ranked == nil {
		ranked = []types.RankedToken{}
	}
	return &types.OptimizationResult{
		Chosen:       nil,
		Alternatives: ranked,
		Reason:       &reason,
	}
}
