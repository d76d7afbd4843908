// Package adapter provides lottery contract read adapters for the AlpacaLotto
// backend.
package adapter

import (
	"context"
	"fmt"

	"github.com/alpaca-lotto/internal/types"
)

// LotteryReader defines the read surface over the lottery contract. Both the
// chain-backed adapter and the deterministic mock implement it; every payload
// carries its data source so callers can tell relayed data from fabricated
// data.
type LotteryReader interface {
	// GetLotteryCount returns the total number of lotteries ever created
	// Returns error if the read fails
	GetLotteryCount(ctx context.Context) (int64, error)

	// GetActiveLotteryIDs returns the ids of lotteries currently selling
	// tickets
	// Returns error if the read fails
	GetActiveLotteryIDs(ctx context.Context) ([]int64, error)

	// GetLottery returns one lottery by id
	// Returns ErrLotteryNotFound if the id does not exist
	GetLottery(ctx context.Context, lotteryID int64) (*types.Lottery, error)

	// GetAllLotteries returns every lottery, ordered by id
	// Returns error if the read fails
	GetAllLotteries(ctx context.Context) ([]*types.Lottery, error)

	// GetTickets returns the ticket numbers an address holds in a lottery
	// Returns error if the read fails or the address is malformed
	GetTickets(ctx context.Context, lotteryID int64, address string) (*types.TicketsResult, error)

	// IsWinner reports whether an address is among a lottery's winners
	// Returns error if the read fails or the address is malformed
	IsWinner(ctx context.Context, lotteryID int64, address string) (*types.WinnerResult, error)

	// HealthCheck verifies the backing store is reachable
	HealthCheck(ctx context.Context) error

	// Source identifies which backend produced this reader's payloads
	Source() types.DataSource
}

// Common error types for lottery adapters

var (
	// ErrInvalidAddress indicates the address format is invalid
	ErrInvalidAddress = fmt.Errorf("invalid address format")

	// ErrInvalidLotteryID indicates the lottery id is not a positive integer
	ErrInvalidLotteryID = fmt.Errorf("invalid lottery id")

	// ErrLotteryNotFound indicates the requested lottery does not exist
	ErrLotteryNotFound = fmt.Errorf("lottery not found")

	// ErrProviderUnavailable indicates no RPC provider is reachable
	ErrProviderUnavailable = fmt.Errorf("rpc provider unavailable")

	// ErrProviderRateLimit indicates the provider rate limit was exceeded
	ErrProviderRateLimit = fmt.Errorf("provider rate limit exceeded")

	// ErrProviderTimeout indicates the provider request timed out
	ErrProviderTimeout = fmt.Errorf("provider request timeout")

	// ErrBudgetExhausted indicates the daily call budget is spent
	ErrBudgetExhausted = fmt.Errorf("rpc call budget exhausted")
)

// AdapterError wraps errors with operation context
type AdapterError struct {
	Op      string // Operation that failed (e.g., "GetLottery", "IsWinner")
	Err     error
	Details map[string]interface{}
}

func (e *AdapterError) Error() string {
	if len(e.Details) > 0 {
		return fmt.Sprintf("lottery adapter error [%s]: %v (details: %+v)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("lottery adapter error [%s]: %v", e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// NewAdapterError creates a new AdapterError
func NewAdapterError(op string, err error, details map[string]interface{}) *AdapterError {
	return &AdapterError{
		Op:      op,
		Err:     err,
		Details: details,
	}
}
