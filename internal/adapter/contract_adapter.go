package adapter

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alpaca-lotto/internal/circuitbreaker"
	"github.com/alpaca-lotto/internal/logging"
	"github.com/alpaca-lotto/internal/ratelimit"
	"github.com/alpaca-lotto/internal/retry"
	"github.com/alpaca-lotto/internal/storage"
	"github.com/alpaca-lotto/internal/types"
)

// lotteryContractABI covers the view surface of the lottery contract.
// Status enum on chain: 0 = active, 1 = closed, 2 = drawn.
const lotteryContractABI = `[
	{"name":"lotteryCount","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"getActiveLotteryIds","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256[]"}]},
	{"name":"getLottery","type":"function","stateMutability":"view","inputs":[{"name":"lotteryId","type":"uint256"}],"outputs":[{"name":"","type":"tuple","components":[{"name":"id","type":"uint256"},{"name":"name","type":"string"},{"name":"status","type":"uint8"},{"name":"ticketPrice","type":"uint256"},{"name":"prizePool","type":"uint256"},{"name":"ticketCount","type":"uint256"},{"name":"drawTime","type":"uint256"},{"name":"winners","type":"address[]"}]}]},
	{"name":"getTickets","type":"function","stateMutability":"view","inputs":[{"name":"lotteryId","type":"uint256"},{"name":"player","type":"address"}],"outputs":[{"name":"","type":"uint256[]"}]},
	{"name":"isWinner","type":"function","stateMutability":"view","inputs":[{"name":"lotteryId","type":"uint256"},{"name":"player","type":"address"}],"outputs":[{"name":"","type":"bool"}]}
]`

// lotteryTuple mirrors the contract's Lottery struct for ABI decoding
type lotteryTuple struct {
	Id          *big.Int
	Name        string
	Status      uint8
	TicketPrice *big.Int
	PrizePool   *big.Int
	TicketCount *big.Int
	DrawTime    *big.Int
	Winners     []common.Address
}

// MethodCaller executes one contract read charged against the named method's
// call budget. Implemented by ratelimit.RateLimitedCaller; narrowed here so
// tests can substitute canned ABI outputs.
type MethodCaller interface {
	Call(ctx context.Context, method string, msg ethereum.CallMsg) ([]byte, error)
}

// ContractAdapter reads the lottery contract over go-ethereum. Calls flow
// through the budget middleware, retry with backoff, and a circuit breaker;
// it never fabricates data, callers fall back to the mock adapter on error.
type ContractAdapter struct {
	contractAddress common.Address
	caller          MethodCaller
	contractABI     abi.ABI
	breaker         *circuitbreaker.CircuitBreaker
	retryConfig     *retry.RetryConfig
	callTimeout     time.Duration
	logger          *logging.Logger
}

// ContractAdapterConfig holds configuration for the contract adapter
type ContractAdapterConfig struct {
	// ContractAddress is the deployed lottery contract. Required.
	ContractAddress string

	// Caller executes budgeted contract reads. Required.
	Caller MethodCaller

	// Breaker protects the upstream; nil creates a default breaker.
	Breaker *circuitbreaker.CircuitBreaker

	// RetryConfig controls transient-error retries; nil uses the default
	// request-path profile, retrying only provider-class failures.
	RetryConfig *retry.RetryConfig

	// CallTimeout bounds a single read including retries. Default: 10s.
	CallTimeout time.Duration

	// Logger for adapter events. If nil, the global logger is used.
	Logger *logging.Logger
}

// NewContractAdapter creates a contract-backed lottery reader
func NewContractAdapter(cfg *ContractAdapterConfig) (*ContractAdapter, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if cfg.Caller == nil {
		return nil, fmt.Errorf("method caller is required")
	}
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address: %s", cfg.ContractAddress)
	}

	parsedABI, err := abi.JSON(strings.NewReader(lotteryContractABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse lottery contract ABI: %w", err)
	}

	breaker := cfg.Breaker
	if breaker == nil {
		breaker = circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig("lottery-contract"))
	}

	retryConfig := cfg.RetryConfig
	if retryConfig == nil {
		retryConfig = retry.DefaultRetryConfig()
		retryConfig.RetryableErrors = []string{
			"rate limit",
			"timeout",
			"deadline exceeded",
			"connection refused",
			"connection reset",
			"503",
			"502",
		}
	}

	callTimeout := cfg.CallTimeout
	if callTimeout == 0 {
		callTimeout = 10 * time.Second
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &ContractAdapter{
		contractAddress: common.HexToAddress(cfg.ContractAddress),
		caller:          cfg.Caller,
		contractABI:     parsedABI,
		breaker:         breaker,
		retryConfig:     retryConfig,
		callTimeout:     callTimeout,
		logger:          logger,
	}, nil
}

// Source identifies payloads from this adapter as chain data
func (a *ContractAdapter) Source() types.DataSource {
	return types.SourceChain
}

// BreakerState exposes the circuit state for health reporting
func (a *ContractAdapter) BreakerState() circuitbreaker.State {
	return a.breaker.GetState()
}

// call packs, executes, and returns the raw output of one view method,
// wrapped in breaker and retry protection
func (a *ContractAdapter) call(ctx context.Context, method string, args ...interface{}) ([]byte, error) {
	input, err := a.contractABI.Pack(method, args...)
	if err != nil {
		return nil, NewAdapterError(method, fmt.Errorf("abi pack failed: %w", err), nil)
	}

	msg := ethereum.CallMsg{
		To:   &a.contractAddress,
		Data: input,
	}

	ctx, cancel := context.WithTimeout(ctx, a.callTimeout)
	defer cancel()

	var output []byte
	err = a.breaker.Execute(ctx, func() error {
		result := retry.WithExponentialBackoff(ctx, a.retryConfig, func(ctx context.Context, attempt int) error {
			out, callErr := a.caller.Call(ctx, method, msg)
			if callErr != nil {
				return callErr
			}
			output = out
			return nil
		})
		if !result.Success {
			return result.LastError
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
			return nil, NewAdapterError(method, err, nil)
		}
		if errors.Is(err, ratelimit.ErrMaxWaitExceeded) {
			return nil, NewAdapterError(method, fmt.Errorf("%w: %v", ErrBudgetExhausted, err), nil)
		}
		return nil, NewAdapterError(method, err, map[string]interface{}{
			"contract": a.contractAddress.Hex(),
		})
	}

	return output, nil
}

// GetLotteryCount returns the total number of lotteries ever created
func (a *ContractAdapter) GetLotteryCount(ctx context.Context) (int64, error) {
	output, err := a.call(ctx, ratelimit.MethodLotteryCount)
	if err != nil {
		return 0, err
	}

	results, err := a.contractABI.Unpack(ratelimit.MethodLotteryCount, output)
	if err != nil {
		return 0, NewAdapterError(ratelimit.MethodLotteryCount, fmt.Errorf("abi unpack failed: %w", err), nil)
	}

	count := *abi.ConvertType(results[0], new(*big.Int)).(**big.Int)
	return count.Int64(), nil
}

// GetActiveLotteryIDs returns the ids of lotteries currently selling tickets
func (a *ContractAdapter) GetActiveLotteryIDs(ctx context.Context) ([]int64, error) {
	output, err := a.call(ctx, ratelimit.MethodGetActiveLotteryIds)
	if err != nil {
		return nil, err
	}

	results, err := a.contractABI.Unpack(ratelimit.MethodGetActiveLotteryIds, output)
	if err != nil {
		return nil, NewAdapterError(ratelimit.MethodGetActiveLotteryIds, fmt.Errorf("abi unpack failed: %w", err), nil)
	}

	raw := *abi.ConvertType(results[0], new([]*big.Int)).(*[]*big.Int)
	ids := make([]int64, len(raw))
	for i, id := range raw {
		ids[i] = id.Int64()
	}
	return ids, nil
}

// GetLottery returns one lottery by id
func (a *ContractAdapter) GetLottery(ctx context.Context, lotteryID int64) (*types.Lottery, error) {
	if lotteryID <= 0 {
		return nil, NewAdapterError(ratelimit.MethodGetLottery, ErrInvalidLotteryID, map[string]interface{}{
			"lotteryId": lotteryID,
		})
	}

	output, err := a.call(ctx, ratelimit.MethodGetLottery, big.NewInt(lotteryID))
	if err != nil {
		return nil, err
	}

	results, err := a.contractABI.Unpack(ratelimit.MethodGetLottery, output)
	if err != nil {
		return nil, NewAdapterError(ratelimit.MethodGetLottery, fmt.Errorf("abi unpack failed: %w", err), nil)
	}

	tuple := *abi.ConvertType(results[0], new(lotteryTuple)).(*lotteryTuple)
	if tuple.Id == nil || tuple.Id.Sign() == 0 {
		// The contract returns a zero struct for unknown ids
		return nil, NewAdapterError(ratelimit.MethodGetLottery, ErrLotteryNotFound, map[string]interface{}{
			"lotteryId": lotteryID,
		})
	}

	return a.toLottery(&tuple), nil
}

// GetAllLotteries reads the lottery count and then each lottery in turn.
// Partial failures abort the whole read, so callers get a consistent list.
func (a *ContractAdapter) GetAllLotteries(ctx context.Context) ([]*types.Lottery, error) {
	count, err := a.GetLotteryCount(ctx)
	if err != nil {
		return nil, err
	}

	lotteries := make([]*types.Lottery, 0, count)
	for id := int64(1); id <= count; id++ {
		lottery, err := a.GetLottery(ctx, id)
		if err != nil {
			return nil, err
		}
		lotteries = append(lotteries, lottery)
	}
	return lotteries, nil
}

// GetTickets returns the ticket numbers an address holds in a lottery
func (a *ContractAdapter) GetTickets(ctx context.Context, lotteryID int64, address string) (*types.TicketsResult, error) {
	if lotteryID <= 0 {
		return nil, NewAdapterError(ratelimit.MethodGetTickets, ErrInvalidLotteryID, map[string]interface{}{
			"lotteryId": lotteryID,
		})
	}
	if err := storage.ValidateAddress(address); err != nil {
		return nil, NewAdapterError(ratelimit.MethodGetTickets, ErrInvalidAddress, map[string]interface{}{
			"address": address,
		})
	}

	output, err := a.call(ctx, ratelimit.MethodGetTickets, big.NewInt(lotteryID), common.HexToAddress(address))
	if err != nil {
		return nil, err
	}

	results, err := a.contractABI.Unpack(ratelimit.MethodGetTickets, output)
	if err != nil {
		return nil, NewAdapterError(ratelimit.MethodGetTickets, fmt.Errorf("abi unpack failed: %w", err), nil)
	}

	raw := *abi.ConvertType(results[0], new([]*big.Int)).(*[]*big.Int)
	tickets := make([]int64, len(raw))
	for i, ticket := range raw {
		tickets[i] = ticket.Int64()
	}

	return &types.TicketsResult{
		LotteryID: lotteryID,
		Address:   strings.ToLower(address),
		Tickets:   tickets,
		Source:    types.SourceChain,
	}, nil
}

// IsWinner reports whether an address is among a lottery's winners
func (a *ContractAdapter) IsWinner(ctx context.Context, lotteryID int64, address string) (*types.WinnerResult, error) {
	if lotteryID <= 0 {
		return nil, NewAdapterError(ratelimit.MethodIsWinner, ErrInvalidLotteryID, map[string]interface{}{
			"lotteryId": lotteryID,
		})
	}
	if err := storage.ValidateAddress(address); err != nil {
		return nil, NewAdapterError(ratelimit.MethodIsWinner, ErrInvalidAddress, map[string]interface{}{
			"address": address,
		})
	}

	output, err := a.call(ctx, ratelimit.MethodIsWinner, big.NewInt(lotteryID), common.HexToAddress(address))
	if err != nil {
		return nil, err
	}

	results, err := a.contractABI.Unpack(ratelimit.MethodIsWinner, output)
	if err != nil {
		return nil, NewAdapterError(ratelimit.MethodIsWinner, fmt.Errorf("abi unpack failed: %w", err), nil)
	}

	isWinner := *abi.ConvertType(results[0], new(bool)).(*bool)

	return &types.WinnerResult{
		LotteryID: lotteryID,
		Address:   strings.ToLower(address),
		IsWinner:  isWinner,
		Source:    types.SourceChain,
	}, nil
}

// HealthCheck performs a minimal contract read to verify reachability
func (a *ContractAdapter) HealthCheck(ctx context.Context) error {
	_, err := a.GetLotteryCount(ctx)
	return err
}

// toLottery converts the ABI tuple to the service-level representation
func (a *ContractAdapter) toLottery(tuple *lotteryTuple) *types.Lottery {
	winners := make([]string, len(tuple.Winners))
	for i, winner := range tuple.Winners {
		winners[i] = strings.ToLower(winner.Hex())
	}

	var status types.LotteryStatus
	switch tuple.Status {
	case 0:
		status = types.LotteryStatusActive
	case 1:
		status = types.LotteryStatusClosed
	case 2:
		status = types.LotteryStatusDrawn
	default:
		status = types.LotteryStatusClosed
	}

	return &types.Lottery{
		ID:          tuple.Id.Int64(),
		Name:        tuple.Name,
		Status:      status,
		TicketPrice: tuple.TicketPrice.String(),
		PrizePool:   tuple.PrizePool.String(),
		TicketCount: tuple.TicketCount.Int64(),
		DrawTime:    time.Unix(tuple.DrawTime.Int64(), 0).UTC(),
		Winners:     winners,
		Source:      types.SourceChain,
	}
}
