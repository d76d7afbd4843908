package adapter

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/alpaca-lotto/internal/logging"
	"github.com/alpaca-lotto/internal/types"
)

// FallbackReader serves reads from the primary adapter and falls back to the
// mock adapter when the primary fails. Caller mistakes (bad address, bad id)
// and not-found answers propagate unchanged; only upstream failures trigger
// the fallback. Every fallback payload carries the mock source flag.
type FallbackReader struct {
	primary LotteryReader
	mock    LotteryReader
	logger  *logging.Logger

	// onFallback is notified once per served fallback, keyed by operation
	onFallback func(op string)

	fallbackCount atomic.Int64
}

// FallbackOption configures a FallbackReader
type FallbackOption func(*FallbackReader)

// WithFallbackHook registers a callback invoked each time a mock payload is
// served in place of a failed primary read
func WithFallbackHook(hook func(op string)) FallbackOption {
	return func(f *FallbackReader) {
		f.onFallback = hook
	}
}

// WithFallbackLogger overrides the logger used for fallback events
func WithFallbackLogger(logger *logging.Logger) FallbackOption {
	return func(f *FallbackReader) {
		f.logger = logger
	}
}

// NewFallbackReader wraps a primary reader with mock fallback
func NewFallbackReader(primary, mock LotteryReader, opts ...FallbackOption) *FallbackReader {
	f := &FallbackReader{
		primary: primary,
		mock:    mock,
		logger:  logging.GetGlobalLogger().WithField("component", "fallback_reader"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// shouldFallback reports whether an error warrants serving mock data.
// Input validation failures and not-found answers are real answers, not
// upstream outages, and must reach the caller unchanged.
func shouldFallback(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrInvalidAddress) || errors.Is(err, ErrInvalidLotteryID) || errors.Is(err, ErrLotteryNotFound) {
		return false
	}
	return true
}

// recordFallback logs and counts one served fallback
func (f *FallbackReader) recordFallback(op string, err error) {
	f.fallbackCount.Add(1)
	f.logger.WithFields(map[string]interface{}{
		"operation": op,
		"error":     err.Error(),
	}).Warn("Primary adapter failed, serving mock data")
	if f.onFallback != nil {
		f.onFallback(op)
	}
}

// FallbackCount returns how many reads were served from the mock
func (f *FallbackReader) FallbackCount() int64 {
	return f.fallbackCount.Load()
}

// Source reports the primary source; per-payload Source fields record where
// each response actually came from
func (f *FallbackReader) Source() types.DataSource {
	return f.primary.Source()
}

// GetLotteryCount reads the lottery count, mock on failure
func (f *FallbackReader) GetLotteryCount(ctx context.Context) (int64, error) {
	count, err := f.primary.GetLotteryCount(ctx)
	if err != nil {
		if !shouldFallback(err) {
			return 0, err
		}
		f.recordFallback("GetLotteryCount", err)
		return f.mock.GetLotteryCount(ctx)
	}
	return count, nil
}

// GetActiveLotteryIDs reads active lottery ids, mock on failure
func (f *FallbackReader) GetActiveLotteryIDs(ctx context.Context) ([]int64, error) {
	ids, err := f.primary.GetActiveLotteryIDs(ctx)
	if err != nil {
		if !shouldFallback(err) {
			return nil, err
		}
		f.recordFallback("GetActiveLotteryIDs", err)
		return f.mock.GetActiveLotteryIDs(ctx)
	}
	return ids, nil
}

// GetLottery reads one lottery, mock on failure
func (f *FallbackReader) GetLottery(ctx context.Context, lotteryID int64) (*types.Lottery, error) {
	lottery, err := f.primary.GetLottery(ctx, lotteryID)
	if err != nil {
		if !shouldFallback(err) {
			return nil, err
		}
		f.recordFallback("GetLottery", err)
		return f.mock.GetLottery(ctx, lotteryID)
	}
	return lottery, nil
}

// GetAllLotteries reads all lotteries, mock on failure
func (f *FallbackReader) GetAllLotteries(ctx context.Context) ([]*types.Lottery, error) {
	lotteries, err := f.primary.GetAllLotteries(ctx)
	if err != nil {
		if !shouldFallback(err) {
			return nil, err
		}
		f.recordFallback("GetAllLotteries", err)
		return f.mock.GetAllLotteries(ctx)
	}
	return lotteries, nil
}

// GetTickets reads an address's tickets, mock on failure
func (f *FallbackReader) GetTickets(ctx context.Context, lotteryID int64, address string) (*types.TicketsResult, error) {
	tickets, err := f.primary.GetTickets(ctx, lotteryID, address)
	if err != nil {
		if !shouldFallback(err) {
			return nil, err
		}
		f.recordFallback("GetTickets", err)
		return f.mock.GetTickets(ctx, lotteryID, address)
	}
	return tickets, nil
}

// IsWinner reads an address's winner status, mock on failure
func (f *FallbackReader) IsWinner(ctx context.Context, lotteryID int64, address string) (*types.WinnerResult, error) {
	result, err := f.primary.IsWinner(ctx, lotteryID, address)
	if err != nil {
		if !shouldFallback(err) {
			return nil, err
		}
		f.recordFallback("IsWinner", err)
		return f.mock.IsWinner(ctx, lotteryID, address)
	}
	return result, nil
}

// HealthCheck reports the primary adapter's health. A failing primary still
// means the service answers reads, just from mock data, so callers should
// treat an error here as degraded rather than down.
func (f *FallbackReader) HealthCheck(ctx context.Context) error {
	return f.primary.HealthCheck(ctx)
}
