package adapter

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/alpaca-lotto/internal/storage"
	"github.com/alpaca-lotto/internal/types"
)

// MockAdapter serves deterministic lottery data while the chain is
// unreachable. Same inputs always produce the same outputs: fixtures are
// fixed and per-address results derive from an FNV hash of (lotteryID,
// address). Every payload is flagged SourceMock so callers can tell it apart
// from relayed chain data.
type MockAdapter struct {
	lotteries []*types.Lottery
}

// NewMockAdapter creates a mock reader with the built-in fixtures
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{lotteries: mockLotteries()}
}

// mockLotteries builds the fixture set. Timestamps are absolute so repeated
// calls return byte-identical payloads.
func mockLotteries() []*types.Lottery {
	return []*types.Lottery{
		{
			ID:          1,
			Name:        "Weekly Mega Draw",
			Status:      types.LotteryStatusActive,
			TicketPrice: "10000000000000000",   // 0.01 ETH
			PrizePool:   "5000000000000000000", // 5 ETH
			TicketCount: 412,
			DrawTime:    time.Date(2030, 1, 5, 20, 0, 0, 0, time.UTC),
			Source:      types.SourceMock,
		},
		{
			ID:          2,
			Name:        "Daily Quick Pick",
			Status:      types.LotteryStatusActive,
			TicketPrice: "1000000000000000",   // 0.001 ETH
			PrizePool:   "800000000000000000", // 0.8 ETH
			TicketCount: 1287,
			DrawTime:    time.Date(2030, 1, 2, 20, 0, 0, 0, time.UTC),
			Source:      types.SourceMock,
		},
		{
			ID:          3,
			Name:        "New Year Special",
			Status:      types.LotteryStatusDrawn,
			TicketPrice: "50000000000000000",    // 0.05 ETH
			PrizePool:   "20000000000000000000", // 20 ETH
			TicketCount: 3044,
			DrawTime:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			Winners: []string{
				"0x8ba1f109551bd432803012645ac136ddd64dba72",
				"0x2b5ad5c4795c026514f8317c7a215e218dccd6cf",
			},
			Source: types.SourceMock,
		},
	}
}

// Source identifies payloads from this adapter as fabricated fallback data
func (m *MockAdapter) Source() types.DataSource {
	return types.SourceMock
}

// HealthCheck always succeeds; the mock has no upstream
func (m *MockAdapter) HealthCheck(ctx context.Context) error {
	return nil
}

// GetLotteryCount returns the fixture count
func (m *MockAdapter) GetLotteryCount(ctx context.Context) (int64, error) {
	return int64(len(m.lotteries)), nil
}

// GetActiveLotteryIDs returns fixture ids still selling tickets
func (m *MockAdapter) GetActiveLotteryIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	for _, lottery := range m.lotteries {
		if lottery.Status == types.LotteryStatusActive {
			ids = append(ids, lottery.ID)
		}
	}
	return ids, nil
}

// GetLottery returns one fixture lottery by id
func (m *MockAdapter) GetLottery(ctx context.Context, lotteryID int64) (*types.Lottery, error) {
	for _, lottery := range m.lotteries {
		if lottery.ID == lotteryID {
			return cloneLottery(lottery), nil
		}
	}
	return nil, NewAdapterError("GetLottery", ErrLotteryNotFound, map[string]interface{}{
		"lotteryId": lotteryID,
	})
}

// GetAllLotteries returns every fixture lottery
func (m *MockAdapter) GetAllLotteries(ctx context.Context) ([]*types.Lottery, error) {
	lotteries := make([]*types.Lottery, len(m.lotteries))
	for i, lottery := range m.lotteries {
		lotteries[i] = cloneLottery(lottery)
	}
	return lotteries, nil
}

// cloneLottery copies a fixture so callers cannot mutate shared state
func cloneLottery(lottery *types.Lottery) *types.Lottery {
	clone := *lottery
	if lottery.Winners != nil {
		clone.Winners = append([]string(nil), lottery.Winners...)
	}
	return &clone
}

// GetTickets derives a stable ticket set from the (lotteryID, address) hash.
// An address holds 0-4 tickets; numbers are spread below 100000.
func (m *MockAdapter) GetTickets(ctx context.Context, lotteryID int64, address string) (*types.TicketsResult, error) {
	if err := storage.ValidateAddress(address); err != nil {
		return nil, NewAdapterError("GetTickets", ErrInvalidAddress, map[string]interface{}{
			"address": address,
		})
	}
	if _, err := m.GetLottery(ctx, lotteryID); err != nil {
		return nil, err
	}

	seed := mockSeed(lotteryID, address)
	count := seed % 5
	tickets := make([]int64, 0, count)
	for i := uint64(0); i < count; i++ {
		tickets = append(tickets, int64((seed+i*2654435761)%100000))
	}

	return &types.TicketsResult{
		LotteryID: lotteryID,
		Address:   strings.ToLower(address),
		Tickets:   tickets,
		Source:    types.SourceMock,
	}, nil
}

// IsWinner derives winner status from the same hash. Only drawn lotteries
// can have winners; roughly one address in seven wins.
func (m *MockAdapter) IsWinner(ctx context.Context, lotteryID int64, address string) (*types.WinnerResult, error) {
	if err := storage.ValidateAddress(address); err != nil {
		return nil, NewAdapterError("IsWinner", ErrInvalidAddress, map[string]interface{}{
			"address": address,
		})
	}
	lottery, err := m.GetLottery(ctx, lotteryID)
	if err != nil {
		return nil, err
	}

	isWinner := false
	if lottery.Status == types.LotteryStatusDrawn {
		isWinner = mockSeed(lotteryID, address)%7 == 0
	}

	return &types.WinnerResult{
		LotteryID: lotteryID,
		Address:   strings.ToLower(address),
		IsWinner:  isWinner,
		Source:    types.SourceMock,
	}, nil
}

// mockSeed hashes (lotteryID, address) into the deterministic seed all
// per-address mock data derives from
func mockSeed(lotteryID int64, address string) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d:%s", lotteryID, strings.ToLower(address))
	return h.Sum64()
}
