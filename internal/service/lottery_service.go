package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alpaca-lotto/internal/adapter"
	"github.com/alpaca-lotto/internal/logging"
	"github.com/alpaca-lotto/internal/metrics"
	"github.com/alpaca-lotto/internal/storage"
	"github.com/alpaca-lotto/internal/types"
)

// LotteryService serves lottery reads through a cache-then-adapter path.
// Every payload keeps the data source reported by the adapter, so callers
// can tell chain-backed data from mock fallback data.
type LotteryService struct {
	reader     adapter.LotteryReader
	cache      *storage.CacheService
	ticketsTTL time.Duration
	logger     *logging.Logger
}

// LotteryServiceConfig holds configuration for the lottery service
type LotteryServiceConfig struct {
	// Reader is the lottery contract read adapter. Required.
	Reader adapter.LotteryReader

	// Cache is the Redis cache service. Optional; nil disables caching.
	Cache *storage.CacheService

	// TicketsTTL is the cache lifetime for per-address tickets and winner
	// entries. Default: 30 seconds.
	TicketsTTL time.Duration

	// Logger for lottery events. If nil, the global logger is used.
	Logger *logging.Logger
}

// NewLotteryService creates a new lottery service
func NewLotteryService(cfg *LotteryServiceConfig) (*LotteryService, error) {
	if cfg == nil || cfg.Reader == nil {
		return nil, fmt.Errorf("lottery reader is required")
	}

	ticketsTTL := cfg.TicketsTTL
	if ticketsTTL <= 0 {
		ticketsTTL = 30 * time.Second
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &LotteryService{
		reader:     cfg.Reader,
		cache:      cfg.Cache,
		ticketsTTL: ticketsTTL,
		logger:     logger.WithField("component", "lottery_service"),
	}, nil
}

// LotteryList is a list of lotteries with its provenance. Source is mock
// when any element was served from the mock adapter.
type LotteryList struct {
	Lotteries []types.Lottery  `json:"lotteries"`
	Source    types.DataSource `json:"source"`
}

// GetAllLotteries returns every lottery, ordered by id
func (s *LotteryService) GetAllLotteries(ctx context.Context) (*LotteryList, error) {
	key := s.cacheKeyLotteries(false)
	if list, ok := s.cachedList(ctx, key); ok {
		return list, nil
	}

	lotteries, err := s.reader.GetAllLotteries(ctx)
	if err != nil {
		return nil, s.mapReaderError("GetAllLotteries", err)
	}

	list := s.buildList(lotteries)
	s.storeList(ctx, key, list)
	return list, nil
}

// GetActiveLotteries returns the lotteries currently selling tickets
func (s *LotteryService) GetActiveLotteries(ctx context.Context) (*LotteryList, error) {
	key := s.cacheKeyLotteries(true)
	if list, ok := s.cachedList(ctx, key); ok {
		return list, nil
	}

	ids, err := s.reader.GetActiveLotteryIDs(ctx)
	if err != nil {
		return nil, s.mapReaderError("GetActiveLotteryIDs", err)
	}

	lotteries := make([]*types.Lottery, 0, len(ids))
	for _, id := range ids {
		lottery, err := s.reader.GetLottery(ctx, id)
		if err != nil {
			// A lottery can close between the id listing and this read.
			// Skip it rather than failing the whole list.
			if errors.Is(err, adapter.ErrLotteryNotFound) {
				s.logger.WithField("lottery_id", id).Warn("Active lottery id disappeared during listing")
				continue
			}
			return nil, s.mapReaderError("GetLottery", err)
		}
		lotteries = append(lotteries, lottery)
	}

	list := s.buildList(lotteries)
	s.storeList(ctx, key, list)
	return list, nil
}

// GetLottery returns one lottery by id
func (s *LotteryService) GetLottery(ctx context.Context, lotteryID int64) (*types.Lottery, error) {
	if lotteryID <= 0 {
		return nil, &types.ServiceError{
			Code:    "INVALID_LOTTERY_ID",
			Message: "Invalid lottery ID",
		}
	}

	var key string
	if s.cache != nil {
		key = s.cache.GenerateLotteryKey(lotteryID)
		var cached storage.CachedLottery
		if hit, err := s.cache.Get(ctx, key, &cached); err != nil {
			s.logger.WithError(err).WithField("key", key).Warn("Cache read failed")
		} else if hit && cached.Lottery != nil {
			metrics.CacheHits.WithLabelValues("lottery").Inc()
			return cached.Lottery, nil
		}
		metrics.CacheMisses.WithLabelValues("lottery").Inc()
	}

	lottery, err := s.reader.GetLottery(ctx, lotteryID)
	if err != nil {
		return nil, s.mapReaderError("GetLottery", err)
	}

	if s.cache != nil {
		entry := &storage.CachedLottery{Lottery: lottery, CachedAt: time.Now()}
		if err := s.cache.Set(ctx, key, entry); err != nil {
			s.logger.WithError(err).WithField("key", key).Warn("Cache write failed")
		}
	}
	return lottery, nil
}

// GetTickets returns the ticket numbers an address holds in a lottery
func (s *LotteryService) GetTickets(ctx context.Context, lotteryID int64, address string) (*types.TicketsResult, error) {
	if lotteryID <= 0 {
		return nil, &types.ServiceError{
			Code:    "INVALID_LOTTERY_ID",
			Message: "Invalid lottery ID",
		}
	}
	if err := storage.ValidateAddress(address); err != nil {
		return nil, err
	}

	var key string
	if s.cache != nil {
		key = s.cache.GenerateTicketsKey(lotteryID, address)
		var cached storage.CachedTickets
		if hit, err := s.cache.Get(ctx, key, &cached); err != nil {
			s.logger.WithError(err).WithField("key", key).Warn("Cache read failed")
		} else if hit && cached.Result != nil {
			metrics.CacheHits.WithLabelValues("tickets").Inc()
			return cached.Result, nil
		}
		metrics.CacheMisses.WithLabelValues("tickets").Inc()
	}

	result, err := s.reader.GetTickets(ctx, lotteryID, address)
	if err != nil {
		return nil, s.mapReaderError("GetTickets", err)
	}

	if s.cache != nil {
		entry := &storage.CachedTickets{Result: result, CachedAt: time.Now()}
		if err := s.cache.SetWithTTL(ctx, key, entry, s.ticketsTTL); err != nil {
			s.logger.WithError(err).WithField("key", key).Warn("Cache write failed")
		}
	}
	return result, nil
}

// IsWinner reports whether an address is among a lottery's winners
func (s *LotteryService) IsWinner(ctx context.Context, lotteryID int64, address string) (*types.WinnerResult, error) {
	if lotteryID <= 0 {
		return nil, &types.ServiceError{
			Code:    "INVALID_LOTTERY_ID",
			Message: "Invalid lottery ID",
		}
	}
	if err := storage.ValidateAddress(address); err != nil {
		return nil, err
	}

	var key string
	if s.cache != nil {
		key = s.cache.GenerateWinnerKey(lotteryID, address)
		var cached storage.CachedWinner
		if hit, err := s.cache.Get(ctx, key, &cached); err != nil {
			s.logger.WithError(err).WithField("key", key).Warn("Cache read failed")
		} else if hit && cached.Result != nil {
			metrics.CacheHits.WithLabelValues("winner").Inc()
			return cached.Result, nil
		}
		metrics.CacheMisses.WithLabelValues("winner").Inc()
	}

	result, err := s.reader.IsWinner(ctx, lotteryID, address)
	if err != nil {
		return nil, s.mapReaderError("IsWinner", err)
	}

	if s.cache != nil {
		entry := &storage.CachedWinner{Result: result, CachedAt: time.Now()}
		if err := s.cache.SetWithTTL(ctx, key, entry, s.ticketsTTL); err != nil {
			s.logger.WithError(err).WithField("key", key).Warn("Cache write failed")
		}
	}
	return result, nil
}

// InvalidateLottery drops every cached entry touched by a lottery's state
// change: the lottery itself, its ticket and winner entries, and both list
// keys.
func (s *LotteryService) InvalidateLottery(ctx context.Context, lotteryID int64) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.InvalidateLottery(ctx, lotteryID)
}

// HealthCheck verifies the backing adapter is reachable
func (s *LotteryService) HealthCheck(ctx context.Context) error {
	return s.reader.HealthCheck(ctx)
}

// Source identifies which backend serves uncached reads
func (s *LotteryService) Source() types.DataSource {
	return s.reader.Source()
}

func (s *LotteryService) cacheKeyLotteries(activeOnly bool) string {
	if s.cache == nil {
		return ""
	}
	return s.cache.GenerateLotteriesKey(activeOnly)
}

func (s *LotteryService) cachedList(ctx context.Context, key string) (*LotteryList, bool) {
	if s.cache == nil {
		return nil, false
	}
	var cached storage.CachedLotteryList
	hit, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Cache read failed")
		metrics.CacheMisses.WithLabelValues("lotteries").Inc()
		return nil, false
	}
	if !hit {
		metrics.CacheMisses.WithLabelValues("lotteries").Inc()
		return nil, false
	}
	metrics.CacheHits.WithLabelValues("lotteries").Inc()
	return &LotteryList{Lotteries: cached.Lotteries, Source: cached.Source}, true
}

func (s *LotteryService) storeList(ctx context.Context, key string, list *LotteryList) {
	if s.cache == nil {
		return
	}
	entry := &storage.CachedLotteryList{
		Lotteries: list.Lotteries,
		Source:    list.Source,
		CachedAt:  time.Now(),
	}
	if err := s.cache.Set(ctx, key, entry); err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Cache write failed")
	}
}

// buildList flattens adapter payloads and derives the list-level source:
// one mock element marks the whole list as mock.
func (s *LotteryService) buildList(lotteries []*types.Lottery) *LotteryList {
	list := &LotteryList{
		Lotteries: make([]types.Lottery, 0, len(lotteries)),
		Source:    s.reader.Source(),
	}
	for _, lottery := range lotteries {
		if lottery == nil {
			continue
		}
		list.Lotteries = append(list.Lotteries, *lottery)
		if lottery.Source == types.SourceMock {
			list.Source = types.SourceMock
		}
	}
	return list
}

// mapReaderError converts adapter failures to classified service errors
func (s *LotteryService) mapReaderError(op string, err error) error {
	var svcErr *types.ServiceError
	if errors.As(err, &svcErr) {
		return svcErr
	}

	switch {
	case errors.Is(err, adapter.ErrInvalidLotteryID):
		return &types.ServiceError{
			Code:    "INVALID_LOTTERY_ID",
			Message: "Invalid lottery ID",
		}
	case errors.Is(err, adapter.ErrInvalidAddress):
		return &types.ServiceError{
			Code:    "INVALID_ADDRESS",
			Message: "Invalid Ethereum address format",
		}
	case errors.Is(err, adapter.ErrLotteryNotFound):
		return &types.ServiceError{
			Code:    "LOTTERY_NOT_FOUND",
			Message: "Lottery not found",
		}
	case errors.Is(err, adapter.ErrBudgetExhausted):
		s.logger.WithError(err).WithField("operation", op).Error("RPC budget exhausted")
		metrics.BudgetDenials.Inc()
		return &types.ServiceError{
			Code:    "BUDGET_EXHAUSTED",
			Message: "Upstream call budget exhausted, try again later",
		}
	default:
		s.logger.WithError(err).WithField("operation", op).Error("Lottery read failed")
		metrics.UpstreamFailures.WithLabelValues(op).Inc()
		return &types.ServiceError{
			Code:    "UPSTREAM_FAILURE",
			Message: "Failed to read lottery data",
			Details: map[string]interface{}{"operation": op},
		}
	}
}
