// Package main provides the API server entry point for the AlpacaLotto backend.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"

	"github.com/alpaca-lotto/internal/adapter"
	"github.com/alpaca-lotto/internal/api"
	"github.com/alpaca-lotto/internal/auth"
	"github.com/alpaca-lotto/internal/config"
	"github.com/alpaca-lotto/internal/logging"
	"github.com/alpaca-lotto/internal/metrics"
	"github.com/alpaca-lotto/internal/ratelimit"
	"github.com/alpaca-lotto/internal/service"
	"github.com/alpaca-lotto/internal/storage"
	"github.com/alpaca-lotto/internal/worker"
)

func main() {
	fmt.Println("AlpacaLotto API Server")
	log.Println("Server starting...")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logLevel := logging.ParseLogLevel(cfg.Logging.Level)
	logFormat := logging.ParseLogFormat(cfg.Logging.Format)
	logging.InitGlobalLogger(logLevel, logFormat)

	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	// Initialize database connections
	logger.Info("Connecting to databases...")

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to ClickHouse")
	}
	defer clickhouse.Close()

	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redis.Close()

	logger.Info("Database connections established")

	// Build the lottery read path: contract adapter over the endpoint pool
	// with mock fallback, or plain mock when no chain is configured.
	// Interactive API reads and watcher polls get separate budget pools.
	readers, stopReaders := buildLotteryReaders(cfg, redis, logger)
	defer stopReaders()

	// Initialize cache and price collaborators
	cacheService := storage.NewCacheService(redis, cfg.Cache.TTL)
	priceCache := storage.NewPriceCache(cfg.Cache.PriceTTL)
	priceClient := adapter.NewPriceClient(cfg.Optimizer.PriceAPIURL, cfg.Optimizer.PriceAPIKey, priceCache)
	gasOracle := adapter.NewGasOracleClient(cfg.Optimizer.GasOracleURL, cfg.Optimizer.GasOracleAPIKey, priceClient)

	referenceGasUSD, err := decimal.NewFromString(cfg.Optimizer.ReferenceGasUSD)
	if err != nil {
		logger.WithError(err).WithField("value", cfg.Optimizer.ReferenceGasUSD).
			Warn("Invalid reference gas estimate, using default")
		referenceGasUSD = decimal.Zero
	}

	// Initialize services
	logger.Info("Initializing services...")

	lotteries, err := service.NewLotteryService(&service.LotteryServiceConfig{
		Reader:     readers.API,
		Cache:      cacheService,
		TicketsTTL: cfg.Cache.TicketsTTL,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create lottery service")
	}

	optimizer := service.NewTokenOptimizer(&service.TokenOptimizerConfig{
		ReferenceGasUSD: referenceGasUSD,
		GasSource:       gasOracle,
		PriceSource:     priceClient,
	})

	sessions, err := service.NewSessionService(&service.SessionServiceConfig{
		Store:         storage.NewSessionKeyRepository(postgres),
		WarningWindow: cfg.Session.WarningWindow,
		MaxDuration:   cfg.Session.MaxDuration,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create session service")
	}

	referralRepo := storage.NewReferralRepository(postgres)
	referrals, err := service.NewReferralService(&service.ReferralServiceConfig{
		Store: referralRepo,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create referral service")
	}

	// Purchase rows go to ClickHouse through the buffered writer
	purchaseWriter := storage.NewBufferedPurchaseWriter(
		storage.NewPurchaseRepository(clickhouse),
		&storage.BufferedPurchaseWriterConfig{},
	)
	purchaseWriter.Start()

	verifier := auth.NewVerifier()
	hub := api.NewUpdateHub(logger)

	purchases, err := service.NewPurchaseService(&service.PurchaseServiceConfig{
		Lotteries: lotteries,
		Purchases: purchaseWriter,
		Referrals: referralRepo,
		Sessions:  sessions,
		Verifier:  verifier,
		Publisher: hub,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create purchase service")
	}

	logger.Info("Services initialized")

	// Create server configuration
	serverConfig := &api.ServerConfig{
		Host:             cfg.Server.Host,
		Port:             cfg.Server.Port,
		ReadTimeout:      15 * time.Second,
		WriteTimeout:     15 * time.Second,
		IdleTimeout:      60 * time.Second,
		ShutdownTimeout:  10 * time.Second,
		RateLimitRPS:     cfg.RateLimit.RequestsPerSecond,
		RateLimitPaidRPS: cfg.RateLimit.PaidRequestsPerSecond,
		RateLimitBurst:   cfg.RateLimit.Burst,
	}

	server := api.NewServer(serverConfig, api.ServerDeps{
		Lottery:   lotteries,
		Optimizer: optimizer,
		Sessions:  sessions,
		Purchases: purchases,
		Referrals: referrals,
		Verifier:  verifier,
		Hub:       hub,
		Logger:    logger,
	})

	ctx := context.Background()

	// Start the draw watcher so cache invalidation and WebSocket updates
	// follow chain state
	var watcher *worker.DrawWatcher
	if cfg.Watcher.Enabled {
		watcher, err = worker.NewDrawWatcher(&worker.DrawWatcherConfig{
			Reader:       readers.Watcher,
			Invalidator:  lotteries,
			Publisher:    hub,
			Gate:         readers.Gate,
			PollInterval: cfg.Watcher.PollInterval,
		})
		if err != nil {
			logger.WithError(err).Fatal("Failed to create draw watcher")
		}
		if err := watcher.Start(ctx); err != nil {
			logger.WithError(err).Fatal("Failed to start draw watcher")
		}
	} else {
		logger.Warn("Draw watcher disabled, lottery caches expire by TTL only")
	}

	// Schedule the session expiry sweeper
	sweeper := cron.New()
	if _, err := sweeper.AddFunc(cfg.Session.SweepSchedule, func() {
		sweepCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		result, err := sessions.SweepExpired(sweepCtx)
		if err != nil {
			logger.WithError(err).Warn("Session sweep failed")
			return
		}
		if result.ExpiringSoon > 0 || result.Pruned > 0 {
			logger.WithFields(map[string]interface{}{
				"expiring_soon": result.ExpiringSoon,
				"pruned":        result.Pruned,
				"active":        result.Active,
			}).Info("Session sweep completed")
		}
	}); err != nil {
		logger.WithError(err).WithField("schedule", cfg.Session.SweepSchedule).
			Fatal("Invalid session sweep schedule")
	}
	sweeper.Start()

	// Start server in a goroutine
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if watcher != nil {
		if err := watcher.Stop(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Draw watcher stop failed")
		}
	}

	<-sweeper.Stop().Done()

	// Flush buffered purchase rows before the ClickHouse connection closes
	if err := purchaseWriter.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Purchase writer flush failed")
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Fatal("Server forced to shutdown")
	}

	logger.Info("Server exited")
}

// lotteryReaders bundles the chain read paths for one process
type lotteryReaders struct {
	// API serves interactive reads from the reserved budget pool
	API adapter.LotteryReader

	// Watcher polls from the shared pool
	Watcher adapter.LotteryReader

	// Gate pauses watcher polling when the shared pool runs dry.
	// Nil when no chain is configured.
	Gate worker.PollGate
}

// buildLotteryReaders wires the chain read path: endpoint pool with health
// checking, Redis call budget, contract adapters, mock fallback. Any wiring
// failure degrades to the mock adapter so the API stays up without a chain.
func buildLotteryReaders(cfg *config.Config, redis *storage.RedisCache, logger *logging.Logger) (*lotteryReaders, func()) {
	mock := adapter.NewMockAdapter()
	mockOnly := &lotteryReaders{API: mock, Watcher: mock}

	if len(cfg.Chain.RPCEndpoints) == 0 || cfg.Chain.ContractAddress == "" {
		logger.Warn("No RPC endpoints or contract address configured, serving mock lottery data")
		return mockOnly, func() {}
	}

	pool, err := adapter.NewEndpointPool(cfg.Chain.RPCEndpoints, logger)
	if err != nil {
		logger.WithError(err).Warn("Failed to build RPC endpoint pool, serving mock lottery data")
		return mockOnly, func() {}
	}

	// The pool runs its own health checker; Stop shuts it down with the pool
	stop := pool.Stop

	budgetCfg := ratelimit.LoadFromEnv()
	totalBudget := cfg.Budget.DailyCallLimit
	if !cfg.Budget.Enabled || totalBudget <= 0 {
		// Enforcement off still flows through the budget middleware; an
		// unreachable limit means calls are counted but never throttled
		totalBudget = math.MaxInt32
	}
	reservedBudget := budgetCfg.ReservedCalls
	if reservedBudget > totalBudget {
		reservedBudget = totalBudget * 7 / 10
	}

	tracker, err := ratelimit.NewRPCBudgetTracker(&ratelimit.RPCBudgetTrackerConfig{
		Redis:          redis.Client(),
		TotalBudget:    totalBudget,
		ReservedBudget: reservedBudget,
		WindowSize:     time.Duration(budgetCfg.WindowHours) * time.Hour,
	})
	if err != nil {
		logger.WithError(err).Warn("Failed to create call budget tracker, serving mock lottery data")
		stop()
		return mockOnly, func() {}
	}

	registry := ratelimit.NewCallCostRegistry(&ratelimit.CallCostRegistryConfig{
		DefaultCost: budgetCfg.DefaultMethodCost,
	})

	apiReader, err := buildContractReader(cfg, pool, tracker, registry, ratelimit.PriorityHigh, logger)
	if err != nil {
		logger.WithError(err).Warn("Failed to create contract adapter, serving mock lottery data")
		stop()
		return mockOnly, func() {}
	}

	watcherReader, err := buildContractReader(cfg, pool, tracker, registry, ratelimit.PriorityLow, logger)
	if err != nil {
		logger.WithError(err).Warn("Failed to create watcher contract adapter, serving mock lottery data")
		stop()
		return mockOnly, func() {}
	}

	logger.WithFields(map[string]interface{}{
		"contract":  cfg.Chain.ContractAddress,
		"endpoints": len(cfg.Chain.RPCEndpoints),
	}).Info("Lottery contract adapter initialized")

	readers := &lotteryReaders{
		API: adapter.NewFallbackReader(apiReader, mock,
			adapter.WithFallbackHook(func(op string) {
				metrics.MockFallbacks.WithLabelValues(op).Inc()
			}),
		),
		// Watcher polls get no mock fallback: fabricated state must never
		// look like a draw transition
		Watcher: watcherReader,
	}

	if controller, err := ratelimit.NewWatcherRateController(&ratelimit.WatcherRateControllerConfig{
		Tracker: tracker,
	}); err == nil {
		readers.Gate = controller
	}

	return readers, stop
}

// buildContractReader assembles one budgeted contract adapter
func buildContractReader(
	cfg *config.Config,
	pool *adapter.EndpointPool,
	tracker *ratelimit.RPCBudgetTracker,
	registry *ratelimit.CallCostRegistry,
	priority ratelimit.Priority,
	logger *logging.Logger,
) (adapter.LotteryReader, error) {
	caller, err := ratelimit.NewRateLimitedCaller(&ratelimit.RateLimitedCallerConfig{
		Caller:       pool,
		Tracker:      tracker,
		CostRegistry: registry,
		Priority:     priority,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	return adapter.NewContractAdapter(&adapter.ContractAdapterConfig{
		ContractAddress: cfg.Chain.ContractAddress,
		Caller:          caller,
		CallTimeout:     cfg.Chain.CallTimeout,
		Logger:          logger,
	})
}
