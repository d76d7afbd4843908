// Package main provides the standalone draw watcher and session sweeper
// entry point for the AlpacaLotto backend.
package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alpaca-lotto/internal/adapter"
	"github.com/alpaca-lotto/internal/config"
	"github.com/alpaca-lotto/internal/logging"
	"github.com/alpaca-lotto/internal/ratelimit"
	"github.com/alpaca-lotto/internal/service"
	"github.com/alpaca-lotto/internal/storage"
	"github.com/alpaca-lotto/internal/worker"
)

func main() {
	fmt.Println("AlpacaLotto Draw Watcher")
	log.Println("Worker starting...")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logging.InitGlobalLogger(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
	)
	logger := logging.GetGlobalLogger()

	// Initialize database connections. The worker needs Postgres for the
	// session sweeper and Redis for cache invalidation and call budgets;
	// it never touches ClickHouse.
	logger.Info("Connecting to databases...")

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redis.Close()

	logger.Info("Database connections established")

	reader, gate, stopReader := buildWatcherReader(cfg, redis, logger)
	defer stopReader()

	// The lottery service here exists for its cache invalidation path;
	// reads still go straight to the adapter
	lotteries, err := service.NewLotteryService(&service.LotteryServiceConfig{
		Reader:     reader,
		Cache:      storage.NewCacheService(redis, cfg.Cache.TTL),
		TicketsTTL: cfg.Cache.TicketsTTL,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create lottery service")
	}

	sessions, err := service.NewSessionService(&service.SessionServiceConfig{
		Store:         storage.NewSessionKeyRepository(postgres),
		WarningWindow: cfg.Session.WarningWindow,
		MaxDuration:   cfg.Session.MaxDuration,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create session service")
	}

	ctx := context.Background()

	// Start the draw watcher. Updates reach WebSocket clients through the
	// API process's own watcher; this one keeps caches fresh when polling
	// is split out of the API deployment.
	var watcher *worker.DrawWatcher
	if cfg.Watcher.Enabled {
		watcher, err = worker.NewDrawWatcher(&worker.DrawWatcherConfig{
			Reader:       reader,
			Invalidator:  lotteries,
			Gate:         gate,
			PollInterval: cfg.Watcher.PollInterval,
		})
		if err != nil {
			logger.WithError(err).Fatal("Failed to create draw watcher")
		}
		if err := watcher.Start(ctx); err != nil {
			logger.WithError(err).Fatal("Failed to start draw watcher")
		}
		logger.Info("Draw watcher started")
	} else {
		logger.Warn("Draw watcher disabled, running session sweeper only")
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
		logger.WithFields(map[string]interface{}{
			"expiring_soon": result.ExpiringSoon,
			"pruned":        result.Pruned,
			"active":        result.Active,
		}).Info("Session sweep completed")
	}); err != nil {
		logger.WithError(err).WithField("schedule", cfg.Session.SweepSchedule).
			Fatal("Invalid session sweep schedule")
	}
	sweeper.Start()
	logger.WithField("schedule", cfg.Session.SweepSchedule).Info("Session sweeper scheduled")

	// Set up graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("Shutdown signal received, stopping...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if watcher != nil {
		status := watcher.GetStatus()
		logger.WithFields(map[string]interface{}{
			"lotteries_tracked": status.LotteriesTracked,
			"last_poll":         status.LastPollTime,
		}).Info("Stopping draw watcher")
		if err := watcher.Stop(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Draw watcher stop failed")
		}
	}

	<-sweeper.Stop().Done()

	logger.Info("Worker stopped")
}

// buildWatcherReader wires a low-priority budgeted contract reader, or the
// mock adapter when no chain is configured
func buildWatcherReader(cfg *config.Config, redis *storage.RedisCache, logger *logging.Logger) (adapter.LotteryReader, worker.PollGate, func()) {
	if len(cfg.Chain.RPCEndpoints) == 0 || cfg.Chain.ContractAddress == "" {
		logger.Warn("No RPC endpoints or contract address configured, watching mock lottery data")
		return adapter.NewMockAdapter(), nil, func() {}
	}

	pool, err := adapter.NewEndpointPool(cfg.Chain.RPCEndpoints, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to build RPC endpoint pool")
	}

	// The pool runs its own health checker; Stop shuts it down with the pool
	stop := pool.Stop

	budgetCfg := ratelimit.LoadFromEnv()
	totalBudget := cfg.Budget.DailyCallLimit
	if !cfg.Budget.Enabled || totalBudget <= 0 {
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
		logger.WithError(err).Fatal("Failed to create call budget tracker")
	}

	// Watcher polling draws on the shared pool and backs off before it
	// starves interactive reads
	caller, err := ratelimit.NewRateLimitedCaller(&ratelimit.RateLimitedCallerConfig{
		Caller:       pool,
		Tracker:      tracker,
		CostRegistry: ratelimit.NewCallCostRegistry(&ratelimit.CallCostRegistryConfig{DefaultCost: budgetCfg.DefaultMethodCost}),
		Priority:     ratelimit.PriorityLow,
		Logger:       logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create budgeted caller")
	}

	contract, err := adapter.NewContractAdapter(&adapter.ContractAdapterConfig{
		ContractAddress: cfg.Chain.ContractAddress,
		Caller:          caller,
		CallTimeout:     cfg.Chain.CallTimeout,
		Logger:          logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create contract adapter")
	}

	var gate worker.PollGate
	if controller, err := ratelimit.NewWatcherRateController(&ratelimit.WatcherRateControllerConfig{
		Tracker: tracker,
	}); err == nil {
		gate = controller
	}

	logger.WithFields(map[string]interface{}{
		"contract":  cfg.Chain.ContractAddress,
		"endpoints": len(cfg.Chain.RPCEndpoints),
	}).Info("Lottery contract adapter initialized")

	return contract, gate, stop
}
