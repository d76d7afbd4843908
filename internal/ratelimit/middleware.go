package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alpaca-lotto/internal/logging"
)

// DefaultMaxWait bounds how long a call may block waiting for budget.
const DefaultMaxWait = 30 * time.Second

// ErrMaxWaitExceeded is returned when the maximum wait time for budget is exceeded.
var ErrMaxWaitExceeded = errors.New("maximum wait time exceeded waiting for rate limit budget")

// ContractCaller defines the single Ethereum client operation the lottery
// adapter performs against the chain. The narrow interface allows for easier
// testing and mocking.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Ensure ethclient.Client implements ContractCaller interface
var _ ContractCaller = (*ethclient.Client)(nil)

// RateLimitedCaller wraps a contract caller with call budget enforcement.
// Every outgoing eth_call is charged against the budget pool matching the
// caller's priority before it is allowed to proceed, keyed by the contract
// method it decodes.
type RateLimitedCaller struct {
	underlying   ContractCaller
	tracker      *RPCBudgetTracker
	costRegistry *CallCostRegistry
	metrics      *MetricsCollector
	priority     Priority
	maxWait      time.Duration
	logger       *logging.Logger
}

// RateLimitedCallerConfig holds configuration for the rate-limited caller.
type RateLimitedCallerConfig struct {
	// Caller is the underlying contract caller to wrap.
	// Required - middleware cannot function without an underlying caller.
	Caller ContractCaller

	// Tracker is the call budget tracker for rate limiting.
	// Required - middleware cannot function without a tracker.
	Tracker *RPCBudgetTracker

	// CostRegistry is the registry for looking up contract method costs.
	// Required - middleware cannot function without a cost registry.
	CostRegistry *CallCostRegistry

	// Metrics receives throttle events when set. Optional.
	Metrics *MetricsCollector

	// Priority is the priority level for this caller's requests.
	// PriorityHigh for interactive API reads, PriorityLow for watcher polling.
	Priority Priority

	// MaxWait is the maximum time to wait for budget availability.
	// Default: 30s. If budget is not available within this time,
	// the call returns ErrMaxWaitExceeded.
	MaxWait time.Duration

	// Logger is an optional logger for rate limit events.
	// If nil, the global logger is used.
	Logger *logging.Logger
}

// Validate checks if the configuration is valid.
func (c *RateLimitedCallerConfig) Validate() error {
	if c.Caller == nil {
		return errors.New("underlying caller is required")
	}
	if c.Tracker == nil {
		return errors.New("budget tracker is required")
	}
	if c.CostRegistry == nil {
		return errors.New("cost registry is required")
	}
	return nil
}

// NewRateLimitedCaller creates a rate-limited contract caller.
// Returns an error if the configuration is invalid.
func NewRateLimitedCaller(cfg *RateLimitedCallerConfig) (*RateLimitedCaller, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	maxWait := cfg.MaxWait
	if maxWait == 0 {
		maxWait = DefaultMaxWait
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &RateLimitedCaller{
		underlying:   cfg.Caller,
		tracker:      cfg.Tracker,
		costRegistry: cfg.CostRegistry,
		metrics:      cfg.Metrics,
		priority:     cfg.Priority,
		maxWait:      maxWait,
		logger:       logger,
	}, nil
}

// Call performs an eth_call against the latest block with rate limiting.
// The method name identifies the contract view being decoded and determines
// the cost charged against the budget.
func (c *RateLimitedCaller) Call(ctx context.Context, method string, msg ethereum.CallMsg) ([]byte, error) {
	if err := c.acquireBudget(ctx, method, c.costRegistry.GetCost(method)); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	return c.underlying.CallContract(ctx, msg, nil)
}

// acquireBudget blocks until the call's cost fits in the budget, the context
// is cancelled, or maxWait elapses. Throttled waits are reported to the
// metrics collector.
func (c *RateLimitedCaller) acquireBudget(ctx context.Context, method string, calls int) error {
	deadline := time.Now().Add(c.maxWait)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		allowed, waitTime := c.tracker.TryConsume(ctx, calls, c.priority)
		if allowed {
			// Method tracking is monitoring only; a failed write never
			// blocks the call.
			if err := c.tracker.RecordMethodUsage(ctx, method, calls); err != nil {
				c.logger.WithError(err).WithField("method", method).
					Warn("Failed to record method usage")
			}
			return nil
		}

		if c.metrics != nil {
			c.metrics.RecordThrottle(ctx, waitTime)
		}

		if time.Now().Add(waitTime).After(deadline) {
			c.logger.WithFields(map[string]interface{}{
				"method":   method,
				"priority": c.priority.String(),
				"calls":    calls,
			}).Warn("Gave up waiting for call budget")
			return ErrMaxWaitExceeded
		}

		c.logger.WithFields(map[string]interface{}{
			"method":   method,
			"priority": c.priority.String(),
			"calls":    calls,
			"wait":     waitTime.String(),
		}).Info("Throttled until call budget frees up")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitTime):
		}
	}
}

// GetPriority returns the priority level of this caller.
func (c *RateLimitedCaller) GetPriority() Priority {
	return c.priority
}

// GetMaxWait returns the maximum wait time for budget availability.
func (c *RateLimitedCaller) GetMaxWait() time.Duration {
	return c.maxWait
}

// Underlying returns the underlying ContractCaller.
// This can be used for operations that don't need rate limiting.
func (c *RateLimitedCaller) Underlying() ContractCaller {
	return c.underlying
}
