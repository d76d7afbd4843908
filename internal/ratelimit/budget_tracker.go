// Package ratelimit coordinates the upstream RPC call budget shared by
// interactive API reads and the background draw watcher.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default budget configuration values.
const (
	DefaultTotalBudget    = 100000         // Total contract calls per window
	DefaultReservedBudget = 70000          // Reserved for interactive API reads
	DefaultWindowSize     = 24 * time.Hour // Budget window
	DefaultKeyTTL         = 26 * time.Hour // TTL for Redis keys (window + buffer)
)

// Utilization thresholds as percentages of the total budget.
const (
	WarnUtilizationPct  = 80
	PauseUtilizationPct = 90
)

// Redis key prefixes for call tracking.
const (
	KeyPrefixTotal    = "rpc:total:"
	KeyPrefixReserved = "rpc:reserved:"
	KeyPrefixShared   = "rpc:shared:"
	KeyPrefixMethod   = "rpc:method:"
)

// consumeScript atomically checks both the total and pool counters and
// increments them only when the call fits in both. Registered once; go-redis
// runs it via EVALSHA after the first call.
var consumeScript = redis.NewScript(`
	local total = tonumber(redis.call('GET', KEYS[1]) or '0')
	local pool = tonumber(redis.call('GET', KEYS[2]) or '0')
	local calls = tonumber(ARGV[1])

	if total + calls > tonumber(ARGV[2]) or pool + calls > tonumber(ARGV[3]) then
		return 0
	end

	redis.call('INCRBY', KEYS[1], calls)
	redis.call('EXPIRE', KEYS[1], ARGV[4])
	redis.call('INCRBY', KEYS[2], calls)
	redis.call('EXPIRE', KEYS[2], ARGV[4])
	return 1
`)

// Priority levels for budget allocation.
type Priority int

const (
	// PriorityHigh is for interactive API reads (uses reserved budget).
	PriorityHigh Priority = iota
	// PriorityLow is for background draw watcher polling (uses shared budget).
	PriorityLow
)

// String returns a string representation of the priority level.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// RPCBudgetTracker coordinates contract call consumption across processes
// using Redis. It implements a window-aligned rate limiter with separate
// pools for interactive (reserved) and background (shared) operations, so a
// misbehaving watcher can never starve user-facing reads.
type RPCBudgetTracker struct {
	redis          redis.Cmdable
	totalBudget    int
	reservedBudget int
	sharedBudget   int
	windowSize     time.Duration
	keyTTL         time.Duration
}

// RPCBudgetTrackerConfig holds configuration for the budget tracker.
type RPCBudgetTrackerConfig struct {
	// Redis is the Redis client for cross-process coordination.
	// Required - tracker cannot function without Redis.
	Redis redis.Cmdable

	// TotalBudget is the total call budget per window. Default: 100000.
	TotalBudget int

	// ReservedBudget is the budget reserved for interactive reads. Default: 70000.
	ReservedBudget int

	// WindowSize is the budget window duration. Default: 24h.
	WindowSize time.Duration

	// KeyTTL is the TTL for Redis keys. Default: 26h (window + buffer).
	// Should be at least WindowSize to ensure proper expiration.
	KeyTTL time.Duration
}

// effectiveBudgets resolves zero values to defaults without mutating the config.
func (c *RPCBudgetTrackerConfig) effectiveBudgets() (total, reserved int) {
	total = c.TotalBudget
	if total == 0 {
		total = DefaultTotalBudget
	}
	reserved = c.ReservedBudget
	if reserved == 0 {
		reserved = DefaultReservedBudget
	}
	return total, reserved
}

// Validate checks if the configuration is valid.
func (c *RPCBudgetTrackerConfig) Validate() error {
	if c.Redis == nil {
		return errors.New("redis client is required")
	}
	if c.TotalBudget < 0 {
		return errors.New("total budget cannot be negative")
	}
	if c.ReservedBudget < 0 {
		return errors.New("reserved budget cannot be negative")
	}

	total, reserved := c.effectiveBudgets()
	if reserved > total {
		return fmt.Errorf("reserved budget (%d) cannot exceed total budget (%d)", reserved, total)
	}

	return nil
}

// RPCUsageStats contains current consumption metrics.
type RPCUsageStats struct {
	// TotalUsed is the total calls consumed in the current window.
	TotalUsed int

	// ReservedUsed is the calls consumed from the reserved pool.
	ReservedUsed int

	// SharedUsed is the calls consumed from the shared pool.
	SharedUsed int

	// TotalBudget is the configured total call budget.
	TotalBudget int

	// ReservedBudget is the configured reserved call budget.
	ReservedBudget int

	// SharedBudget is the configured shared call budget.
	SharedBudget int

	// WindowStart is the start time of the current window.
	WindowStart time.Time
}

// NewRPCBudgetTracker creates a new tracker with the given configuration.
// Returns an error if the configuration is invalid.
func NewRPCBudgetTracker(cfg *RPCBudgetTrackerConfig) (*RPCBudgetTracker, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	total, reserved := cfg.effectiveBudgets()

	windowSize := cfg.WindowSize
	if windowSize == 0 {
		windowSize = DefaultWindowSize
	}
	keyTTL := cfg.KeyTTL
	if keyTTL == 0 {
		keyTTL = DefaultKeyTTL
	}

	return &RPCBudgetTracker{
		redis:          cfg.Redis,
		totalBudget:    total,
		reservedBudget: reserved,
		sharedBudget:   total - reserved,
		windowSize:     windowSize,
		keyTTL:         keyTTL,
	}, nil
}

// getWindowTimestamp returns the current window start in unix milliseconds.
// With the default 24h window this aligns to UTC midnight, matching how
// upstream providers reset daily call quotas.
func (t *RPCBudgetTracker) getWindowTimestamp() int64 {
	return time.Now().Truncate(t.windowSize).UnixMilli()
}

func windowKey(prefix string, windowTS int64) string {
	return prefix + strconv.FormatInt(windowTS, 10)
}

// poolFor maps a priority to its counter key prefix and budget.
func (t *RPCBudgetTracker) poolFor(priority Priority, windowTS int64) (key string, budget int) {
	if priority == PriorityHigh {
		return windowKey(KeyPrefixReserved, windowTS), t.reservedBudget
	}
	return windowKey(KeyPrefixShared, windowTS), t.sharedBudget
}

// TryConsume attempts to consume calls from the pool matching the priority:
// reserved for PriorityHigh, shared for PriorityLow. A denial also reports
// how long to wait for the next window. Redis errors deny the call; an
// uncounted call could blow the provider quota.
func (t *RPCBudgetTracker) TryConsume(ctx context.Context, calls int, priority Priority) (bool, time.Duration) {
	if calls <= 0 {
		return true, 0
	}

	windowTS := t.getWindowTimestamp()
	totalKey := windowKey(KeyPrefixTotal, windowTS)
	poolKey, poolBudget := t.poolFor(priority, windowTS)

	ttlSeconds := int(t.keyTTL.Seconds())
	if ttlSeconds < 1 {
		ttlSeconds = 1
	}

	allowed, err := consumeScript.Run(ctx, t.redis, []string{totalKey, poolKey},
		calls, t.totalBudget, poolBudget, ttlSeconds).Int64()
	if err != nil || allowed != 1 {
		return false, t.timeToNextWindow(windowTS)
	}

	return true, 0
}

// timeToNextWindow returns the wait until the window that starts after the
// given one, plus a small buffer to land inside it.
func (t *RPCBudgetTracker) timeToNextWindow(windowTS int64) time.Duration {
	next := time.UnixMilli(windowTS).Add(t.windowSize)
	wait := time.Until(next)
	if wait < 0 {
		wait = 0
	}
	return wait + time.Millisecond
}

// GetUsage returns current call usage statistics.
func (t *RPCBudgetTracker) GetUsage(ctx context.Context) (*RPCUsageStats, error) {
	windowTS := t.getWindowTimestamp()

	values, err := t.redis.MGet(ctx,
		windowKey(KeyPrefixTotal, windowTS),
		windowKey(KeyPrefixReserved, windowTS),
		windowKey(KeyPrefixShared, windowTS),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read usage counters: %w", err)
	}

	return &RPCUsageStats{
		TotalUsed:      counterValue(values, 0),
		ReservedUsed:   counterValue(values, 1),
		SharedUsed:     counterValue(values, 2),
		TotalBudget:    t.totalBudget,
		ReservedBudget: t.reservedBudget,
		SharedBudget:   t.sharedBudget,
		WindowStart:    time.UnixMilli(windowTS),
	}, nil
}

// counterValue reads one MGET slot; missing keys come back as nil.
func counterValue(values []interface{}, idx int) int {
	if idx >= len(values) || values[idx] == nil {
		return 0
	}
	s, ok := values[idx].(string)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// RecordMethodUsage records call consumption for a specific contract method.
// This is used for monitoring and does not affect budget allocation.
func (t *RPCBudgetTracker) RecordMethodUsage(ctx context.Context, method string, calls int) error {
	if calls <= 0 || method == "" {
		return nil
	}

	key := fmt.Sprintf("%s%s:%d", KeyPrefixMethod, method, t.getWindowTimestamp())

	_, err := t.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.IncrBy(ctx, key, int64(calls))
		pipe.Expire(ctx, key, t.keyTTL)
		return nil
	})
	return err
}

// GetTotalBudget returns the configured total call budget.
func (t *RPCBudgetTracker) GetTotalBudget() int {
	return t.totalBudget
}

// GetReservedBudget returns the configured reserved call budget.
func (t *RPCBudgetTracker) GetReservedBudget() int {
	return t.reservedBudget
}

// GetSharedBudget returns the configured shared call budget.
func (t *RPCBudgetTracker) GetSharedBudget() int {
	return t.sharedBudget
}

// GetWindowSize returns the configured window size.
func (t *RPCBudgetTracker) GetWindowSize() time.Duration {
	return t.windowSize
}

// AvailableBudget returns the unconsumed budget for a priority level's pool.
func (t *RPCBudgetTracker) AvailableBudget(ctx context.Context, priority Priority) (int, error) {
	stats, err := t.GetUsage(ctx)
	if err != nil {
		return 0, err
	}

	available := t.sharedBudget - stats.SharedUsed
	if priority == PriorityHigh {
		available = t.reservedBudget - stats.ReservedUsed
	}
	if available < 0 {
		available = 0
	}
	return available, nil
}

// TotalUtilization returns the current total budget utilization as a percentage (0-100).
func (t *RPCBudgetTracker) TotalUtilization(ctx context.Context) (float64, error) {
	stats, err := t.GetUsage(ctx)
	if err != nil {
		return 0, err
	}
	if t.totalBudget == 0 {
		return 100, nil
	}
	return float64(stats.TotalUsed) * 100 / float64(t.totalBudget), nil
}

// IsWarningThreshold returns true if total utilization is at or above the warning mark.
func (t *RPCBudgetTracker) IsWarningThreshold(ctx context.Context) (bool, error) {
	utilization, err := t.TotalUtilization(ctx)
	if err != nil {
		return false, err
	}
	return utilization >= WarnUtilizationPct, nil
}

// IsPauseThreshold returns true if total utilization is at or above the pause mark.
func (t *RPCBudgetTracker) IsPauseThreshold(ctx context.Context) (bool, error) {
	utilization, err := t.TotalUtilization(ctx)
	if err != nil {
		return false, err
	}
	return utilization >= PauseUtilizationPct, nil
}
