package ratelimit

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alpaca-lotto/internal/logging"
)

// Default configuration values for the call budget.
const (
	DefaultTotalCalls        = 100000 // Total calls per window
	DefaultReservedCalls     = 70000  // Reserved for interactive API reads
	DefaultSharedCalls       = 30000  // Available for watcher polling
	DefaultWindowHours       = 24     // Budget window in hours
	DefaultWarningThreshold  = 80     // Percentage at which to emit warning
	DefaultPauseThreshold    = 90     // Percentage at which the watcher should pause
	DefaultDefaultMethodCost = 2      // Default cost for unknown contract methods
)

// Environment variable names for call budget configuration.
const (
	EnvTotalCalls        = "RPC_BUDGET_TOTAL_CALLS"
	EnvReservedCalls     = "RPC_BUDGET_RESERVED_CALLS"
	EnvSharedCalls       = "RPC_BUDGET_SHARED_CALLS"
	EnvWindowHours       = "RPC_BUDGET_WINDOW_HOURS"
	EnvWarningThreshold  = "RPC_BUDGET_WARNING_THRESHOLD"
	EnvPauseThreshold    = "RPC_BUDGET_PAUSE_THRESHOLD"
	EnvDefaultMethodCost = "RPC_BUDGET_DEFAULT_METHOD_COST"
)

// CallBudgetConfig holds all call budget tuning knobs.
// Configuration is loaded from environment variables with fallback to defaults.
type CallBudgetConfig struct {
	// TotalCalls is the total call budget per window.
	// Environment: RPC_BUDGET_TOTAL_CALLS, Default: 100000
	TotalCalls int

	// ReservedCalls is the budget reserved for interactive API reads.
	// Environment: RPC_BUDGET_RESERVED_CALLS, Default: 70000
	ReservedCalls int

	// SharedCalls is the budget available for watcher polling.
	// Environment: RPC_BUDGET_SHARED_CALLS, Default: 30000
	SharedCalls int

	// WindowHours is the budget window size in hours.
	// Environment: RPC_BUDGET_WINDOW_HOURS, Default: 24
	WindowHours int

	// WarningThreshold is the percentage of budget usage at which to emit warnings.
	// Environment: RPC_BUDGET_WARNING_THRESHOLD, Default: 80
	WarningThreshold int

	// PauseThreshold is the percentage of budget usage at which the watcher should pause.
	// Environment: RPC_BUDGET_PAUSE_THRESHOLD, Default: 90
	PauseThreshold int

	// DefaultMethodCost is the default cost for unknown contract methods.
	// Environment: RPC_BUDGET_DEFAULT_METHOD_COST, Default: 2
	DefaultMethodCost int
}

// NewCallBudgetConfig creates a new CallBudgetConfig with default values.
func NewCallBudgetConfig() *CallBudgetConfig {
	return &CallBudgetConfig{
		TotalCalls:        DefaultTotalCalls,
		ReservedCalls:     DefaultReservedCalls,
		SharedCalls:       DefaultSharedCalls,
		WindowHours:       DefaultWindowHours,
		WarningThreshold:  DefaultWarningThreshold,
		PauseThreshold:    DefaultPauseThreshold,
		DefaultMethodCost: DefaultDefaultMethodCost,
	}
}

// LoadFromEnv loads configuration from environment variables.
// Invalid values are logged as warnings and defaults are used instead.
// Returns a new CallBudgetConfig with values from environment or defaults.
func LoadFromEnv() *CallBudgetConfig {
	cfg := NewCallBudgetConfig()

	// Load each configuration value from environment
	if val := getEnvInt(EnvTotalCalls, DefaultTotalCalls); val > 0 {
		cfg.TotalCalls = val
	} else if os.Getenv(EnvTotalCalls) != "" {
		logging.Warnf("[RateLimit] Invalid %s value, using default %d", EnvTotalCalls, DefaultTotalCalls)
	}

	if val := getEnvInt(EnvReservedCalls, DefaultReservedCalls); val >= 0 {
		cfg.ReservedCalls = val
	} else if os.Getenv(EnvReservedCalls) != "" {
		logging.Warnf("[RateLimit] Invalid %s value, using default %d", EnvReservedCalls, DefaultReservedCalls)
	}

	if val := getEnvInt(EnvSharedCalls, DefaultSharedCalls); val >= 0 {
		cfg.SharedCalls = val
	} else if os.Getenv(EnvSharedCalls) != "" {
		logging.Warnf("[RateLimit] Invalid %s value, using default %d", EnvSharedCalls, DefaultSharedCalls)
	}

	if val := getEnvInt(EnvWindowHours, DefaultWindowHours); val > 0 {
		cfg.WindowHours = val
	} else if os.Getenv(EnvWindowHours) != "" {
		logging.Warnf("[RateLimit] Invalid %s value, using default %d", EnvWindowHours, DefaultWindowHours)
	}

	if val := getEnvInt(EnvWarningThreshold, DefaultWarningThreshold); val >= 0 && val <= 100 {
		cfg.WarningThreshold = val
	} else if os.Getenv(EnvWarningThreshold) != "" {
		logging.Warnf("[RateLimit] Invalid %s value, using default %d", EnvWarningThreshold, DefaultWarningThreshold)
	}

	if val := getEnvInt(EnvPauseThreshold, DefaultPauseThreshold); val >= 0 && val <= 100 {
		cfg.PauseThreshold = val
	} else if os.Getenv(EnvPauseThreshold) != "" {
		logging.Warnf("[RateLimit] Invalid %s value, using default %d", EnvPauseThreshold, DefaultPauseThreshold)
	}

	if val := getEnvInt(EnvDefaultMethodCost, DefaultDefaultMethodCost); val > 0 {
		cfg.DefaultMethodCost = val
	} else if os.Getenv(EnvDefaultMethodCost) != "" {
		logging.Warnf("[RateLimit] Invalid %s value, using default %d", EnvDefaultMethodCost, DefaultDefaultMethodCost)
	}

	// Validate the loaded configuration
	if err := cfg.Validate(); err != nil {
		logging.Warnf("[RateLimit] Configuration validation failed: %v. Using defaults.", err)
		return NewCallBudgetConfig()
	}

	return cfg
}

// Validate ensures configuration is valid.
// Returns an error if:
// - TotalCalls is not positive
// - ReservedCalls or SharedCalls is negative
// - ReservedCalls + SharedCalls exceeds TotalCalls
// - WindowHours is not positive
// - WarningThreshold or PauseThreshold is not in range [0, 100]
// - WarningThreshold is greater than PauseThreshold
// - DefaultMethodCost is not positive
func (c *CallBudgetConfig) Validate() error {
	// Validate TotalCalls
	if c.TotalCalls <= 0 {
		return errors.New("TotalCalls must be positive")
	}

	// Validate ReservedCalls
	if c.ReservedCalls < 0 {
		return errors.New("ReservedCalls cannot be negative")
	}

	// Validate SharedCalls
	if c.SharedCalls < 0 {
		return errors.New("SharedCalls cannot be negative")
	}

	// Validate that reserved + shared does not exceed total budget
	if c.ReservedCalls+c.SharedCalls > c.TotalCalls {
		return fmt.Errorf("ReservedCalls (%d) + SharedCalls (%d) = %d exceeds TotalCalls (%d)",
			c.ReservedCalls, c.SharedCalls, c.ReservedCalls+c.SharedCalls, c.TotalCalls)
	}

	// Validate WindowHours
	if c.WindowHours <= 0 {
		return errors.New("WindowHours must be positive")
	}

	// Validate WarningThreshold
	if c.WarningThreshold < 0 || c.WarningThreshold > 100 {
		return fmt.Errorf("WarningThreshold must be between 0 and 100, got %d", c.WarningThreshold)
	}

	// Validate PauseThreshold
	if c.PauseThreshold < 0 || c.PauseThreshold > 100 {
		return fmt.Errorf("PauseThreshold must be between 0 and 100, got %d", c.PauseThreshold)
	}

	// Validate that warning threshold is less than or equal to pause threshold
	if c.WarningThreshold > c.PauseThreshold {
		return fmt.Errorf("WarningThreshold (%d) cannot be greater than PauseThreshold (%d)",
			c.WarningThreshold, c.PauseThreshold)
	}

	// Validate DefaultMethodCost
	if c.DefaultMethodCost <= 0 {
		return errors.New("DefaultMethodCost must be positive")
	}

	return nil
}

// ToTrackerConfig builds an RPCBudgetTrackerConfig from the loaded knobs.
// The key TTL is set to the window size plus a two hour buffer.
func (c *CallBudgetConfig) ToTrackerConfig(redisClient redis.Cmdable) *RPCBudgetTrackerConfig {
	window := time.Duration(c.WindowHours) * time.Hour

	return &RPCBudgetTrackerConfig{
		Redis:          redisClient,
		TotalBudget:    c.TotalCalls,
		ReservedBudget: c.ReservedCalls,
		WindowSize:     window,
		KeyTTL:         window + 2*time.Hour,
	}
}

// getEnvInt reads an environment variable and parses it as an integer.
// Returns the default value if the environment variable is not set or cannot be parsed.
func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}

	intVal, err := strconv.Atoi(val)
	if err != nil {
		return -1 // Signal invalid value
	}

	return intVal
}

// String returns a string representation of the configuration for logging.
func (c *CallBudgetConfig) String() string {
	return fmt.Sprintf(
		"CallBudgetConfig{TotalCalls: %d, ReservedCalls: %d, SharedCalls: %d, WindowHours: %d, WarningThreshold: %d%%, PauseThreshold: %d%%, DefaultMethodCost: %d}",
		c.TotalCalls, c.ReservedCalls, c.SharedCalls, c.WindowHours,
		c.WarningThreshold, c.PauseThreshold, c.DefaultMethodCost,
	)
}
