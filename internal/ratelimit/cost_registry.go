package ratelimit

import (
	"sync"
)

// Default call costs for the lottery contract view methods. Methods that
// decode dynamic arrays are weighted heavier than single-word reads.
const (
	DefaultCallCost = 2 // Default cost for unknown methods

	// Known method costs
	CostLotteryCount        = 1
	CostGetActiveLotteryIds = 2
	CostGetLottery          = 2
	CostGetTickets          = 2
	CostIsWinner            = 1
)

// Lottery contract method names
const (
	MethodLotteryCount        = "lotteryCount"
	MethodGetActiveLotteryIds = "getActiveLotteryIds"
	MethodGetLottery          = "getLottery"
	MethodGetTickets          = "getTickets"
	MethodIsWinner            = "isWinner"
)

// CallCostRegistry maps contract methods to their call budget costs.
// It is safe for concurrent use.
type CallCostRegistry struct {
	mu          sync.RWMutex
	costs       map[string]int
	defaultCost int
}

// CallCostRegistryConfig holds configuration for the registry.
type CallCostRegistryConfig struct {
	// DefaultCost is the cost for unknown contract methods.
	// If zero, uses the package default (2).
	DefaultCost int

	// Overrides allows custom costs for specific methods.
	// These override the built-in defaults.
	Overrides map[string]int
}

// NewCallCostRegistry creates a new registry with default costs for the
// lottery contract methods. If cfg is nil, default configuration is used.
func NewCallCostRegistry(cfg *CallCostRegistryConfig) *CallCostRegistry {
	// Initialize with default costs
	costs := map[string]int{
		MethodLotteryCount:        CostLotteryCount,
		MethodGetActiveLotteryIds: CostGetActiveLotteryIds,
		MethodGetLottery:          CostGetLottery,
		MethodGetTickets:          CostGetTickets,
		MethodIsWinner:            CostIsWinner,
	}

	defaultCost := DefaultCallCost

	// Apply configuration if provided
	if cfg != nil {
		// Use configured default cost if specified
		if cfg.DefaultCost > 0 {
			defaultCost = cfg.DefaultCost
		}

		// Apply overrides
		for method, cost := range cfg.Overrides {
			if cost > 0 {
				costs[method] = cost
			}
		}
	}

	return &CallCostRegistry{
		costs:       costs,
		defaultCost: defaultCost,
	}
}

// GetCost returns the call cost for a contract method.
// If the method is not known, returns the configured default cost.
func (r *CallCostRegistry) GetCost(method string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if cost, ok := r.costs[method]; ok {
		return cost
	}
	return r.defaultCost
}

// SetCost allows runtime cost updates for a specific method.
// This is useful for testing or tuning costs based on observed behavior.
// The cost must be positive; zero or negative values are ignored.
func (r *CallCostRegistry) SetCost(method string, cost int) {
	if cost <= 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.costs[method] = cost
}

// GetDefaultCost returns the configured default cost for unknown methods.
func (r *CallCostRegistry) GetDefaultCost() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.defaultCost
}

// KnownMethods returns a list of all known contract method names.
func (r *CallCostRegistry) KnownMethods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	methods := make([]string, 0, len(r.costs))
	for method := range r.costs {
		methods = append(methods, method)
	}
	return methods
}
