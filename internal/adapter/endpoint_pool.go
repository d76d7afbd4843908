package adapter

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alpaca-lotto/internal/logging"
)

// RPCEndpoint wraps one RPC URL with a lazily dialed client and health
// tracking. The client is shared across calls; go-ethereum clients are safe
// for concurrent use.
type RPCEndpoint struct {
	mu sync.RWMutex

	url    string
	client *ethclient.Client

	// Health tracking
	totalRequests    int64
	successfulReqs   int64
	failedReqs       int64
	totalLatency     time.Duration
	lastSuccess      time.Time
	lastFailure      time.Time
	consecutiveFails int

	// Health thresholds
	maxConsecutiveFails int
	minSuccessRate      float64
}

// EndpointHealth represents the health status of an RPC endpoint
type EndpointHealth struct {
	URL              string        `json:"url"`
	TotalRequests    int64         `json:"totalRequests"`
	SuccessfulReqs   int64         `json:"successfulRequests"`
	FailedReqs       int64         `json:"failedRequests"`
	SuccessRate      float64       `json:"successRate"`
	AverageLatency   time.Duration `json:"averageLatency"`
	LastSuccess      time.Time     `json:"lastSuccess"`
	LastFailure      time.Time     `json:"lastFailure"`
	ConsecutiveFails int           `json:"consecutiveFails"`
	IsHealthy        bool          `json:"isHealthy"`
}

// NewRPCEndpoint creates an endpoint for one RPC URL
func NewRPCEndpoint(url string) (*RPCEndpoint, error) {
	if url == "" {
		return nil, fmt.Errorf("rpc url cannot be empty")
	}

	return &RPCEndpoint{
		url:                 url,
		maxConsecutiveFails: 5,
		minSuccessRate:      0.5,
	}, nil
}

// URL returns the endpoint's RPC URL
func (e *RPCEndpoint) URL() string {
	return e.url
}

// Client returns the dialed client, dialing on first use. Dialing an HTTP
// endpoint does not touch the network, so failures surface on the first call.
func (e *RPCEndpoint) Client() (*ethclient.Client, error) {
	e.mu.RLock()
	if e.client != nil {
		defer e.mu.RUnlock()
		return e.client, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client != nil {
		return e.client, nil
	}

	client, err := ethclient.Dial(e.url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", e.url, err)
	}
	e.client = client
	return client, nil
}

// RecordSuccess records a successful request for health tracking
func (e *RPCEndpoint) RecordSuccess(duration time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.totalRequests++
	e.successfulReqs++
	e.totalLatency += duration
	e.lastSuccess = time.Now()
	e.consecutiveFails = 0
}

// RecordFailure records a failed request for health tracking
func (e *RPCEndpoint) RecordFailure(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.totalRequests++
	e.failedReqs++
	e.lastFailure = time.Now()
	e.consecutiveFails++
}

// GetHealth returns the current health status of the endpoint
func (e *RPCEndpoint) GetHealth() *EndpointHealth {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var successRate float64
	if e.totalRequests > 0 {
		successRate = float64(e.successfulReqs) / float64(e.totalRequests)
	}

	var avgLatency time.Duration
	if e.successfulReqs > 0 {
		avgLatency = e.totalLatency / time.Duration(e.successfulReqs)
	}

	return &EndpointHealth{
		URL:              e.url,
		TotalRequests:    e.totalRequests,
		SuccessfulReqs:   e.successfulReqs,
		FailedReqs:       e.failedReqs,
		SuccessRate:      successRate,
		AverageLatency:   avgLatency,
		LastSuccess:      e.lastSuccess,
		LastFailure:      e.lastFailure,
		ConsecutiveFails: e.consecutiveFails,
		IsHealthy:        e.isHealthyLocked(),
	}
}

// IsHealthy returns true if the endpoint is considered healthy
func (e *RPCEndpoint) IsHealthy() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.isHealthyLocked()
}

// isHealthyLocked checks health status (must be called with lock held)
func (e *RPCEndpoint) isHealthyLocked() bool {
	if e.consecutiveFails >= e.maxConsecutiveFails {
		return false
	}

	// Success rate only counts once there is enough data
	if e.totalRequests >= 10 {
		successRate := float64(e.successfulReqs) / float64(e.totalRequests)
		if successRate < e.minSuccessRate {
			return false
		}
	}

	return true
}

// Reset clears the failure streak so the endpoint can be retried
func (e *RPCEndpoint) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.consecutiveFails = 0
}

// SetHealthThresholds configures health check thresholds
func (e *RPCEndpoint) SetHealthThresholds(maxConsecutiveFails int, minSuccessRate float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if maxConsecutiveFails > 0 {
		e.maxConsecutiveFails = maxConsecutiveFails
	}

	if minSuccessRate > 0 && minSuccessRate <= 1.0 {
		e.minSuccessRate = minSuccessRate
	}
}

// EndpointPool manages multiple RPC endpoints with automatic failover. It
// implements ratelimit.ContractCaller so the budget middleware can wrap it
// directly: calls dispatch to the current endpoint, and provider-class errors
// (rate limit, timeout, connection refused) rotate to the next one.
type EndpointPool struct {
	mu sync.RWMutex

	endpoints     []*RPCEndpoint
	currentIndex  int
	healthChecker *PoolHealthChecker
	logger        *logging.Logger
}

// NewEndpointPool creates a pool over the given RPC URLs
func NewEndpointPool(urls []string, logger *logging.Logger) (*EndpointPool, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("at least one rpc url is required")
	}

	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	endpoints := make([]*RPCEndpoint, 0, len(urls))
	for _, url := range urls {
		endpoint, err := NewRPCEndpoint(url)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, endpoint)
	}

	pool := &EndpointPool{
		endpoints:    endpoints,
		currentIndex: 0,
		logger:       logger,
	}

	pool.healthChecker = NewPoolHealthChecker(pool, 30*time.Second, logger)
	pool.healthChecker.Start()

	return pool, nil
}

// current returns the active endpoint
func (p *EndpointPool) current() *RPCEndpoint {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.endpoints[p.currentIndex]
}

// CurrentURL returns the active endpoint's URL
func (p *EndpointPool) CurrentURL() string {
	return p.current().URL()
}

// CallContract dispatches an eth_call to the current endpoint, recording
// health and rotating on provider-class failures. Satisfies
// ratelimit.ContractCaller.
func (p *EndpointPool) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	endpoint := p.current()

	client, err := endpoint.Client()
	if err != nil {
		endpoint.RecordFailure(err)
		p.failover(endpoint)
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	start := time.Now()
	result, err := client.CallContract(ctx, msg, blockNumber)
	if err != nil {
		endpoint.RecordFailure(err)
		if isProviderError(err) {
			p.failover(endpoint)
		}
		return nil, err
	}

	endpoint.RecordSuccess(time.Since(start))
	return result, nil
}

// failover rotates away from a failed endpoint to the next healthy one. The
// rotation is skipped if another caller already moved the pool on.
func (p *EndpointPool) failover(failed *RPCEndpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.endpoints[p.currentIndex] != failed {
		return
	}

	startIndex := p.currentIndex
	for i := 0; i < len(p.endpoints); i++ {
		nextIndex := (startIndex + i + 1) % len(p.endpoints)
		if p.endpoints[nextIndex].IsHealthy() {
			if nextIndex != p.currentIndex {
				p.logger.WithFields(map[string]interface{}{
					"from": p.endpoints[p.currentIndex].URL(),
					"to":   p.endpoints[nextIndex].URL(),
				}).Warn("RPC endpoint failover")
			}
			p.currentIndex = nextIndex
			return
		}
	}
	// Every endpoint is unhealthy; stay put and let the health checker
	// reset streaks so the pool can recover
}

// Failover rotates to the next healthy endpoint
func (p *EndpointPool) Failover() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	startIndex := p.currentIndex
	for i := 0; i < len(p.endpoints); i++ {
		nextIndex := (startIndex + i + 1) % len(p.endpoints)
		if p.endpoints[nextIndex].IsHealthy() {
			p.currentIndex = nextIndex
			return nil
		}
	}

	return fmt.Errorf("no healthy rpc endpoints available")
}

// IsHealthy returns true if the current endpoint is healthy
func (p *EndpointPool) IsHealthy() bool {
	return p.current().IsHealthy()
}

// GetAllHealth returns health status of all endpoints
func (p *EndpointPool) GetAllHealth() []*EndpointHealth {
	p.mu.RLock()
	defer p.mu.RUnlock()

	health := make([]*EndpointHealth, len(p.endpoints))
	for i, endpoint := range p.endpoints {
		health[i] = endpoint.GetHealth()
	}

	return health
}

// Reset moves back to the first endpoint and clears failure streaks
func (p *EndpointPool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, endpoint := range p.endpoints {
		endpoint.Reset()
	}
	p.currentIndex = 0
}

// Stop stops the background health checker
func (p *EndpointPool) Stop() {
	if p.healthChecker != nil {
		p.healthChecker.Stop()
	}
}

// isProviderError reports whether an error is a provider-side condition that
// warrants rotating endpoints, rather than a caller mistake like a revert.
func isProviderError(err error) bool {
	if err == nil {
		return false
	}
	if err == context.DeadlineExceeded {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"rate limit",
		"too many requests",
		"429",
		"timeout",
		"deadline exceeded",
		"connection refused",
		"connection reset",
		"no such host",
		"eof",
		"503",
		"502",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// PoolHealthChecker periodically checks the active endpoint and rotates away
// from it when unhealthy. It also clears failure streaks on idle endpoints so
// a fully failed pool can recover.
type PoolHealthChecker struct {
	pool     *EndpointPool
	interval time.Duration
	logger   *logging.Logger
	stopCh   chan struct{}
	stopped  bool
	mu       sync.Mutex
}

// NewPoolHealthChecker creates a new health checker
func NewPoolHealthChecker(pool *EndpointPool, interval time.Duration, logger *logging.Logger) *PoolHealthChecker {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &PoolHealthChecker{
		pool:     pool,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start begins health checking
func (h *PoolHealthChecker) Start() {
	go h.run()
}

// run is the main health checking loop
func (h *PoolHealthChecker) run() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.checkHealth()
		case <-h.stopCh:
			return
		}
	}
}

// checkHealth rotates away from an unhealthy active endpoint, or clears
// streaks when the whole pool is down so endpoints get probed again
func (h *PoolHealthChecker) checkHealth() {
	if h.pool.IsHealthy() {
		return
	}

	if err := h.pool.Failover(); err != nil {
		h.logger.Warn("All RPC endpoints unhealthy, resetting failure streaks")
		h.pool.Reset()
	}
}

// Stop stops the health checker
func (h *PoolHealthChecker) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.stopped {
		close(h.stopCh)
		h.stopped = true
	}
}
