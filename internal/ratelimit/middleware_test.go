package ratelimit

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/alpaca-lotto/internal/logging"
)

// setupTestMiddleware creates a test environment with miniredis for middleware tests.
// Returns the rate-limited caller config components and a cleanup function.
func setupTestMiddleware(t *testing.T) (*RPCBudgetTracker, *CallCostRegistry, *miniredis.Miniredis, func()) {
	t.Helper()

	// Start miniredis
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	// Create Redis client
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	// Create budget tracker
	tracker, err := NewRPCBudgetTracker(&RPCBudgetTrackerConfig{
		Redis:          client,
		TotalBudget:    100,
		ReservedBudget: 60,
		WindowSize:     time.Hour,
	})
	if err != nil {
		mr.Close()
		t.Fatalf("failed to create budget tracker: %v", err)
	}

	// Create cost registry
	costRegistry := NewCallCostRegistry(nil)

	cleanup := func() {
		client.Close()
		mr.Close()
	}

	return tracker, costRegistry, mr, cleanup
}

// newTestLogger returns a logger writing to the given buffer for log assertions.
func newTestLogger(buf *bytes.Buffer) *logging.Logger {
	logger := logging.NewLogger(logging.LevelDebug, logging.FormatText)
	logger.SetOutput(buf)
	return logger
}

func TestNewRateLimitedCaller(t *testing.T) {
	tracker, costRegistry, _, cleanup := setupTestMiddleware(t)
	defer cleanup()

	tests := []struct {
		name    string
		cfg     *RateLimitedCallerConfig
		wantErr bool
		errMsg  string
	}{
		{
			name:    "nil config",
			cfg:     nil,
			wantErr: true,
			errMsg:  "configuration is required",
		},
		{
			name: "nil underlying caller",
			cfg: &RateLimitedCallerConfig{
				Caller:       nil,
				Tracker:      tracker,
				CostRegistry: costRegistry,
			},
			wantErr: true,
			errMsg:  "underlying caller is required",
		},
		{
			name: "nil tracker",
			cfg: &RateLimitedCallerConfig{
				Caller:       &mockContractCaller{},
				Tracker:      nil,
				CostRegistry: costRegistry,
			},
			wantErr: true,
			errMsg:  "budget tracker is required",
		},
		{
			name: "nil cost registry",
			cfg: &RateLimitedCallerConfig{
				Caller:       &mockContractCaller{},
				Tracker:      tracker,
				CostRegistry: nil,
			},
			wantErr: true,
			errMsg:  "cost registry is required",
		},
		{
			name: "valid config with defaults",
			cfg: &RateLimitedCallerConfig{
				Caller:       &mockContractCaller{},
				Tracker:      tracker,
				CostRegistry: costRegistry,
			},
			wantErr: false,
		},
		{
			name: "valid config with custom values",
			cfg: &RateLimitedCallerConfig{
				Caller:       &mockContractCaller{},
				Tracker:      tracker,
				CostRegistry: costRegistry,
				Priority:     PriorityHigh,
				MaxWait:      10 * time.Second,
				Logger:       logging.GetGlobalLogger(),
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caller, err := NewRateLimitedCaller(tt.cfg)

			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error containing %q, got nil", tt.errMsg)
					return
				}
				if tt.errMsg != "" && !containsSubstring(err.Error(), tt.errMsg) {
					t.Errorf("expected error containing %q, got %q", tt.errMsg, err.Error())
				}
				return
			}

			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}

			if caller == nil {
				t.Error("expected non-nil caller")
			}
		})
	}
}

func TestRateLimitedCaller_DefaultValues(t *testing.T) {
	tracker, costRegistry, _, cleanup := setupTestMiddleware(t)
	defer cleanup()

	caller, err := NewRateLimitedCaller(&RateLimitedCallerConfig{
		Caller:       &mockContractCaller{},
		Tracker:      tracker,
		CostRegistry: costRegistry,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if caller.GetMaxWait() != DefaultMaxWait {
		t.Errorf("expected max wait %v, got %v", DefaultMaxWait, caller.GetMaxWait())
	}

	if caller.GetPriority() != PriorityHigh {
		t.Errorf("expected default priority PriorityHigh (0), got %v", caller.GetPriority())
	}
}

func TestRateLimitedCaller_CustomPriority(t *testing.T) {
	tracker, costRegistry, _, cleanup := setupTestMiddleware(t)
	defer cleanup()

	caller, err := NewRateLimitedCaller(&RateLimitedCallerConfig{
		Caller:       &mockContractCaller{},
		Tracker:      tracker,
		CostRegistry: costRegistry,
		Priority:     PriorityLow,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if caller.GetPriority() != PriorityLow {
		t.Errorf("expected priority PriorityLow, got %v", caller.GetPriority())
	}
}

func TestRateLimitedCaller_Underlying(t *testing.T) {
	tracker, costRegistry, _, cleanup := setupTestMiddleware(t)
	defer cleanup()

	mock := &mockContractCaller{returnData: []byte{0x01}}
	caller, err := NewRateLimitedCaller(&RateLimitedCallerConfig{
		Caller:       mock,
		Tracker:      tracker,
		CostRegistry: costRegistry,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The underlying caller should be accessible and be the same mock
	underlying := caller.Underlying()
	if underlying == nil {
		t.Error("expected non-nil underlying caller")
	}
	if underlying != mock {
		t.Error("expected underlying to be the same mock caller")
	}
}

func TestRateLimitedCallerConfig_Validate(t *testing.T) {
	tracker, costRegistry, _, cleanup := setupTestMiddleware(t)
	defer cleanup()

	tests := []struct {
		name    string
		cfg     *RateLimitedCallerConfig
		wantErr bool
	}{
		{
			name: "valid config",
			cfg: &RateLimitedCallerConfig{
				Caller:       &mockContractCaller{},
				Tracker:      tracker,
				CostRegistry: costRegistry,
			},
			wantErr: false,
		},
		{
			name: "nil caller",
			cfg: &RateLimitedCallerConfig{
				Caller:       nil,
				Tracker:      tracker,
				CostRegistry: costRegistry,
			},
			wantErr: true,
		},
		{
			name: "nil tracker",
			cfg: &RateLimitedCallerConfig{
				Caller:       &mockContractCaller{},
				Tracker:      nil,
				CostRegistry: costRegistry,
			},
			wantErr: true,
		},
		{
			name: "nil cost registry",
			cfg: &RateLimitedCallerConfig{
				Caller:       &mockContractCaller{},
				Tracker:      tracker,
				CostRegistry: nil,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRateLimitedCaller_Call_Success(t *testing.T) {
	tracker, costRegistry, _, cleanup := setupTestMiddleware(t)
	defer cleanup()

	mock := &mockContractCaller{returnData: []byte{0xca, 0xfe}}
	caller, err := NewRateLimitedCaller(&RateLimitedCallerConfig{
		Caller:       mock,
		Tracker:      tracker,
		CostRegistry: costRegistry,
		Priority:     PriorityHigh,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx := context.Background()
	contractAddr := common.HexToAddress("0x000000000000000000000000000000000000dEaD")
	msg := ethereum.CallMsg{To: &contractAddr, Data: []byte{0x12, 0x34}}

	data, err := caller.Call(ctx, MethodGetLottery, msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != string(mock.returnData) {
		t.Errorf("expected return data %x, got %x", mock.returnData, data)
	}
	if mock.callCount != 1 {
		t.Errorf("expected 1 underlying call, got %d", mock.callCount)
	}
	if mock.lastMsg.To == nil || *mock.lastMsg.To != contractAddr {
		t.Error("expected call message to be passed through to the underlying caller")
	}

	// The call should have consumed the method cost from the reserved pool
	stats, err := tracker.GetUsage(ctx)
	if err != nil {
		t.Fatalf("unexpected error getting usage: %v", err)
	}
	wantCost := costRegistry.GetCost(MethodGetLottery)
	if stats.ReservedUsed != wantCost {
		t.Errorf("expected reserved used %d, got %d", wantCost, stats.ReservedUsed)
	}
	if stats.SharedUsed != 0 {
		t.Errorf("expected shared used 0, got %d", stats.SharedUsed)
	}
}

func TestRateLimitedCaller_Call_PerMethodCosts(t *testing.T) {
	tracker, costRegistry, _, cleanup := setupTestMiddleware(t)
	defer cleanup()

	mock := &mockContractCaller{returnData: []byte{0x01}}
	caller, err := NewRateLimitedCaller(&RateLimitedCallerConfig{
		Caller:       mock,
		Tracker:      tracker,
		CostRegistry: costRegistry,
		Priority:     PriorityHigh,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx := context.Background()
	contractAddr := common.HexToAddress("0x000000000000000000000000000000000000dEaD")
	msg := ethereum.CallMsg{To: &contractAddr}

	// getLottery costs 2, isWinner costs 1
	if _, err := caller.Call(ctx, MethodGetLottery, msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := caller.Call(ctx, MethodIsWinner, msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stats, err := tracker.GetUsage(ctx)
	if err != nil {
		t.Fatalf("unexpected error getting usage: %v", err)
	}
	wantTotal := CostGetLottery + CostIsWinner
	if stats.TotalUsed != wantTotal {
		t.Errorf("expected total used %d, got %d", wantTotal, stats.TotalUsed)
	}
	if mock.callCount != 2 {
		t.Errorf("expected 2 underlying calls, got %d", mock.callCount)
	}
}

func TestRateLimitedCaller_Call_UnderlyingError(t *testing.T) {
	tracker, costRegistry, _, cleanup := setupTestMiddleware(t)
	defer cleanup()

	wantErr := errors.New("execution reverted")
	mock := &mockContractCaller{err: wantErr}
	caller, err := NewRateLimitedCaller(&RateLimitedCallerConfig{
		Caller:       mock,
		Tracker:      tracker,
		CostRegistry: costRegistry,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx := context.Background()
	contractAddr := common.HexToAddress("0x000000000000000000000000000000000000dEaD")

	_, err = caller.Call(ctx, MethodGetLottery, ethereum.CallMsg{To: &contractAddr})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected underlying error to propagate, got: %v", err)
	}

	// Budget is still consumed - the upstream charged us for the failed call
	stats, statsErr := tracker.GetUsage(ctx)
	if statsErr != nil {
		t.Fatalf("unexpected error getting usage: %v", statsErr)
	}
	if stats.TotalUsed != CostGetLottery {
		t.Errorf("expected total used %d, got %d", CostGetLottery, stats.TotalUsed)
	}
}

func TestRateLimitedCaller_Call_ContextCancelled(t *testing.T) {
	tracker, costRegistry, _, cleanup := setupTestMiddleware(t)
	defer cleanup()

	var logBuf bytes.Buffer
	logger := newTestLogger(&logBuf)

	// Exhaust the budget first
	ctx := context.Background()
	tracker.TryConsume(ctx, 60, PriorityHigh) // Exhaust reserved
	tracker.TryConsume(ctx, 40, PriorityLow)  // Exhaust shared

	mock := &mockContractCaller{}
	caller, err := NewRateLimitedCaller(&RateLimitedCallerConfig{
		Caller:       mock,
		Tracker:      tracker,
		CostRegistry: costRegistry,
		Priority:     PriorityHigh,
		MaxWait:      5 * time.Second,
		Logger:       logger,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Create a context that will be cancelled
	cancelCtx, cancel := context.WithCancel(context.Background())

	// Cancel immediately
	cancel()

	// Try to make a call - should fail due to context cancellation
	contractAddr := common.HexToAddress("0x000000000000000000000000000000000000dEaD")
	_, err = caller.Call(cancelCtx, MethodGetLottery, ethereum.CallMsg{To: &contractAddr})
	if err == nil {
		t.Error("expected error due to context cancellation")
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled error, got: %v", err)
	}
	if mock.callCount != 0 {
		t.Errorf("expected no underlying calls, got %d", mock.callCount)
	}
}

func TestRateLimitedCaller_Call_MaxWaitExceeded(t *testing.T) {
	tracker, costRegistry, _, cleanup := setupTestMiddleware(t)
	defer cleanup()

	var logBuf bytes.Buffer
	logger := newTestLogger(&logBuf)

	// Exhaust the budget
	ctx := context.Background()
	tracker.TryConsume(ctx, 60, PriorityHigh) // Exhaust reserved
	tracker.TryConsume(ctx, 40, PriorityLow)  // Exhaust shared

	mock := &mockContractCaller{}
	caller, err := NewRateLimitedCaller(&RateLimitedCallerConfig{
		Caller:       mock,
		Tracker:      tracker,
		CostRegistry: costRegistry,
		Priority:     PriorityHigh,
		MaxWait:      100 * time.Millisecond, // Very short max wait
		Logger:       logger,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Try to make a call - the next window is an hour away, so the wait
	// immediately exceeds the short max wait
	contractAddr := common.HexToAddress("0x000000000000000000000000000000000000dEaD")
	_, err = caller.Call(ctx, MethodGetLottery, ethereum.CallMsg{To: &contractAddr})
	if err == nil {
		t.Error("expected error due to max wait exceeded")
	}
	if err != nil && !errors.Is(err, ErrMaxWaitExceeded) {
		t.Errorf("expected ErrMaxWaitExceeded, got: %v", err)
	}
	if mock.callCount != 0 {
		t.Errorf("expected no underlying calls, got %d", mock.callCount)
	}

	// Verify logging occurred
	logOutput := logBuf.String()
	if !containsSubstring(logOutput, "[RateLimit]") {
		t.Error("expected rate limit log messages")
	}
}

func TestRateLimitedCaller_BudgetConsumption_LowPriority(t *testing.T) {
	tracker, costRegistry, _, cleanup := setupTestMiddleware(t)
	defer cleanup()

	mock := &mockContractCaller{returnData: []byte{0x01}}
	caller, err := NewRateLimitedCaller(&RateLimitedCallerConfig{
		Caller:       mock,
		Tracker:      tracker,
		CostRegistry: costRegistry,
		Priority:     PriorityLow,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx := context.Background()
	contractAddr := common.HexToAddress("0x000000000000000000000000000000000000dEaD")

	if _, err := caller.Call(ctx, MethodIsWinner, ethereum.CallMsg{To: &contractAddr}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Verify budget was consumed from shared pool
	stats, err := tracker.GetUsage(ctx)
	if err != nil {
		t.Fatalf("unexpected error getting usage: %v", err)
	}
	if stats.SharedUsed != CostIsWinner {
		t.Errorf("expected shared used %d, got %d", CostIsWinner, stats.SharedUsed)
	}
	if stats.ReservedUsed != 0 {
		t.Errorf("expected reserved used 0, got %d", stats.ReservedUsed)
	}
}

func TestRateLimitedCaller_Logging(t *testing.T) {
	tracker, costRegistry, _, cleanup := setupTestMiddleware(t)
	defer cleanup()

	var logBuf bytes.Buffer
	logger := newTestLogger(&logBuf)

	// Exhaust budget to trigger logging
	ctx := context.Background()
	tracker.TryConsume(ctx, 60, PriorityHigh)
	tracker.TryConsume(ctx, 40, PriorityLow)

	caller, err := NewRateLimitedCaller(&RateLimitedCallerConfig{
		Caller:       &mockContractCaller{},
		Tracker:      tracker,
		CostRegistry: costRegistry,
		Priority:     PriorityHigh,
		MaxWait:      100 * time.Millisecond,
		Logger:       logger,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Try to make a call - will fail but should log
	contractAddr := common.HexToAddress("0x000000000000000000000000000000000000dEaD")
	caller.Call(ctx, MethodGetLottery, ethereum.CallMsg{To: &contractAddr})

	// Verify logging occurred
	logOutput := logBuf.String()
	if !containsSubstring(logOutput, "[RateLimit]") {
		t.Error("expected rate limit log prefix")
	}
	if !containsSubstring(logOutput, MethodGetLottery) {
		t.Error("expected method name in log")
	}
	if !containsSubstring(logOutput, "priority=high") {
		t.Error("expected priority in log")
	}
}

func TestRateLimitedCaller_PriorityIndependence(t *testing.T) {
	tracker, _, _, cleanup := setupTestMiddleware(t)
	defer cleanup()

	ctx := context.Background()

	// Exhaust shared budget (40 calls)
	tracker.TryConsume(ctx, 40, PriorityLow)

	// Verify shared is exhausted
	allowed, _ := tracker.TryConsume(ctx, 1, PriorityLow)
	if allowed {
		t.Error("expected shared budget to be exhausted")
	}

	// But high priority should still work (reserved budget is 60 calls)
	allowed, _ = tracker.TryConsume(ctx, 30, PriorityHigh)
	if !allowed {
		t.Error("expected high priority to be allowed when only shared is exhausted")
	}

	// Verify stats
	stats, err := tracker.GetUsage(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.SharedUsed != 40 {
		t.Errorf("expected shared used 40, got %d", stats.SharedUsed)
	}
	if stats.ReservedUsed != 30 {
		t.Errorf("expected reserved used 30, got %d", stats.ReservedUsed)
	}
}

// mockContractCaller satisfies the ContractCaller interface without making
// actual RPC calls.
type mockContractCaller struct {
	returnData []byte
	err        error
	callCount  int
	lastMsg    ethereum.CallMsg
}

func (m *mockContractCaller) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	m.callCount++
	m.lastMsg = msg
	return m.returnData, m.err
}

// Helper function to check if a string contains a substring
func containsSubstring(s, substr string) bool {
	return len(s) >= len(substr) && (s == substr || len(s) > 0 && containsSubstringHelper(s, substr))
}

func containsSubstringHelper(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
