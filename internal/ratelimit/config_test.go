package ratelimit

import (
	"os"
	"testing"
	"time"
)

func TestNewCallBudgetConfig_Defaults(t *testing.T) {
	cfg := NewCallBudgetConfig()

	if cfg.TotalCalls != DefaultTotalCalls {
		t.Errorf("TotalCalls = %d, want %d", cfg.TotalCalls, DefaultTotalCalls)
	}
	if cfg.ReservedCalls != DefaultReservedCalls {
		t.Errorf("ReservedCalls = %d, want %d", cfg.ReservedCalls, DefaultReservedCalls)
	}
	if cfg.SharedCalls != DefaultSharedCalls {
		t.Errorf("SharedCalls = %d, want %d", cfg.SharedCalls, DefaultSharedCalls)
	}
	if cfg.WindowHours != DefaultWindowHours {
		t.Errorf("WindowHours = %d, want %d", cfg.WindowHours, DefaultWindowHours)
	}
	if cfg.WarningThreshold != DefaultWarningThreshold {
		t.Errorf("WarningThreshold = %d, want %d", cfg.WarningThreshold, DefaultWarningThreshold)
	}
	if cfg.PauseThreshold != DefaultPauseThreshold {
		t.Errorf("PauseThreshold = %d, want %d", cfg.PauseThreshold, DefaultPauseThreshold)
	}
	if cfg.DefaultMethodCost != DefaultDefaultMethodCost {
		t.Errorf("DefaultMethodCost = %d, want %d", cfg.DefaultMethodCost, DefaultDefaultMethodCost)
	}
}

func TestCallBudgetConfig_Validate_ValidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  *CallBudgetConfig
	}{
		{
			name: "default config",
			cfg:  NewCallBudgetConfig(),
		},
		{
			name: "custom valid config",
			cfg: &CallBudgetConfig{
				TotalCalls:        1000,
				ReservedCalls:     600,
				SharedCalls:       400,
				WindowHours:       48,
				WarningThreshold:  70,
				PauseThreshold:    85,
				DefaultMethodCost: 3,
			},
		},
		{
			name: "reserved + shared equals total",
			cfg: &CallBudgetConfig{
				TotalCalls:        500,
				ReservedCalls:     300,
				SharedCalls:       200,
				WindowHours:       24,
				WarningThreshold:  80,
				PauseThreshold:    90,
				DefaultMethodCost: 2,
			},
		},
		{
			name: "zero reserved calls",
			cfg: &CallBudgetConfig{
				TotalCalls:        500,
				ReservedCalls:     0,
				SharedCalls:       500,
				WindowHours:       24,
				WarningThreshold:  80,
				PauseThreshold:    90,
				DefaultMethodCost: 2,
			},
		},
		{
			name: "zero shared calls",
			cfg: &CallBudgetConfig{
				TotalCalls:        500,
				ReservedCalls:     500,
				SharedCalls:       0,
				WindowHours:       24,
				WarningThreshold:  80,
				PauseThreshold:    90,
				DefaultMethodCost: 2,
			},
		},
		{
			name: "warning equals pause threshold",
			cfg: &CallBudgetConfig{
				TotalCalls:        500,
				ReservedCalls:     300,
				SharedCalls:       200,
				WindowHours:       24,
				WarningThreshold:  90,
				PauseThreshold:    90,
				DefaultMethodCost: 2,
			},
		},
		{
			name: "zero thresholds",
			cfg: &CallBudgetConfig{
				TotalCalls:        500,
				ReservedCalls:     300,
				SharedCalls:       200,
				WindowHours:       24,
				WarningThreshold:  0,
				PauseThreshold:    0,
				DefaultMethodCost: 2,
			},
		},
		{
			name: "100% thresholds",
			cfg: &CallBudgetConfig{
				TotalCalls:        500,
				ReservedCalls:     300,
				SharedCalls:       200,
				WindowHours:       24,
				WarningThreshold:  100,
				PauseThreshold:    100,
				DefaultMethodCost: 2,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); err != nil {
				t.Errorf("Validate() returned error for valid config: %v", err)
			}
		})
	}
}

func TestCallBudgetConfig_Validate_InvalidConfig(t *testing.T) {
	tests := []struct {
		name        string
		cfg         *CallBudgetConfig
		errContains string
	}{
		{
			name: "zero total calls",
			cfg: &CallBudgetConfig{
				TotalCalls:        0,
				ReservedCalls:     300,
				SharedCalls:       200,
				WindowHours:       24,
				WarningThreshold:  80,
				PauseThreshold:    90,
				DefaultMethodCost: 2,
			},
			errContains: "TotalCalls must be positive",
		},
		{
			name: "negative total calls",
			cfg: &CallBudgetConfig{
				TotalCalls:        -100,
				ReservedCalls:     300,
				SharedCalls:       200,
				WindowHours:       24,
				WarningThreshold:  80,
				PauseThreshold:    90,
				DefaultMethodCost: 2,
			},
			errContains: "TotalCalls must be positive",
		},
		{
			name: "negative reserved calls",
			cfg: &CallBudgetConfig{
				TotalCalls:        500,
				ReservedCalls:     -100,
				SharedCalls:       200,
				WindowHours:       24,
				WarningThreshold:  80,
				PauseThreshold:    90,
				DefaultMethodCost: 2,
			},
			errContains: "ReservedCalls cannot be negative",
		},
		{
			name: "negative shared calls",
			cfg: &CallBudgetConfig{
				TotalCalls:        500,
				ReservedCalls:     300,
				SharedCalls:       -100,
				WindowHours:       24,
				WarningThreshold:  80,
				PauseThreshold:    90,
				DefaultMethodCost: 2,
			},
			errContains: "SharedCalls cannot be negative",
		},
		{
			name: "reserved + shared exceeds total",
			cfg: &CallBudgetConfig{
				TotalCalls:        500,
				ReservedCalls:     400,
				SharedCalls:       200,
				WindowHours:       24,
				WarningThreshold:  80,
				PauseThreshold:    90,
				DefaultMethodCost: 2,
			},
			errContains: "exceeds TotalCalls",
		},
		{
			name: "zero window hours",
			cfg: &CallBudgetConfig{
				TotalCalls:        500,
				ReservedCalls:     300,
				SharedCalls:       200,
				WindowHours:       0,
				WarningThreshold:  80,
				PauseThreshold:    90,
				DefaultMethodCost: 2,
			},
			errContains: "WindowHours must be positive",
		},
		{
			name: "negative window hours",
			cfg: &CallBudgetConfig{
				TotalCalls:        500,
				ReservedCalls:     300,
				SharedCalls:       200,
				WindowHours:       -24,
				WarningThreshold:  80,
				PauseThreshold:    90,
				DefaultMethodCost: 2,
			},
			errContains: "WindowHours must be positive",
		},
		{
			name: "negative warning threshold",
			cfg: &CallBudgetConfig{
				TotalCalls:        500,
				ReservedCalls:     300,
				SharedCalls:       200,
				WindowHours:       24,
				WarningThreshold:  -10,
				PauseThreshold:    90,
				DefaultMethodCost: 2,
			},
			errContains: "WarningThreshold must be between 0 and 100",
		},
		{
			name: "warning threshold over 100",
			cfg: &CallBudgetConfig{
				TotalCalls:        500,
				ReservedCalls:     300,
				SharedCalls:       200,
				WindowHours:       24,
				WarningThreshold:  110,
				PauseThreshold:    90,
				DefaultMethodCost: 2,
			},
			errContains: "WarningThreshold must be between 0 and 100",
		},
		{
			name: "negative pause threshold",
			cfg: &CallBudgetConfig{
				TotalCalls:        500,
				ReservedCalls:     300,
				SharedCalls:       200,
				WindowHours:       24,
				WarningThreshold:  80,
				PauseThreshold:    -10,
				DefaultMethodCost: 2,
			},
			errContains: "PauseThreshold must be between 0 and 100",
		},
		{
			name: "pause threshold over 100",
			cfg: &CallBudgetConfig{
				TotalCalls:        500,
				ReservedCalls:     300,
				SharedCalls:       200,
				WindowHours:       24,
				WarningThreshold:  80,
				PauseThreshold:    150,
				DefaultMethodCost: 2,
			},
			errContains: "PauseThreshold must be between 0 and 100",
		},
		{
			name: "warning threshold greater than pause threshold",
			cfg: &CallBudgetConfig{
				TotalCalls:        500,
				ReservedCalls:     300,
				SharedCalls:       200,
				WindowHours:       24,
				WarningThreshold:  95,
				PauseThreshold:    90,
				DefaultMethodCost: 2,
			},
			errContains: "WarningThreshold (95) cannot be greater than PauseThreshold (90)",
		},
		{
			name: "zero default method cost",
			cfg: &CallBudgetConfig{
				TotalCalls:        500,
				ReservedCalls:     300,
				SharedCalls:       200,
				WindowHours:       24,
				WarningThreshold:  80,
				PauseThreshold:    90,
				DefaultMethodCost: 0,
			},
			errContains: "DefaultMethodCost must be positive",
		},
		{
			name: "negative default method cost",
			cfg: &CallBudgetConfig{
				TotalCalls:        500,
				ReservedCalls:     300,
				SharedCalls:       200,
				WindowHours:       24,
				WarningThreshold:  80,
				PauseThreshold:    90,
				DefaultMethodCost: -10,
			},
			errContains: "DefaultMethodCost must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if err == nil {
				t.Error("Validate() should return error for invalid config")
				return
			}
			if tt.errContains != "" && !configContainsString(err.Error(), tt.errContains) {
				t.Errorf("Validate() error = %q, want error containing %q", err.Error(), tt.errContains)
			}
		})
	}
}

func TestLoadFromEnv_NoEnvVars(t *testing.T) {
	// Clear all relevant environment variables
	clearEnvVars(t)

	cfg := LoadFromEnv()

	// Should return defaults
	if cfg.TotalCalls != DefaultTotalCalls {
		t.Errorf("TotalCalls = %d, want %d", cfg.TotalCalls, DefaultTotalCalls)
	}
	if cfg.ReservedCalls != DefaultReservedCalls {
		t.Errorf("ReservedCalls = %d, want %d", cfg.ReservedCalls, DefaultReservedCalls)
	}
	if cfg.SharedCalls != DefaultSharedCalls {
		t.Errorf("SharedCalls = %d, want %d", cfg.SharedCalls, DefaultSharedCalls)
	}
}

func TestLoadFromEnv_ValidEnvVars(t *testing.T) {
	clearEnvVars(t)

	// Set valid environment variables
	os.Setenv(EnvTotalCalls, "1000")
	os.Setenv(EnvReservedCalls, "600")
	os.Setenv(EnvSharedCalls, "400")
	os.Setenv(EnvWindowHours, "48")
	os.Setenv(EnvWarningThreshold, "75")
	os.Setenv(EnvPauseThreshold, "85")
	os.Setenv(EnvDefaultMethodCost, "3")

	cfg := LoadFromEnv()

	if cfg.TotalCalls != 1000 {
		t.Errorf("TotalCalls = %d, want 1000", cfg.TotalCalls)
	}
	if cfg.ReservedCalls != 600 {
		t.Errorf("ReservedCalls = %d, want 600", cfg.ReservedCalls)
	}
	if cfg.SharedCalls != 400 {
		t.Errorf("SharedCalls = %d, want 400", cfg.SharedCalls)
	}
	if cfg.WindowHours != 48 {
		t.Errorf("WindowHours = %d, want 48", cfg.WindowHours)
	}
	if cfg.WarningThreshold != 75 {
		t.Errorf("WarningThreshold = %d, want 75", cfg.WarningThreshold)
	}
	if cfg.PauseThreshold != 85 {
		t.Errorf("PauseThreshold = %d, want 85", cfg.PauseThreshold)
	}
	if cfg.DefaultMethodCost != 3 {
		t.Errorf("DefaultMethodCost = %d, want 3", cfg.DefaultMethodCost)
	}
}

func TestLoadFromEnv_InvalidEnvVars_FallbackToDefaults(t *testing.T) {
	clearEnvVars(t)

	// Set invalid environment variables (non-numeric)
	os.Setenv(EnvTotalCalls, "invalid")
	os.Setenv(EnvReservedCalls, "not_a_number")

	cfg := LoadFromEnv()

	// Should fall back to defaults
	if cfg.TotalCalls != DefaultTotalCalls {
		t.Errorf("TotalCalls = %d, want %d (default)", cfg.TotalCalls, DefaultTotalCalls)
	}
	if cfg.ReservedCalls != DefaultReservedCalls {
		t.Errorf("ReservedCalls = %d, want %d (default)", cfg.ReservedCalls, DefaultReservedCalls)
	}
}

func TestLoadFromEnv_InvalidConfig_FallbackToDefaults(t *testing.T) {
	clearEnvVars(t)

	// Set values that would fail validation (reserved + shared > total)
	os.Setenv(EnvTotalCalls, "500")
	os.Setenv(EnvReservedCalls, "400")
	os.Setenv(EnvSharedCalls, "300") // 400 + 300 = 700 > 500

	cfg := LoadFromEnv()

	// Should fall back to all defaults due to validation failure
	if cfg.TotalCalls != DefaultTotalCalls {
		t.Errorf("TotalCalls = %d, want %d (default)", cfg.TotalCalls, DefaultTotalCalls)
	}
	if cfg.ReservedCalls != DefaultReservedCalls {
		t.Errorf("ReservedCalls = %d, want %d (default)", cfg.ReservedCalls, DefaultReservedCalls)
	}
	if cfg.SharedCalls != DefaultSharedCalls {
		t.Errorf("SharedCalls = %d, want %d (default)", cfg.SharedCalls, DefaultSharedCalls)
	}
}

func TestLoadFromEnv_NegativeValues_FallbackToDefaults(t *testing.T) {
	clearEnvVars(t)

	// Set negative values
	os.Setenv(EnvTotalCalls, "-100")

	cfg := LoadFromEnv()

	// Should fall back to defaults
	if cfg.TotalCalls != DefaultTotalCalls {
		t.Errorf("TotalCalls = %d, want %d (default)", cfg.TotalCalls, DefaultTotalCalls)
	}
}

func TestLoadFromEnv_ZeroTotalCalls_FallbackToDefaults(t *testing.T) {
	clearEnvVars(t)

	// Set zero total calls (invalid)
	os.Setenv(EnvTotalCalls, "0")

	cfg := LoadFromEnv()

	// Should fall back to defaults
	if cfg.TotalCalls != DefaultTotalCalls {
		t.Errorf("TotalCalls = %d, want %d (default)", cfg.TotalCalls, DefaultTotalCalls)
	}
}

func TestLoadFromEnv_ThresholdOutOfRange_FallbackToDefaults(t *testing.T) {
	clearEnvVars(t)

	// Set threshold over 100
	os.Setenv(EnvWarningThreshold, "150")

	cfg := LoadFromEnv()

	// Should fall back to default for warning threshold
	if cfg.WarningThreshold != DefaultWarningThreshold {
		t.Errorf("WarningThreshold = %d, want %d (default)", cfg.WarningThreshold, DefaultWarningThreshold)
	}
}

func TestLoadFromEnv_PartialEnvVars(t *testing.T) {
	clearEnvVars(t)

	// Set only some environment variables
	os.Setenv(EnvTotalCalls, "1000")
	os.Setenv(EnvReservedCalls, "500")
	os.Setenv(EnvSharedCalls, "500")
	// Leave others unset

	cfg := LoadFromEnv()

	// Set values should be used
	if cfg.TotalCalls != 1000 {
		t.Errorf("TotalCalls = %d, want 1000", cfg.TotalCalls)
	}
	if cfg.ReservedCalls != 500 {
		t.Errorf("ReservedCalls = %d, want 500", cfg.ReservedCalls)
	}
	if cfg.SharedCalls != 500 {
		t.Errorf("SharedCalls = %d, want 500", cfg.SharedCalls)
	}

	// Unset values should use defaults
	if cfg.WindowHours != DefaultWindowHours {
		t.Errorf("WindowHours = %d, want %d (default)", cfg.WindowHours, DefaultWindowHours)
	}
	if cfg.WarningThreshold != DefaultWarningThreshold {
		t.Errorf("WarningThreshold = %d, want %d (default)", cfg.WarningThreshold, DefaultWarningThreshold)
	}
}

func TestCallBudgetConfig_String(t *testing.T) {
	cfg := NewCallBudgetConfig()
	str := cfg.String()

	// Verify the string contains key information
	if !configContainsString(str, "TotalCalls: 100000") {
		t.Errorf("String() should contain TotalCalls, got: %s", str)
	}
	if !configContainsString(str, "ReservedCalls: 70000") {
		t.Errorf("String() should contain ReservedCalls, got: %s", str)
	}
	if !configContainsString(str, "SharedCalls: 30000") {
		t.Errorf("String() should contain SharedCalls, got: %s", str)
	}
}

func TestCallBudgetConfig_ToTrackerConfig(t *testing.T) {
	client := getTestRedisClient(t)

	cfg := &CallBudgetConfig{
		TotalCalls:        1000,
		ReservedCalls:     600,
		SharedCalls:       400,
		WindowHours:       12,
		WarningThreshold:  80,
		PauseThreshold:    90,
		DefaultMethodCost: 2,
	}

	trackerCfg := cfg.ToTrackerConfig(client)

	if trackerCfg.TotalBudget != 1000 {
		t.Errorf("TotalBudget = %d, want 1000", trackerCfg.TotalBudget)
	}
	if trackerCfg.ReservedBudget != 600 {
		t.Errorf("ReservedBudget = %d, want 600", trackerCfg.ReservedBudget)
	}
	if trackerCfg.WindowSize != 12*time.Hour {
		t.Errorf("WindowSize = %v, want %v", trackerCfg.WindowSize, 12*time.Hour)
	}
	if trackerCfg.KeyTTL != 14*time.Hour {
		t.Errorf("KeyTTL = %v, want %v", trackerCfg.KeyTTL, 14*time.Hour)
	}

	// The derived config must produce a working tracker
	tracker, err := NewRPCBudgetTracker(trackerCfg)
	if err != nil {
		t.Fatalf("unexpected error building tracker: %v", err)
	}
	if tracker.GetSharedBudget() != 400 {
		t.Errorf("GetSharedBudget() = %d, want 400", tracker.GetSharedBudget())
	}
}

func TestLoadFromEnv_ZeroReservedCalls_Valid(t *testing.T) {
	clearEnvVars(t)

	// Zero reserved calls is valid
	os.Setenv(EnvTotalCalls, "500")
	os.Setenv(EnvReservedCalls, "0")
	os.Setenv(EnvSharedCalls, "500")

	cfg := LoadFromEnv()

	if cfg.ReservedCalls != 0 {
		t.Errorf("ReservedCalls = %d, want 0", cfg.ReservedCalls)
	}
	if cfg.SharedCalls != 500 {
		t.Errorf("SharedCalls = %d, want 500", cfg.SharedCalls)
	}
}

func TestLoadFromEnv_ZeroSharedCalls_Valid(t *testing.T) {
	clearEnvVars(t)

	// Zero shared calls is valid
	os.Setenv(EnvTotalCalls, "500")
	os.Setenv(EnvReservedCalls, "500")
	os.Setenv(EnvSharedCalls, "0")

	cfg := LoadFromEnv()

	if cfg.ReservedCalls != 500 {
		t.Errorf("ReservedCalls = %d, want 500", cfg.ReservedCalls)
	}
	if cfg.SharedCalls != 0 {
		t.Errorf("SharedCalls = %d, want 0", cfg.SharedCalls)
	}
}

// Helper functions

func clearEnvVars(t *testing.T) {
	t.Helper()
	envVars := []string{
		EnvTotalCalls,
		EnvReservedCalls,
		EnvSharedCalls,
		EnvWindowHours,
		EnvWarningThreshold,
		EnvPauseThreshold,
		EnvDefaultMethodCost,
	}
	for _, env := range envVars {
		os.Unsetenv(env)
	}
	// Cleanup after test
	t.Cleanup(func() {
		for _, env := range envVars {
			os.Unsetenv(env)
		}
	})
}

func configContainsString(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
