package watchdog

import (
	"testing"
	"time"
)

func TestDefaultWatchdogConfig(t *testing.T) {
	cfg := DefaultWatchdogConfig()

	if !cfg.Enabled {
		t.Error("Expected watchdog to be enabled by default")
	}
	if cfg.Interval != 5*time.Minute {
		t.Errorf("Expected interval 5m, got %v", cfg.Interval)
	}
	if cfg.SlowTickThreshold != 2*time.Minute {
		t.Errorf("Expected slow tick threshold 2m, got %v", cfg.SlowTickThreshold)
	}
	if cfg.GetCurrentInterval() != cfg.Interval {
		t.Errorf("Expected current interval to start at base, got %v", cfg.GetCurrentInterval())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should be valid: %v", err)
	}
}

func TestWatchdogConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*WatchdogConfig)
		wantErr bool
	}{
		{"defaults", func(c *WatchdogConfig) {}, false},
		{"zero interval", func(c *WatchdogConfig) { c.Interval = 0 }, true},
		{"sub-second interval", func(c *WatchdogConfig) { c.Interval = 500 * time.Millisecond }, true},
		{"zero slow tick threshold", func(c *WatchdogConfig) { c.SlowTickThreshold = 0 }, true},
		{"max below interval", func(c *WatchdogConfig) { c.BackoffConfig.MaxInterval = time.Minute }, true},
		{"shrinking multiplier", func(c *WatchdogConfig) { c.BackoffConfig.Multiplier = 0.5 }, true},
		{"zero threshold", func(c *WatchdogConfig) { c.BackoffConfig.TriggerThreshold = 0 }, true},
		{"backoff disabled skips its checks", func(c *WatchdogConfig) {
			c.BackoffConfig.Enabled = false
			c.BackoffConfig.Multiplier = 0
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultWatchdogConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("GUARDIAN_WATCHDOG_ENABLED", "false")
	t.Setenv("GUARDIAN_WATCHDOG_INTERVAL", "1m")
	t.Setenv("GUARDIAN_WATCHDOG_RUN_ON_START", "yes")
	t.Setenv("GUARDIAN_WATCHDOG_BACKOFF_THRESHOLD", "5")

	cfg := LoadFromEnv()
	if cfg.Enabled {
		t.Error("Expected watchdog disabled")
	}
	if cfg.Interval != time.Minute {
		t.Errorf("Expected interval 1m, got %v", cfg.Interval)
	}
	if cfg.GetCurrentInterval() != time.Minute {
		t.Errorf("Expected current interval 1m, got %v", cfg.GetCurrentInterval())
	}
	if !cfg.RunOnStart {
		t.Error("Expected run on start")
	}
	if cfg.BackoffConfig.TriggerThreshold != 5 {
		t.Errorf("Expected threshold 5, got %d", cfg.BackoffConfig.TriggerThreshold)
	}
}

func TestLoadFromEnvInvalidFallsBack(t *testing.T) {
	t.Setenv("GUARDIAN_WATCHDOG_INTERVAL", "1h")
	// max interval (30m) below interval
	cfg := LoadFromEnv()
	if cfg.Interval != 5*time.Minute {
		t.Errorf("Expected fallback to default interval, got %v", cfg.Interval)
	}
}

func TestBackoff(t *testing.T) {
	cfg := DefaultWatchdogConfig()
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Below threshold nothing changes
	cfg.RecordFailure(at)
	cfg.RecordFailure(at)
	if cfg.GetCurrentInterval() != 5*time.Minute {
		t.Errorf("Expected no backoff below threshold, got %v", cfg.GetCurrentInterval())
	}

	cfg.RecordFailure(at)
	if cfg.GetCurrentInterval() != 10*time.Minute {
		t.Errorf("Expected 10m after third failure, got %v", cfg.GetCurrentInterval())
	}
	cfg.RecordFailure(at)
	cfg.RecordFailure(at)
	if cfg.GetCurrentInterval() != 30*time.Minute {
		t.Errorf("Expected cap at 30m, got %v", cfg.GetCurrentInterval())
	}

	state := cfg.GetBackoffState()
	if !state.IsBackedOff || state.ConsecutiveFailures != 5 || !state.LastFailure.Equal(at) {
		t.Errorf("Unexpected backoff state: %+v", state)
	}

	cfg.RecordSuccess()
	state = cfg.GetBackoffState()
	if state.IsBackedOff || state.ConsecutiveFailures != 0 || state.CurrentInterval != 5*time.Minute {
		t.Errorf("Expected reset after success, got %+v", state)
	}
}

func TestBackoffDisabled(t *testing.T) {
	cfg := DefaultWatchdogConfig()
	cfg.BackoffConfig.Enabled = false
	for i := 0; i < 10; i++ {
		cfg.RecordFailure(time.Now())
	}
	if cfg.GetCurrentInterval() != cfg.Interval {
		t.Errorf("Expected base interval with backoff disabled, got %v", cfg.GetCurrentInterval())
	}
	if cfg.GetBackoffState().ConsecutiveFailures != 10 {
		t.Errorf("Expected failures still counted")
	}
}
