package deduplication

import (
	"testing"
	"time"
)

func TestConfigFromEnv(t *testing.T) {
	tests := []struct {
		name    string
		envVars map[string]string
		wantErr bool
		check   func(t *testing.T, cfg Config)
	}{
		{
			name:    "no environment variables uses defaults",
			envVars: map[string]string{},
			check: func(t *testing.T, cfg Config) {
				if cfg != DefaultConfig() {
					t.Errorf("cfg = %v, want defaults %v", cfg, DefaultConfig())
				}
			},
		},
		{
			name: "valid custom configuration",
			envVars: map[string]string{
				"GUARDIAN_DEDUP_WINDOW_MINUTES": "30",
				"GUARDIAN_DEDUP_WITHIN_BATCH":   "false",
				"GUARDIAN_DEDUP_FAIL_OPEN":      "false",
				"GUARDIAN_DEDUP_TIMEOUT_SECS":   "10",
			},
			check: func(t *testing.T, cfg Config) {
				if cfg.Window != 30*time.Minute {
					t.Errorf("Window = %v, want 30m", cfg.Window)
				}
				if cfg.EnableWithinBatchDedup {
					t.Error("EnableWithinBatchDedup = true, want false")
				}
				if cfg.FailOpen {
					t.Error("FailOpen = true, want false")
				}
				if cfg.LookupTimeout != 10*time.Second {
					t.Errorf("LookupTimeout = %v, want 10s", cfg.LookupTimeout)
				}
			},
		},
		{
			name:    "invalid int value",
			envVars: map[string]string{"GUARDIAN_DEDUP_WINDOW_MINUTES": "soon"},
			wantErr: true,
		},
		{
			name:    "invalid bool value",
			envVars: map[string]string{"GUARDIAN_DEDUP_FAIL_OPEN": "maybe"},
			wantErr: true,
		},
		{
			name:    "value out of range - window too large",
			envVars: map[string]string{"GUARDIAN_DEDUP_WINDOW_MINUTES": "20000"},
			wantErr: true,
		},
		{
			name:    "value out of range - zero timeout",
			envVars: map[string]string{"GUARDIAN_DEDUP_TIMEOUT_SECS": "0"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range []string{
				"GUARDIAN_DEDUP_WINDOW_MINUTES",
				"GUARDIAN_DEDUP_WITHIN_BATCH",
				"GUARDIAN_DEDUP_FAIL_OPEN",
				"GUARDIAN_DEDUP_TIMEOUT_SECS",
			} {
				t.Setenv(key, "")
			}
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			cfg, err := ConfigFromEnv()
			if (err != nil) != tt.wantErr {
				t.Errorf("ConfigFromEnv() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}
