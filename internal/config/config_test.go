package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spiralos/guardian/internal/storage"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, storage.BackendSQLite, cfg.Storage.Backend)
	assert.Equal(t, 60*time.Minute, cfg.Deduplication.Window)
	assert.Equal(t, 5*time.Minute, cfg.Watchdog.Interval)
}

func TestOverlayKeepsUnsetKeys(t *testing.T) {
	cfg := Default()
	doc := `
storage:
  backend: memory
thresholds:
  ache_high: 0.75
regulation:
  freeze_duration: 45m
  tightened_thresholds:
    ache_threshold: 0.65
server:
  addr: "127.0.0.1:9000"
  api_key: s3cret
watchdog:
  interval: 10m
notify:
  discord_webhook_url: https://discord.example/webhook
`
	require.NoError(t, cfg.Overlay([]byte(doc)))

	assert.Equal(t, storage.BackendMemory, cfg.Storage.Backend)
	assert.Equal(t, storage.DefaultPath, cfg.Storage.Path)
	assert.Equal(t, 5*time.Second, cfg.Storage.OpTimeout)

	assert.Equal(t, 0.75, cfg.Thresholds.AcheHigh)
	assert.Equal(t, 0.9, cfg.Thresholds.AcheCritical)

	assert.Equal(t, 45*time.Minute, cfg.Regulation.FreezeDuration)
	assert.Equal(t, 0.65, cfg.Regulation.TightenedThresholds.AcheThreshold)
	assert.Equal(t, 0.12, cfg.Regulation.TightenedThresholds.EntropyThreshold)
	assert.Equal(t, 1.15, cfg.Regulation.RecoveryMultiplier)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, "s3cret", cfg.Server.APIKey)

	assert.Equal(t, 10*time.Minute, cfg.Watchdog.Interval)
	assert.Equal(t, 10*time.Minute, cfg.Watchdog.GetCurrentInterval())

	assert.Equal(t, "https://discord.example/webhook", cfg.Notify.DiscordWebhookURL)
	assert.Equal(t, 30.0, cfg.Notify.RatePerMinute)
}

func TestOverlayRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"malformed", "storage: [", "failed to parse"},
		{"bad backend", "storage:\n  backend: mongo\n", "invalid storage config"},
		{"bad threshold", "thresholds:\n  ache_high: 1.5\n", "invalid thresholds config"},
		{"bad duration", "watchdog:\n  interval: soon\n", "failed to parse"},
		{"bad scanner", "scanner:\n  max_concurrent_regulations: 0\n", "invalid scanner config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Default().Overlay([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestOverlayNullSectionRestoresDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Overlay([]byte("scanner: null\nserver: ~\n")))
	require.NotNil(t, cfg.Scanner)
	require.NotNil(t, cfg.Server)
	assert.Equal(t, 4, cfg.Scanner.MaxConcurrentRegulations)
}

func TestLoad(t *testing.T) {
	t.Run("explicit file overlays env", func(t *testing.T) {
		t.Setenv("GUARDIAN_API_KEY", "from-env")
		t.Setenv("GUARDIAN_HTTP_ADDR", ":7000")

		path := filepath.Join(t.TempDir(), "guardian.yaml")
		require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":7100\"\n"), 0644))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, ":7100", cfg.Server.Addr)
		assert.Equal(t, "from-env", cfg.Server.APIKey)
	})

	t.Run("explicit missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read config file")
	})

	t.Run("default path may be absent", func(t *testing.T) {
		t.Chdir(t.TempDir())
		cfg, err := Load("")
		require.NoError(t, err)
		assert.NotNil(t, cfg.Storage)
	})
}
