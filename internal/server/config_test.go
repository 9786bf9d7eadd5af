package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Empty(t, cfg.APIKey)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("GUARDIAN_HTTP_ADDR", "127.0.0.1:9090")
	t.Setenv("GUARDIAN_API_KEY", "k")
	t.Setenv("GUARDIAN_HTTP_READ_TIMEOUT", "5s")

	cfg := LoadFromEnv()
	assert.Equal(t, "127.0.0.1:9090", cfg.Addr)
	assert.Equal(t, "k", cfg.APIKey)
	assert.Equal(t, 5*time.Second, cfg.ReadTimeout)
}

func TestLoadFromEnvInvalidFallsBack(t *testing.T) {
	t.Setenv("GUARDIAN_API_KEY", "k")
	t.Setenv("GUARDIAN_HTTP_SHUTDOWN_TIMEOUT", "-1s")

	cfg := LoadFromEnv()
	assert.Equal(t, DefaultConfig().ShutdownTimeout, cfg.ShutdownTimeout)
	assert.Equal(t, "k", cfg.APIKey)
}
