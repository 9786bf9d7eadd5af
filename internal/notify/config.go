package notify

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/spiralos/guardian/internal/metrics"
)

// Config holds notification settings
type Config struct {
	// DiscordWebhookURL enables the Discord sink when set
	DiscordWebhookURL string `yaml:"discord_webhook_url"`

	// RedisAddr enables the Redis pub/sub sink when set (host:port)
	RedisAddr string `yaml:"redis_addr"`

	// RedisChannel is the pub/sub channel
	// Default: guardian:alerts
	RedisChannel string `yaml:"redis_channel"`

	// RatePerMinute limits non-critical notifications (0 disables limiting)
	// Default: 30
	RatePerMinute float64 `yaml:"rate_per_minute"`

	// Burst is the limiter burst size
	// Default: 5
	Burst int `yaml:"burst"`

	// Timeout bounds each sink delivery
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}

// DefaultConfig returns notification defaults (no sinks configured)
func DefaultConfig() Config {
	return Config{
		RedisChannel:  DefaultRedisChannel,
		RatePerMinute: 30,
		Burst:         5,
		Timeout:       10 * time.Second,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.RatePerMinute < 0 {
		return fmt.Errorf("rate_per_minute cannot be negative (got %.1f)", c.RatePerMinute)
	}
	if c.RatePerMinute > 0 && c.Burst < 1 {
		return fmt.Errorf("burst must be at least 1 when rate limiting (got %d)", c.Burst)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive (got %v)", c.Timeout)
	}
	if c.RedisAddr != "" && c.RedisChannel == "" {
		return fmt.Errorf("redis_channel is required when redis_addr is set")
	}
	return nil
}

// LoadFromEnv loads notification configuration from environment variables.
// DISCORD_GUARDIAN_WEBHOOK_URL is accepted when GUARDIAN_DISCORD_WEBHOOK_URL is unset.
func LoadFromEnv() Config {
	cfg := DefaultConfig()

	if val := os.Getenv("GUARDIAN_DISCORD_WEBHOOK_URL"); val != "" {
		cfg.DiscordWebhookURL = val
	} else if val := os.Getenv("DISCORD_GUARDIAN_WEBHOOK_URL"); val != "" {
		cfg.DiscordWebhookURL = val
	}
	if val := os.Getenv("GUARDIAN_REDIS_ADDR"); val != "" {
		cfg.RedisAddr = val
	}
	if val := os.Getenv("GUARDIAN_REDIS_CHANNEL"); val != "" {
		cfg.RedisChannel = val
	}
	if val := os.Getenv("GUARDIAN_NOTIFY_RATE_PER_MINUTE"); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.RatePerMinute = f
		}
	}
	if val := os.Getenv("GUARDIAN_NOTIFY_BURST"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Burst = n
		}
	}
	if val := os.Getenv("GUARDIAN_NOTIFY_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Timeout = d
		}
	}

	if err := cfg.Validate(); err != nil {
		fmt.Printf("Warning: invalid notify config from environment: %v\n", err)
		return DefaultConfig()
	}
	return cfg
}

// New builds a Fanout from cfg. The returned close function releases the Redis client.
// With no sinks configured the Fanout is a no-op.
func New(cfg Config, m *metrics.Metrics) (*Fanout, func() error, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid notify config: %w", err)
	}

	closer := func() error { return nil }
	var sinks []Sink
	if cfg.DiscordWebhookURL != "" {
		sinks = append(sinks, NewDiscordSink(cfg.DiscordWebhookURL, &http.Client{Timeout: cfg.Timeout}))
	}
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		sinks = append(sinks, NewRedisSink(client, cfg.RedisChannel))
		closer = client.Close
	}
	if len(sinks) == 0 {
		fmt.Printf("Warning: no notification sinks configured, alerts will be dropped\n")
	}

	var limiter *rate.Limiter
	if cfg.RatePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerMinute/60), cfg.Burst)
	}

	return NewFanout(sinks, limiter, cfg.Timeout, m), closer, nil
}
