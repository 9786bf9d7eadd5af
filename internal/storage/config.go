package storage

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spiralos/guardian/internal/storage/memory"
	"github.com/spiralos/guardian/internal/storage/postgres"
	"github.com/spiralos/guardian/internal/storage/sqlite"
)

// Backend names a storage implementation
type Backend string

const (
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
	BackendMemory   Backend = "memory"
)

// IsValid checks if the backend value is valid
func (b Backend) IsValid() bool {
	switch b {
	case BackendSQLite, BackendPostgres, BackendMemory:
		return true
	}
	return false
}

// DefaultPath is the SQLite database used when no path is configured
const DefaultPath = ".guardian/guardian.db"

// Config holds database configuration
type Config struct {
	// Backend selects the storage implementation
	// Default: sqlite
	Backend Backend `yaml:"backend"`

	// Path is the SQLite database file path
	// Default: ".guardian/guardian.db"
	// Special value ":memory:" creates an in-memory database (useful for tests)
	Path string `yaml:"path"`

	// Postgres holds connection settings for the postgres backend
	Postgres *postgres.Config `yaml:"postgres"`

	// OpTimeout bounds every store access made by the engine
	// Default: 5s
	OpTimeout time.Duration `yaml:"op_timeout"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Backend:   BackendSQLite,
		Path:      DefaultPath,
		Postgres:  postgres.DefaultConfig(),
		OpTimeout: 5 * time.Second,
	}
}

// LoadFromEnv loads storage configuration from environment variables
// Prefix: GUARDIAN_DB_ / GUARDIAN_PG_
func LoadFromEnv() *Config {
	cfg := DefaultConfig()

	if val := os.Getenv("GUARDIAN_DB_BACKEND"); val != "" {
		cfg.Backend = Backend(val)
	}
	if val := os.Getenv("GUARDIAN_DB_PATH"); val != "" {
		cfg.Path = val
	}
	if val := os.Getenv("GUARDIAN_DB_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.OpTimeout = d
		}
	}

	if val := os.Getenv("GUARDIAN_PG_HOST"); val != "" {
		cfg.Postgres.Host = val
	}
	if val := os.Getenv("GUARDIAN_PG_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if val := os.Getenv("GUARDIAN_PG_DATABASE"); val != "" {
		cfg.Postgres.Database = val
	}
	if val := os.Getenv("GUARDIAN_PG_USER"); val != "" {
		cfg.Postgres.User = val
	}
	if val := os.Getenv("GUARDIAN_PG_PASSWORD"); val != "" {
		cfg.Postgres.Password = val
	}
	if val := os.Getenv("GUARDIAN_PG_SSLMODE"); val != "" {
		cfg.Postgres.SSLMode = val
	}

	if err := cfg.Validate(); err != nil {
		fmt.Printf("Warning: invalid storage config from environment: %v\n", err)
		return DefaultConfig()
	}

	return cfg
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if !c.Backend.IsValid() {
		return fmt.Errorf("unknown storage backend %q (want sqlite, postgres or memory)", c.Backend)
	}
	if c.OpTimeout <= 0 {
		return fmt.Errorf("op_timeout must be positive (got %v)", c.OpTimeout)
	}
	if c.Backend == BackendPostgres && c.Postgres == nil {
		return fmt.Errorf("postgres backend requires postgres settings")
	}
	return nil
}

// NewStorage creates the storage backend selected by cfg
func NewStorage(ctx context.Context, cfg *Config) (Storage, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid storage config: %w", err)
	}

	switch cfg.Backend {
	case BackendPostgres:
		return postgres.New(ctx, cfg.Postgres)
	case BackendMemory:
		return memory.New(), nil
	default:
		// Default to standard path if not specified
		path := cfg.Path
		if path == "" {
			path = DefaultPath
		}
		return sqlite.New(path)
	}
}
