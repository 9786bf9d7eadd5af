package postgres_test

import (
	"context"
	"os"
	"strconv"
	"testing"

	"github.com/spiralos/guardian/internal/storage"
	"github.com/spiralos/guardian/internal/storage/postgres"
	"github.com/spiralos/guardian/internal/storage/storagetest"
)

// getTestConfig returns a config for testing based on environment variables
func getTestConfig() *postgres.Config {
	cfg := postgres.DefaultConfig()

	if host := os.Getenv("GUARDIAN_TEST_PG_HOST"); host != "" {
		cfg.Host = host
	}
	if port := os.Getenv("GUARDIAN_TEST_PG_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	if db := os.Getenv("GUARDIAN_TEST_PG_DATABASE"); db != "" {
		cfg.Database = db
	}
	if user := os.Getenv("GUARDIAN_TEST_PG_USER"); user != "" {
		cfg.User = user
	}
	if pass := os.Getenv("GUARDIAN_TEST_PG_PASSWORD"); pass != "" {
		cfg.Password = pass
	}

	return cfg
}

// setupTestStorage connects and truncates every guardian table
func setupTestStorage(t *testing.T) *postgres.PostgresStorage {
	ctx := context.Background()

	s, err := postgres.New(ctx, getTestConfig())
	if err != nil {
		t.Skipf("Skipping PostgreSQL test (database not available): %v", err)
	}
	if err := postgres.Truncate(ctx, s); err != nil {
		_ = s.Close()
		t.Fatalf("Failed to clean up test database: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPostgresStorage(t *testing.T) {
	if os.Getenv("GUARDIAN_TEST_PG_HOST") == "" {
		t.Skip("Skipping PostgreSQL test (GUARDIAN_TEST_PG_HOST not set)")
	}
	storagetest.Run(t, func(t *testing.T) storage.Storage {
		return setupTestStorage(t)
	})
}

func TestMigrateIsIdempotent(t *testing.T) {
	if os.Getenv("GUARDIAN_TEST_PG_HOST") == "" {
		t.Skip("Skipping PostgreSQL test (GUARDIAN_TEST_PG_HOST not set)")
	}
	s := setupTestStorage(t)

	applied, err := s.Migrate()
	if err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
	if applied != 0 {
		t.Errorf("expected no pending migrations, got %d applied", applied)
	}
}
