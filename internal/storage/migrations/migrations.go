package migrations

import (
	"database/sql"
	"fmt"
	"sort"
	"time"
)

// Dialect selects the SQL flavour used for the schema_version bookkeeping
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

// String returns the dialect name
func (d Dialect) String() string {
	switch d {
	case DialectSQLite:
		return "sqlite"
	case DialectPostgres:
		return "postgres"
	default:
		return "unknown"
	}
}

// placeholder returns the n-th (1-based) bind parameter for the dialect
func (d Dialect) placeholder(n int) string {
	if d == DialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// Migration represents a single database migration
type Migration struct {
	Version     int
	Description string
	Up          string // SQL to apply the migration
	Down        string // SQL to revert the migration
}

// AppliedMigration is a row of the schema_version table
type AppliedMigration struct {
	Version     int
	Description string
	AppliedAt   time.Time
}

// Manager handles database migrations for one dialect
type Manager struct {
	dialect    Dialect
	migrations []Migration
}

// NewManager creates a new migration manager
func NewManager(dialect Dialect) *Manager {
	return &Manager{
		dialect:    dialect,
		migrations: []Migration{},
	}
}

// Register adds a migration to the manager
func (m *Manager) Register(migration Migration) {
	m.migrations = append(m.migrations, migration)
}

// Latest returns the highest registered migration version (0 if none)
func (m *Manager) Latest() int {
	latest := 0
	for _, mig := range m.migrations {
		if mig.Version > latest {
			latest = mig.Version
		}
	}
	return latest
}

// sortMigrations sorts migrations by version
func (m *Manager) sortMigrations() {
	sort.Slice(m.migrations, func(i, j int) bool {
		return m.migrations[i].Version < m.migrations[j].Version
	})
}

// Apply applies all pending migrations and returns how many were applied
func (m *Manager) Apply(db *sql.DB) (int, error) {
	// Create schema_version table if it doesn't exist
	if err := m.createVersionTable(db); err != nil {
		return 0, fmt.Errorf("failed to create version table: %w", err)
	}

	currentVersion, err := m.CurrentVersion(db)
	if err != nil {
		return 0, fmt.Errorf("failed to get current version: %w", err)
	}

	m.sortMigrations()

	applied := 0
	for _, migration := range m.migrations {
		if migration.Version <= currentVersion {
			continue
		}

		if err := m.applyMigration(db, migration); err != nil {
			return applied, fmt.Errorf("failed to apply migration %d: %w", migration.Version, err)
		}
		applied++
	}

	return applied, nil
}

// Rollback rolls back the last applied migration
func (m *Manager) Rollback(db *sql.DB) error {
	currentVersion, err := m.CurrentVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}

	if currentVersion == 0 {
		return fmt.Errorf("no migrations to rollback")
	}

	m.sortMigrations()
	for _, migration := range m.migrations {
		if migration.Version == currentVersion {
			if err := m.rollbackMigration(db, migration); err != nil {
				return fmt.Errorf("failed to rollback migration %d: %w", migration.Version, err)
			}
			return nil
		}
	}

	return fmt.Errorf("migration %d not found", currentVersion)
}

// CurrentVersion returns the highest applied version (0 on a fresh database)
func (m *Manager) CurrentVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}

// Applied lists the rows of schema_version in version order
func (m *Manager) Applied(db *sql.DB) ([]AppliedMigration, error) {
	rows, err := db.Query("SELECT version, description, applied_at FROM schema_version ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query schema_version: %w", err)
	}
	defer rows.Close()

	var applied []AppliedMigration
	for rows.Next() {
		var a AppliedMigration
		if err := rows.Scan(&a.Version, &a.Description, &a.AppliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan schema_version row: %w", err)
		}
		applied = append(applied, a)
	}
	return applied, rows.Err()
}

func (m *Manager) createVersionTable(db *sql.DB) error {
	appliedType := "DATETIME"
	if m.dialect == DialectPostgres {
		appliedType = "TIMESTAMPTZ"
	}
	_, err := db.Exec(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at %s NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`, appliedType))
	return err
}

func (m *Manager) applyMigration(db *sql.DB, migration Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// Execute migration SQL
	if _, err := tx.Exec(migration.Up); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	// Record migration
	insert := fmt.Sprintf(
		"INSERT INTO schema_version (version, description, applied_at) VALUES (%s, %s, %s)",
		m.dialect.placeholder(1), m.dialect.placeholder(2), m.dialect.placeholder(3),
	)
	if _, err := tx.Exec(insert, migration.Version, migration.Description, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	return tx.Commit()
}

func (m *Manager) rollbackMigration(db *sql.DB, migration Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// Execute rollback SQL
	if _, err := tx.Exec(migration.Down); err != nil {
		return fmt.Errorf("failed to execute rollback SQL: %w", err)
	}

	// Remove migration record
	del := fmt.Sprintf("DELETE FROM schema_version WHERE version = %s", m.dialect.placeholder(1))
	if _, err := tx.Exec(del, migration.Version); err != nil {
		return fmt.Errorf("failed to remove migration record: %w", err)
	}

	return tx.Commit()
}
