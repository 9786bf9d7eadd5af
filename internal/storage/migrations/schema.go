package migrations

// SQLite timestamps are stored as INTEGER unix nanoseconds so that ORDER BY and
// range filters compare numerically. JSON columns hold TEXT.
var sqliteMigrations = []Migration{
	{
		Version:     1,
		Description: "Create guardian core tables",
		Up: `
CREATE TABLE IF NOT EXISTS nodes (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    is_active INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS telemetry (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    node_id TEXT NOT NULL,
    ts INTEGER NOT NULL,
    health_signal REAL,
    ache_signature REAL,
    sovereign_state TEXT,
    event_type TEXT NOT NULL,
    source TEXT NOT NULL DEFAULT '',
    signal_type TEXT NOT NULL DEFAULT '',
    payload TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS coherence_current (
    node_id TEXT PRIMARY KEY,
    value REAL NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS coherence_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    node_id TEXT NOT NULL,
    value REAL NOT NULL,
    delta REAL NOT NULL DEFAULT 0,
    source TEXT NOT NULL DEFAULT '',
    metadata TEXT NOT NULL DEFAULT '{}',
    ts INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS anomalies (
    id TEXT PRIMARY KEY,
    node_id TEXT NOT NULL,
    anomaly_type TEXT NOT NULL,
    severity TEXT NOT NULL CHECK(severity IN ('MEDIUM', 'HIGH', 'CRITICAL')),
    status TEXT NOT NULL DEFAULT 'ACTIVE' CHECK(status IN ('ACTIVE', 'RESOLVED')),
    details TEXT NOT NULL DEFAULT '{}',
    detected_at INTEGER NOT NULL,
    resolved_at INTEGER,
    resolved_by TEXT,
    correction_type TEXT
);

CREATE TABLE IF NOT EXISTS correction_profiles (
    node_id TEXT PRIMARY KEY,
    baseline_coherence REAL NOT NULL,
    preferred_corrections TEXT NOT NULL DEFAULT '[]',
    correction_budget INTEGER NOT NULL CHECK(correction_budget >= 0),
    cooldown_seconds INTEGER NOT NULL CHECK(cooldown_seconds >= 0),
    metadata TEXT NOT NULL DEFAULT '{}',
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS regulation_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    node_id TEXT NOT NULL,
    anomaly_id TEXT NOT NULL DEFAULT '',
    correction_type TEXT NOT NULL,
    severity_level TEXT NOT NULL DEFAULT '',
    mode TEXT NOT NULL DEFAULT '',
    payload TEXT NOT NULL DEFAULT '{}',
    success INTEGER NOT NULL,
    result_details TEXT NOT NULL DEFAULT '',
    coherence_delta REAL,
    executed_at INTEGER NOT NULL
);
`,
		Down: `
DROP TABLE IF EXISTS regulation_history;
DROP TABLE IF EXISTS correction_profiles;
DROP TABLE IF EXISTS anomalies;
DROP TABLE IF EXISTS coherence_history;
DROP TABLE IF EXISTS coherence_current;
DROP TABLE IF EXISTS telemetry;
DROP TABLE IF EXISTS nodes;
`,
	},
	{
		Version:     2,
		Description: "Add lookup indexes for detectors, dedup and cooldown",
		Up: `
CREATE INDEX IF NOT EXISTS idx_telemetry_node_ts ON telemetry(node_id, ts DESC);
CREATE INDEX IF NOT EXISTS idx_coherence_history_node_ts ON coherence_history(node_id, ts DESC);
CREATE INDEX IF NOT EXISTS idx_anomalies_dedup ON anomalies(node_id, anomaly_type, status, detected_at);
CREATE INDEX IF NOT EXISTS idx_anomalies_status ON anomalies(status);
CREATE INDEX IF NOT EXISTS idx_regulation_history_node_ts ON regulation_history(node_id, executed_at DESC);
`,
		Down: `
DROP INDEX IF EXISTS idx_regulation_history_node_ts;
DROP INDEX IF EXISTS idx_anomalies_status;
DROP INDEX IF EXISTS idx_anomalies_dedup;
DROP INDEX IF EXISTS idx_coherence_history_node_ts;
DROP INDEX IF EXISTS idx_telemetry_node_ts;
`,
	},
}

var postgresMigrations = []Migration{
	{
		Version:     1,
		Description: "Create guardian core tables",
		Up: `
CREATE TABLE IF NOT EXISTS nodes (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS telemetry (
    id BIGSERIAL PRIMARY KEY,
    node_id TEXT NOT NULL,
    ts TIMESTAMPTZ NOT NULL,
    health_signal DOUBLE PRECISION,
    ache_signature DOUBLE PRECISION,
    sovereign_state TEXT,
    event_type TEXT NOT NULL,
    source TEXT NOT NULL DEFAULT '',
    signal_type TEXT NOT NULL DEFAULT '',
    payload JSONB NOT NULL DEFAULT '{}'::jsonb
);

CREATE TABLE IF NOT EXISTS coherence_current (
    node_id TEXT PRIMARY KEY,
    value DOUBLE PRECISION NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS coherence_history (
    id BIGSERIAL PRIMARY KEY,
    node_id TEXT NOT NULL,
    value DOUBLE PRECISION NOT NULL,
    delta DOUBLE PRECISION NOT NULL DEFAULT 0,
    source TEXT NOT NULL DEFAULT '',
    metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
    ts TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS anomalies (
    id TEXT PRIMARY KEY,
    node_id TEXT NOT NULL,
    anomaly_type TEXT NOT NULL,
    severity TEXT NOT NULL CHECK(severity IN ('MEDIUM', 'HIGH', 'CRITICAL')),
    status TEXT NOT NULL DEFAULT 'ACTIVE' CHECK(status IN ('ACTIVE', 'RESOLVED')),
    details JSONB NOT NULL DEFAULT '{}'::jsonb,
    detected_at TIMESTAMPTZ NOT NULL,
    resolved_at TIMESTAMPTZ,
    resolved_by TEXT,
    correction_type TEXT
);

CREATE TABLE IF NOT EXISTS correction_profiles (
    node_id TEXT PRIMARY KEY,
    baseline_coherence DOUBLE PRECISION NOT NULL,
    preferred_corrections JSONB NOT NULL DEFAULT '[]'::jsonb,
    correction_budget INTEGER NOT NULL CHECK(correction_budget >= 0),
    cooldown_seconds INTEGER NOT NULL CHECK(cooldown_seconds >= 0),
    metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
    updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS regulation_history (
    id BIGSERIAL PRIMARY KEY,
    node_id TEXT NOT NULL,
    anomaly_id TEXT NOT NULL DEFAULT '',
    correction_type TEXT NOT NULL,
    severity_level TEXT NOT NULL DEFAULT '',
    mode TEXT NOT NULL DEFAULT '',
    payload JSONB NOT NULL DEFAULT '{}'::jsonb,
    success BOOLEAN NOT NULL,
    result_details TEXT NOT NULL DEFAULT '',
    coherence_delta DOUBLE PRECISION,
    executed_at TIMESTAMPTZ NOT NULL
);
`,
		Down: `
DROP TABLE IF EXISTS regulation_history;
DROP TABLE IF EXISTS correction_profiles;
DROP TABLE IF EXISTS anomalies;
DROP TABLE IF EXISTS coherence_history;
DROP TABLE IF EXISTS coherence_current;
DROP TABLE IF EXISTS telemetry;
DROP TABLE IF EXISTS nodes;
`,
	},
	{
		Version:     2,
		Description: "Add lookup indexes for detectors, dedup and cooldown",
		Up: `
CREATE INDEX IF NOT EXISTS idx_telemetry_node_ts ON telemetry(node_id, ts DESC);
CREATE INDEX IF NOT EXISTS idx_coherence_history_node_ts ON coherence_history(node_id, ts DESC);
CREATE INDEX IF NOT EXISTS idx_anomalies_dedup ON anomalies(node_id, anomaly_type, status, detected_at);
CREATE INDEX IF NOT EXISTS idx_anomalies_status ON anomalies(status);
CREATE INDEX IF NOT EXISTS idx_regulation_history_node_ts ON regulation_history(node_id, executed_at DESC);
`,
		Down: `
DROP INDEX IF EXISTS idx_regulation_history_node_ts;
DROP INDEX IF EXISTS idx_anomalies_status;
DROP INDEX IF EXISTS idx_anomalies_dedup;
DROP INDEX IF EXISTS idx_coherence_history_node_ts;
DROP INDEX IF EXISTS idx_telemetry_node_ts;
`,
	},
}

// SQLite returns a manager loaded with the guardian schema for SQLite
func SQLite() *Manager {
	m := NewManager(DialectSQLite)
	for _, mig := range sqliteMigrations {
		m.Register(mig)
	}
	return m
}

// Postgres returns a manager loaded with the guardian schema for PostgreSQL
func Postgres() *Manager {
	m := NewManager(DialectPostgres)
	for _, mig := range postgresMigrations {
		m.Register(mig)
	}
	return m
}
