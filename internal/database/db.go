package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// DB wraps the database connection
type DB struct {
	conn *sql.DB
	path string
}

// New creates a new database connection
func New(dbPath string) (*DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Open database connection
	// Use WAL mode for better concurrency
	conn, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Configure connection pool
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)

	return &DB{
		conn: conn,
		path: dbPath,
	}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying sql.DB connection
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Migrate creates the schema if it does not already exist. It is safe
// to call on every startup.
func (db *DB) Migrate() error {
	for _, stmt := range schemaStatements {
		if _, err := db.conn.Exec(stmt); err != nil {
			return fmt.Errorf("failed to run migration: %w", err)
		}
	}
	return nil
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS providers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		api_key_hash TEXT,
		webhook_secret TEXT,
		ingest_format TEXT NOT NULL DEFAULT 'structured',
		is_active BOOLEAN NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS signals (
		id TEXT PRIMARY KEY,
		provider_id TEXT NOT NULL,
		external_id TEXT,
		strategy_name TEXT,
		symbol TEXT NOT NULL,
		asset_class TEXT NOT NULL,
		direction TEXT NOT NULL,
		entry_price REAL NOT NULL,
		sl REAL NOT NULL,
		tp1 REAL NOT NULL,
		tp2 REAL,
		tp3 REAL,
		risk_distance REAL NOT NULL,
		rr_ratio REAL NOT NULL,
		status TEXT NOT NULL,
		entry_time TIMESTAMP NOT NULL,
		activated_at TIMESTAMP,
		closed_at TIMESTAMP,
		exit_price REAL,
		close_reason TEXT,
		r_value REAL,
		max_favorable REAL,
		max_adverse REAL,
		next_poll_at TIMESTAMP,
		last_price REAL,
		last_price_at TIMESTAMP,
		raw_payload TEXT,
		FOREIGN KEY (provider_id) REFERENCES providers(id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_signals_next_poll ON signals(next_poll_at) WHERE status IN ('PENDING','ACTIVE','TP1_HIT','TP2_HIT','TP3_HIT')`,
	`CREATE INDEX IF NOT EXISTS idx_signals_symbol ON signals(symbol)`,
	`CREATE INDEX IF NOT EXISTS idx_signals_provider ON signals(provider_id)`,
	`CREATE TABLE IF NOT EXISTS signal_events (
		id TEXT PRIMARY KEY,
		signal_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		price REAL,
		source TEXT NOT NULL,
		event_time TIMESTAMP NOT NULL,
		metadata TEXT,
		FOREIGN KEY (signal_id) REFERENCES signals(id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_signal_events_signal ON signal_events(signal_id)`,
	`CREATE TABLE IF NOT EXISTS webhook_subscriptions (
		id TEXT PRIMARY KEY,
		provider_id TEXT NOT NULL,
		url TEXT NOT NULL,
		secret TEXT NOT NULL,
		event_types TEXT NOT NULL,
		headers TEXT,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		consecutive_failures INTEGER NOT NULL DEFAULT 0,
		last_delivery_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (provider_id) REFERENCES providers(id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_webhook_subs_provider ON webhook_subscriptions(provider_id)`,
	`CREATE TABLE IF NOT EXISTS delivery_logs (
		id TEXT PRIMARY KEY,
		webhook_id TEXT NOT NULL,
		event_id TEXT NOT NULL,
		status_code INTEGER,
		success BOOLEAN NOT NULL,
		response_snippet TEXT,
		logged_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_delivery_logs_webhook ON delivery_logs(webhook_id)`,
}

// Begin starts a new transaction
func (db *DB) Begin() (*sql.Tx, error) {
	return db.conn.Begin()
}

// Exec executes a query without returning rows
func (db *DB) Exec(query string, args ...interface{}) (sql.Result, error) {
	return db.conn.Exec(query, args...)
}

// Query executes a query that returns rows
func (db *DB) Query(query string, args ...interface{}) (*sql.Rows, error) {
	return db.conn.Query(query, args...)
}

// QueryRow executes a query that returns at most one row
func (db *DB) QueryRow(query string, args ...interface{}) *sql.Row {
	return db.conn.QueryRow(query, args...)
}
