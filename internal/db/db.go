package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

func Open(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir data dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA synchronous=NORMAL; PRAGMA temp_store=MEMORY;`); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS servers (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			hostname TEXT NOT NULL UNIQUE,
			ip_address TEXT NOT NULL,
			port INTEGER NOT NULL DEFAULT 80,
			role TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'unknown',
			status_changed_at DATETIME,
			api_endpoint TEXT NOT NULL DEFAULT '',
			api_type TEXT NOT NULL DEFAULT 'srs',
			api_token TEXT NOT NULL DEFAULT '',
			api_username TEXT NOT NULL DEFAULT '',
			api_password TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS metrics (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			server_id INTEGER NOT NULL,
			ts DATETIME NOT NULL,
			cpu_usage REAL,
			memory_usage REAL,
			memory_total INTEGER NOT NULL DEFAULT 0,
			memory_used INTEGER NOT NULL DEFAULT 0,
			active_connections INTEGER NOT NULL DEFAULT 0,
			hls_connections INTEGER NOT NULL DEFAULT 0,
			bytes_sent INTEGER NOT NULL DEFAULT 0,
			bytes_received INTEGER NOT NULL DEFAULT 0,
			bandwidth_in REAL NOT NULL DEFAULT 0,
			bandwidth_out REAL NOT NULL DEFAULT 0,
			stream_count INTEGER NOT NULL DEFAULT 0,
			uptime INTEGER NOT NULL DEFAULT 0,
			response_time REAL NOT NULL DEFAULT 0,
			error_count INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY(server_id) REFERENCES servers(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			server_id INTEGER,
			alert_type TEXT NOT NULL,
			severity TEXT NOT NULL DEFAULT 'warning',
			message TEXT NOT NULL,
			acknowledged INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			acknowledged_at DATETIME,
			FOREIGN KEY(server_id) REFERENCES servers(id) ON DELETE SET NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_metrics_server_ts ON metrics(server_id, ts DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_open ON alerts(acknowledged, created_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_server_type ON alerts(server_id, alert_type, acknowledged);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate failed: %w", err)
		}
	}
	return nil
}
