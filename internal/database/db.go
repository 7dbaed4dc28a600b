// Package database provides the SQLite connection and schema migration
// shared by every durable store in the pricing engine (queue, cache,
// pricing rows, API keys, competitor graph).
package database

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure-Go driver, no cgo
)

//go:embed schema.sql
var schemaSQL string

// DB wraps *sql.DB with the WAL-mode, foreign-key-enforcing configuration
// used across the service, plus a handful of maintenance helpers.
type DB struct {
	conn *sql.DB
	path string
}

// Config holds database connection settings.
type Config struct {
	Path string
}

// New opens (creating if needed) the SQLite database at cfg.Path with
// WAL journaling and a tuned connection pool for a long-running process.
func New(cfg Config) (*DB, error) {
	if !strings.HasPrefix(cfg.Path, "file:") {
		absPath, err := filepath.Abs(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("resolve database path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		cfg.Path = absPath
	}

	connStr := cfg.Path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=cache_size(-64000)"

	conn, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	conn.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY thrash
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{conn: conn, path: cfg.Path}, nil
}

// Migrate applies the embedded schema. Safe to call on every startup.
func (db *DB) Migrate() error {
	if _, err := db.conn.Exec(schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (db *DB) Close() error  { return db.conn.Close() }
func (db *DB) Conn() *sql.DB { return db.conn }
func (db *DB) Path() string  { return db.path }

// WithTx runs fn inside a transaction, committing on success and rolling
// back on error or panic.
func (db *DB) WithTx(ctx context.Context, fn func(*sql.Tx) error) (err error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	err = fn(tx)
	return err
}

// HealthCheck pings the connection and runs a cheap integrity check.
func (db *DB) HealthCheck(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	var result string
	if err := db.conn.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("quick_check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("quick_check failed: %s", result)
	}
	return nil
}

// WALCheckpoint forces a WAL checkpoint to keep the -wal file bounded.
func (db *DB) WALCheckpoint() error {
	_, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

// Stats reports file sizes useful for operational dashboards.
type Stats struct {
	SizeBytes    int64
	WALSizeBytes int64
}

func (db *DB) GetStats() Stats {
	var s Stats
	if fi, err := os.Stat(db.path); err == nil {
		s.SizeBytes = fi.Size()
	}
	if fi, err := os.Stat(db.path + "-wal"); err == nil {
		s.WALSizeBytes = fi.Size()
	}
	return s
}
