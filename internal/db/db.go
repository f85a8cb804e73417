// Package db opens the SQLite database that backs device health
// persistence. Reads and writes go through separate pools: SQLite in
// WAL mode lets any number of readers run alongside the single writer,
// so the writer pool is pinned to one connection and the reader pool
// is opened read-only.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const schema = `
CREATE TABLE IF NOT EXISTS device_health (
  device_key TEXT PRIMARY KEY,
  connection_attempts INTEGER NOT NULL DEFAULT 0,
  successful_connections INTEGER NOT NULL DEFAULT 0,
  disconnects INTEGER NOT NULL DEFAULT 0,
  reconnect_attempts INTEGER NOT NULL DEFAULT 0,
  successful_reconnects INTEGER NOT NULL DEFAULT 0,
  failed_reconnects INTEGER NOT NULL DEFAULT 0,
  updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);
`

// DBPair holds the read and write connection pools.
type DBPair struct {
	reader *sql.DB
	writer *sql.DB
}

func (p *DBPair) Reader() *sql.DB { return p.reader }
func (p *DBPair) Writer() *sql.DB { return p.writer }

func (p *DBPair) Close() error {
	return errors.Join(p.reader.Close(), p.writer.Close())
}

// Init opens (creating if needed) the database at path and applies the
// schema.
func Init(path string) (*DBPair, error) {
	if path == "" {
		return nil, errors.New("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	writer, err := open(path, "rwc", 1)
	if err != nil {
		return nil, fmt.Errorf("open writer: %w", err)
	}
	for _, pragma := range []string{"PRAGMA journal_mode = WAL;", "PRAGMA foreign_keys = ON;"} {
		if _, err := writer.Exec(pragma); err != nil {
			writer.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := writer.Exec(schema); err != nil {
		writer.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	reader, err := open(path, "ro", 4)
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("open reader: %w", err)
	}

	return &DBPair{reader: reader, writer: writer}, nil
}

func open(path, mode string, maxConns int) (*sql.DB, error) {
	dsn := fmt.Sprintf("%s?_journal=WAL&_busy_timeout=5000&mode=%s", path, mode)
	pool, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	pool.SetMaxOpenConns(maxConns)
	pool.SetConnMaxLifetime(time.Hour)
	return pool, nil
}
