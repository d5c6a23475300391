package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/zsprackett/tokengauge/internal/cache"
)

// DB is a SQLite-backed cache.Backend. Each blob is one row, so writes are
// atomic through the database's own transactions.
type DB struct {
	sql *sql.DB
}

func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	conn.SetMaxOpenConns(1)
	if _, err := conn.Exec("PRAGMA journal_mode = WAL"); err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := conn.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		conn.Close()
		return nil, err
	}
	return &DB{sql: conn}, nil
}

func (d *DB) Close() error {
	return d.sql.Close()
}

// schemaVersion is the blob table layout this build reads and writes.
const schemaVersion = 1

func (d *DB) Migrate() error {
	_, err := d.sql.Exec(`
		CREATE TABLE IF NOT EXISTS metadata (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create metadata: %w", err)
	}

	current, err := d.GetMeta("schema_version")
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if current != "" {
		v, err := strconv.Atoi(current)
		if err != nil {
			return fmt.Errorf("schema version %q: %w", current, err)
		}
		if v > schemaVersion {
			return fmt.Errorf("cache database schema %d is newer than supported %d", v, schemaVersion)
		}
	}

	_, err = d.sql.Exec(`
		CREATE TABLE IF NOT EXISTS blobs (
			name       TEXT PRIMARY KEY,
			data       BLOB NOT NULL,
			size       INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create blobs: %w", err)
	}

	return d.SetMeta("schema_version", strconv.Itoa(schemaVersion))
}

func (d *DB) Read(name string) ([]byte, error) {
	var data []byte
	err := d.sql.QueryRow("SELECT data FROM blobs WHERE name = ?", name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cache.ErrNotExist
	}
	return data, err
}

func (d *DB) Write(name string, data []byte) error {
	_, err := d.sql.Exec(
		"INSERT OR REPLACE INTO blobs (name, data, updated_at, size) VALUES (?,?,?,?)",
		name, data, time.Now().UnixMilli(), len(data),
	)
	return err
}

func (d *DB) Create(name string, data []byte) error {
	_, err := d.sql.Exec(
		"INSERT INTO blobs (name, data, updated_at, size) VALUES (?,?,?,?)",
		name, data, time.Now().UnixMilli(), len(data),
	)
	if err != nil && isUniqueConstraintError(err) {
		return cache.ErrExist
	}
	return err
}

func (d *DB) Remove(name string) error {
	res, err := d.sql.Exec("DELETE FROM blobs WHERE name = ?", name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return cache.ErrNotExist
	}
	return nil
}

func (d *DB) SetMeta(key, value string) error {
	_, err := d.sql.Exec("INSERT OR REPLACE INTO metadata (key, value) VALUES (?,?)", key, value)
	return err
}

func (d *DB) GetMeta(key string) (string, error) {
	var value string
	err := d.sql.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func isUniqueConstraintError(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
