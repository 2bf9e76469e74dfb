package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const (
	dirPerm  = 0750
	filePerm = 0600

	// openTimeout bounds the connectivity probe at startup.
	openTimeout = 5 * time.Second
)

// Config is the database section of the service configuration.
type Config struct {
	// Path to the SQLite file. The parent directory is created on open.
	Path string

	// WALMode turns on write-ahead logging so resource reads proceed
	// while a request is writing.
	WALMode bool

	// BusyTimeout is how long, in seconds, a statement waits on a lock
	// before surfacing a contention error.
	BusyTimeout int
}

// DB is the SQLite handle backing the resource tree. It embeds *sql.DB,
// so the store queries it directly; the wrapper adds schema migrations
// and a liveness probe.
type DB struct {
	*sql.DB
	path string
}

// Open opens the SQLite file, creating it and its directory as needed,
// and verifies the connection answers. The pool is pinned to a single
// connection to match SQLite's one-writer model.
func Open(cfg Config) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), dirPerm); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite3", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}

	// Resource attributes can carry credentials, so keep the file
	// private. On a first run the file may not exist until the first
	// write; the chmod failure is harmless then.
	_ = os.Chmod(cfg.Path, filePerm)

	return &DB{DB: sqlDB, path: cfg.Path}, nil
}

// dsn builds the go-sqlite3 connection string. Foreign keys are always
// on; the store relies on cascading deletes for subtree removal.
func dsn(cfg Config) string {
	s := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on", cfg.Path, cfg.BusyTimeout*1000)
	if cfg.WALMode {
		s += "&_journal_mode=WAL&_synchronous=NORMAL"
	}
	return s
}

// Close releases the connection. Safe on a zero-value DB.
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// Path returns the filesystem location of the database file.
func (db *DB) Path() string {
	return db.path
}

// HealthCheck probes the connection with a trivial query.
func (db *DB) HealthCheck(ctx context.Context) error {
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	return nil
}

// inTx runs fn inside a transaction, committing when it returns nil and
// rolling back otherwise.
func (db *DB) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
