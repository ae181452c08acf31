// Package store persists canonical events, ingest runs and source
// watermarks in a relational database. SQLite is the default backend;
// Postgres is supported for shared deployments.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

var (
	// ErrUnsupportedDriver is returned for an unknown database driver name.
	ErrUnsupportedDriver = errors.New("store: unsupported driver")
	// ErrRunNotFound is returned when an ingest run id does not exist.
	ErrRunNotFound = errors.New("store: ingest run not found")
	// ErrRunFinalized is returned when finalizing a run that already left
	// the running state.
	ErrRunFinalized = errors.New("store: ingest run already finalized")
)

// Driver selects the database backend.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Config locates the database.
type Config struct {
	Driver Driver
	// DSN is a file path for SQLite and a connection URL for Postgres.
	DSN string
}

// Store is the relational mart. It is not safe for concurrent ingestion
// runs against the same database.
type Store struct {
	db      *sql.DB
	driver  Driver
	logger  *slog.Logger
	now     func() time.Time
	dialect dialect
}

// Open connects to the configured database. For SQLite the parent
// directory of the database file is created when missing.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverSQLite
	}

	switch driver {
	case DriverSQLite:
		if dir := filepath.Dir(cfg.DSN); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create sqlite parent directory %s: %w", dir, err)
			}
		}
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, cfg.Driver)
	}

	db, err := sql.Open(string(driver), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	if driver == DriverSQLite {
		// one writer; avoids SQLITE_BUSY between pooled connections
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", driver, err)
	}
	return New(db, driver)
}

// New wraps an existing connection pool.
func New(db *sql.DB, driver Driver) (*Store, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
	return &Store{
		db:      db,
		driver:  driver,
		logger:  slog.Default().With("component", "store", "driver", string(driver)),
		now:     time.Now,
		dialect: d,
	}, nil
}

// Driver reports the backend in use.
func (s *Store) Driver() Driver { return s.driver }

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// WithClock overrides the time source used for schema and run timestamps.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// FormatTime renders t in the store's timestamp format.
func FormatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// dialect holds the DDL fragments that differ between backends. DML uses
// $N placeholders, which both drivers accept.
type dialect struct {
	integer    string
	real       string
	createView string
}

var dialects = map[Driver]dialect{
	DriverSQLite: {
		integer:    "INTEGER",
		real:       "REAL",
		createView: "CREATE VIEW IF NOT EXISTS",
	},
	DriverPostgres: {
		integer:    "BIGINT",
		real:       "DOUBLE PRECISION",
		createView: "CREATE OR REPLACE VIEW",
	},
}
