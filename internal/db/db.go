// Package db provides the SQLite stores behind incidents and heartbeat history
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"workshop/internal/constants"
	"workshop/internal/errors"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

//go:embed migrations
var migrationsFS embed.FS

// Store names; each has its own migrations directory
const (
	StoreIncidents = "incidents"
	StoreHeartbeat = "heartbeat"
)

// Config represents database configuration
type Config struct {
	// Store selects the schema (StoreIncidents or StoreHeartbeat)
	Store string
	// DSN is the SQLite file path, or ":memory:"
	DSN string
	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int
	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int
	// ConnMaxLifetime is the maximum lifetime of a connection
	ConnMaxLifetime time.Duration
	// ConnMaxIdleTime is the maximum idle time of a connection
	ConnMaxIdleTime time.Duration
}

// DefaultConfig returns a single-writer SQLite configuration for a store.
// One connection serializes every write to the store.
func DefaultConfig(store, path string) *Config {
	return &Config{
		Store:        store,
		DSN:          path,
		MaxOpenConns: constants.DefaultMaxOpenConnections,
		MaxIdleConns: constants.DefaultMaxIdleConnections,
	}
}

// MemoryConfig returns a configuration for an in-memory store
func MemoryConfig(store string) *Config {
	return DefaultConfig(store, ":memory:")
}

// DB wraps sqlx.DB with additional functionality
type DB struct {
	*sqlx.DB
	config *Config
}

// New creates a new database connection
func New(cfg *Config) (*DB, error) {
	if cfg == nil || cfg.Store == "" {
		return nil, errors.InvalidInput("database config", "a store name")
	}

	if cfg.DSN != ":memory:" {
		dir := filepath.Dir(cfg.DSN)
		if err := os.MkdirAll(dir, constants.DirPermissions); err != nil {
			return nil, errors.DatabaseConnectionError(fmt.Errorf("failed to create database directory: %w", err))
		}
	}

	db, err := sqlx.Open("sqlite3", cfg.DSN)
	if err != nil {
		return nil, errors.DatabaseConnectionError(err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.DatabaseConnectionError(err)
	}

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, errors.DatabaseConnectionError(fmt.Errorf("%s: %w", pragma, err))
		}
	}

	return &DB{
		DB:     db,
		config: cfg,
	}, nil
}

// Open connects to a store and brings its schema up to date
func Open(cfg *Config) (*DB, error) {
	database, err := New(cfg)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}

// Store returns the store this database holds
func (db *DB) Store() string {
	return db.config.Store
}

// Migrate runs the store's migrations
func (db *DB) Migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations/"+db.config.Store)
	if err != nil {
		return errors.DatabaseMigrationError(db.config.Store, fmt.Errorf("failed to create migration source: %w", err))
	}

	dbInstance, err := sqlite3.WithInstance(db.DB.DB, &sqlite3.Config{})
	if err != nil {
		return errors.DatabaseMigrationError(db.config.Store, fmt.Errorf("failed to create sqlite3 driver instance: %w", err))
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", dbInstance)
	if err != nil {
		return errors.DatabaseMigrationError(db.config.Store, fmt.Errorf("failed to create migrator: %w", err))
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return errors.DatabaseMigrationError(db.config.Store, err)
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}

// BeginTx starts a new transaction
func (db *DB) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	return db.DB.BeginTxx(ctx, nil)
}

// Transaction executes a function within a transaction
func (db *DB) Transaction(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx failed: %v, unable to rollback: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// HealthCheck performs a health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var result int
	if err := db.GetContext(ctx, &result, "SELECT 1"); err != nil {
		return fmt.Errorf("health check query failed: %w", err)
	}

	return nil
}

// Stats returns database statistics
func (db *DB) Stats() sql.DBStats {
	return db.DB.Stats()
}
