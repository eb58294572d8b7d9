package db

import (
	"context"
	"fmt"
)

// MigrationInfo reports the schema version of a store
type MigrationInfo struct {
	Store   string `json:"store"`
	Version uint   `json:"version" db:"version"`
	Dirty   bool   `json:"dirty" db:"dirty"`
}

// GetCurrentVersion returns the current migration version
func (db *DB) GetCurrentVersion(ctx context.Context) (MigrationInfo, error) {
	info := MigrationInfo{Store: db.config.Store}
	query := `SELECT version, dirty FROM schema_migrations LIMIT 1`

	if err := db.QueryRowContext(ctx, query).Scan(&info.Version, &info.Dirty); err != nil {
		return info, fmt.Errorf("failed to get current version: %w", err)
	}

	return info, nil
}
