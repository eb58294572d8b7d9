package db

import (
	"context"

	"workshop/internal/errors"

	"github.com/jmoiron/sqlx"
)

// HeartbeatRepository persists heartbeat ring slots
type HeartbeatRepository struct {
	db *DB
}

// NewHeartbeatRepository creates a new heartbeat repository
func NewHeartbeatRepository(db *DB) *HeartbeatRepository {
	return &HeartbeatRepository{db: db}
}

// SaveBatch upserts samples into their ring slots in one transaction
func (r *HeartbeatRepository) SaveBatch(ctx context.Context, samples []HeartbeatSample) error {
	if len(samples) == 0 {
		return nil
	}

	return r.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		stmt, err := tx.PreparexContext(ctx, `
			INSERT INTO heartbeat_samples (service_id, slot, seq, ts, success, status, latency_us, error_detail)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(service_id, slot) DO UPDATE SET
				seq = excluded.seq,
				ts = excluded.ts,
				success = excluded.success,
				status = excluded.status,
				latency_us = excluded.latency_us,
				error_detail = excluded.error_detail`)
		if err != nil {
			return errors.DatabaseQueryError("prepare heartbeat upsert", err)
		}
		defer stmt.Close()

		for _, s := range samples {
			if _, err := stmt.ExecContext(ctx,
				s.ServiceID, s.Slot, s.Seq, s.Timestamp, s.Success, s.Status, s.LatencyUS, s.ErrorDetail,
			); err != nil {
				return errors.DatabaseQueryError("upsert heartbeat sample", err)
			}
		}
		return nil
	})
}

// LoadAll returns every stored sample ordered by service and sequence
func (r *HeartbeatRepository) LoadAll(ctx context.Context) ([]HeartbeatSample, error) {
	var samples []HeartbeatSample
	err := r.db.SelectContext(ctx, &samples, `
		SELECT service_id, slot, seq, ts, success, status, latency_us, error_detail
		FROM heartbeat_samples
		ORDER BY service_id ASC, seq ASC`)
	if err != nil {
		return nil, errors.DatabaseQueryError("load heartbeat samples", err)
	}
	return samples, nil
}

// PruneSlots deletes slots at or beyond capacity, left over from a larger window
func (r *HeartbeatRepository) PruneSlots(ctx context.Context, capacity int) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM heartbeat_samples WHERE slot >= ?`, capacity)
	if err != nil {
		return 0, errors.DatabaseQueryError("prune heartbeat slots", err)
	}
	return result.RowsAffected()
}

// Count returns the number of stored samples for a service
func (r *HeartbeatRepository) Count(ctx context.Context, serviceID string) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM heartbeat_samples WHERE service_id = ?`, serviceID); err != nil {
		return 0, errors.DatabaseQueryError("count heartbeat samples", err)
	}
	return n, nil
}
