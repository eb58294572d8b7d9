package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"workshop/internal/errors"

	"github.com/jmoiron/sqlx"
)

// IncidentRepository handles database operations for incidents
type IncidentRepository struct {
	db *DB
}

// NewIncidentRepository creates a new incident repository
func NewIncidentRepository(db *DB) *IncidentRepository {
	return &IncidentRepository{db: db}
}

// DB exposes the underlying store for transactions
func (r *IncidentRepository) DB() *DB {
	return r.db
}

const incidentColumns = `id, seq, service_id, tier, opened_at, updated_at, resolved_at`

// NextSeq returns the next incident sequence number
func (r *IncidentRepository) NextSeq(ctx context.Context, tx *sqlx.Tx) (int64, error) {
	var seq int64
	if err := tx.GetContext(ctx, &seq, `SELECT COALESCE(MAX(seq), 0) + 1 FROM incidents`); err != nil {
		return 0, errors.DatabaseQueryError("next incident seq", err)
	}
	return seq, nil
}

// Create inserts a new incident
func (r *IncidentRepository) Create(ctx context.Context, tx *sqlx.Tx, inc *Incident) error {
	query := `
		INSERT INTO incidents (id, seq, service_id, tier, opened_at, updated_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, NULL)`

	if _, err := tx.ExecContext(ctx, query,
		inc.ID, inc.Seq, inc.ServiceID, inc.Tier, inc.OpenedAt, inc.UpdatedAt,
	); err != nil {
		return errors.DatabaseQueryError("create incident", err)
	}
	return nil
}

// UpdateTier changes the tier of an open incident
func (r *IncidentRepository) UpdateTier(ctx context.Context, tx *sqlx.Tx, id string, tier int, at time.Time) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE incidents SET tier = ?, updated_at = ? WHERE id = ? AND resolved_at IS NULL`,
		tier, at, id)
	if err != nil {
		return errors.DatabaseQueryError("update incident tier", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.DatabaseQueryError("update incident tier", err)
	}
	if rowsAffected == 0 {
		return errors.UnknownIncident(id)
	}
	return nil
}

// OpenForService returns the open incident for a service, or nil
func (r *IncidentRepository) OpenForService(ctx context.Context, q sqlx.QueryerContext, serviceID string) (*Incident, error) {
	var inc Incident
	err := sqlx.GetContext(ctx, q, &inc,
		`SELECT `+incidentColumns+` FROM incidents WHERE service_id = ? AND resolved_at IS NULL`,
		serviceID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errors.DatabaseQueryError("get open incident", err)
	}
	return &inc, nil
}

// Get returns an incident by ID
func (r *IncidentRepository) Get(ctx context.Context, q sqlx.QueryerContext, id string) (*Incident, error) {
	var inc Incident
	err := sqlx.GetContext(ctx, q, &inc,
		`SELECT `+incidentColumns+` FROM incidents WHERE id = ?`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.UnknownIncident(id)
		}
		return nil, errors.DatabaseQueryError("get incident", err)
	}
	return &inc, nil
}

// Resolve sets resolved_at on an open incident. It reports whether the
// incident was open.
func (r *IncidentRepository) Resolve(ctx context.Context, tx *sqlx.Tx, id string, at time.Time) (bool, error) {
	result, err := tx.ExecContext(ctx,
		`UPDATE incidents SET resolved_at = ?, updated_at = ? WHERE id = ? AND resolved_at IS NULL`,
		at, at, id)
	if err != nil {
		return false, errors.DatabaseQueryError("resolve incident", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, errors.DatabaseQueryError("resolve incident", err)
	}
	return rowsAffected > 0, nil
}

// List returns incidents ordered by opened_at
func (r *IncidentRepository) List(ctx context.Context, filter IncidentFilter) ([]Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE 1=1`
	args := []interface{}{}

	if filter.Open != nil {
		if *filter.Open {
			query += " AND resolved_at IS NULL"
		} else {
			query += " AND resolved_at IS NOT NULL"
		}
	}

	if filter.ServiceID != "" {
		query += " AND service_id = ?"
		args = append(args, filter.ServiceID)
	}

	query += " ORDER BY opened_at ASC, seq ASC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	var incidents []Incident
	if err := r.db.SelectContext(ctx, &incidents, query, args...); err != nil {
		return nil, errors.DatabaseQueryError("list incidents", err)
	}
	return incidents, nil
}

// AddAnnotation appends an annotation to an incident
func (r *IncidentRepository) AddAnnotation(ctx context.Context, tx *sqlx.Tx, a *Annotation) error {
	query := `
		INSERT INTO incident_annotations (id, incident_id, author, text, created_at)
		VALUES (?, ?, ?, ?, ?)`

	if _, err := tx.ExecContext(ctx, query, a.ID, a.IncidentID, a.Author, a.Text, a.CreatedAt); err != nil {
		return errors.DatabaseQueryError("add annotation", err)
	}
	return nil
}

// Annotations returns annotations for the given incidents in insertion order
func (r *IncidentRepository) Annotations(ctx context.Context, incidentIDs ...string) (map[string][]Annotation, error) {
	out := make(map[string][]Annotation, len(incidentIDs))
	if len(incidentIDs) == 0 {
		return out, nil
	}

	query, args, err := sqlx.In(
		`SELECT id, incident_id, author, text, created_at
		FROM incident_annotations
		WHERE incident_id IN (?)
		ORDER BY created_at ASC, rowid ASC`, incidentIDs)
	if err != nil {
		return nil, errors.DatabaseQueryError("list annotations", err)
	}

	var rows []Annotation
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, errors.DatabaseQueryError("list annotations", err)
	}
	for _, a := range rows {
		out[a.IncidentID] = append(out[a.IncidentID], a)
	}
	return out, nil
}

// CountOpen returns the number of open incidents
func (r *IncidentRepository) CountOpen(ctx context.Context) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM incidents WHERE resolved_at IS NULL`); err != nil {
		return 0, errors.DatabaseQueryError("count open incidents", err)
	}
	return n, nil
}
