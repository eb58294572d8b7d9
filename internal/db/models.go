package db

import (
	"database/sql"
	"time"
)

// Incident is a row in the incidents table
type Incident struct {
	ID         string       `db:"id"`
	Seq        int64        `db:"seq"`
	ServiceID  string       `db:"service_id"`
	Tier       int          `db:"tier"`
	OpenedAt   time.Time    `db:"opened_at"`
	UpdatedAt  time.Time    `db:"updated_at"`
	ResolvedAt sql.NullTime `db:"resolved_at"`
}

// Annotation is a row in the incident_annotations table
type Annotation struct {
	ID         string    `db:"id"`
	IncidentID string    `db:"incident_id"`
	Author     string    `db:"author"`
	Text       string    `db:"text"`
	CreatedAt  time.Time `db:"created_at"`
}

// HeartbeatSample is a row in the heartbeat_samples table. Timestamps are
// unix nanoseconds and latency is in microseconds.
type HeartbeatSample struct {
	ServiceID   string `db:"service_id"`
	Slot        int    `db:"slot"`
	Seq         int64  `db:"seq"`
	Timestamp   int64  `db:"ts"`
	Success     bool   `db:"success"`
	Status      string `db:"status"`
	LatencyUS   int64  `db:"latency_us"`
	ErrorDetail string `db:"error_detail"`
}

// IncidentFilter narrows an incident listing
type IncidentFilter struct {
	// Open selects open (true) or resolved (false) incidents; nil means both
	Open      *bool
	ServiceID string
	Limit     int
}
