package service

import (
	"time"
)

// Status represents the lifecycle status of a managed service
type Status string

const (
	StatusUnknown  Status = "unknown"
	StatusStarting Status = "starting"
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
	StatusStopped  Status = "stopped"
)

// ParseStatus converts a string back into a Status
func ParseStatus(s string) Status {
	switch Status(s) {
	case StatusStarting, StatusHealthy, StatusDegraded, StatusDown, StatusStopped:
		return Status(s)
	default:
		return StatusUnknown
	}
}

// State is a point-in-time copy of a service's mutable state
type State struct {
	ID                string    `json:"id"`
	Status            Status    `json:"status"`
	PID               int       `json:"pid,omitempty"`
	StartedAt         time.Time `json:"started_at,omitempty"`
	LastTransitionAt  time.Time `json:"last_transition_at"`
	LastHealthCheck   time.Time `json:"last_health_check,omitempty"`
	RestartCount      int       `json:"restart_count"`
	LastError         string    `json:"last_error,omitempty"`
	NeedsIntervention bool      `json:"needs_intervention"`
	Busy              bool      `json:"busy"`
}

// Uptime returns how long the current process has been running
func (s State) Uptime(now time.Time) time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	return now.Sub(s.StartedAt)
}

// Observation is one classified health check result fed back into the manager
type Observation struct {
	Status Status
	Detail string
	At     time.Time
}

// Transition is emitted every time a service changes status
type Transition struct {
	ServiceID string    `json:"service_id"`
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}
