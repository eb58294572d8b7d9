// Package metrics exposes Prometheus metrics for health checks, self-healing
// and service lifecycle.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HealthChecksTotal counts health checks by service and outcome
	HealthChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workshop_health_checks_total",
			Help: "Total number of health checks",
		},
		[]string{"service", "result"},
	)

	// HealthCheckDuration tracks per-check latency
	HealthCheckDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "workshop_health_check_duration_seconds",
			Help:    "Duration of health checks in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"service"},
	)

	// HealthSweepDuration tracks the duration of a full sweep
	HealthSweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "workshop_health_sweep_duration_seconds",
			Help:    "Duration of a full health sweep in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// ServiceStatus is 1 for the current status of each service
	ServiceStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "workshop_service_status",
			Help: "Current status of each service (1 for the active status)",
		},
		[]string{"service", "status"},
	)

	// EscalationTier is the current self-healing tier of each service
	EscalationTier = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "workshop_escalation_tier",
			Help: "Current self-healing tier (0 normal, 4 exhausted)",
		},
		[]string{"service"},
	)

	// RecoveryActionsTotal counts recovery actions by action and outcome
	RecoveryActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workshop_recovery_actions_total",
			Help: "Total number of self-healing recovery actions",
		},
		[]string{"service", "action", "result"},
	)

	// OpenIncidents is the number of unresolved incidents
	OpenIncidents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "workshop_open_incidents",
			Help: "Number of unresolved incidents",
		},
	)
)

var statuses = []string{"unknown", "starting", "healthy", "degraded", "down", "stopped"}

// RecordHealthCheck records one classified check
func RecordHealthCheck(service string, success bool, latency time.Duration) {
	result := "failure"
	if success {
		result = "success"
	}
	HealthChecksTotal.WithLabelValues(service, result).Inc()
	HealthCheckDuration.WithLabelValues(service).Observe(latency.Seconds())
}

// RecordSweep records the duration of a full sweep
func RecordSweep(d time.Duration) {
	HealthSweepDuration.Observe(d.Seconds())
}

// SetServiceStatus marks status as the only active status for service
func SetServiceStatus(service, status string) {
	for _, s := range statuses {
		v := 0.0
		if s == status {
			v = 1
		}
		ServiceStatus.WithLabelValues(service, s).Set(v)
	}
}

// RecordTier records a tier change and the action taken on entry
func RecordTier(service string, tier int, action string, failed bool) {
	EscalationTier.WithLabelValues(service).Set(float64(tier))
	if action == "" || action == "none" {
		return
	}
	result := "success"
	if failed {
		result = "failure"
	}
	RecoveryActionsTotal.WithLabelValues(service, action, result).Inc()
}

// SetOpenIncidents sets the open incident gauge
func SetOpenIncidents(n int) {
	OpenIncidents.Set(float64(n))
}
