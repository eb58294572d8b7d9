package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordHealthCheck(t *testing.T) {
	before := testutil.ToFloat64(HealthChecksTotal.WithLabelValues("metrics-test", "failure"))
	RecordHealthCheck("metrics-test", false, 20*time.Millisecond)
	RecordHealthCheck("metrics-test", true, 5*time.Millisecond)

	assert.Equal(t, before+1, testutil.ToFloat64(HealthChecksTotal.WithLabelValues("metrics-test", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(HealthChecksTotal.WithLabelValues("metrics-test", "success")))
}

func TestSetServiceStatus(t *testing.T) {
	SetServiceStatus("metrics-test", "healthy")
	assert.Equal(t, 1.0, testutil.ToFloat64(ServiceStatus.WithLabelValues("metrics-test", "healthy")))

	SetServiceStatus("metrics-test", "down")
	assert.Equal(t, 0.0, testutil.ToFloat64(ServiceStatus.WithLabelValues("metrics-test", "healthy")))
	assert.Equal(t, 1.0, testutil.ToFloat64(ServiceStatus.WithLabelValues("metrics-test", "down")))
}

func TestRecordTier(t *testing.T) {
	RecordTier("metrics-test", 2, "deep_restart", false)
	assert.Equal(t, 2.0, testutil.ToFloat64(EscalationTier.WithLabelValues("metrics-test")))
	assert.Equal(t, 1.0, testutil.ToFloat64(RecoveryActionsTotal.WithLabelValues("metrics-test", "deep_restart", "success")))

	RecordTier("metrics-test", 0, "none", false)
	assert.Equal(t, 0.0, testutil.ToFloat64(EscalationTier.WithLabelValues("metrics-test")))
}
