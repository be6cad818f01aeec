package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGridMetricsBegin(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewGridMetrics(reg)

	done := m.Begin("email-templates")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.inflight.WithLabelValues("email-templates")))
	done(OutcomeOK)
	m.Begin("email-templates")(OutcomeError)
	m.Begin("email-threads")(OutcomeOK)

	assert.Equal(t, float64(0), testutil.ToFloat64(m.inflight.WithLabelValues("email-templates")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Fetches().WithLabelValues("email-templates", OutcomeOK)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Fetches().WithLabelValues("email-templates", OutcomeError)))

	count, err := testutil.GatherAndCount(reg, "consolegrid_grid_fetch_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestGridMetricsUnregistered(t *testing.T) {
	m := NewGridMetrics(nil)
	m.Begin("email-templates")(OutcomeOK)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Fetches().WithLabelValues("email-templates", OutcomeOK)))

	// повторная регистрация в тот же реестр паникует
	reg := prometheus.NewRegistry()
	NewGridMetrics(reg)
	assert.Panics(t, func() { NewGridMetrics(reg) })
}
