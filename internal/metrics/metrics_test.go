package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.ObserveSolve("DeepSeekHashV1", OutcomeSolved, 20*time.Millisecond)
	m.ObserveSolve("DeepSeekHashV1", OutcomeSolved, 30*time.Millisecond)
	m.ObserveSolve("Other", OutcomeUnsupported, 0)
	m.IncReinit("deepseek")
	m.ObserveFetch(nil)
	m.ObserveFetch(errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.solves.WithLabelValues("DeepSeekHashV1", OutcomeSolved)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.solves.WithLabelValues("Other", OutcomeUnsupported)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reinits.WithLabelValues("deepseek")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetches.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetches.WithLabelValues("error")))

	// Unsupported attempts never reach the module and are not timed.
	assert.Equal(t, 1, testutil.CollectAndCount(m.solveDuration))
}

func TestMetricsDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)

	_, err = New(reg)
	assert.Error(t, err)
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveSolve("a", OutcomeSolved, time.Second)
		m.IncReinit("s")
		m.ObserveFetch(nil)
	})
}
