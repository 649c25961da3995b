package observability

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecord(t *testing.T) {
	m := NewMetrics()

	m.ExecutionStarted()
	m.ExecutionStarted()
	m.ExecutionFinished("COMPLETED")
	m.RecordStep("model/a", true, time.Second)
	m.RecordStep("model/a", false, time.Second)
	m.RecordStep("", false, time.Second)
	m.RecordToolCall("mocked")
	m.RecordChatAttempt("retryable")
	m.RecordChatAttempt("")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Running))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Executions.WithLabelValues("COMPLETED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Steps.WithLabelValues("passed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Steps.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCalls.WithLabelValues("mocked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChatAttempts.WithLabelValues("unknown")))

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ExecutionStarted()
		m.ExecutionFinished("FAILED")
		m.RecordStep("x", true, time.Second)
		m.RecordToolCall("error")
		m.RecordChatAttempt("failed")
	})
}

func TestInitTracingDisabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), "", "prompt-testing", "dev")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
	assert.NotNil(t, Tracer())
}
