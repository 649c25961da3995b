package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for test executions.
type Metrics struct {
	registry     *prometheus.Registry
	Executions   *prometheus.CounterVec
	Steps        *prometheus.CounterVec
	StepDuration *prometheus.HistogramVec
	ToolCalls    *prometheus.CounterVec
	ChatAttempts *prometheus.CounterVec
	Running      prometheus.Gauge
}

// NewMetrics constructs a metrics registry with execution collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	executions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "prompt_testing_executions_total",
		Help: "Finished test case executions by final status",
	}, []string{"status"})

	steps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "prompt_testing_steps_total",
		Help: "Judged steps by verdict",
	}, []string{"verdict"})

	stepDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "prompt_testing_step_duration_seconds",
		Help:    "Step duration in seconds, including tool turns and judging",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	}, []string{"model"})

	toolCalls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "prompt_testing_tool_calls_total",
		Help: "Tool calls resolved against mocks by outcome",
	}, []string{"outcome"})

	chatAttempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "prompt_testing_chat_attempts_total",
		Help: "Upstream chat completion attempts by outcome",
	}, []string{"outcome"})

	running := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "prompt_testing_executions_running",
		Help: "Executions currently in progress",
	})

	reg.MustRegister(executions, steps, stepDuration, toolCalls, chatAttempts, running)

	return &Metrics{
		registry:     reg,
		Executions:   executions,
		Steps:        steps,
		StepDuration: stepDuration,
		ToolCalls:    toolCalls,
		ChatAttempts: chatAttempts,
		Running:      running,
	}
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ExecutionStarted increments the running gauge.
func (m *Metrics) ExecutionStarted() {
	if m == nil {
		return
	}
	m.Running.Inc()
}

// ExecutionFinished records a terminal execution status.
func (m *Metrics) ExecutionFinished(status string) {
	if m == nil {
		return
	}
	m.Running.Dec()
	m.Executions.WithLabelValues(status).Inc()
}

// RecordStep records a judged step.
func (m *Metrics) RecordStep(model string, passed bool, duration time.Duration) {
	if m == nil {
		return
	}
	verdict := "failed"
	if passed {
		verdict = "passed"
	}
	if model == "" {
		model = "unknown"
	}
	m.Steps.WithLabelValues(verdict).Inc()
	m.StepDuration.WithLabelValues(model).Observe(duration.Seconds())
}

// RecordToolCall records a mocked tool call. Outcome is one of "mocked",
// "not_found" or "error".
func (m *Metrics) RecordToolCall(outcome string) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(outcome).Inc()
}

// RecordChatAttempt records an upstream attempt outcome. It matches
// llm.AttemptObserver.
func (m *Metrics) RecordChatAttempt(outcome string) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.ChatAttempts.WithLabelValues(outcome).Inc()
}
