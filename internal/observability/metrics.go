package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting application metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Generation runs by mode and outcome
//   - LLM request performance and token consumption
//   - Tool execution patterns and latencies
//   - Approval gate decisions
//   - Stream event flow, including malformed frames dropped by decoders
type Metrics struct {
	// GenerationCounter counts generation runs.
	// Labels: mode (plan|ask|auto), outcome (completed|awaiting_approval|failed)
	GenerationCounter *prometheus.CounterVec

	// GenerationDuration measures end-to-end generation latency in seconds.
	// Labels: mode
	GenerationDuration *prometheus.HistogramVec

	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests by provider and model.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error|denied|proposed)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// ApprovalCounter counts approval gate resolutions.
	// Labels: decision (approved|denied)
	ApprovalCounter *prometheus.CounterVec

	// MalformedFrames counts stream frames dropped as undecodable.
	// Labels: reason (bad_event|bad_json)
	MalformedFrames *prometheus.CounterVec

	// ActiveGenerations is a gauge tracking in-flight generation runs.
	ActiveGenerations prometheus.Gauge

	// HTTPRequestDuration measures HTTP API request latency.
	// Labels: method, path, status_code
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestCounter counts HTTP requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec

	// ConversationsPruned counts conversations removed by the retention janitor.
	ConversationsPruned prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics.
// This should be called once at application startup.
func NewMetrics() *Metrics {
	return &Metrics{
		GenerationCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lorekeep_generations_total",
				Help: "Total number of generation runs by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),

		GenerationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lorekeep_generation_duration_seconds",
				Help:    "End-to-end duration of generation runs in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"mode"},
		),

		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lorekeep_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lorekeep_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lorekeep_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lorekeep_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lorekeep_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"tool_name"},
		),

		ApprovalCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lorekeep_approvals_total",
				Help: "Total number of approval gate resolutions by decision",
			},
			[]string{"decision"},
		),

		MalformedFrames: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lorekeep_malformed_frames_total",
				Help: "Total number of stream frames dropped as undecodable",
			},
			[]string{"reason"},
		),

		ActiveGenerations: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "lorekeep_active_generations",
				Help: "Current number of in-flight generation runs",
			},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lorekeep_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),

		HTTPRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lorekeep_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),

		ConversationsPruned: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "lorekeep_conversations_pruned_total",
				Help: "Total number of conversations removed by retention pruning",
			},
		),
	}
}

// RecordGeneration records the outcome and duration of a generation run.
func (m *Metrics) RecordGeneration(mode, outcome string, durationSeconds float64) {
	m.GenerationCounter.WithLabelValues(mode, outcome).Inc()
	m.GenerationDuration.WithLabelValues(mode).Observe(durationSeconds)
}

// RecordLLMRequest records metrics for an LLM API request.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordToolExecution records metrics for a tool execution.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordApproval records an approval gate resolution.
func (m *Metrics) RecordApproval(approved bool) {
	if approved {
		m.ApprovalCounter.WithLabelValues("approved").Inc()
	} else {
		m.ApprovalCounter.WithLabelValues("denied").Inc()
	}
}

// RecordMalformedFrame records a stream frame dropped as undecodable.
func (m *Metrics) RecordMalformedFrame(reason string) {
	m.MalformedFrames.WithLabelValues(reason).Inc()
}

// RecordHTTPRequest records metrics for an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
}
