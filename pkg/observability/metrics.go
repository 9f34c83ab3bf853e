// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the atelier server.
package observability

import "github.com/prometheus/client_golang/prometheus"

// LLMBuckets covers LLM and generative-model latencies from 100ms to 10m.
var LLMBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600}

// SandboxBuckets covers code execution from 1ms to 5m.
var SandboxBuckets = []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120, 300}

var (
	// RequestsTotal counts HTTP requests by method and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atelier_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "status"},
	)

	// RequestDuration records HTTP request duration in seconds.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "atelier_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// SessionsActive tracks connected WebSocket sessions.
	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "atelier_sessions_active",
			Help: "Active WebSocket sessions",
		},
	)

	// QueriesTotal counts agent queries by outcome (ok, error, rejected).
	QueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atelier_queries_total",
			Help: "Agent queries",
		},
		[]string{"status"},
	)

	// QueryDuration records the time from dequeue to done for one query.
	QueryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "atelier_query_duration_seconds",
			Help:    "Agent query duration",
			Buckets: LLMBuckets,
		},
	)

	// MessagesSentTotal counts outbound protocol messages by type.
	MessagesSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atelier_messages_sent_total",
			Help: "Outbound WebSocket messages",
		},
		[]string{"type"},
	)

	// SandboxExecutionsTotal counts sandbox runs by mode and result kind.
	SandboxExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atelier_sandbox_executions_total",
			Help: "Sandbox code executions",
		},
		[]string{"mode", "result"},
	)

	// SandboxDuration records sandbox run time in seconds.
	SandboxDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "atelier_sandbox_duration_seconds",
			Help:    "Sandbox execution duration",
			Buckets: SandboxBuckets,
		},
		[]string{"mode"},
	)

	// ProviderRequestsTotal counts requests sent to the agent's LLM backend.
	ProviderRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atelier_provider_requests_total",
			Help: "LLM provider requests",
		},
		[]string{"provider", "model", "status"},
	)

	// ProviderLatency records LLM backend latency in seconds.
	ProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "atelier_provider_latency_seconds",
			Help:    "LLM provider latency",
			Buckets: LLMBuckets,
		},
		[]string{"provider", "model"},
	)

	// ProviderTokensTotal counts tokens processed by direction (input/output).
	ProviderTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atelier_provider_tokens_total",
			Help: "Token count",
		},
		[]string{"provider", "model", "direction"},
	)

	// ToolExecutionsTotal counts tool executions by provider, name and outcome.
	ToolExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atelier_tool_executions_total",
			Help: "Tool executions",
		},
		[]string{"provider", "tool_name", "status"},
	)

	// ToolDuration records tool execution time in seconds.
	ToolDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "atelier_tool_duration_seconds",
			Help:    "Tool execution duration",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
		},
		[]string{"provider", "tool_name"},
	)

	// PredictionsTotal counts generative-model predictions by final status.
	PredictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atelier_predictions_total",
			Help: "Model provider predictions",
		},
		[]string{"status"},
	)

	// PredictionLatency records prediction wall time in seconds.
	PredictionLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "atelier_prediction_latency_seconds",
			Help:    "Model provider prediction latency",
			Buckets: LLMBuckets,
		},
	)

	// ArtifactsDetectedTotal counts artifact URLs announced to clients, by source
	// ("text" for path mentions, "scan" for the directory scan).
	ArtifactsDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atelier_artifacts_detected_total",
			Help: "Artifacts announced to clients",
		},
		[]string{"source"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		SessionsActive,
		QueriesTotal,
		QueryDuration,
		MessagesSentTotal,
		SandboxExecutionsTotal,
		SandboxDuration,
		ProviderRequestsTotal,
		ProviderLatency,
		ProviderTokensTotal,
		ToolExecutionsTotal,
		ToolDuration,
		PredictionsTotal,
		PredictionLatency,
		ArtifactsDetectedTotal,
	)
}
