// Package metrics exposes Prometheus collectors for the chat pipeline.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the pipeline collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	ChatRequests   *prometheus.CounterVec
	StreamSeconds  *prometheus.HistogramVec
	SafetyVerdicts *prometheus.CounterVec
	ToolCalls      *prometheus.CounterVec
	HTTPRequests   *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ChatRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskchat",
			Name:      "chat_requests_total",
			Help:      "Chat requests by terminal outcome.",
		}, []string{"outcome"}),
		StreamSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "taskchat",
			Name:      "chat_stream_seconds",
			Help:      "Wall time from request receipt to terminal frame.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"outcome"}),
		SafetyVerdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskchat",
			Name:      "safety_verdicts_total",
			Help:      "Safety screener verdicts.",
		}, []string{"verdict"}),
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskchat",
			Name:      "tool_calls_total",
			Help:      "Tool invocations by tool and outcome.",
		}, []string{"tool", "outcome"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskchat",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status code.",
		}, []string{"method", "code"}),
	}
	if reg != nil {
		reg.MustRegister(m.ChatRequests, m.StreamSeconds, m.SafetyVerdicts, m.ToolCalls, m.HTTPRequests)
	}
	return m
}

// ObserveChat records one finished chat request.
func (m *Metrics) ObserveChat(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ChatRequests.WithLabelValues(outcome).Inc()
	m.StreamSeconds.WithLabelValues(outcome).Observe(d.Seconds())
}

// ObserveVerdict records one screener verdict.
func (m *Metrics) ObserveVerdict(label string) {
	if m == nil {
		return
	}
	m.SafetyVerdicts.WithLabelValues(label).Inc()
}

// ObserveTool records one tool call.
func (m *Metrics) ObserveTool(tool, outcome string) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(tool, outcome).Inc()
}

// ObserveHTTP records one HTTP response.
func (m *Metrics) ObserveHTTP(method string, code int) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
}
