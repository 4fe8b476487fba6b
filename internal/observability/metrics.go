package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions   prometheus.Gauge
	SessionEvents    *prometheus.CounterVec
	ModeTransitions  *prometheus.CounterVec
	SpeechSynthesis  *prometheus.CounterVec
	ProviderErrors   *prometheus.CounterVec
	ProtocolRuns     *prometheus.CounterVec
	WSMessages       *prometheus.CounterVec
	SynthesisLatency prometheus.Histogram

	speechWindow *speechLatencyWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of live avatar sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle and user events by type.",
		}, []string{"event"}),
		ModeTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mode_transitions_total",
			Help:      "Avatar mode transitions by from/to mode.",
		}, []string{"from", "to"}),
		SpeechSynthesis: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speech_synthesis_total",
			Help:      "Speech synthesis attempts by provider and outcome.",
		}, []string{"provider", "outcome"}),
		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "External provider errors by provider and code.",
		}, []string{"provider", "code"}),
		ProtocolRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_runs_total",
			Help:      "Test protocol runs by protocol and outcome.",
		}, []string{"protocol", "outcome"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		SynthesisLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "synthesis_latency_ms",
			Help:      "Latency of one speech synthesis call in milliseconds.",
			Buckets:   []float64{50, 100, 200, 400, 700, 1000, 1500, 2500, 4000},
		}),
		speechWindow: newSpeechLatencyWindow(256),
	}
}

// ObserveSynthesis records one synthesis attempt for both the Prometheus
// histogram and the rolling per-provider percentile window.
func (m *Metrics) ObserveSynthesis(provider string, d time.Duration, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.SpeechSynthesis.WithLabelValues(provider, outcome).Inc()
	if ok {
		m.SynthesisLatency.Observe(float64(d.Milliseconds()))
		m.speechWindow.Observe(provider, float64(d.Milliseconds()))
	}
}

func (m *Metrics) ObserveSpeechIndicator(name string) {
	m.speechWindow.ObserveIndicator(name)
}

// SpeechLatencySnapshot backs the perf endpoint.
func (m *Metrics) SpeechLatencySnapshot() SpeechLatencySnapshot {
	return m.speechWindow.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
