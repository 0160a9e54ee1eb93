// ABOUTME: Prometheus collectors for streams, tool calls, progress channels and persistence
// ABOUTME: All recording methods are nil-safe so components can run without metrics wired

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sourcing"

// Stream outcomes used as the "outcome" label.
const (
	OutcomeCompleted    = "completed"
	OutcomeUpstreamErr  = "upstream_error"
	OutcomeDisconnected = "disconnected"
)

// Metrics holds the collectors exported on /metrics.
type Metrics struct {
	registry *prometheus.Registry

	// StreamsTotal counts finished chat streams by outcome.
	StreamsTotal *prometheus.CounterVec

	// StreamDuration measures request lifetime from Run to finalization.
	StreamDuration prometheus.Histogram

	// ActiveStreams tracks streams currently between Run and finalization.
	ActiveStreams prometheus.Gauge

	// ToolCalls counts tool invocations by tool and status (success|error|refused).
	ToolCalls *prometheus.CounterVec

	// ToolDuration measures tool handler latency.
	ToolDuration *prometheus.HistogramVec

	// ProgressChannels is the number of live progress channels.
	ProgressChannels prometheus.Gauge

	// ProgressEvents counts progress events by result (published|dropped).
	ProgressEvents *prometheus.CounterVec

	// ProgressSwept counts channels removed by the expiry sweep.
	ProgressSwept prometheus.Counter

	// PersistErrors counts failed conversation saves after streaming.
	PersistErrors prometheus.Counter
}

// New creates the collectors and registers them on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		StreamsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_streams_total",
			Help:      "Finished chat streams by outcome.",
		}, []string{"outcome"}),
		StreamDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chat_stream_duration_seconds",
			Help:      "Chat stream duration in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		ActiveStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "chat_streams_active",
			Help:      "Chat streams currently in flight.",
		}),
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool invocations by tool and status.",
		}, []string{"tool", "status"}),
		ToolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_duration_seconds",
			Help:      "Tool handler latency in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}, []string{"tool"}),
		ProgressChannels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "progress_channels_active",
			Help:      "Live per-conversation progress channels.",
		}),
		ProgressEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "progress_events_total",
			Help:      "Progress events by result.",
		}, []string{"result"}),
		ProgressSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "progress_channels_swept_total",
			Help:      "Progress channels removed by the expiry sweep.",
		}),
		PersistErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversation_persist_errors_total",
			Help:      "Conversation saves that failed after streaming.",
		}),
	}

	m.registry.MustRegister(
		m.StreamsTotal,
		m.StreamDuration,
		m.ActiveStreams,
		m.ToolCalls,
		m.ToolDuration,
		m.ProgressChannels,
		m.ProgressEvents,
		m.ProgressSwept,
		m.PersistErrors,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry (tests gather from it).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) StreamStarted() {
	if m == nil {
		return
	}
	m.ActiveStreams.Inc()
}

func (m *Metrics) StreamFinished(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ActiveStreams.Dec()
	m.StreamsTotal.WithLabelValues(outcome).Inc()
	m.StreamDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) ToolCall(tool, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(tool, status).Inc()
	if elapsed > 0 {
		m.ToolDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
	}
}

func (m *Metrics) ChannelOpened() {
	if m == nil {
		return
	}
	m.ProgressChannels.Inc()
}

func (m *Metrics) ChannelClosed() {
	if m == nil {
		return
	}
	m.ProgressChannels.Dec()
}

func (m *Metrics) ProgressPublished() {
	if m == nil {
		return
	}
	m.ProgressEvents.WithLabelValues("published").Inc()
}

func (m *Metrics) ProgressDropped() {
	if m == nil {
		return
	}
	m.ProgressEvents.WithLabelValues("dropped").Inc()
}

func (m *Metrics) ChannelsSwept(n int) {
	if m == nil || n == 0 {
		return
	}
	m.ProgressSwept.Add(float64(n))
}

func (m *Metrics) PersistFailed() {
	if m == nil {
		return
	}
	m.PersistErrors.Inc()
}
