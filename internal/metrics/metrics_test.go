// ABOUTME: Tests for the Prometheus collectors
// ABOUTME: Covers nil-safety, counter updates and the exposition handler

package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.StreamStarted()
		m.StreamFinished(OutcomeCompleted, time.Second)
		m.ToolCall("keyword_search", "success", time.Millisecond)
		m.ChannelOpened()
		m.ChannelClosed()
		m.ProgressPublished()
		m.ProgressDropped()
		m.ChannelsSwept(3)
		m.PersistFailed()
	})
}

func TestStreamLifecycle(t *testing.T) {
	m := New()

	m.StreamStarted()
	m.StreamStarted()
	assert.Equal(t, float64(2), testutil.ToFloat64(m.ActiveStreams))

	m.StreamFinished(OutcomeDisconnected, 50*time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ActiveStreams))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.StreamsTotal.WithLabelValues(OutcomeDisconnected)))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.StreamsTotal.WithLabelValues(OutcomeCompleted)))
}

func TestProgressCounters(t *testing.T) {
	m := New()

	m.ChannelOpened()
	m.ProgressPublished()
	m.ProgressPublished()
	m.ProgressDropped()
	m.ChannelsSwept(0)
	m.ChannelsSwept(2)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.ProgressChannels))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.ProgressEvents.WithLabelValues("published")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ProgressEvents.WithLabelValues("dropped")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.ProgressSwept))
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.ToolCall("lookup_entity", "success", 10*time.Millisecond)
	m.PersistFailed()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `sourcing_tool_calls_total{status="success",tool="lookup_entity"} 1`))
	assert.True(t, strings.Contains(body, "sourcing_conversation_persist_errors_total 1"))
}
