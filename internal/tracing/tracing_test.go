// ABOUTME: Tests for tracer setup and span helpers
// ABOUTME: Uses the SDK span recorder instead of a live collector

package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSetup_NoEndpointIsNoOp(t *testing.T) {
	shutdown, err := Setup(t.Context(), Config{}, nil)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestStartAndRecordError(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	_, span := Start(t.Context(), "tool.keyword_search", attribute.String("tool.name", "keyword_search"))
	RecordError(span, nil)
	RecordError(span, errors.New("catalog offline"))
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "tool.keyword_search", ended[0].Name())
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Equal(t, "catalog offline", ended[0].Status().Description)
	assert.Contains(t, ended[0].Attributes(), attribute.String("tool.name", "keyword_search"))
}
