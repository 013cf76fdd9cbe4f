package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// These tests swap package globals and the otel globals, so they run serially.

func TestInitTracerProviderWithoutProject(t *testing.T) {
	tp, err := InitTracerProvider(context.Background(), Config{ServiceName: "crawl-worker", Version: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	require.Same(t, tp, otel.GetTracerProvider())
	_, span := otel.Tracer("test").Start(context.Background(), "dispatch")
	require.True(t, span.SpanContext().IsSampled())
	span.End()
}

func TestInitTracerProviderExportsToProject(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	var gotProject string
	orig := newExporter
	newExporter = func(projectID string) (sdktrace.SpanExporter, error) {
		gotProject = projectID
		return exporter, nil
	}
	t.Cleanup(func() { newExporter = orig })

	tp, err := InitTracerProvider(context.Background(), Config{ServiceName: "crawl-worker", ProjectID: "cpi-prod"})
	require.NoError(t, err)
	require.Equal(t, "cpi-prod", gotProject)

	_, span := tp.Tracer("test").Start(context.Background(), "dispatch")
	span.End()
	require.NoError(t, tp.ForceFlush(context.Background()))
	require.Len(t, exporter.GetSpans(), 1)
	require.NoError(t, tp.Shutdown(context.Background()))
}

func TestInitTracerProviderExporterError(t *testing.T) {
	orig := newExporter
	newExporter = func(string) (sdktrace.SpanExporter, error) { return nil, errors.New("no credentials") }
	t.Cleanup(func() { newExporter = orig })

	_, err := InitTracerProvider(context.Background(), Config{ProjectID: "cpi-prod"})
	require.ErrorContains(t, err, "no credentials")
}

func TestSampler(t *testing.T) {
	require.Equal(t, sdktrace.AlwaysSample().Description(), sampler(0).Description())
	require.Equal(t, sdktrace.AlwaysSample().Description(), sampler(1).Description())
	require.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased{0.25}")
}
