package telemetry

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/Charles-Chao-Chen/FastSolver/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInitNilContext(t *testing.T) {
	_, err := Init(nil, config.Default().Telemetry)
	assert.ErrorIs(t, err, ErrNilContext)
}

func TestInitNone(t *testing.T) {
	shutdown, err := Init(context.Background(), config.Default().Telemetry)
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitUnknownExporter(t *testing.T) {
	_, err := Init(context.Background(), config.Telemetry{TraceExporter: "jaeger-thrift"})
	assert.ErrorIs(t, err, ErrUnknownExporter)
	_, err = Init(context.Background(), config.Telemetry{MetricExporter: "statsd"})
	assert.ErrorIs(t, err, ErrUnknownExporter)
}

func TestStdoutTrace(t *testing.T) {
	var buf bytes.Buffer
	ctx := context.Background()
	shutdown, err := Init(ctx, config.Telemetry{TraceExporter: "stdout"}, WithWriter(&buf))
	require.NoError(t, err)

	_, span := otel.Tracer("fastsolver.test").Start(ctx, "leaf_solve")
	span.End()
	require.NoError(t, shutdown(ctx))
	assert.Contains(t, buf.String(), "leaf_solve")
}

func TestPrometheusHandler(t *testing.T) {
	ctx := context.Background()
	shutdown, err := Init(ctx, config.Telemetry{MetricExporter: "prometheus"})
	require.NoError(t, err)
	defer shutdown(ctx)

	counter, err := otel.Meter("fastsolver.test").Int64Counter("fastsolver_test_tasks")
	require.NoError(t, err)
	counter.Add(ctx, 3)

	h := MetricsHandler()
	require.NotNil(t, h)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "fastsolver_test_tasks")
}
