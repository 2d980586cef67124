package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)

	m.RecordRun("final_answer", time.Second)
	m.RecordRun("final_answer", 2*time.Second)
	m.RecordNodeVisit("coordinator")
	m.RecordLLMRequest("coordinator_agent", "gpt-4.1", "success", 100*time.Millisecond)
	m.RecordTokens("coordinator_agent", "gpt-4.1", 120, 30)
	m.RecordFallback("coordinator_agent", "gpt-4.1")
	m.RecordToolCall("get_shopping_cart", "local", "success", time.Millisecond)
	m.RecordHTTPRequest("POST", "/rag", 200, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.runsTotal.WithLabelValues("final_answer")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.nodeVisitsTotal.WithLabelValues("coordinator")))
	assert.Equal(t, 120.0, testutil.ToFloat64(m.llmTokensTotal.WithLabelValues("coordinator_agent", "gpt-4.1", "prompt")))
	assert.Equal(t, 30.0, testutil.ToFloat64(m.llmTokensTotal.WithLabelValues("coordinator_agent", "gpt-4.1", "completion")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.llmFallbacksTotal.WithLabelValues("coordinator_agent", "gpt-4.1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.toolCallsTotal.WithLabelValues("get_shopping_cart", "local", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("POST", "/rag", "200")))
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRun("x", time.Second)
		m.RecordNodeVisit("x")
		m.RecordLLMRequest("a", "m", "s", time.Second)
		m.RecordTokens("a", "m", 1, 1)
		m.RecordFallback("a", "m")
		m.RecordToolCall("t", "k", "s", time.Second)
		m.RecordHTTPRequest("GET", "/", 200, time.Second)
	})
}

func TestInitWithoutExporterProducesTraceIDs(t *testing.T) {
	ctx := context.Background()
	p, err := Init(ctx, Config{ServiceName: "shopagent-test"}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	_, span := otel.Tracer(TracerName).Start(ctx, "test")
	defer span.End()
	assert.True(t, span.SpanContext().TraceID().IsValid())
}

func TestShutdownNil(t *testing.T) {
	var p *Providers
	assert.NoError(t, p.Shutdown(context.Background()))
}
