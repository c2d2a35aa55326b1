package api

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/developer-mesh/code-search/pkg/index"
	"github.com/developer-mesh/code-search/pkg/models"
)

func installSpanRecorder(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter)))
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })
	return exporter
}

func spanAttributes(span tracetest.SpanStub) map[attribute.Key]attribute.Value {
	attrs := make(map[attribute.Key]attribute.Value, len(span.Attributes))
	for _, kv := range span.Attributes {
		attrs[kv.Key] = kv.Value
	}
	return attrs
}

func TestTracingMiddlewareEmitsServerSpans(t *testing.T) {
	exporter := installSpanRecorder(t)

	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodPost, "/v1/search", models.SearchRequest{RepoID: "r", Query: "foo"}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "POST /v1/search", spans[0].Name)
	assert.Equal(t, trace.SpanKindServer, spans[0].SpanKind)

	attrs := spanAttributes(spans[0])
	assert.Equal(t, "POST", attrs["http.method"].AsString())
	assert.Equal(t, "/v1/search", attrs["http.route"].AsString())
	assert.Equal(t, int64(http.StatusOK), attrs["http.status_code"].AsInt64())
	assert.NotEmpty(t, attrs["request.id"].AsString())
	assert.Equal(t, codes.Unset, spans[0].Status.Code)
}

func TestTracingMiddlewareMarksServerErrors(t *testing.T) {
	exporter := installSpanRecorder(t)

	env := newTestEnv(t, func(c *AppContext) {
		c.Searcher.(*stubSearcher).err = fmt.Errorf("%w: down", index.ErrVectorUnavailable)
	})
	w := env.do(t, http.MethodPost, "/v1/search", models.SearchRequest{RepoID: "r", Query: "foo"}, nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status.Code)

	attrs := spanAttributes(spans[0])
	assert.Equal(t, int64(http.StatusServiceUnavailable), attrs["http.status_code"].AsInt64())
}
