package tracing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// setupTestTracer installs an in-memory exporter for the duration of a test.
func setupTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
	)

	oldTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(oldTP)
	})

	return exporter
}

func TestInitTracer_DisabledReturnsNoop(t *testing.T) {
	tracer, err := InitTracer(Config{ServiceName: "keyfold", Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, tracer)

	// Shutdown on a no-op tracer is a no-op.
	assert.NoError(t, tracer.Shutdown(context.Background()))

	ctx, span := tracer.StartSpan(context.Background(), "test")
	assert.NotNil(t, ctx)
	span.End()
}

func TestMiddleware_TracesRequests(t *testing.T) {
	setupTestTracer(t)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		span := trace.SpanFromContext(r.Context())
		assert.True(t, span.SpanContext().IsValid())
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	traced := Middleware(handler)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/secrets", nil)
	rec := httptest.NewRecorder()
	traced.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddleware_PropagatesIncomingContext(t *testing.T) {
	setupTestTracer(t)

	var gotTraceID string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTraceID = TraceID(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	// Start an upstream span and inject its context into the request headers.
	ctx, span := StartSpan(context.Background(), "upstream")
	wantTraceID := TraceID(ctx)
	defer span.End()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/secrets", nil)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	rec := httptest.NewRecorder()
	Middleware(handler).ServeHTTP(rec, req)

	require.NotEmpty(t, wantTraceID)
	assert.Equal(t, wantTraceID, gotTraceID)
}

func TestRoundTripper_InjectsHeaders(t *testing.T) {
	setupTestTracer(t)

	var gotTraceparent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTraceparent = r.Header.Get("traceparent")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := &http.Client{Transport: RoundTripper(nil)}
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.NotEmpty(t, gotTraceparent)
}
