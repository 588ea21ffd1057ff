package runtime

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-chat/internal/config"
)

func TestMetricsHandlerExposesChatCounters(t *testing.T) {
	cfg := config.Default()
	res, err := newResource(cfg, "1.2.3")
	if err != nil {
		t.Fatalf("resource: %v", err)
	}
	provider, handler, err := initMetrics(res, newLogger())
	if err != nil {
		t.Fatalf("init metrics: %v", err)
	}
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	if handler == nil {
		t.Fatal("expected a metrics handler")
	}

	counter, err := provider.Meter("test").Int64Counter("chat.streams.started")
	if err != nil {
		t.Fatalf("counter: %v", err)
	}
	counter.Add(context.Background(), 3)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "chat_streams_started") {
		t.Fatalf("metrics output missing chat counter:\n%s", body)
	}
	if !strings.Contains(string(body), `service_version="1.2.3"`) {
		t.Fatalf("metrics output missing service version:\n%s", body)
	}
}

func TestInitTracerDefaultsToNone(t *testing.T) {
	cfg := config.Default()
	res, err := newResource(cfg, "dev")
	if err != nil {
		t.Fatalf("resource: %v", err)
	}
	tp, err := initTracer(context.Background(), cfg.Telemetry, res, newLogger())
	if err != nil {
		t.Fatalf("init tracer: %v", err)
	}
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	_, span := tp.Tracer("test").Start(context.Background(), "noop")
	defer span.End()
	if span.SpanContext().IsSampled() {
		t.Fatal("spans must not be recorded when trace_exporter=none")
	}
}
