package telemetry

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "default", mutate: func(c *Config) {}},
		{name: "missing service", mutate: func(c *Config) { c.ServiceName = "" }, wantErr: true},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: true},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: true},
		{name: "bad exporter", mutate: func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "jaeger"
		}, wantErr: true},
		{name: "bad sampling", mutate: func(c *Config) { c.Tracing.SamplingRate = 2 }, wantErr: true},
		{name: "bad buffer", mutate: func(c *Config) { c.Events.BufferSize = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LoggingConfig{Level: "info", Format: "json"}, &buf)

	logger.NewComponentLogger("stores").
		WithItemID("icon-1").
		WithError(errors.New("boom")).
		Error("Save failed")
	logger.Debug("hidden")

	out := buf.String()
	for _, want := range []string{`"component":"stores"`, `"item_id":"icon-1"`, `"error":"boom"`, `"message":"Save failed"`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in %s", want, out)
		}
	}
	if strings.Contains(out, "hidden") {
		t.Error("debug message logged at info level")
	}
}

func TestLoggerContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LoggingConfig{Level: "debug", Format: "json"}, &buf)

	ctx := logger.WithContext(context.Background())
	FromContext(ctx).Infof("saved %d items", 3)
	if !strings.Contains(buf.String(), "saved 3 items") {
		t.Errorf("expected context logger output, got %s", buf.String())
	}

	// No logger in context is a no-op, not a panic
	FromContext(context.Background()).Info("dropped")
}

func TestMetrics(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: true, Namespace: "test"})
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}

	m.RecordOperation("save", 2*time.Millisecond, nil)
	m.RecordOperation("save", time.Millisecond, errors.New("boom"))
	m.RecordError("write")
	m.SetItemCount(42)
	m.AddTrimmed(3)
	m.AddTrimmed(0)

	if got := testutil.ToFloat64(m.operations.WithLabelValues("save", StatusSuccess)); got != 1 {
		t.Errorf("expected 1 successful save, got %v", got)
	}
	if got := testutil.ToFloat64(m.operations.WithLabelValues("save", StatusError)); got != 1 {
		t.Errorf("expected 1 failed save, got %v", got)
	}
	if got := testutil.ToFloat64(m.errorsByKind.WithLabelValues("write")); got != 1 {
		t.Errorf("expected 1 write error, got %v", got)
	}
	if got := testutil.ToFloat64(m.items); got != 42 {
		t.Errorf("expected 42 items, got %v", got)
	}
	if got := testutil.ToFloat64(m.itemsTrimmed); got != 3 {
		t.Errorf("expected 3 trimmed, got %v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "test_history_items 42") {
		t.Errorf("expected exposition to contain gauge, got %s", rec.Body.String())
	}
}

func TestMetricsDisabled(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}

	// None of these may panic
	m.RecordOperation("list", time.Millisecond, nil)
	m.RecordError("read")
	m.SetItemCount(1)
	m.AddTrimmed(1)

	var nilMetrics *Metrics
	nilMetrics.RecordOperation("list", time.Millisecond, nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Errorf("expected 404 from disabled metrics, got %d", rec.Code)
	}
}

func TestEventPublisherAsync(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 8, EnableAsync: true})
	if err != nil {
		t.Fatalf("failed to create publisher: %v", err)
	}

	var (
		mu      sync.Mutex
		trimmed []Event
		all     int
	)
	ep.SubscribeType(EventTypeTrimmed, func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		trimmed = append(trimmed, e)
	})
	ep.Subscribe(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		all++
	}, nil)

	if err := ep.PublishItemSaved("a"); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if err := ep.PublishTrimmed(1, []string{"b", "c"}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	// Close drains the buffer
	if err := ep.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if all != 2 {
		t.Errorf("expected 2 events delivered, got %d", all)
	}
	if len(trimmed) != 1 {
		t.Fatalf("expected 1 trimmed event, got %d", len(trimmed))
	}
	e := trimmed[0]
	if e.ID == "" || e.Timestamp.IsZero() {
		t.Error("expected generated id and timestamp")
	}
	if len(e.ItemIDs) != 2 || e.Data["removed"] != 2 {
		t.Errorf("unexpected trimmed event: %+v", e)
	}

	if err := ep.PublishCleared(); err == nil {
		t.Error("expected error publishing after close")
	}
}

func TestEventPublisherDisabled(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("failed to create publisher: %v", err)
	}
	if err := ep.PublishItemDeleted("a"); err != nil {
		t.Errorf("disabled publisher returned error: %v", err)
	}

	var nilPublisher *EventPublisher
	if err := nilPublisher.PublishItemSaved("a"); err != nil {
		t.Errorf("nil publisher returned error: %v", err)
	}
	if err := nilPublisher.Close(); err != nil {
		t.Errorf("nil publisher close returned error: %v", err)
	}
}

func TestTracerRecordsOperations(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	tracer := newTracerFromProvider(provider, "test")

	ctx, span := tracer.StartOperation(context.Background(), "save", AttrItemID.String("icon-1"))
	if TraceID(ctx) == "" {
		t.Error("expected trace id in context")
	}
	RecordError(span, errors.New("boom"))
	span.End()

	_, span = tracer.StartOperation(context.Background(), "list")
	RecordSuccess(span)
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Name != "history.save" || spans[0].Status.Code != codes.Error {
		t.Errorf("unexpected first span: %s %v", spans[0].Name, spans[0].Status)
	}
	if spans[1].Name != "history.list" || spans[1].Status.Code != codes.Ok {
		t.Errorf("unexpected second span: %s %v", spans[1].Name, spans[1].Status)
	}

	if err := tracer.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
}

func TestNoopTracer(t *testing.T) {
	tracer, err := NewTracer(TracingConfig{Enabled: false}, "historydb", "dev", "test")
	if err != nil {
		t.Fatalf("failed to create tracer: %v", err)
	}

	ctx, span := tracer.StartOperation(context.Background(), "count")
	span.End()
	if TraceID(ctx) != "" {
		t.Error("expected no trace id from noop tracer")
	}
	if err := tracer.Shutdown(context.Background()); err != nil {
		t.Errorf("noop shutdown failed: %v", err)
	}
}

func TestNewTelemetry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Output = "stderr"

	tel, err := NewTelemetry(cfg)
	if err != nil {
		t.Fatalf("failed to create telemetry: %v", err)
	}

	ctx := tel.WithContext(context.Background())
	if FromTelemetryContext(ctx) != tel {
		t.Error("expected telemetry in context")
	}
	if FromTelemetryContext(context.Background()) != nil {
		t.Error("expected nil telemetry for empty context")
	}

	if err := tel.Shutdown(context.Background()); err != nil {
		t.Errorf("shutdown failed: %v", err)
	}

	cfg.Logging.Level = "nope"
	if _, err := NewTelemetry(cfg); err == nil {
		t.Error("expected invalid config to fail")
	}
}
