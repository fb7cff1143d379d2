package middleware_test

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	mw "github.com/blakecragen/cluster/middleware"
)

// ──────────────────────────────────────────────────
// Tracing
// ──────────────────────────────────────────────────

func setupTestTracer() (*tracetest.SpanRecorder, trace.Tracer) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	return sr, tp.Tracer("test")
}

func TestTracing_SpanAttributes(t *testing.T) {
	sr, tracer := setupTestTracer()
	j := newTestJob()

	var handlerSpan trace.SpanContext
	err := mw.TracingWithTracer(tracer)(context.Background(), j, func(ctx context.Context) error {
		handlerSpan = trace.SpanFromContext(ctx).SpanContext()
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name() != "cluster.task.run" {
		t.Errorf("span name = %q", span.Name())
	}
	if span.Status().Code != codes.Ok {
		t.Errorf("status = %v, want Ok", span.Status().Code)
	}
	if handlerSpan.TraceID() != span.SpanContext().TraceID() {
		t.Error("handler did not receive the task span")
	}

	got := make(map[string]any)
	for _, a := range span.Attributes() {
		switch a.Value.Type() {
		case attribute.STRING:
			got[string(a.Key)] = a.Value.AsString()
		case attribute.INT64:
			got[string(a.Key)] = a.Value.AsInt64()
		}
	}
	want := map[string]any{
		"cluster.job.id":       j.ID.String(),
		"cluster.job.name":     "data.csv",
		"cluster.job.strategy": "capability-match:linux/arm64",
		"cluster.job.priority": int64(0),
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("attribute %q = %v, want %v", k, got[k], v)
		}
	}
}

func TestTracing_Error(t *testing.T) {
	sr, tracer := setupTestTracer()
	runErr := errors.New("exit status 2")

	err := mw.TracingWithTracer(tracer)(context.Background(), newTestJob(), func(context.Context) error {
		return runErr
	})
	if !errors.Is(err, runErr) {
		t.Fatalf("expected runner error, got %v", err)
	}

	span := sr.Ended()[0]
	if span.Status().Code != codes.Error || span.Status().Description != "exit status 2" {
		t.Errorf("status = %+v", span.Status())
	}
	found := false
	for _, ev := range span.Events() {
		if ev.Name == "exception" {
			found = true
		}
	}
	if !found {
		t.Error("expected exception event on span")
	}
}

// ──────────────────────────────────────────────────
// Metrics
// ──────────────────────────────────────────────────

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestMetrics_RecordsOutcome(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m := mw.MetricsWithMeter(mp.Meter("test"))

	_ = m(context.Background(), newTestJob(), func(context.Context) error { return nil })
	_ = m(context.Background(), newTestJob(), func(context.Context) error { return errors.New("boom") })
	_ = m(context.Background(), newTestJob(), func(context.Context) error { return errors.New("boom") })

	rm := collect(t, reader)

	hist := findMetric(rm, "cluster.task.duration")
	if hist == nil {
		t.Fatal("cluster.task.duration not found")
	}
	if _, ok := hist.Data.(metricdata.Histogram[float64]); !ok {
		t.Fatalf("duration data = %T", hist.Data)
	}

	execs := findMetric(rm, "cluster.task.executions")
	if execs == nil {
		t.Fatal("cluster.task.executions not found")
	}
	sum, ok := execs.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("executions data = %T", execs.Data)
	}

	byStatus := make(map[string]int64)
	for _, dp := range sum.DataPoints {
		status, _ := dp.Attributes.Value("status")
		strat, _ := dp.Attributes.Value("strategy")
		if strat.AsString() != "capability-match" {
			t.Errorf("strategy attribute = %q", strat.AsString())
		}
		byStatus[status.AsString()] += dp.Value
	}
	if byStatus["ok"] != 1 || byStatus["error"] != 2 {
		t.Errorf("executions by status = %v", byStatus)
	}
}

func TestDefaults_NoopSafe(t *testing.T) {
	called := 0
	chain := mw.Chain(mw.Tracing(), mw.Metrics())
	err := chain(context.Background(), newTestJob(), func(context.Context) error {
		called++
		return nil
	})
	if err != nil || called != 1 {
		t.Fatalf("err = %v, called = %d", err, called)
	}
}
