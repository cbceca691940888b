package telemetry

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitTracingDisabledWithoutEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	shutdown, err := InitTracing("meowbot-test", "0.0.0")
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	shutdown()
	if IsTracingEnabled() {
		t.Fatal("tracing should stay disabled without an endpoint")
	}
}

func TestStartSpanRecordsCorrelationAndErrors(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	ctx := WithCorrelation(context.Background(), "corr-1")
	_, span := StartSpan(ctx, "test", "poll cycle", HTTPMethodAttr("GET"))
	RecordError(span, errors.New("boom"))
	RecordError(span, nil)
	span.End()

	ended := sr.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(ended))
	}
	s := ended[0]
	if s.Name() != "poll cycle" {
		t.Errorf("name = %q", s.Name())
	}
	if s.Status().Code != codes.Error {
		t.Errorf("status = %v, want error", s.Status().Code)
	}
	found := false
	for _, kv := range s.Attributes() {
		if string(kv.Key) == "correlation_id" && kv.Value.AsString() == "corr-1" {
			found = true
		}
	}
	if !found {
		t.Errorf("correlation_id attribute missing: %v", s.Attributes())
	}
}

func TestSetSpanHTTPStatus(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	tracer := tp.Tracer("test")

	_, ok := tracer.Start(context.Background(), "ok")
	SetSpanHTTPStatus(ok, 200)
	ok.End()
	_, bad := tracer.Start(context.Background(), "bad")
	SetSpanHTTPStatus(bad, 503)
	bad.End()

	ended := sr.Ended()
	if ended[0].Status().Code == codes.Error {
		t.Error("200 should not mark the span as failed")
	}
	if ended[1].Status().Code != codes.Error {
		t.Error("503 should mark the span as failed")
	}
}

func TestSamplingRatio(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"", 1},
		{"0.25", 0.25},
		{"0", 0},
		{"1", 1},
		{"1.5", 1},
		{"-0.1", 1},
		{"half", 1},
	}
	for _, tt := range tests {
		if got := samplingRatio(tt.in); got != tt.want {
			t.Errorf("samplingRatio(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
