package otelx

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

func TestSetupDisabledInstallsPropagator(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{Enabled: false, ServiceName: "booking-service"})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer shutdown(context.Background())

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{9},
		SpanID:     trace.SpanID{7},
		TraceFlags: trace.FlagsSampled,
	})
	tp, ts := TraceContextStrings(trace.ContextWithSpanContext(context.Background(), sc))
	if tp == "" {
		t.Fatalf("expected traceparent")
	}

	restored := trace.SpanContextFromContext(ContextWithTraceContext(context.Background(), tp, ts))
	if restored.TraceID() != sc.TraceID() {
		t.Fatalf("trace id not restored")
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "false")
	t.Setenv("OTEL_SAMPLING_RATIO", "7")

	cfg := ConfigFromEnv("booking-service")
	if cfg.Enabled || cfg.SampleRatio != 1 || cfg.ServiceName != "booking-service" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}
