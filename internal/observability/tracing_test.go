package observability

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"

	"github.com/signalsfoundry/gpsfix/internal/logging"
)

func envFrom(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestTracingConfigDefaults(t *testing.T) {
	cfg := tracingConfigFrom(envFrom(nil))
	if cfg.Enabled {
		t.Fatalf("tracing enabled by default")
	}
	if cfg.Exporter != "stdout" || cfg.ServiceName != "gpsfix" || cfg.SampleRatio != 1 {
		t.Fatalf("defaults = %+v", cfg)
	}
}

func TestTracingConfigFromEnvironment(t *testing.T) {
	cfg := tracingConfigFrom(envFrom(map[string]string{
		"GPSFIX_TRACING_ENABLED":      "TRUE",
		"GPSFIX_TRACING_EXPORTER":     "OTLP",
		"GPSFIX_TRACING_SERVICE_NAME": "walker",
		"GPSFIX_TRACING_SAMPLE_RATIO": "0.25",
		"GPSFIX_OTLP_ENDPOINT":        "collector:4317",
	}))
	want := TracingConfig{Enabled: true, ServiceName: "walker", Exporter: "otlp", Endpoint: "collector:4317", SampleRatio: 0.25}
	if cfg != want {
		t.Fatalf("config = %+v, want %+v", cfg, want)
	}

	cfg = tracingConfigFrom(envFrom(map[string]string{"GPSFIX_TRACING_SAMPLE_RATIO": "7"}))
	if cfg.SampleRatio != 1 {
		t.Fatalf("out-of-range ratio accepted: %v", cfg.SampleRatio)
	}
}

func TestInitTracingDisabledInstallsNoop(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{}, logging.Noop())
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	_, span := otel.Tracer("test").Start(context.Background(), "noop")
	if span.SpanContext().IsValid() {
		t.Fatalf("noop provider produced a recording span")
	}
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInitTracingRejectsUnknownExporter(t *testing.T) {
	_, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin"}, nil)
	if err == nil {
		t.Fatalf("InitTracing accepted an unknown exporter")
	}
}

func TestShutdownWithTimeoutToleratesNil(t *testing.T) {
	ShutdownWithTimeout(context.Background(), nil, nil)
	called := false
	ShutdownWithTimeout(context.Background(), func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			t.Fatalf("shutdown context has no deadline")
		}
		called = true
		return nil
	}, logging.Noop())
	if !called {
		t.Fatalf("shutdown not invoked")
	}
}
