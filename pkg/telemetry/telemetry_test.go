package telemetry

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}

	cfg.Logging.Level = "loud"
	if err := cfg.Validate(); err == nil {
		t.Error("expected invalid level to fail")
	}

	cfg = DefaultConfig()
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "jaeger"
	if err := cfg.Validate(); err == nil {
		t.Error("expected unsupported exporter to fail")
	}
}

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LoggingConfig{Level: "debug", Format: "json"}, &buf)

	zlog := logger.NewComponentLogger("apps").WithAppID("jupyter").WithEnvID("default").Zerolog()
	zlog.Info().Msg("Merged app requirements")
	zlog.Debug().Msg("Debug line")

	out := buf.String()
	for _, want := range []string{
		`"component":"apps"`,
		`"app_id":"jupyter"`,
		`"env_id":"default"`,
		`"message":"Merged app requirements"`,
		`"message":"Debug line"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %s in %s", want, out)
		}
	}
}

func TestLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LoggingConfig{Level: "warn", Format: "json"}, &buf)

	zlog := logger.Zerolog()
	zlog.Info().Msg("hidden")
	zlog.Warn().Msg("shown")

	if out := buf.String(); strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Errorf("unexpected output for warn level: %s", out)
	}
}

func TestMetrics(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: true, Namespace: "test"})
	if err != nil {
		t.Fatal(err)
	}

	m.RecordSync(SyncResultChanged, time.Second)
	m.RecordSync(SyncResultFailed, time.Second)
	m.RecordMaterializerError("default")
	m.RecordMerge(true)
	m.SetEnvironmentCounts(map[string]int{"synced": 2, "not_synced": 1})

	if got := metricValue(t, m.Registry(), "test_env_syncs_total", "changed"); got != 1 {
		t.Errorf("expected 1 changed sync, got %v", got)
	}
	if got := metricValue(t, m.Registry(), "test_environments", "synced"); got != 2 {
		t.Errorf("expected 2 synced environments, got %v", got)
	}
	if got := metricValue(t, m.Registry(), "test_materializer_errors_total", "default"); got != 1 {
		t.Errorf("expected 1 materializer error, got %v", got)
	}
}

func TestMetricsDisabled(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatal(err)
	}
	// Recording on a disabled collector is a no-op.
	m.RecordSync(SyncResultChanged, time.Second)
	m.RecordError("not_found")
	if m.Registry() != nil {
		t.Error("expected no registry when disabled")
	}
}

func TestStartMetricsServer_WithoutAddress(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: true, Namespace: "test"})
	if err != nil {
		t.Fatal(err)
	}
	if server := m.StartMetricsServer(NopLogger()); server != nil {
		t.Error("expected no server without a listen address")
	}
}

func TestNoopTracer(t *testing.T) {
	tracer := NoopTracer()
	ctx, span := tracer.StartSyncSpan(context.Background(), "default", "/tmp/default")
	EndSpan(span, nil)
	if TraceID(ctx) != "" {
		t.Error("expected noop tracer to produce no trace id")
	}
	_, merge := tracer.StartMergeSpan(ctx, "jupyter", "default")
	EndSpan(merge, errors.New("merge failed"))
	if err := tracer.Shutdown(ctx); err != nil {
		t.Errorf("shutdown failed: %v", err)
	}
}

// metricValue returns the counter or gauge value of the series of name carrying labelValue.
func metricValue(t *testing.T, reg *prometheus.Registry, name, labelValue string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetValue() != labelValue {
					continue
				}
				if c := metric.GetCounter(); c != nil {
					return c.GetValue()
				}
				return metric.GetGauge().GetValue()
			}
		}
	}
	t.Fatalf("metric %s{%s} not found", name, labelValue)
	return 0
}
