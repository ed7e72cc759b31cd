package observability

import (
	"testing"

	"github.com/smallbiznis/loyalty/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearTelemetryEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DEPLOYMENT_ENV", "SERVICE_VERSION", "LOG_LEVEL", "LOG_FORMAT", "OTEL_ENABLED",
		"OTEL_SAMPLING_RATIO", "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_PROTOCOL",
		"OTEL_TRACES_EXPORTER", "OTEL_METRICS_EXPORTER",
		"OTEL_EXPORTER_OTLP_TRACES_ENDPOINT", "OTEL_EXPORTER_OTLP_TRACES_PROTOCOL",
		"OTEL_EXPORTER_OTLP_METRICS_ENDPOINT", "OTEL_EXPORTER_OTLP_METRICS_PROTOCOL",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearTelemetryEnv(t)

	cfg, err := LoadConfig(config.Config{Environment: "development", AppVersion: "1.2.3", OTLPEndpoint: "collector:4317"})
	require.NoError(t, err)

	assert.Equal(t, "loyalty", cfg.ServiceName)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "1.2.3", cfg.Version)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, Signal{Enabled: true, Endpoint: "collector:4317", Protocol: ProtocolGRPC}, cfg.Traces)
	assert.Equal(t, cfg.Traces, cfg.Metrics)
	assert.InDelta(t, 1.0, cfg.SamplingRatio, 1e-9)
	assert.True(t, cfg.Debug())
}

func TestLoadConfigPerSignalOverrides(t *testing.T) {
	clearTelemetryEnv(t)
	t.Setenv("OTEL_EXPORTER_OTLP_PROTOCOL", "HTTP/protobuf")
	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT", "tempo:4318")
	t.Setenv("OTEL_EXPORTER_OTLP_METRICS_PROTOCOL", "grpc")
	t.Setenv("OTEL_METRICS_EXPORTER", "none")
	t.Setenv("OTEL_SAMPLING_RATIO", "0.25")

	cfg, err := LoadConfig(config.Config{Environment: "staging", OTLPEndpoint: "collector:4317"})
	require.NoError(t, err)

	assert.Equal(t, Signal{Enabled: true, Endpoint: "tempo:4318", Protocol: ProtocolHTTP}, cfg.Traces)
	assert.Equal(t, Signal{Enabled: false, Endpoint: "collector:4317", Protocol: ProtocolGRPC}, cfg.Metrics)
	assert.InDelta(t, 0.25, cfg.SamplingRatio, 1e-9)
	assert.False(t, cfg.Debug())
}

func TestLoadConfigProductionForcesJSONAndLowSampling(t *testing.T) {
	clearTelemetryEnv(t)
	t.Setenv("LOG_FORMAT", "console")

	cfg, err := LoadConfig(config.Config{Environment: "production"})
	require.NoError(t, err)

	assert.Equal(t, "json", cfg.LogFormat)
	assert.InDelta(t, 0.1, cfg.SamplingRatio, 1e-9)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	cases := map[string][2]string{
		"log level":      {"LOG_LEVEL", "loud"},
		"log format":     {"LOG_FORMAT", "xml"},
		"protocol":       {"OTEL_EXPORTER_OTLP_PROTOCOL", "thrift"},
		"sampling range": {"OTEL_SAMPLING_RATIO", "1.5"},
		"sampling parse": {"OTEL_SAMPLING_RATIO", "half"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			clearTelemetryEnv(t)
			t.Setenv(env[0], env[1])

			_, err := LoadConfig(config.Config{Environment: "development"})
			assert.Error(t, err)
		})
	}
}
