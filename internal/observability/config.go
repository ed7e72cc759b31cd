package observability

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/smallbiznis/loyalty/internal/config"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

const (
	ProtocolGRPC = "grpc"
	ProtocolHTTP = "http"
)

// Signal configures one OTLP export pipeline.
type Signal struct {
	Enabled  bool
	Endpoint string
	Protocol string
}

// Config is the telemetry view of the service configuration. Standard OTEL_*
// variables override the values carried by config.Config.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	Traces        Signal
	Metrics       Signal
	SamplingRatio float64
}

func LoadConfig(cfg config.Config) (Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("deployment_env", cfg.Environment)
	v.SetDefault("service_version", cfg.AppVersion)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("otel_enabled", true)
	v.SetDefault("otel_exporter_otlp_endpoint", cfg.OTLPEndpoint)
	v.SetDefault("otel_exporter_otlp_protocol", ProtocolGRPC)

	out := Config{
		ServiceName: strings.TrimSpace(cfg.AppName),
		Environment: strings.TrimSpace(v.GetString("deployment_env")),
		Version:     strings.TrimSpace(v.GetString("service_version")),
		LogLevel:    strings.ToLower(strings.TrimSpace(v.GetString("log_level"))),
		LogFormat:   strings.ToLower(strings.TrimSpace(v.GetString("log_format"))),
	}
	if out.ServiceName == "" {
		out.ServiceName = "loyalty"
	}
	if _, err := zapcore.ParseLevel(out.LogLevel); err != nil {
		return Config{}, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if out.LogFormat != "json" && out.LogFormat != "console" {
		return Config{}, fmt.Errorf("LOG_FORMAT must be json or console, got %q", out.LogFormat)
	}
	if config.IsProductionEnv(out.Environment) {
		out.LogFormat = "json"
	}

	enabled := v.GetBool("otel_enabled")
	var err error
	if out.Traces, err = loadSignal(v, "traces", enabled); err != nil {
		return Config{}, err
	}
	if out.Metrics, err = loadSignal(v, "metrics", enabled); err != nil {
		return Config{}, err
	}

	// full sampling outside production so local scans always show up
	out.SamplingRatio = 1
	if config.IsProductionEnv(out.Environment) {
		out.SamplingRatio = 0.1
	}
	if raw := strings.TrimSpace(v.GetString("otel_sampling_ratio")); raw != "" {
		ratio, err := strconv.ParseFloat(raw, 64)
		if err != nil || ratio < 0 || ratio > 1 {
			return Config{}, fmt.Errorf("OTEL_SAMPLING_RATIO must be within [0,1], got %q", raw)
		}
		out.SamplingRatio = ratio
	}

	return out, nil
}

// loadSignal resolves OTEL_<SIGNAL>_EXPORTER and the per-signal endpoint and
// protocol overrides.
func loadSignal(v *viper.Viper, signal string, enabled bool) (Signal, error) {
	if strings.EqualFold(strings.TrimSpace(v.GetString("otel_"+signal+"_exporter")), "none") {
		enabled = false
	}

	endpoint := strings.TrimSpace(v.GetString("otel_exporter_otlp_" + signal + "_endpoint"))
	if endpoint == "" {
		endpoint = strings.TrimSpace(v.GetString("otel_exporter_otlp_endpoint"))
	}
	protocol := strings.TrimSpace(v.GetString("otel_exporter_otlp_" + signal + "_protocol"))
	if protocol == "" {
		protocol = v.GetString("otel_exporter_otlp_protocol")
	}
	normalized, err := normalizeProtocol(protocol)
	if err != nil {
		return Signal{}, fmt.Errorf("%s exporter: %w", signal, err)
	}

	return Signal{Enabled: enabled, Endpoint: endpoint, Protocol: normalized}, nil
}

func normalizeProtocol(protocol string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "", "grpc":
		return ProtocolGRPC, nil
	case "http", "http/protobuf":
		return ProtocolHTTP, nil
	default:
		return "", fmt.Errorf("unsupported otlp protocol %q", protocol)
	}
}

func (c Config) Debug() bool {
	if strings.EqualFold(strings.TrimSpace(c.LogLevel), "debug") {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}
