package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Outcome labels shared by the protocol instruments.
const (
	OutcomeSuccess        = "success"
	OutcomeValidation     = "validation"
	OutcomeRescanRequired = "rescan_required"
	OutcomeLedgerRejected = "ledger_rejected"
	OutcomeConflict       = "conflict"
	OutcomeUnauthorized   = "unauthorized"
	OutcomeInternal       = "internal"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes the scan-session protocol instruments.
type Metrics struct {
	tokensIssued     metric.Int64Counter
	sessionsPrepared metric.Int64Counter
	scansProcessed   metric.Int64Counter
	confirmations    metric.Int64Counter
	pointsMoved      metric.Int64Counter
	balanceConflicts metric.Int64Counter
	rateLimitDenied  metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return provider.Shutdown(ctx)
			},
		})
	}
	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New creates the domain instruments on the given provider.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "loyalty"
	}
	meter := provider.Meter(name)

	var (
		m   Metrics
		err error
	)
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.tokensIssued, "loyalty_qr_tokens_issued_total", "QR tokens issued."},
		{&m.sessionsPrepared, "loyalty_scan_sessions_prepared_total", "Scan sessions prepared by mode."},
		{&m.scansProcessed, "loyalty_scans_processed_total", "Business scans by outcome."},
		{&m.confirmations, "loyalty_confirmations_total", "Confirmations by mode and outcome."},
		{&m.pointsMoved, "loyalty_points_total", "Points accrued or redeemed."},
		{&m.balanceConflicts, "loyalty_balance_conflicts_total", "Optimistic balance update conflicts."},
		{&m.rateLimitDenied, "loyalty_rate_limit_denied_total", "Requests denied by the scan rate limiter."},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
	}
	return &m, nil
}

// NewNoop returns instruments bound to a no-op provider.
func NewNoop() *Metrics {
	m, _ := New(Config{}, noop.NewMeterProvider())
	return m
}

func (m *Metrics) RecordTokenIssued(ctx context.Context, purpose string) {
	if m == nil {
		return
	}
	m.tokensIssued.Add(ctx, 1, withAttrs(attribute.String("purpose", purpose)))
}

func (m *Metrics) RecordSessionPrepared(ctx context.Context, mode string) {
	if m == nil {
		return
	}
	m.sessionsPrepared.Add(ctx, 1, withAttrs(attribute.String("mode", mode)))
}

func (m *Metrics) RecordScan(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.scansProcessed.Add(ctx, 1, withAttrs(attribute.String("outcome", outcome)))
}

// RecordConfirmation counts a confirmation attempt and, on success, the points moved.
func (m *Metrics) RecordConfirmation(ctx context.Context, mode, outcome string, points int64) {
	if m == nil {
		return
	}
	m.confirmations.Add(ctx, 1, withAttrs(
		attribute.String("mode", mode),
		attribute.String("outcome", outcome),
	))
	if outcome == OutcomeSuccess && points > 0 {
		m.pointsMoved.Add(ctx, points, withAttrs(attribute.String("mode", mode)))
	}
}

func (m *Metrics) RecordBalanceConflict(ctx context.Context, txType string) {
	if m == nil {
		return
	}
	m.balanceConflicts.Add(ctx, 1, withAttrs(attribute.String("type", txType)))
}

func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	m.rateLimitDenied.Add(ctx, 1, withAttrs(
		attribute.String("endpoint", endpoint),
		attribute.String("reason", reason),
	))
}

func withAttrs(attrs ...attribute.KeyValue) metric.AddOption {
	return metric.WithAttributes(FilterAttributes(attrs...)...)
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"purpose":     {},
	"mode":        {},
	"outcome":     {},
	"type":        {},
	"endpoint":    {},
	"reason":      {},
	"status_code": {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
