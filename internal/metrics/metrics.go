// Package metrics exposes the application-level OpenTelemetry instruments.
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

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
}

// Metrics exposes application-level instruments. A nil *Metrics is valid
// and records nothing, so tests never need a provider.
type Metrics struct {
	tenantsProvisioned metric.Int64Counter
	billingEvents      metric.Int64Counter
	routeLookups       metric.Int64Counter
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

// New configures the domain instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "atrium"
	}
	meter := provider.Meter(name)

	tenantsProvisioned, err := meter.Int64Counter("atrium.tenants.provisioned",
		metric.WithDescription("Tenants provisioned through onboarding"))
	if err != nil {
		return nil, err
	}
	billingEvents, err := meter.Int64Counter("atrium.billing.events",
		metric.WithDescription("Billing events by processing outcome"))
	if err != nil {
		return nil, err
	}
	routeLookups, err := meter.Int64Counter("atrium.router.lookups",
		metric.WithDescription("Tenant route resolutions by outcome"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		tenantsProvisioned: tenantsProvisioned,
		billingEvents:      billingEvents,
		routeLookups:       routeLookups,
	}, nil
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch protocol {
	case "", "grpc":
		return otlpmetricgrpc.New(context.Background(),
			otlpmetricgrpc.WithEndpoint(endpoint),
			otlpmetricgrpc.WithInsecure(),
		)
	case "http", "http/protobuf":
		return otlpmetrichttp.New(context.Background(),
			otlpmetrichttp.WithEndpoint(endpoint),
			otlpmetrichttp.WithInsecure(),
		)
	default:
		return nil, fmt.Errorf("unsupported otlp protocol %q", protocol)
	}
}

// TenantProvisioned records a successful provisioning start.
func (m *Metrics) TenantProvisioned(ctx context.Context) {
	if m == nil {
		return
	}
	m.tenantsProvisioned.Add(ctx, 1)
}

// BillingEvent records one processed billing event with its outcome:
// applied, duplicate or dropped.
func (m *Metrics) BillingEvent(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.billingEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RouteLookup records one tenant resolution attempt.
func (m *Metrics) RouteLookup(ctx context.Context, resolved bool) {
	if m == nil {
		return
	}
	m.routeLookups.Add(ctx, 1, metric.WithAttributes(attribute.Bool("resolved", resolved)))
}
