package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	stdoutmetric "go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	stdouttrace "go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/procura/internal/config"
)

const (
	shutdownTimeout      = 10 * time.Second
	otlpDialTimeout      = 10 * time.Second
	stdoutMetricInterval = 30 * time.Second
)

// Manager owns the trace and meter providers of a procura process.
type Manager struct {
	cfg            config.Observability
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	registry       *prometheus.Registry
}

// Module exposes the observability manager and its meter provider to Fx.
var Module = fx.Options(
	fx.Provide(NewManager),
	fx.Provide(func(m *Manager) metric.MeterProvider { return m.MeterProvider() }),
)

// NewManager builds the providers selected by cfg.Observability. Unknown exporter names are
// configuration errors. Providers become the otel globals on start and are flushed on stop.
func NewManager(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	obs := cfg.Observability
	mgr := &Manager{cfg: obs}
	if !obs.EnableTracing && !obs.EnableMetrics {
		return mgr, nil
	}

	ctx := context.Background()
	res, err := newResource(ctx, obs)
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	if obs.EnableTracing {
		exporter, err := newSpanExporter(ctx, obs)
		if err != nil {
			return nil, err
		}
		mgr.tracerProvider = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		)
	}

	if obs.EnableMetrics {
		reader, registry, err := newMetricReader(obs)
		if err != nil {
			return nil, err
		}
		mgr.registry = registry
		mgr.meterProvider = sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(reader),
			sdkmetric.WithResource(res),
		)
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if mgr.tracerProvider != nil {
				otel.SetTracerProvider(mgr.tracerProvider)
				otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
					propagation.TraceContext{},
					propagation.Baggage{},
				))
			}
			if mgr.meterProvider != nil {
				otel.SetMeterProvider(mgr.meterProvider)
			}
			logger.Info("telemetry started",
				zap.Bool("tracing", mgr.TracingEnabled()),
				zap.String("trace_exporter", obs.TraceExporter),
				zap.Bool("metrics", mgr.MetricsEnabled()),
				zap.String("metrics_exporter", obs.MetricsExporter),
			)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()
			return mgr.shutdown(ctx)
		},
	})

	return mgr, nil
}

// TracingEnabled reports whether spans are exported.
func (m *Manager) TracingEnabled() bool {
	return m.tracerProvider != nil
}

// MetricsEnabled reports whether instruments are recorded.
func (m *Manager) MetricsEnabled() bool {
	return m.meterProvider != nil
}

// MeterProvider returns the SDK meter provider, or a no-op provider when metrics are off.
func (m *Manager) MeterProvider() metric.MeterProvider {
	if m.meterProvider == nil {
		return noop.NewMeterProvider()
	}
	return m.meterProvider
}

// MetricsHandler serves the Prometheus scrape endpoint; nil unless the prometheus exporter is active.
func (m *Manager) MetricsHandler() http.Handler {
	if m.registry == nil {
		return nil
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// PrometheusPath returns the configured scrape path.
func (m *Manager) PrometheusPath() string {
	return m.cfg.PrometheusPath
}

func (m *Manager) shutdown(ctx context.Context) error {
	var err error
	if m.tracerProvider != nil {
		err = errors.Join(err, m.tracerProvider.Shutdown(ctx))
	}
	if m.meterProvider != nil {
		err = errors.Join(err, m.meterProvider.Shutdown(ctx))
	}
	return err
}

func newResource(ctx context.Context, obs config.Observability) (*sdkresource.Resource, error) {
	return sdkresource.New(ctx,
		sdkresource.WithFromEnv(),
		sdkresource.WithHost(),
		sdkresource.WithAttributes(
			semconv.ServiceName(obs.ServiceName),
			semconv.ServiceVersion(buildVersion()),
			semconv.DeploymentEnvironment(obs.Environment),
		),
	)
}

// buildVersion is the main module version stamped by the go tool, "devel" for local builds.
func buildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" || info.Main.Version == "(devel)" {
		return "devel"
	}
	return info.Main.Version
}

func newSpanExporter(ctx context.Context, obs config.Observability) (sdktrace.SpanExporter, error) {
	switch strings.ToLower(obs.TraceExporter) {
	case "", "stdout":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "otlp":
		if obs.TraceEndpoint == "" {
			return nil, errors.New("OBS_OTLP_ENDPOINT is required for the otlp trace exporter")
		}
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(obs.TraceEndpoint)}
		if obs.TraceInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		ctx, cancel := context.WithTimeout(ctx, otlpDialTimeout)
		defer cancel()
		return otlptracegrpc.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported trace exporter %q", obs.TraceExporter)
	}
}

// newMetricReader returns the reader for the configured exporter. The prometheus exporter
// registers into a registry owned by this process, returned alongside so it can be scraped.
func newMetricReader(obs config.Observability) (sdkmetric.Reader, *prometheus.Registry, error) {
	switch strings.ToLower(obs.MetricsExporter) {
	case "", "prometheus":
		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		exporter, err := promexporter.New(promexporter.WithRegisterer(registry))
		if err != nil {
			return nil, nil, fmt.Errorf("prometheus exporter: %w", err)
		}
		return exporter, registry, nil
	case "stdout":
		exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(os.Stdout))
		if err != nil {
			return nil, nil, fmt.Errorf("stdout metric exporter: %w", err)
		}
		return sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(stdoutMetricInterval)), nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported metrics exporter %q", obs.MetricsExporter)
	}
}
