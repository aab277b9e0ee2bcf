package metrics

import (
	"context"
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics is safe to use through a nil pointer; every recorder is then a no-op.
type Metrics struct {
	meter metric.Meter

	HTTPRequests      metric.Int64Counter
	HTTPDuration      metric.Float64Histogram
	CacheHits         metric.Int64Counter
	CacheMisses       metric.Int64Counter
	ActiveConnections metric.Int64UpDownCounter
	Actions           metric.Int64Counter
	Liquidations      metric.Int64Counter
	KeeperScans       metric.Int64Counter
}

// Setup registers the exporter with the default Prometheus registry and
// installs the provider globally.
func Setup(serviceName string) (*Metrics, http.Handler, error) {
	m, err := build(serviceName, prom.DefaultRegisterer, true)
	if err != nil {
		return nil, nil, err
	}
	return m, promhttp.Handler(), nil
}

// SetupWithRegistry keeps everything on reg, for tests and embedded use.
func SetupWithRegistry(serviceName string, reg *prom.Registry) (*Metrics, http.Handler, error) {
	m, err := build(serviceName, reg, false)
	if err != nil {
		return nil, nil, err
	}
	return m, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}

func build(serviceName string, reg prom.Registerer, global bool) (*Metrics, error) {
	exporter, err := prometheus.New(prometheus.WithRegisterer(reg))
	if err != nil {
		return nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	if global {
		otel.SetMeterProvider(provider)
	}

	meter := provider.Meter(serviceName)
	m := &Metrics{meter: meter}

	if m.HTTPRequests, err = meter.Int64Counter(
		"arg_http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	); err != nil {
		return nil, err
	}

	if m.HTTPDuration, err = meter.Float64Histogram(
		"arg_http_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
	); err != nil {
		return nil, err
	}

	if m.CacheHits, err = meter.Int64Counter(
		"arg_cache_hits_total",
		metric.WithDescription("Total number of cache hits"),
	); err != nil {
		return nil, err
	}

	if m.CacheMisses, err = meter.Int64Counter(
		"arg_cache_misses_total",
		metric.WithDescription("Total number of cache misses"),
	); err != nil {
		return nil, err
	}

	if m.ActiveConnections, err = meter.Int64UpDownCounter(
		"arg_stream_connections",
		metric.WithDescription("Number of active WebSocket and SSE connections"),
	); err != nil {
		return nil, err
	}

	if m.Actions, err = meter.Int64Counter(
		"arg_protocol_actions_total",
		metric.WithDescription("Protocol actions by kind and result code"),
	); err != nil {
		return nil, err
	}

	if m.Liquidations, err = meter.Int64Counter(
		"arg_liquidations_total",
		metric.WithDescription("Completed liquidations"),
	); err != nil {
		return nil, err
	}

	if m.KeeperScans, err = meter.Int64Counter(
		"arg_keeper_scans_total",
		metric.WithDescription("Liquidation keeper scan passes"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// ObserveTotalDebt exports the value returned by fn as a gauge on every scrape.
func (m *Metrics) ObserveTotalDebt(fn func() float64) error {
	if m == nil {
		return nil
	}
	_, err := m.meter.Float64ObservableGauge(
		"arg_total_debt",
		metric.WithDescription("Outstanding stablecoin debt including accrued interest"),
		metric.WithFloat64Callback(func(_ context.Context, o metric.Float64Observer) error {
			o.Observe(fn())
			return nil
		}),
	)
	return err
}

func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", status),
	)

	m.HTTPRequests.Add(ctx, 1, labels)
	m.HTTPDuration.Record(ctx, duration.Seconds(), labels)
}

// RecordAction counts a protocol action; result is "ok" or an error code.
func (m *Metrics) RecordAction(ctx context.Context, action, result string) {
	if m == nil {
		return
	}
	m.Actions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("result", result),
	))
}

func (m *Metrics) RecordLiquidation(ctx context.Context, source string) {
	if m == nil {
		return
	}
	m.Liquidations.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

func (m *Metrics) RecordKeeperScan(ctx context.Context, eligible int) {
	if m == nil {
		return
	}
	m.KeeperScans.Add(ctx, 1, metric.WithAttributes(attribute.Bool("found", eligible > 0)))
}

func (m *Metrics) RecordCacheHit(ctx context.Context, key string) {
	if m == nil {
		return
	}
	m.CacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("key", key)))
}

func (m *Metrics) RecordCacheMiss(ctx context.Context, key string) {
	if m == nil {
		return
	}
	m.CacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("key", key)))
}

func (m *Metrics) IncrementConnections(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveConnections.Add(ctx, 1)
}

func (m *Metrics) DecrementConnections(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveConnections.Add(ctx, -1)
}
