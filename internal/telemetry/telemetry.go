package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	otelruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry holds all telemetry instruments and providers.
type Telemetry struct {
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	loggerProvider *sdklog.LoggerProvider
	serviceName    string
	tracer         trace.Tracer
	meter          metric.Meter
	gatherer       prom.Gatherer

	// RED Metrics (Rate, Errors, Duration)
	httpRequestsTotal    metric.Int64Counter
	httpRequestDuration  metric.Float64Histogram
	httpRequestsInFlight metric.Int64UpDownCounter

	// Business Metrics
	jobsTotal             metric.Int64Counter
	jobDuration           metric.Float64Histogram
	filesTotal            metric.Int64Counter
	filesActive           metric.Int64UpDownCounter
	fileDuration          metric.Float64Histogram
	bytesTransferred      metric.Int64Counter
	clientOperationsTotal metric.Int64Counter
	clientErrors          metric.Int64Counter

	systemErrors metric.Int64Counter
}

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string

	// OTLPEndpoint, when set, pushes metrics and logs over OTLP/gRPC in
	// addition to the Prometheus endpoint.
	OTLPEndpoint string

	// Registry receives the Prometheus collector. Defaults to the global registry.
	Registry *prom.Registry
}

// New creates a new telemetry instance. A disabled instance is safe to use and
// records nothing.
func New(ctx context.Context, cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		return &Telemetry{}, nil
	}

	var (
		registerer prom.Registerer = prom.DefaultRegisterer
		gatherer   prom.Gatherer   = prom.DefaultGatherer
	)

	if cfg.Registry != nil {
		registerer, gatherer = cfg.Registry, cfg.Registry
	}

	exporter, err := prometheus.New(prometheus.WithRegisterer(registerer))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	readers := []sdkmetric.Option{sdkmetric.WithReader(exporter)}

	if cfg.OTLPEndpoint != "" {
		otlpExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp exporter: %w", err)
		}

		readers = append(readers, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(otlpExporter)))
	}

	var loggerProvider *sdklog.LoggerProvider

	if cfg.OTLPEndpoint != "" {
		logExporter, err := otlploggrpc.New(ctx,
			otlploggrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlploggrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create otlp log exporter: %w", err)
		}

		loggerProvider = sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)))
	}

	meterProvider := sdkmetric.NewMeterProvider(readers...)
	tracerProvider := sdktrace.NewTracerProvider()

	otel.SetMeterProvider(meterProvider)
	otel.SetTracerProvider(tracerProvider)

	t := &Telemetry{
		meterProvider:  meterProvider,
		tracerProvider: tracerProvider,
		loggerProvider: loggerProvider,
		serviceName:    cfg.ServiceName,
		tracer:         tracerProvider.Tracer(cfg.ServiceName, trace.WithInstrumentationVersion(cfg.ServiceVersion)),
		meter:          meterProvider.Meter(cfg.ServiceName, metric.WithInstrumentationVersion(cfg.ServiceVersion)),
		gatherer:       gatherer,
	}

	if err := t.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	// Go runtime metrics (memory, goroutines, GC) from the contrib instrumentation.
	if err := otelruntime.Start(otelruntime.WithMeterProvider(meterProvider)); err != nil {
		return nil, fmt.Errorf("failed to start runtime instrumentation: %w", err)
	}

	return t, nil
}

// Tracer returns the OpenTelemetry tracer.
func (t *Telemetry) Tracer() trace.Tracer {
	if t == nil || t.tracer == nil {
		return otel.Tracer("ftpmirror")
	}

	return t.tracer
}

// RecordHTTPRequest records HTTP request metrics.
func (t *Telemetry) RecordHTTPRequest(ctx context.Context, method, route, status string, duration time.Duration) {
	if t == nil || t.httpRequestsTotal == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.String("status", status),
	)

	t.httpRequestsTotal.Add(ctx, 1, attrs)
	t.httpRequestDuration.Record(ctx, duration.Seconds(), attrs)
}

// AddHTTPInFlight adjusts the in-flight HTTP request gauge.
func (t *Telemetry) AddHTTPInFlight(ctx context.Context, delta int64) {
	if t != nil && t.httpRequestsInFlight != nil {
		t.httpRequestsInFlight.Add(ctx, delta)
	}
}

// RecordJob records the result of one mirror job.
func (t *Telemetry) RecordJob(ctx context.Context, status string, duration time.Duration) {
	if t == nil || t.jobsTotal == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("status", status))

	t.jobsTotal.Add(ctx, 1, attrs)
	t.jobDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordFile records the outcome of one file transfer.
func (t *Telemetry) RecordFile(ctx context.Context, status string, bytes int64, duration time.Duration) {
	if t == nil || t.filesTotal == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("status", status))

	t.filesTotal.Add(ctx, 1, attrs)
	t.fileDuration.Record(ctx, duration.Seconds(), attrs)

	if bytes > 0 {
		t.bytesTransferred.Add(ctx, bytes)
	}
}

// RecordClientOperation records source/destination client operation metrics.
func (t *Telemetry) RecordClientOperation(ctx context.Context, client, operation, status string) {
	if t == nil || t.clientOperationsTotal == nil {
		return
	}

	t.clientOperationsTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("client", client),
			attribute.String("operation", operation),
			attribute.String("status", status),
		),
	)

	if status == "error" {
		t.clientErrors.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("client", client),
				attribute.String("operation", operation),
			),
		)
	}
}

// RecordSystemError records system error metrics.
func (t *Telemetry) RecordSystemError(ctx context.Context, component, errorType string) {
	if t != nil && t.systemErrors != nil {
		t.systemErrors.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("component", component),
				attribute.String("error_type", errorType),
			),
		)
	}
}

// Handler returns the HTTP handler for the metrics endpoint.
func (t *Telemetry) Handler() http.Handler {
	if t == nil || t.gatherer == nil {
		return http.NotFoundHandler()
	}

	return promhttp.HandlerFor(t.gatherer, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil || t.meterProvider == nil {
		return nil
	}

	errs := []error{
		t.meterProvider.Shutdown(ctx),
		t.tracerProvider.Shutdown(ctx),
	}

	if t.loggerProvider != nil {
		errs = append(errs, t.loggerProvider.Shutdown(ctx))
	}

	return errors.Join(errs...)
}

// LogHandler returns a slog handler exporting records over OTLP, or nil when
// no OTLP endpoint is configured.
func (t *Telemetry) LogHandler() slog.Handler {
	if t == nil || t.loggerProvider == nil {
		return nil
	}

	return otelslog.NewHandler(t.serviceName, otelslog.WithLoggerProvider(t.loggerProvider))
}

func (t *Telemetry) initializeMetrics() error {
	if err := t.initializeREDMetrics(); err != nil {
		return err
	}

	return t.initializeBusinessMetrics()
}

func (t *Telemetry) initializeREDMetrics() error {
	var err error

	t.httpRequestsTotal, err = t.meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	t.httpRequestDuration, err = t.meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create http_request_duration histogram: %w", err)
	}

	t.httpRequestsInFlight, err = t.meter.Int64UpDownCounter(
		"http_requests_in_flight",
		metric.WithDescription("Number of HTTP requests currently being processed"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create http_requests_in_flight counter: %w", err)
	}

	return nil
}

func (t *Telemetry) initializeBusinessMetrics() error {
	var err error

	t.jobsTotal, err = t.meter.Int64Counter(
		"mirror_jobs_total",
		metric.WithDescription("Total number of mirror jobs by final status"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create mirror_jobs_total counter: %w", err)
	}

	t.jobDuration, err = t.meter.Float64Histogram(
		"mirror_job_duration_seconds",
		metric.WithDescription("Mirror job duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create mirror_job_duration histogram: %w", err)
	}

	t.filesTotal, err = t.meter.Int64Counter(
		"mirror_files_total",
		metric.WithDescription("Total number of mirrored files by outcome"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create mirror_files_total counter: %w", err)
	}

	t.filesActive, err = t.meter.Int64UpDownCounter(
		"mirror_files_active",
		metric.WithDescription("Number of files currently being transferred"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create mirror_files_active counter: %w", err)
	}

	t.fileDuration, err = t.meter.Float64Histogram(
		"mirror_file_duration_seconds",
		metric.WithDescription("Per-file fetch and upload duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("failed to create mirror_file_duration histogram: %w", err)
	}

	t.bytesTransferred, err = t.meter.Int64Counter(
		"mirror_bytes_total",
		metric.WithDescription("Total bytes uploaded to the destination"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return fmt.Errorf("failed to create mirror_bytes_total counter: %w", err)
	}

	t.clientOperationsTotal, err = t.meter.Int64Counter(
		"client_operations_total",
		metric.WithDescription("Total number of source and destination client operations"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create client_operations_total counter: %w", err)
	}

	t.clientErrors, err = t.meter.Int64Counter(
		"client_errors_total",
		metric.WithDescription("Total number of source and destination client errors"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create client_errors counter: %w", err)
	}

	t.systemErrors, err = t.meter.Int64Counter(
		"system_errors_total",
		metric.WithDescription("Total number of system errors"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create system_errors counter: %w", err)
	}

	return nil
}
