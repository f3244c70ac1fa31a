// Package otelx provides OpenTelemetry metrics and tracing integration for watchdogd.
package otelx

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// MetricsConfig holds configuration for the OpenTelemetry metrics.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active. Default: false (no-op).
	Enabled bool

	// ServiceName is the name of the service for metric attribution.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// ExporterType specifies which exporter to use.
	ExporterType ExporterType

	// OTLPEndpoint is the endpoint for OTLP exporters (e.g., "localhost:4317").
	OTLPEndpoint string

	// OTLPInsecure disables TLS for OTLP connections.
	OTLPInsecure bool

	// Attributes are additional attributes to add to all metrics.
	Attributes map[string]string
}

// DefaultMetricsConfig returns a default configuration with metrics disabled.
func DefaultMetricsConfig() *MetricsConfig {
	return &MetricsConfig{
		Enabled:      false,
		ServiceName:  "watchdogd",
		ExporterType: ExporterNone,
	}
}

// stateIndex maps a workload run state to a stable gauge value.
var stateIndex = map[string]int64{
	"offline":  0,
	"starting": 1,
	"online":   2,
	"stopping": 3,
}

// Metrics wraps OpenTelemetry metrics functionality with watchdogd-specific helpers.
type Metrics struct {
	config           *MetricsConfig
	meterProvider    *sdkmetric.MeterProvider
	meter            metric.Meter
	shutdown         func(context.Context) error
	mu               sync.RWMutex
	currentState     atomic.Int64
	stateCallback    metric.Int64ObservableGauge
	stateCallbackReg metric.Registration

	// Metric instruments
	commandCounter      metric.Int64Counter
	transitionCounter   metric.Int64Counter
	pollLatency         metric.Float64Histogram
	runtimeErrorCounter metric.Int64Counter
	notifyCounter       metric.Int64Counter
}

// globalMetrics is the singleton metrics instance.
var (
	globalMetrics   *Metrics
	globalMetricsMu sync.RWMutex
)

// NewMetrics creates a new Metrics instance with the given configuration.
func NewMetrics(ctx context.Context, cfg *MetricsConfig) (*Metrics, error) {
	if cfg == nil {
		cfg = DefaultMetricsConfig()
	}

	m := &Metrics{
		config: cfg,
	}

	if !cfg.Enabled || cfg.ExporterType == ExporterNone {
		// Use no-op meter when disabled
		m.meterProvider = sdkmetric.NewMeterProvider()
		m.meter = m.meterProvider.Meter(cfg.ServiceName)
		m.shutdown = func(context.Context) error { return nil }
		return m, nil
	}

	exporter, err := m.createExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics exporter: %w", err)
	}

	res, err := m.createResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics resource: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)

	m.meterProvider = mp
	m.meter = mp.Meter(cfg.ServiceName)
	m.shutdown = mp.Shutdown

	if err := m.registerInstruments(); err != nil {
		return nil, fmt.Errorf("failed to register metric instruments: %w", err)
	}

	return m, nil
}

// createExporter creates the appropriate metrics exporter based on configuration.
func (m *Metrics) createExporter(ctx context.Context, cfg *MetricsConfig) (sdkmetric.Exporter, error) {
	switch cfg.ExporterType {
	case ExporterStdout:
		return stdoutmetric.New()

	case ExporterOTLPGRPC:
		opts := []otlpmetricgrpc.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		return otlpmetricgrpc.New(ctx, opts...)

	case ExporterOTLPHTTP:
		opts := []otlpmetrichttp.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		return otlpmetrichttp.New(ctx, opts...)

	default:
		return nil, fmt.Errorf("unknown exporter type: %s", cfg.ExporterType)
	}
}

// createResource creates the OpenTelemetry resource with service information.
func (m *Metrics) createResource(cfg *MetricsConfig) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
	}

	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}

	for k, v := range cfg.Attributes {
		attrs = append(attrs, attribute.String(k, v))
	}

	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes("", attrs...),
	)
}

// registerInstruments creates and registers all metric instruments.
func (m *Metrics) registerInstruments() error {
	var err error

	m.commandCounter, err = m.meter.Int64Counter(
		"watchdogd.commands",
		metric.WithDescription("Count of handled lifecycle commands"),
	)
	if err != nil {
		return fmt.Errorf("failed to create command counter: %w", err)
	}

	m.transitionCounter, err = m.meter.Int64Counter(
		"watchdogd.transitions",
		metric.WithDescription("Count of workload state transitions"),
	)
	if err != nil {
		return fmt.Errorf("failed to create transition counter: %w", err)
	}

	m.pollLatency, err = m.meter.Float64Histogram(
		"watchdogd.poll.latency",
		metric.WithDescription("Latency of runtime inspect calls"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return fmt.Errorf("failed to create poll latency histogram: %w", err)
	}

	m.runtimeErrorCounter, err = m.meter.Int64Counter(
		"watchdogd.runtime.errors",
		metric.WithDescription("Count of runtime operation failures by operation"),
	)
	if err != nil {
		return fmt.Errorf("failed to create runtime error counter: %w", err)
	}

	m.notifyCounter, err = m.meter.Int64Counter(
		"watchdogd.notifications",
		metric.WithDescription("Count of notification deliveries by outcome"),
	)
	if err != nil {
		return fmt.Errorf("failed to create notification counter: %w", err)
	}

	m.stateCallback, err = m.meter.Int64ObservableGauge(
		"watchdogd.state",
		metric.WithDescription("Current workload run state index"),
	)
	if err != nil {
		return fmt.Errorf("failed to create state gauge: %w", err)
	}

	m.stateCallbackReg, err = m.meter.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(m.stateCallback, m.currentState.Load())
			return nil
		},
		m.stateCallback,
	)
	if err != nil {
		return fmt.Errorf("failed to register state gauge callback: %w", err)
	}

	return nil
}

// RecordCommand records a handled lifecycle command.
func (m *Metrics) RecordCommand(ctx context.Context, command string) {
	if m.commandCounter == nil {
		return
	}

	m.commandCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("command", command),
	))
}

// RecordTransition records a workload state transition.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	if m.transitionCounter == nil {
		return
	}

	m.transitionCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// RecordPollLatency records the latency of a runtime inspect call.
func (m *Metrics) RecordPollLatency(ctx context.Context, latencyMs float64, success bool) {
	if m.pollLatency == nil {
		return
	}

	m.pollLatency.Record(ctx, latencyMs, metric.WithAttributes(
		attribute.Bool("success", success),
	))
}

// RecordRuntimeError records a failed runtime operation.
func (m *Metrics) RecordRuntimeError(ctx context.Context, operation string) {
	if m.runtimeErrorCounter == nil {
		return
	}

	m.runtimeErrorCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}

// RecordNotification records a notification delivery attempt.
func (m *Metrics) RecordNotification(ctx context.Context, success bool) {
	if m.notifyCounter == nil {
		return
	}

	m.notifyCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("success", success),
	))
}

// SetWorkloadState sets the current run state for the observable gauge.
// This is thread-safe and will be read by the gauge callback.
func (m *Metrics) SetWorkloadState(state string) {
	m.currentState.Store(stateIndex[state])
}

// Shutdown gracefully shuts down the metrics provider, flushing any pending metrics.
func (m *Metrics) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stateCallbackReg != nil {
		if err := m.stateCallbackReg.Unregister(); err != nil {
			return fmt.Errorf("failed to unregister state callback: %w", err)
		}
	}

	if m.shutdown != nil {
		return m.shutdown(ctx)
	}
	return nil
}

// Enabled returns whether metrics collection is enabled.
func (m *Metrics) Enabled() bool {
	return m.config.Enabled && m.config.ExporterType != ExporterNone
}

// MeterProvider returns the underlying meter provider.
func (m *Metrics) MeterProvider() *sdkmetric.MeterProvider {
	return m.meterProvider
}

// SetGlobalMetrics sets the global metrics instance.
func SetGlobalMetrics(m *Metrics) {
	globalMetricsMu.Lock()
	defer globalMetricsMu.Unlock()
	globalMetrics = m

	if m != nil && m.Enabled() {
		otel.SetMeterProvider(m.meterProvider)
	}
}

// GetGlobalMetrics returns the global metrics instance.
// Returns a no-op metrics instance if none has been set.
func GetGlobalMetrics() *Metrics {
	globalMetricsMu.RLock()
	defer globalMetricsMu.RUnlock()

	if globalMetrics == nil {
		cfg := DefaultMetricsConfig()
		m := &Metrics{
			config:        cfg,
			meterProvider: sdkmetric.NewMeterProvider(),
			shutdown:      func(context.Context) error { return nil },
		}
		m.meter = m.meterProvider.Meter(cfg.ServiceName)
		return m
	}

	return globalMetrics
}

// NoopMetrics returns a metrics instance that does nothing (for testing or when disabled).
func NoopMetrics() *Metrics {
	cfg := DefaultMetricsConfig()
	mp := sdkmetric.NewMeterProvider()
	return &Metrics{
		config:        cfg,
		meterProvider: mp,
		meter:         mp.Meter(cfg.ServiceName),
		shutdown:      func(context.Context) error { return nil },
	}
}

// Package-level helpers recording against the global instance. Components
// call these so instrumentation stays a one-liner at call sites.

// RecordCommand records a handled lifecycle command on the global instance.
func RecordCommand(ctx context.Context, command string) {
	GetGlobalMetrics().RecordCommand(ctx, command)
}

// RecordTransition records a state transition on the global instance.
func RecordTransition(ctx context.Context, from, to string) {
	GetGlobalMetrics().RecordTransition(ctx, from, to)
}

// RecordPollLatency records an inspect latency on the global instance.
func RecordPollLatency(ctx context.Context, latencyMs float64, success bool) {
	GetGlobalMetrics().RecordPollLatency(ctx, latencyMs, success)
}

// RecordRuntimeError records a runtime failure on the global instance.
func RecordRuntimeError(ctx context.Context, operation string) {
	GetGlobalMetrics().RecordRuntimeError(ctx, operation)
}

// RecordNotification records a delivery attempt on the global instance.
func RecordNotification(ctx context.Context, success bool) {
	GetGlobalMetrics().RecordNotification(ctx, success)
}

// SetWorkloadState sets the current run state on the global instance.
func SetWorkloadState(state string) {
	GetGlobalMetrics().SetWorkloadState(state)
}
