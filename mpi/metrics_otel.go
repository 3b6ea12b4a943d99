package mpi

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetricsOptions configures NewOTelMetrics.
type OTelMetricsOptions struct {
	MeterProvider          metric.MeterProvider
	Meter                  metric.Meter
	InstrumentationName    string
	InstrumentationVersion string
}

var _ MetricHook = (*OTelMetrics)(nil)

// OTelMetrics implements MetricHook using OpenTelemetry counters.
type OTelMetrics struct {
	meter            metric.Meter
	handleFreed      metric.Int64Counter
	requestCompleted metric.Int64Counter
	requestFailed    metric.Int64Counter
	callbackFailed   metric.Int64Counter
	fatalErrors      metric.Int64Counter
}

// NewOTelMetrics constructs a MetricHook that emits OpenTelemetry counter measurements.
func NewOTelMetrics(opts OTelMetricsOptions) (*OTelMetrics, error) {
	meter := opts.Meter
	if meter == nil {
		provider := opts.MeterProvider
		if provider == nil {
			provider = otel.GetMeterProvider()
		}
		name := opts.InstrumentationName
		if name == "" {
			name = "github.com/rocketbitz/mpi-go/mpi"
		}
		meter = provider.Meter(name, metric.WithInstrumentationVersion(opts.InstrumentationVersion))
	}

	handleFreed, err := meter.Int64Counter("mpi.handles.freed")
	if err != nil {
		return nil, err
	}
	requestCompleted, err := meter.Int64Counter("mpi.requests.completed")
	if err != nil {
		return nil, err
	}
	requestFailed, err := meter.Int64Counter("mpi.requests.failed")
	if err != nil {
		return nil, err
	}
	callbackFailed, err := meter.Int64Counter("mpi.attribute_callbacks.failed")
	if err != nil {
		return nil, err
	}
	fatalErrors, err := meter.Int64Counter("mpi.fatal_errors")
	if err != nil {
		return nil, err
	}

	return &OTelMetrics{
		meter:            meter,
		handleFreed:      handleFreed,
		requestCompleted: requestCompleted,
		requestFailed:    requestFailed,
		callbackFailed:   callbackFailed,
		fatalErrors:      fatalErrors,
	}, nil
}

// HandleFreed records a native handle released by its owner.
func (o *OTelMetrics) HandleFreed(attrs map[string]string) {
	o.handleFreed.Add(context.Background(), 1, metric.WithAttributes(otelAttrs(attrs, labelKind)...))
}

// RequestCompleted records a request that completed successfully.
func (o *OTelMetrics) RequestCompleted(attrs map[string]string) {
	o.requestCompleted.Add(context.Background(), 1, metric.WithAttributes(otelAttrs(attrs, labelOperation, labelStatus)...))
}

// RequestFailed records a request that completed with an error.
func (o *OTelMetrics) RequestFailed(_ error, attrs map[string]string) {
	o.requestFailed.Add(context.Background(), 1, metric.WithAttributes(otelAttrs(attrs, labelOperation, labelStatus)...))
}

// CallbackFailed records a failing attribute closure.
func (o *OTelMetrics) CallbackFailed(_ error, attrs map[string]string) {
	o.callbackFailed.Add(context.Background(), 1, metric.WithAttributes(otelAttrs(attrs, labelKind, labelOperation)...))
}

// FatalError records a fatal condition.
func (o *OTelMetrics) FatalError(_ error, attrs map[string]string) {
	o.fatalErrors.Add(context.Background(), 1, metric.WithAttributes(otelAttrs(attrs, labelOperation)...))
}

func otelAttrs(attrs map[string]string, keys ...string) []attribute.KeyValue {
	kvs := make([]attribute.KeyValue, 0, len(keys))
	for _, key := range keys {
		if v := attrs[key]; v != "" {
			kvs = append(kvs, attribute.String(key, v))
		}
	}
	return kvs
}
