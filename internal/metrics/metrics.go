// Package metrics builds the process-wide OpenTelemetry MeterProvider and
// registers the gateway's counters/histograms on it. Grounded on the shape
// cmd/axonhub/main.go wires up (metrics.NewProvider feeding an
// *sdk.MeterProvider, then metrics.SetupMetrics(provider, name) to register
// instruments against it) even though that metrics package itself wasn't
// part of the retrieved example set — see DESIGN.md.
package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Exporter selects where collected metric points are pushed.
type Exporter string

const (
	ExporterNone   Exporter = "none"
	ExporterStdout Exporter = "stdout"
	ExporterOTLP   Exporter = "otlp"
)

// NewProvider builds the MeterProvider for serviceName. It returns a nil
// provider (not an error) when exporter is ExporterNone or unset, so callers
// can treat metrics as fully optional the same way they treat ObjectStore.
func NewProvider(ctx context.Context, exporter Exporter, serviceName string) (*sdkmetric.MeterProvider, error) {
	var reader sdkmetric.Reader

	switch exporter {
	case ExporterNone, "":
		return nil, nil
	case ExporterStdout:
		exp, err := stdoutmetric.New()
		if err != nil {
			return nil, err
		}

		reader = sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(15*time.Second))
	case ExporterOTLP:
		exp, err := otlpmetricgrpc.New(ctx)
		if err != nil {
			return nil, err
		}

		reader = sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(15*time.Second))
	default:
		return nil, fmt.Errorf("unknown metrics exporter %q", exporter)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, err
	}

	return sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res)), nil
}

// Recorder holds the instruments inference/evaluation record against. A nil
// *Recorder is safe to call methods on (they become no-ops), matching the
// rest of the gateway's "optional component" convention.
type Recorder struct {
	inferenceTotal    metric.Int64Counter
	inferenceDuration metric.Float64Histogram
	evaluationTotal   metric.Int64Counter
	cacheTotal        metric.Int64Counter
}

// SetupMetrics registers the gateway's instruments against provider under
// serviceName and returns the Recorder components should record through. If
// provider is nil (metrics disabled), it returns a nil *Recorder.
func SetupMetrics(provider *sdkmetric.MeterProvider, serviceName string) (*Recorder, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(serviceName)

	inferenceTotal, err := meter.Int64Counter("tensorzero.inference.count",
		metric.WithDescription("Number of inference requests processed, by function/model/status."))
	if err != nil {
		return nil, err
	}

	inferenceDuration, err := meter.Float64Histogram("tensorzero.inference.duration",
		metric.WithDescription("Inference request latency in seconds."),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	evaluationTotal, err := meter.Int64Counter("tensorzero.evaluation.count",
		metric.WithDescription("Number of evaluation datapoints scored, by evaluator/status."))
	if err != nil {
		return nil, err
	}

	cacheTotal, err := meter.Int64Counter("tensorzero.cache.count",
		metric.WithDescription("Number of cache-eligible inference lookups, by hit/miss."))
	if err != nil {
		return nil, err
	}

	return &Recorder{
		inferenceTotal:    inferenceTotal,
		inferenceDuration: inferenceDuration,
		evaluationTotal:   evaluationTotal,
		cacheTotal:        cacheTotal,
	}, nil
}

// RecordInference records one inference request's outcome and end-to-end
// latency.
func (r *Recorder) RecordInference(ctx context.Context, functionName, modelName string, dur time.Duration, err error) {
	if r == nil {
		return
	}

	status := "ok"
	if err != nil {
		status = "error"
	}

	set := attribute.NewSet(
		attribute.String("function_name", functionName),
		attribute.String("model_name", modelName),
		attribute.String("status", status),
	)

	r.inferenceTotal.Add(ctx, 1, metric.WithAttributeSet(set))
	r.inferenceDuration.Record(ctx, dur.Seconds(), metric.WithAttributeSet(set))
}

// RecordEvaluation records one evaluation datapoint's scoring outcome.
func (r *Recorder) RecordEvaluation(ctx context.Context, evaluatorName string, err error) {
	if r == nil {
		return
	}

	status := "ok"
	if err != nil {
		status = "error"
	}

	r.evaluationTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("evaluator_name", evaluatorName),
		attribute.String("status", status),
	))
}

// RecordCache records one cache-eligible lookup's hit/miss outcome.
func (r *Recorder) RecordCache(ctx context.Context, hit bool) {
	if r == nil {
		return
	}

	result := "miss"
	if hit {
		result = "hit"
	}

	r.cacheTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
