package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

var errUnknownExporter = errors.New("unknown telemetry exporter")

type telemetryOptions struct {
	// Exporter is "none", "stdout" or "otlp". otlp only exports traces.
	Exporter       string
	OTLPEndpoint   string
	OTLPInsecure   bool
	MetricInterval time.Duration
	ServiceName    string
}

// telemetry owns the providers created for one serve run. Nil providers mean
// the feature is off.
type telemetry struct {
	tracer *sdktrace.TracerProvider
	meter  *sdkmetric.MeterProvider
}

func setupTelemetry(ctx context.Context, opts telemetryOptions) (*telemetry, error) {
	t := &telemetry{}
	if opts.Exporter == "" || opts.Exporter == "none" {
		return t, nil
	}

	res := resource.NewSchemaless(attribute.String("service.name", opts.ServiceName))

	var (
		spans sdktrace.SpanExporter
		err   error
	)
	switch opts.Exporter {
	case "stdout":
		spans, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "otlp":
		grpcOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(opts.OTLPEndpoint)}
		if opts.OTLPInsecure {
			grpcOpts = append(grpcOpts, otlptracegrpc.WithInsecure())
		}
		spans, err = otlptracegrpc.New(ctx, grpcOpts...)
	default:
		return nil, fmt.Errorf("%w: %s", errUnknownExporter, opts.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("create span exporter: %w", err)
	}
	t.tracer = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(spans),
		sdktrace.WithResource(res),
	)

	if opts.Exporter == "stdout" {
		metrics, err := stdoutmetric.New(stdoutmetric.WithPrettyPrint())
		if err != nil {
			_ = t.tracer.Shutdown(ctx)
			return nil, fmt.Errorf("create metric exporter: %w", err)
		}
		interval := opts.MetricInterval
		if interval <= 0 {
			interval = time.Minute
		}
		t.meter = sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metrics, sdkmetric.WithInterval(interval))),
			sdkmetric.WithResource(res),
		)
	}
	return t, nil
}

// Shutdown flushes and stops both providers.
func (t *telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if t.meter != nil {
		errs = append(errs, t.meter.Shutdown(ctx))
	}
	if t.tracer != nil {
		errs = append(errs, t.tracer.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
