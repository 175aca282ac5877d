// Package obs wires OpenTelemetry tracing and Prometheus metrics around
// the pipeline: a span per ingest and finalize ("complete") call, plus counters for
// events emitted and repairs attempted (spec §6, observability).
//
// Grounded on the teacher's cmd/aleutian/internal/diagnostics/tracer.go
// for the TracerProvider-plus-finish-func shape, and
// services/orchestrator/observability/metrics.go for the promauto
// counter/gauge struct with Record*-style helper methods. Adapted from
// the teacher's OTLP/gRPC collector export (this module has no
// collector dependency) to the stdout trace exporter plus the OTel
// Prometheus metric bridge, so one registry backs both a /metrics
// endpoint and the OTel metrics API.
package obs

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "agentlyformat"

// Config controls provider construction. An empty Config is valid: spans
// are still created and can carry attributes/errors, they are simply
// never printed anywhere until PrintTraces is set (mirroring the
// teacher's FOSS-vs-Enterprise export toggle, minus the collector
// dependency).
type Config struct {
	ServiceName string
	PrintTraces bool
}

// Provider owns the process-wide tracer/meter providers and the
// Prometheus registry backing them. Call Shutdown once at process exit.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	Registry       *prometheus.Registry
	Metrics        *Metrics
	tracer         trace.Tracer
}

// New builds a Provider and installs it as the global OTel tracer/meter
// provider.
func New(cfg Config) (*Provider, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "agentlyformat"
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(semconv.ServiceNameKey.String(cfg.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("obs: build resource: %w", err)
	}

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.PrintTraces {
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
		if err != nil {
			return nil, fmt.Errorf("obs: build stdout trace exporter: %w", err)
		}
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)

	registry := prometheus.NewRegistry()
	reader, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("obs: build prometheus metric reader: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(reader))
	otel.SetMeterProvider(mp)

	metrics, err := newMetrics(registry, mp.Meter(tracerName))
	if err != nil {
		return nil, fmt.Errorf("obs: build metrics: %w", err)
	}

	return &Provider{
		tracerProvider: tp,
		meterProvider:  mp,
		Registry:       registry,
		Metrics:        metrics,
		tracer:         tp.Tracer(tracerName),
	}, nil
}

// Shutdown flushes and releases the tracer/meter providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if err := p.tracerProvider.Shutdown(ctx); err != nil {
		return err
	}
	return p.meterProvider.Shutdown(ctx)
}

// StartSpan begins a span named op (e.g. "ingest", "diff", "complete")
// scoped to sessionID. The returned finish func records err (if any) and
// ends the span, following the teacher's StartSpan/finish-func shape.
func (p *Provider) StartSpan(ctx context.Context, op, sessionID string) (context.Context, func(error)) {
	ctx, span := p.tracer.Start(ctx, "agentlyformat."+op,
		trace.WithAttributes(attribute.String("session_id", sessionID)),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}
