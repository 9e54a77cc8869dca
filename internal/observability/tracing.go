// Package observability wires OpenTelemetry tracing around acquire,
// dispatch, and release, exporting spans over OTLP/HTTP.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// Config controls how invocation spans are exported.
type Config struct {
	Enabled     bool
	Endpoint    string // host:port, e.g. localhost:4318
	ServiceName string
	SampleRate  float64 // 0.0-1.0; ignored when Enabled is false
}

type provider struct {
	tp      *sdktrace.TracerProvider
	tracer  trace.Tracer
	enabled bool
}

var global = &provider{enabled: false, tracer: trace.NewNoopTracerProvider().Tracer("")}

// Init installs the global tracer provider. When cfg.Enabled is false it
// installs a no-op tracer so call sites never need to branch on Enabled().
func Init(ctx context.Context, cfg Config) error {
	if !cfg.Enabled {
		global = &provider{enabled: false, tracer: trace.NewNoopTracerProvider().Tracer("")}
		return nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion("1.0.0"),
		),
	)
	if err != nil {
		return fmt.Errorf("create resource: %w", err)
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return fmt.Errorf("create OTLP exporter: %w", err)
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRate < 1.0 && cfg.SampleRate >= 0 {
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	global = &provider{tp: tp, tracer: tp.Tracer(cfg.ServiceName), enabled: true}
	return nil
}

// Shutdown flushes and stops the exporter, if one was started.
func Shutdown(ctx context.Context) error {
	if global.tp == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return global.tp.Shutdown(ctx)
}

// Tracer returns the global tracer.
func Tracer() trace.Tracer {
	return global.tracer
}

// Enabled reports whether tracing is actively exporting.
func Enabled() bool {
	return global.enabled
}

// StartInvokeSpan opens the "capsule.invoke" span carrying invocation
// attributes, returning the derived context and span.
func StartInvokeSpan(ctx context.Context, functionRef, profileFingerprint string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "capsule.invoke", trace.WithAttributes(
		attribute.String("capsule.function_ref", functionRef),
		attribute.String("capsule.profile_fingerprint", profileFingerprint),
	))
}

// AnnotateResult records whether the call was a cold start and its final
// error kind (empty on success) on an in-flight span.
func AnnotateResult(span trace.Span, coldStart bool, errKind string) {
	span.SetAttributes(attribute.Bool("capsule.cold_start", coldStart))
	if errKind != "" {
		span.SetAttributes(attribute.String("capsule.error_kind", errKind))
	}
}
