// Copyright (c) 2024 Kata Containers contributors
//
// SPDX-License-Identifier: Apache-2.0
//

// Package tracing wires dispatch and routing-commit boundaries
// (pkg/iomanager, pkg/irqrouting) to OpenTelemetry. Tracing is off by
// default: until SetTracing(true) and CreateTracer are called, every Trace
// call returns a span from the global no-op provider, so instrumented call
// sites cost a cheap no-op rather than a conditional.
//
// Every call site in this module opens its span from context.Background()
// -- neither a guest I/O dispatch nor a routing-table commit has an
// outer request-scoped context to parent a span to -- so, unlike the
// teacher's per-container/per-sandbox spans, Trace has no caller-supplied
// parent to validate and does not need a nil-context guard.
package tracing

import (
	"context"
	"encoding/json"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	otelTrace "go.opentelemetry.io/otel/trace"
)

var traceLogger = logrus.WithField("subsystem", "tracing")

// SetLogger overrides the package logger, preserving any fields already set
// on it.
func SetLogger(logger *logrus.Entry) {
	fields := traceLogger.Data
	traceLogger = logger.WithFields(fields)
}

// tracing determines whether spans are actually exported anywhere, or just
// created against the no-op provider.
var tracing bool

// SetTracing turns tracing on or off. Called once from the VMM's
// configuration loading path, mirroring the way pkg/metrics.NewCollector
// is constructed once at startup and threaded down.
func SetTracing(isTracing bool) {
	tracing = isTracing
}

// JaegerConfig holds the Jaeger collector settings CreateTracer needs.
type JaegerConfig struct {
	JaegerEndpoint string
	JaegerUser     string
	JaegerPassword string
}

// fanoutExporter reports every span to each of its members, aggregating
// any export/shutdown failures with go-multierror rather than stopping at
// the first one -- the same "don't lose a failure because another
// collaborator also failed" idiom pkg/iomanager and pkg/irq use for
// best-effort multi-step operations. This replaces two separate
// sdktrace.WithSyncer registrations with one: the provider sees a single
// exporter and CreateTracer can grow a third destination (e.g. a metrics
// exporter) without touching the provider construction call.
type fanoutExporter []sdktrace.SpanExporter

var _ sdktrace.SpanExporter = (fanoutExporter)(nil)

func (f fanoutExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	var result *multierror.Error
	for _, exporter := range f {
		if err := exporter.ExportSpans(ctx, spans); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (f fanoutExporter) Shutdown(ctx context.Context) error {
	var result *multierror.Error
	for _, exporter := range f {
		if err := exporter.Shutdown(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// logSpanExporter reports every exported span to traceLogger -- useful for
// confirming a span was actually produced without standing up a Jaeger
// collector. It is one member of the fanoutExporter CreateTracer builds,
// not a hardcoded second destination.
type logSpanExporter struct{}

func (logSpanExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, span := range spans {
		traceLogger.Tracef("reporting span %+v", span)
	}
	return nil
}

func (logSpanExporter) Shutdown(context.Context) error { return nil }

// tp is the provider created by CreateTracer and torn down by Shutdown.
var tp *sdktrace.TracerProvider

// CreateTracer installs name as the otel service name and returns the
// resulting provider. When tracing is disabled it installs the global
// no-op provider instead and returns (nil, nil) -- callers only need to
// hold onto the returned provider to Shutdown it later.
func CreateTracer(name string, config *JaegerConfig) (*sdktrace.TracerProvider, error) {
	if !tracing {
		otel.SetTracerProvider(otelTrace.NewNoopTracerProvider())
		return nil, nil
	}

	collectorEndpoint := config.JaegerEndpoint
	if collectorEndpoint == "" {
		collectorEndpoint = "http://localhost:14268/api/traces"
	}

	jaegerExporter, err := jaeger.New(
		jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(collectorEndpoint),
			jaeger.WithUsername(config.JaegerUser),
			jaeger.WithPassword(config.JaegerPassword),
		),
	)
	if err != nil {
		return nil, err
	}

	exporter := fanoutExporter{logSpanExporter{}, jaegerExporter}

	tp = sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithSyncer(exporter),
		sdktrace.WithResource(resource.NewSchemaless(
			semconv.ServiceNameKey.String(name),
			attribute.String("exporter", "jaeger"),
			attribute.String("lib", "opentelemetry"),
		)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	return tp, nil
}

// Shutdown flushes and tears down the provider created by CreateTracer. A
// no-op if tracing was never enabled.
func Shutdown(ctx context.Context) {
	if !tracing || tp == nil {
		return
	}
	_ = tp.ForceFlush(ctx)
	_ = tp.Shutdown(ctx)
}

func spanAttributes(tags []map[string]string) []attribute.KeyValue {
	if !tracing {
		return nil
	}
	var attrs []attribute.KeyValue
	for _, tagSet := range tags {
		for k, v := range tagSet {
			attrs = append(attrs, attribute.Key(k).String(v))
		}
	}
	return attrs
}

// Trace starts a span named name as a child of ctx, recording tags as span
// attributes. Every call site in this module passes context.Background()
// (see the package doc comment), so Trace trusts its caller and always
// roots the span there rather than guarding against a nil parent.
func Trace(ctx context.Context, name string, tags ...map[string]string) (otelTrace.Span, context.Context) {
	tracer := otel.Tracer("vmm-io")
	newCtx, span := tracer.Start(ctx, name, otelTrace.WithAttributes(spanAttributes(tags)...))
	return span, newCtx
}

func addTag(span otelTrace.Span, key string, value interface{}) {
	if !tracing {
		return
	}
	if value == nil {
		span.SetAttributes(attribute.String(key, "nil"))
		return
	}

	switch value := value.(type) {
	case string:
		span.SetAttributes(attribute.String(key, value))
	case bool:
		span.SetAttributes(attribute.Bool(key, value))
	case int:
		span.SetAttributes(attribute.Int(key, value))
	case int64:
		span.SetAttributes(attribute.Int64(key, value))
	case float64:
		span.SetAttributes(attribute.Float64(key, value))
	default:
		content, err := json.Marshal(value)
		if err != nil {
			traceLogger.WithField("key", key).Error("span attribute value could not be marshalled")
			return
		}
		span.SetAttributes(attribute.String(key, string(content)))
	}
}

// AddTags attaches key-value pairs to span. keyValues must have an even
// length, alternating string keys and arbitrary values.
func AddTags(span otelTrace.Span, keyValues ...interface{}) {
	if !tracing {
		return
	}
	if len(keyValues) < 2 || len(keyValues)%2 != 0 {
		traceLogger.Error("AddTags requires an even, non-zero number of keyValues")
		return
	}
	for i := 0; i < len(keyValues); i += 2 {
		key, ok := keyValues[i].(string)
		if !ok {
			traceLogger.Error("AddTags key must be a string")
			continue
		}
		addTag(span, key, keyValues[i+1])
	}
}
