package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// TracerName — имя tracer'а для всех спанов платформы.
const TracerName = "ratingflow"

// Ключи атрибутов спанов.
const (
	AttrTransactionID = attribute.Key("rating.transaction.id")
	AttrCorrelationID = attribute.Key("rating.correlation.id")
	AttrProductLine   = attribute.Key("rating.product_line")
	AttrEndpoint      = attribute.Key("rating.endpoint")
	AttrStepID        = attribute.Key("rating.step.id")
	AttrStepName      = attribute.Key("rating.step.name")
	AttrStepType      = attribute.Key("rating.step.type")
	AttrStatus        = attribute.Key("rating.status")
	AttrIteration     = attribute.Key("rating.iteration")
)

// ShutdownFunc завершает экспорт спанов.
type ShutdownFunc func(context.Context) error

// SetupTracing настраивает OTLP/HTTP экспорт, если enabled.
// При выключенной трассировке остаётся no-op провайдер по умолчанию.
// Адрес коллектора берётся из стандартных OTEL_EXPORTER_OTLP_* переменных.
func SetupTracing(ctx context.Context, enabled bool, serviceName string) (ShutdownFunc, error) {
	if !enabled {
		return func(context.Context) error { return nil }, nil
	}

	r, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(r),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}))

	return tp.Shutdown, nil
}

// Tracer возвращает tracer платформы из глобального провайдера.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}

// StartSpan открывает спан с атрибутами.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// SetSpanError помечает спан ошибкой.
func SetSpanError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
}
