// Package opentelemetry sets up tracing export to an OTLP collector.
package opentelemetry

import (
	"context"

	"github.com/LambdaTest/janitor/config"
	"github.com/LambdaTest/janitor/pkg/constants"
	"github.com/LambdaTest/janitor/pkg/lumber"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// InitTracer installs a global tracer provider exporting to cfg.Tracing.OtelEndpoint
// and returns the function flushing and stopping it. Tracing stays a no-op when
// the exporter cannot be created.
func InitTracer(ctx context.Context, cfg *config.Config, logger lumber.Logger) func(context.Context) error {
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithEndpoint(cfg.Tracing.OtelEndpoint),
	)
	if err != nil {
		logger.Errorf("failed to create otlp trace exporter, error: %v", err)
		return func(context.Context) error { return nil }
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", constants.ServiceName),
			attribute.String("service.version", constants.BinaryVersion),
			attribute.String("deployment.environment", cfg.Env),
		),
	)
	if err != nil {
		logger.Errorf("failed to create trace resource, error: %v", err)
		return exporter.Shutdown
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	logger.Infof("Tracing enabled, exporting to %s", cfg.Tracing.OtelEndpoint)
	return provider.Shutdown
}
