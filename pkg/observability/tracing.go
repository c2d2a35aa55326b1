package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// TracingConfig configures the OTLP trace exporter
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Environment string
	Endpoint    string
}

// InitTracing sets up the global OpenTelemetry tracer provider with a gRPC
// OTLP exporter. When tracing is disabled the global provider stays the
// default noop and the returned cleanup does nothing.
func InitTracing(cfg TracingConfig, logger Logger) (func(), error) {
	if !cfg.Enabled {
		return func() {}, nil
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = "code-search"
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}

	ctx := context.Background()

	conn, err := grpc.NewClient(cfg.Endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection to collector: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(traceExporter)),
	)

	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("tracing initialized", map[string]interface{}{
		"service_name": cfg.ServiceName,
		"environment":  cfg.Environment,
		"endpoint":     cfg.Endpoint,
	})

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracerProvider.Shutdown(ctx); err != nil {
			logger.Warn("tracer provider shutdown failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}, nil
}

// Tracer returns a named tracer from the global provider. Before
// InitTracing (or with tracing disabled) this is a noop tracer.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
