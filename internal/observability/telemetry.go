// Package observability wires structured logging and OpenTelemetry metrics
// for the build pipeline: a Prometheus scrape endpoint always, an OTLP gRPC
// exporter when configured.
package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	meterName = "orion"

	defaultShutdownTimeout = 10 * time.Second
)

// Config selects logging and metric export behavior.
type Config struct {
	ServiceName    string
	ServiceVersion string

	LogLevel slog.Level
	LogJSON  bool

	// OTLPEndpoint enables a periodic OTLP gRPC metric exporter when set.
	OTLPEndpoint string
	OTLPInsecure bool
}

// Providers holds the initialized observability handles.
type Providers struct {
	// Meter is the named meter for creating instruments.
	Meter metric.Meter

	// Logger is the structured logger for the process.
	Logger *slog.Logger

	// MetricsHandler serves the Prometheus scrape endpoint.
	MetricsHandler http.Handler

	// Shutdown flushes pending telemetry. Must be called before exit.
	Shutdown func(ctx context.Context) error
}

// Init builds the logger and the meter provider. The Prometheus reader is
// always attached so a scrape endpoint can be served; the OTLP exporter is
// added only when an endpoint is configured.
func Init(cfg Config) (Providers, error) {
	res, err := buildResource(cfg)
	if err != nil {
		return Providers{}, err
	}

	handler, promReader, err := newPrometheusReader()
	if err != nil {
		return Providers{}, err
	}

	readers := []sdkmetric.Option{
		sdkmetric.WithReader(promReader),
		sdkmetric.WithResource(res),
	}

	if cfg.OTLPEndpoint != "" {
		exporter, exporterErr := buildOTLPExporter(cfg)
		if exporterErr != nil {
			return Providers{}, exporterErr
		}

		readers = append(readers, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)))
	}

	mp := sdkmetric.NewMeterProvider(readers...)
	otel.SetMeterProvider(mp)

	shutdown := func(ctx context.Context) error {
		deadlineCtx, cancel := context.WithTimeout(ctx, defaultShutdownTimeout)
		defer cancel()

		return mp.Shutdown(deadlineCtx)
	}

	return Providers{
		Meter:          mp.Meter(meterName),
		Logger:         buildLogger(cfg),
		MetricsHandler: handler,
		Shutdown:       shutdown,
	}, nil
}

func buildResource(cfg Config) (*resource.Resource, error) {
	opts := []resource.Option{
		resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)),
	}

	if cfg.ServiceVersion != "" {
		opts = append(opts, resource.WithAttributes(semconv.ServiceVersion(cfg.ServiceVersion)))
	}

	res, err := resource.New(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}

	return res, nil
}

func buildOTLPExporter(cfg Config) (sdkmetric.Exporter, error) {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
	}

	if cfg.OTLPInsecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exporter, err := otlpmetricgrpc.New(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}

	return exporter, nil
}

func buildLogger(cfg Config) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{Level: cfg.LogLevel}

	var handler slog.Handler
	if cfg.LogJSON {
		handler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}

	return slog.New(handler)
}

// ServeMetrics serves the scrape endpoint on addr until the context ends.
func ServeMetrics(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)

	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown", "error", err)
		}
	}()

	err := server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve metrics on %s: %w", addr, err)
	}

	return nil
}
