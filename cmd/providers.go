package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/ThreeDotsLabs/watermill"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"

	"github.com/webitel/im-relay-service/config"
)

// ProvideLogger builds the process logger. The level is shared through
// level so a config reload can change it at runtime.
func ProvideLogger(cfg *config.Config, level *slog.LevelVar) *slog.Logger {
	logger := slog.New(newLogHandler(os.Stdout, cfg.Log, level))
	slog.SetDefault(logger)
	return logger
}

func newLogHandler(w io.Writer, cfg config.LogConfig, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if cfg.Format == "text" {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}

	if !cfg.OTel {
		return h
	}
	// [OTEL_BRIDGE] mirror records to the global OpenTelemetry logger provider
	return &fanoutHandler{
		level:    level,
		handlers: []slog.Handler{h, otelslog.NewHandler(ServiceName)},
	}
}

func ProvideWatermillLogger(logger *slog.Logger) watermill.LoggerAdapter {
	return watermill.NewSlogLogger(logger.With("component", "watermill"))
}

func ProvideResource() (*resource.Resource, error) {
	return resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(ServiceName),
			semconv.ServiceNamespace(ServiceNamespace),
			semconv.ServiceVersion(version),
		),
	)
}

// ProvideMeterProvider registers the SDK meter provider globally.
// TODO: attach an OTLP metric reader once a collector endpoint is configurable.
func ProvideMeterProvider(lc fx.Lifecycle, res *resource.Resource) metric.MeterProvider {
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))
	otel.SetMeterProvider(mp)

	lc.Append(fx.Hook{OnStop: mp.Shutdown})
	return mp
}

// ProvideTracerProvider registers the SDK tracer provider globally. Spans are
// exported over OTLP/HTTP only when trace.endpoint is set.
func ProvideTracerProvider(lc fx.Lifecycle, cfg *config.Config, res *resource.Resource, logger *slog.Logger) (trace.TracerProvider, error) {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	}

	if cfg.Trace.Endpoint != "" {
		exporter, err := otlptracehttp.New(context.Background(),
			otlptracehttp.WithEndpointURL(cfg.Trace.Endpoint),
		)
		if err != nil {
			return nil, fmt.Errorf("trace exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
		logger.Info("TRACE_EXPORT_ENABLED", "endpoint", cfg.Trace.Endpoint)
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	lc.Append(fx.Hook{OnStop: tp.Shutdown})
	return tp, nil
}

// fanoutHandler writes every record to all handlers at or above level.
type fanoutHandler struct {
	level    slog.Leveler
	handlers []slog.Handler
}

func (f *fanoutHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= f.level.Level()
}

func (f *fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f.handlers {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return &fanoutHandler{level: f.level, handlers: next}
}

func (f *fanoutHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithGroup(name)
	}
	return &fanoutHandler{level: f.level, handlers: next}
}
