package telemetry

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Options select the collector and sampling.
type Options struct {
	ServiceName string
	// Endpoint is host:port of an OTLP/HTTP collector, optionally with an
	// http:// or https:// prefix. Empty disables tracing.
	Endpoint   string
	SampleRate float64
	Logger     logrus.FieldLogger
}

// Shutdown flushes and stops the trace provider.
type Shutdown func(context.Context) error

func noop(context.Context) error { return nil }

// Init configures the global OpenTelemetry trace provider.
// Without an endpoint, tracing stays on the global no-op provider and a noop
// shutdown is returned. An exporter that cannot be built is logged and
// tracing is left disabled, so the daemon still starts.
func Init(ctx context.Context, opts Options) (Shutdown, error) {
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		return noop, nil
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	exporterOpts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(strings.TrimPrefix(strings.TrimPrefix(endpoint, "http://"), "https://")),
		otlptracehttp.WithTimeout(3 * time.Second),
		otlptracehttp.WithRetry(otlptracehttp.RetryConfig{Enabled: false}),
	}
	if !strings.HasPrefix(endpoint, "https://") {
		exporterOpts = append(exporterOpts, otlptracehttp.WithInsecure())
	}

	initCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	exporter, err := otlptracehttp.New(initCtx, exporterOpts...)
	if err != nil {
		logger.WithError(err).Warn("tracing disabled: exporter setup failed")
		return noop, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(opts.ServiceName)),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRate(opts.SampleRate)))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	logger.WithFields(logrus.Fields{"endpoint": endpoint, "service": opts.ServiceName}).Info("tracing enabled")

	return tp.Shutdown, nil
}

// sampleRate clamps r to [0,1]; out-of-range values fall back to 10%.
func sampleRate(r float64) float64 {
	if r <= 0 || r > 1 {
		return 0.1
	}
	return r
}
