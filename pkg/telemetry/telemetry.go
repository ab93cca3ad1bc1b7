// Package telemetry provides tracing spans and metric recorders shared
// across the orchestrator's components. Init wires an SDK-backed
// TracerProvider that exports finished spans through the same zap logger
// the rest of the orchestrator logs with rather than an OTLP collector.
package telemetry

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/visgate-ai/deploy-orchestrator"

var tracer = otel.Tracer(tracerName)

// Config selects the service identity and sampling rate for the process's
// TracerProvider.
type Config struct {
	ServiceName string
	Environment string
	SampleRate  float64
}

// Provider owns the SDK TracerProvider constructed by Init and its shutdown.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// Init builds a sdktrace.TracerProvider sampling at cfg.SampleRate, exporting
// finished spans through logger, and registers it as the global provider so
// every otel.Tracer(...) call in the process — including the package-level
// tracer above — starts producing real spans instead of the SDK's no-op
// default.
func Init(cfg Config, logger *zap.Logger) (*Provider, error) {
	res, err := sdkresource.Merge(
		sdkresource.Default(),
		sdkresource.NewSchemaless(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("deployment.environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, err
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SampleRate >= 1:
		sampler = sdktrace.AlwaysSample()
	case cfg.SampleRate <= 0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(newZapExporter(logger)),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(tp)
	tracer = tp.Tracer(tracerName)

	return &Provider{tp: tp}, nil
}

// Shutdown flushes any buffered spans and stops the TracerProvider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

// Span starts a child span named op, annotated with the given attributes.
// Callers must invoke the returned func to end the span.
func Span(ctx context.Context, op string, attrs map[string]string) (context.Context, func()) {
	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		kvs = append(kvs, attribute.String(k, v))
	}
	ctx, span := tracer.Start(ctx, op, trace.WithAttributes(kvs...))
	return ctx, span.End
}

// TraceContext returns the current span's trace and span ids, or empty
// strings if ctx carries no active span, for correlating structured logs
// with spans.
func TraceContext(ctx context.Context) (traceID, spanID string) {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return "", ""
	}
	return sc.TraceID().String(), sc.SpanID().String()
}

var (
	deploymentReadyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "deployment_ready_duration_seconds",
		Help:    "Time from deployment creation to the ready transition.",
		Buckets: []float64{5, 15, 30, 60, 120, 180, 300, 600, 900},
	})
	webhookFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhook_delivery_failures_total",
		Help: "User webhook deliveries that exhausted all retries.",
	})
	runpodAPIErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "runpod_api_errors_total",
		Help: "Errors returned by the Runpod GraphQL API.",
	})
	rateLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rate_limit_rejections_total",
		Help: "Requests rejected by the sliding-window rate limiter.",
	}, []string{"scope"})
)

func RecordDeploymentReadyDuration(seconds float64) { deploymentReadyDuration.Observe(seconds) }
func RecordWebhookFailure()                         { webhookFailures.Inc() }
func RecordRunpodAPIError()                         { runpodAPIErrors.Inc() }
func RecordRateLimitRejection(scope string)         { rateLimitRejections.WithLabelValues(scope).Inc() }
