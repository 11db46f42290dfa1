// Package tracing provides distributed tracing support using OpenTelemetry.
package tracing

import (
	"context"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// OTelConfig holds OpenTelemetry configuration
type OTelConfig struct {
	ServiceName    string
	ServiceVersion string
	Enabled        bool
}

var globalTracer trace.Tracer

// InitOTel initializes OpenTelemetry with the given configuration.
// Returns a shutdown function that should be called on application exit.
func InitOTel(cfg OTelConfig) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	// stdout belongs to the MCP transport, so spans go to stderr
	exporter, err := stdouttrace.New(
		stdouttrace.WithWriter(os.Stderr),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	globalTracer = tp.Tracer(cfg.ServiceName)

	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return tp.Shutdown(ctx)
	}, nil
}

// GetTracer returns the global tracer
func GetTracer() trace.Tracer {
	if globalTracer == nil {
		return otel.Tracer("noop")
	}
	return globalTracer
}

// SpanKind represents the role of a span
type SpanKind string

// Span kinds for categorizing trace spans
const (
	SpanKindTool SpanKind = "tool"
	SpanKindAPI  SpanKind = "api"
	SpanKindPage SpanKind = "page"
)

// ToolSpan starts a new span for a tool execution
func ToolSpan(ctx context.Context, toolName string) (context.Context, trace.Span) {
	return GetTracer().Start(ctx, "mcp.tool."+toolName,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("mcp.tool.name", toolName),
			attribute.String("mcp.span.kind", string(SpanKindTool)),
		),
	)
}

// APISpan starts a new span for a kintone API call
func APISpan(ctx context.Context, method, path string) (context.Context, trace.Span) {
	return GetTracer().Start(ctx, "kintone.api "+path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("http.url", path),
			attribute.String("mcp.span.kind", string(SpanKindAPI)),
		),
	)
}

// PageSpan starts a span covering one page of a paginated fetch.
func PageSpan(ctx context.Context, strategy string, page int) (context.Context, trace.Span) {
	return GetTracer().Start(ctx, "kintone.page",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("kintone.pagination.strategy", strategy),
			attribute.Int("kintone.pagination.page", page),
			attribute.String("mcp.span.kind", string(SpanKindPage)),
		),
	)
}

// RecordError records an error on the span
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.Bool("error", true))
	}
}

// SetToolResult records the result type of a tool execution
func SetToolResult(span trace.Span, resultType string, itemCount int) {
	span.SetAttributes(
		attribute.String("mcp.result.type", resultType),
		attribute.Int("mcp.result.count", itemCount),
	)
}

// SetStatus records an HTTP status code on an API span.
func SetStatus(span trace.Span, statusCode int) {
	span.SetAttributes(attribute.Int("http.status_code", statusCode))
}
