package telemetry

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"docqa/internal/domain"
	"docqa/internal/logger"
)

const langfuseTracesPath = "/api/public/otel/v1/traces"

// OTelConfig configures the OTLP/HTTP exporter. When the Langfuse keys are
// set, spans go to the Langfuse OTLP endpoint with basic auth; otherwise to
// Endpoint.
type OTelConfig struct {
	ServiceName       string
	Endpoint          string
	LangfuseHost      string
	LangfusePublicKey string
	LangfuseSecretKey string
}

// Enabled reports whether there is anywhere to export to.
func (c OTelConfig) Enabled() bool {
	return c.Endpoint != "" || (c.LangfusePublicKey != "" && c.LangfuseSecretKey != "")
}

func (c OTelConfig) exporterOptions() []otlptracehttp.Option {
	if c.LangfusePublicKey != "" && c.LangfuseSecretKey != "" {
		auth := base64.StdEncoding.EncodeToString([]byte(c.LangfusePublicKey + ":" + c.LangfuseSecretKey))
		return []otlptracehttp.Option{
			otlptracehttp.WithEndpointURL(strings.TrimRight(c.LangfuseHost, "/") + langfuseTracesPath),
			otlptracehttp.WithHeaders(map[string]string{"Authorization": "Basic " + auth}),
		}
	}
	return []otlptracehttp.Option{otlptracehttp.WithEndpointURL(c.Endpoint)}
}

// OTelSink records each event as a span.
type OTelSink struct {
	tracer   trace.Tracer
	shutdown func(context.Context) error
	closed   atomic.Bool
}

// NewOTelSink creates the exporter and a batching tracer provider. Export
// errors surface through otel's global error handler, which is pointed at log.
func NewOTelSink(ctx context.Context, cfg OTelConfig, log logger.Logger) (*OTelSink, error) {
	exporter, err := otlptracehttp.New(ctx, cfg.exporterOptions()...)
	if err != nil {
		return nil, fmt.Errorf("%w: create OTLP exporter: %v", domain.ErrTelemetry, err)
	}
	name := cfg.ServiceName
	if name == "" {
		name = "docqa"
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", name))),
	)
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		log.Warn("telemetry", "otel export error", map[string]any{"error": err.Error()})
	}))
	s := NewOTelSinkFromProvider(tp, name)
	s.shutdown = tp.Shutdown
	return s, nil
}

// NewOTelSinkFromProvider records spans through an existing provider.
func NewOTelSinkFromProvider(tp trace.TracerProvider, name string) *OTelSink {
	return &OTelSink{
		tracer:   tp.Tracer(name),
		shutdown: func(context.Context) error { return nil },
	}
}

func (s *OTelSink) Record(ctx context.Context, ev Event) error {
	if s.closed.Load() {
		return fmt.Errorf("%w: sink closed", domain.ErrTelemetry)
	}
	opts := []trace.SpanStartOption{trace.WithAttributes(Attributes(ev)...)}
	if !ev.Time.IsZero() {
		opts = append(opts, trace.WithTimestamp(ev.Time))
	}
	_, span := s.tracer.Start(ctx, ev.Name, opts...)
	if msg, ok := ev.Metadata["error"].(string); ok && msg != "" {
		span.SetStatus(codes.Error, msg)
	}
	span.End()
	return nil
}

// Shutdown flushes pending spans. The sink rejects events afterwards.
func (s *OTelSink) Shutdown(ctx context.Context) error {
	s.closed.Store(true)
	return s.shutdown(ctx)
}

// Attributes converts an event into span attributes. The session id also
// goes under the key Langfuse groups traces by.
func Attributes(ev Event) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(ev.Metadata)+2)
	if ev.SessionID != "" {
		attrs = append(attrs,
			attribute.String("session.id", ev.SessionID),
			attribute.String("langfuse.session.id", ev.SessionID),
		)
	}
	for k, v := range ev.Metadata {
		key := "docqa." + k
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(key, val))
		case bool:
			attrs = append(attrs, attribute.Bool(key, val))
		case int:
			attrs = append(attrs, attribute.Int(key, val))
		case int64:
			attrs = append(attrs, attribute.Int64(key, val))
		case float64:
			attrs = append(attrs, attribute.Float64(key, val))
		case []string:
			attrs = append(attrs, attribute.StringSlice(key, val))
		default:
			attrs = append(attrs, attribute.String(key, fmt.Sprint(val)))
		}
	}
	return attrs
}
