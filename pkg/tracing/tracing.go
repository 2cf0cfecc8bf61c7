// Package tracing records statements as OpenTelemetry spans.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ekaya-inc/minidb/pkg/config"
	"github.com/ekaya-inc/minidb/pkg/database"
	"github.com/ekaya-inc/minidb/pkg/logging"
)

const instrumentationName = "github.com/ekaya-inc/minidb/pkg/database"

// Setup installs a global tracer provider that writes spans to stdout.
// The returned function flushes and stops the provider. When tracing is
// disabled Setup is a no-op.
func Setup(cfg config.TracingConfig, version string, logger *zap.Logger) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
	}

	res := resource.NewWithAttributes("",
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", version),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tp)

	logger.Info("Tracing enabled", zap.String("service", cfg.ServiceName))
	return tp.Shutdown, nil
}

// Observer turns connection events into spans. Query spans are backdated to
// the statement start so they cover the real execution time.
type Observer struct {
	tracer trace.Tracer
}

var _ database.Observer = (*Observer)(nil)

// NewObserver uses tp, or the global provider when tp is nil.
func NewObserver(tp trace.TracerProvider) *Observer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Observer{tracer: tp.Tracer(instrumentationName)}
}

func (o *Observer) QueryExecuted(ctx context.Context, ev database.QueryEvent) {
	_, span := o.tracer.Start(ctx, "db.query",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithTimestamp(ev.Start),
		trace.WithAttributes(
			attribute.String("db.system", ev.Driver),
			attribute.String("db.connection", ev.Connection),
			attribute.String("db.statement", logging.SanitizeQuery(ev.SQL)),
			attribute.Int("db.bindings", len(ev.Bindings)),
			attribute.Bool("db.read", ev.Read),
		),
	)
	if ev.Err != nil {
		span.SetAttributes(attribute.String("db.error_kind", string(ev.Kind)))
		span.SetStatus(codes.Error, logging.SanitizeError(ev.Err))
	}
	span.End(trace.WithTimestamp(ev.Start.Add(ev.Duration)))
}

func (o *Observer) TransactionBeginning(ctx context.Context, ev database.TransactionEvent) {
	o.event(ctx, "db.transaction.begin", ev)
}

func (o *Observer) TransactionCommitted(ctx context.Context, ev database.TransactionEvent) {
	o.event(ctx, "db.transaction.commit", ev)
}

func (o *Observer) TransactionRolledBack(ctx context.Context, ev database.TransactionEvent) {
	o.event(ctx, "db.transaction.rollback", ev)
}

// event adds ev to the caller's span when one is recording, otherwise it
// starts a zero-length span of its own.
func (o *Observer) event(ctx context.Context, name string, ev database.TransactionEvent) {
	attrs := trace.WithAttributes(
		attribute.String("db.system", ev.Driver),
		attribute.String("db.connection", ev.Connection),
		attribute.Int("db.transaction.level", ev.Level),
	)
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.AddEvent(name, attrs)
		return
	}
	_, span := o.tracer.Start(ctx, name, attrs)
	span.End()
}
