package tracing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/minidb/pkg/apperrors"
	"github.com/ekaya-inc/minidb/pkg/config"
	"github.com/ekaya-inc/minidb/pkg/database"
)

func newRecorder(t *testing.T) (*tracetest.SpanRecorder, *sdktrace.TracerProvider) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return rec, tp
}

func attrMap(kvs []attribute.KeyValue) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value, len(kvs))
	for _, kv := range kvs {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestObserver_QuerySpanCoversStatement(t *testing.T) {
	rec, tp := newRecorder(t)
	o := NewObserver(tp)

	start := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	o.QueryExecuted(context.Background(), database.QueryEvent{
		Connection: "main::read",
		Driver:     "postgres",
		SQL:        "select * from users where id = ?",
		Bindings:   []any{1},
		Start:      start,
		Duration:   25 * time.Millisecond,
		Read:       true,
	})

	spans := rec.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "db.query", span.Name())
	assert.Equal(t, start, span.StartTime())
	assert.Equal(t, start.Add(25*time.Millisecond), span.EndTime())
	assert.Equal(t, codes.Unset, span.Status().Code)

	attrs := attrMap(span.Attributes())
	assert.Equal(t, "postgres", attrs["db.system"].AsString())
	assert.Equal(t, "main::read", attrs["db.connection"].AsString())
	assert.True(t, attrs["db.read"].AsBool())
	assert.Equal(t, int64(1), attrs["db.bindings"].AsInt64())
}

func TestObserver_FailedQueryMarksSpan(t *testing.T) {
	rec, tp := newRecorder(t)
	o := NewObserver(tp)

	o.QueryExecuted(context.Background(), database.QueryEvent{
		Connection: "main",
		Driver:     "mysql",
		SQL:        "update t set a = 1",
		Start:      time.Now(),
		Err:        errors.New("Deadlock found when trying to get lock"),
		Kind:       apperrors.QueryKindConcurrency,
	})

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "concurrency", attrMap(spans[0].Attributes())["db.error_kind"].AsString())
}

func TestObserver_TransactionEventsAttachToParent(t *testing.T) {
	rec, tp := newRecorder(t)
	o := NewObserver(tp)

	ctx, parent := tp.Tracer("test").Start(context.Background(), "request")
	o.TransactionBeginning(ctx, database.TransactionEvent{Connection: "main", Driver: "sqlite", Level: 1})
	o.TransactionCommitted(ctx, database.TransactionEvent{Connection: "main", Driver: "sqlite", Level: 0})
	parent.End()

	spans := rec.Ended()
	require.Len(t, spans, 1)
	events := spans[0].Events()
	require.Len(t, events, 2)
	assert.Equal(t, "db.transaction.begin", events[0].Name)
	assert.Equal(t, "db.transaction.commit", events[1].Name)
}

func TestObserver_TransactionWithoutParentStartsSpan(t *testing.T) {
	rec, tp := newRecorder(t)
	o := NewObserver(tp)

	o.TransactionRolledBack(context.Background(), database.TransactionEvent{Connection: "main", Level: 0})

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "db.transaction.rollback", spans[0].Name())
}

func TestSetup_DisabledIsNoop(t *testing.T) {
	shutdown, err := Setup(config.TracingConfig{Enabled: false}, "test", zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
