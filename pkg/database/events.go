package database

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/minidb/pkg/apperrors"
	"github.com/ekaya-inc/minidb/pkg/logging"
)

// QueryEvent describes one attempt to run a statement. A retried statement
// produces one event per attempt.
type QueryEvent struct {
	Connection string
	Driver     string
	SQL        string
	Bindings   []any
	Start      time.Time
	Duration   time.Duration
	// Read is true when the statement went to the read handle.
	Read bool
	// Err is nil on success. It is the unwrapped driver error otherwise.
	Err error
	// Kind is the classification of Err, empty on success.
	Kind apperrors.QueryKind
}

// TransactionEvent is emitted after a transaction level changes.
type TransactionEvent struct {
	Connection string
	Driver     string
	// Level is the nesting depth after the change.
	Level int
}

// Observer receives connection events. Methods are called synchronously on the
// goroutine running the statement while the connection is locked, so they
// must not call back into the same Connection.
type Observer interface {
	QueryExecuted(ctx context.Context, ev QueryEvent)
	TransactionBeginning(ctx context.Context, ev TransactionEvent)
	TransactionCommitted(ctx context.Context, ev TransactionEvent)
	TransactionRolledBack(ctx context.Context, ev TransactionEvent)
}

// NopObserver implements Observer with empty methods. Embed it to handle only
// the events you care about.
type NopObserver struct{}

func (NopObserver) QueryExecuted(context.Context, QueryEvent)               {}
func (NopObserver) TransactionBeginning(context.Context, TransactionEvent)  {}
func (NopObserver) TransactionCommitted(context.Context, TransactionEvent)  {}
func (NopObserver) TransactionRolledBack(context.Context, TransactionEvent) {}

// LogObserver writes every event to a zap logger. Successful statements are
// logged at debug level and failures at warn.
type LogObserver struct {
	logger *zap.Logger
}

func NewLogObserver(logger *zap.Logger) *LogObserver {
	return &LogObserver{logger: logger.Named("query")}
}

func (o *LogObserver) QueryExecuted(_ context.Context, ev QueryEvent) {
	fields := []zap.Field{
		zap.String("connection", ev.Connection),
		zap.String("sql", logging.SanitizeQuery(ev.SQL)),
		zap.Int("bindings", len(ev.Bindings)),
		zap.Duration("elapsed", ev.Duration),
		zap.Bool("read", ev.Read),
	}
	if ev.Err != nil {
		o.logger.Warn("Query failed", append(fields,
			zap.String("kind", string(ev.Kind)),
			zap.String("error", logging.SanitizeError(ev.Err)),
		)...)
		return
	}
	o.logger.Debug("Query executed", fields...)
}

func (o *LogObserver) TransactionBeginning(_ context.Context, ev TransactionEvent) {
	o.logger.Debug("Transaction beginning", zap.String("connection", ev.Connection), zap.Int("level", ev.Level))
}

func (o *LogObserver) TransactionCommitted(_ context.Context, ev TransactionEvent) {
	o.logger.Debug("Transaction committed", zap.String("connection", ev.Connection), zap.Int("level", ev.Level))
}

func (o *LogObserver) TransactionRolledBack(_ context.Context, ev TransactionEvent) {
	o.logger.Debug("Transaction rolled back", zap.String("connection", ev.Connection), zap.Int("level", ev.Level))
}
