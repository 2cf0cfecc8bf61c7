// Package metrics exports connection events and pool occupancy to Prometheus.
package metrics

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/ekaya-inc/minidb/pkg/apperrors"
	"github.com/ekaya-inc/minidb/pkg/database"
)

const defaultNamespace = "minidb"

// Collector records query and transaction events. It implements
// database.Observer.
type Collector struct {
	database.NopObserver

	queriesTotal  *prometheus.CounterVec
	queryDuration *prometheus.HistogramVec
	transactions  *prometheus.CounterVec

	logger *zap.Logger
}

var _ database.Observer = (*Collector)(nil)

// NewCollector registers the query metrics on reg. An empty namespace
// defaults to "minidb".
func NewCollector(reg prometheus.Registerer, namespace string, logger *zap.Logger) *Collector {
	if namespace == "" {
		namespace = defaultNamespace
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.queriesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Total number of statement attempts",
		},
		[]string{"connection", "driver", "read", "outcome"},
	)

	c.queryDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Statement duration in seconds",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"connection", "driver"},
	)

	c.transactions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Transaction boundary events by kind",
		},
		[]string{"connection", "event"},
	)

	c.logger.Debug("Query metrics registered", zap.String("namespace", namespace))
	return c
}

func (c *Collector) QueryExecuted(_ context.Context, ev database.QueryEvent) {
	c.queriesTotal.WithLabelValues(ev.Connection, ev.Driver, strconv.FormatBool(ev.Read), outcome(ev)).Inc()
	c.queryDuration.WithLabelValues(ev.Connection, ev.Driver).Observe(ev.Duration.Seconds())
}

func (c *Collector) TransactionBeginning(_ context.Context, ev database.TransactionEvent) {
	c.transactions.WithLabelValues(ev.Connection, "begin").Inc()
}

func (c *Collector) TransactionCommitted(_ context.Context, ev database.TransactionEvent) {
	c.transactions.WithLabelValues(ev.Connection, "commit").Inc()
}

func (c *Collector) TransactionRolledBack(_ context.Context, ev database.TransactionEvent) {
	c.transactions.WithLabelValues(ev.Connection, "rollback").Inc()
}

// outcome maps an attempt onto a low-cardinality label.
func outcome(ev database.QueryEvent) string {
	if ev.Err == nil {
		return "ok"
	}
	if ev.Kind == "" {
		return string(apperrors.QueryKindOther)
	}
	return string(ev.Kind)
}
