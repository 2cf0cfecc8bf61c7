package metrics

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/minidb/pkg/apperrors"
	"github.com/ekaya-inc/minidb/pkg/database"
	"github.com/ekaya-inc/minidb/pkg/pool"
)

func TestCollector_QueryOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg, "", zaptest.NewLogger(t))
	ctx := context.Background()

	c.QueryExecuted(ctx, database.QueryEvent{Connection: "main", Driver: "postgres", Duration: 2 * time.Millisecond})
	c.QueryExecuted(ctx, database.QueryEvent{Connection: "main", Driver: "postgres", Read: true, Duration: time.Millisecond})
	c.QueryExecuted(ctx, database.QueryEvent{
		Connection: "main",
		Driver:     "postgres",
		Err:        errors.New("server closed the connection unexpectedly"),
		Kind:       apperrors.QueryKindLostConnection,
	})
	c.QueryExecuted(ctx, database.QueryEvent{Connection: "main", Driver: "postgres", Err: errors.New("boom")})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.queriesTotal.WithLabelValues("main", "postgres", "false", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.queriesTotal.WithLabelValues("main", "postgres", "true", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.queriesTotal.WithLabelValues("main", "postgres", "false", "lost_connection")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.queriesTotal.WithLabelValues("main", "postgres", "false", "other")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.queryDuration))
}

func TestCollector_Transactions(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg, "app", zaptest.NewLogger(t))
	ctx := context.Background()

	c.TransactionBeginning(ctx, database.TransactionEvent{Connection: "main", Level: 1})
	c.TransactionBeginning(ctx, database.TransactionEvent{Connection: "main", Level: 2})
	c.TransactionRolledBack(ctx, database.TransactionEvent{Connection: "main", Level: 1})
	c.TransactionCommitted(ctx, database.TransactionEvent{Connection: "main", Level: 0})

	expected := `
# HELP app_transactions_total Transaction boundary events by kind
# TYPE app_transactions_total counter
app_transactions_total{connection="main",event="begin"} 2
app_transactions_total{connection="main",event="commit"} 1
app_transactions_total{connection="main",event="rollback"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "app_transactions_total"))
}

type staticStats []pool.Stats

func (s staticStats) PoolStats() []pool.Stats { return s }

func TestPoolCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewPoolCollector(staticStats{
		{Name: "reporting", Size: 4, Idle: 1, Borrowed: 2, Waiting: 3, Created: 3, Reused: 7},
		{Name: "gone", Size: 2, Closed: true},
	}, ""))

	expected := `
# HELP minidb_pool_borrowed Connections held by a scope
# TYPE minidb_pool_borrowed gauge
minidb_pool_borrowed{pool="reporting"} 2
# HELP minidb_pool_waiting Callers blocked in Acquire
# TYPE minidb_pool_waiting gauge
minidb_pool_waiting{pool="reporting"} 3
# HELP minidb_pool_reused_total Acquires served from an idle connection
# TYPE minidb_pool_reused_total counter
minidb_pool_reused_total{pool="reporting"} 7
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"minidb_pool_borrowed", "minidb_pool_waiting", "minidb_pool_reused_total"))

	count, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 6, count, "closed pools are skipped")
}
