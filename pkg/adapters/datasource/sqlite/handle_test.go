package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/minidb/pkg/adapters/datasource"
	"github.com/ekaya-inc/minidb/pkg/config"
)

func TestBuildDSN(t *testing.T) {
	assert.Equal(t, MemoryDatabase, buildDSN(config.EndpointConfig{}))
	assert.Equal(t, "app.db", buildDSN(config.EndpointConfig{Database: "app.db"}))
	assert.Equal(t,
		"app.db?_pragma=busy_timeout%285000%29",
		buildDSN(config.EndpointConfig{Database: "app.db", Options: map[string]string{"_pragma": "busy_timeout(5000)"}}))
}

func TestHandle_ExecAndQuery(t *testing.T) {
	ctx := context.Background()

	h, err := Connect(ctx, config.EndpointConfig{})
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, h.Ping(ctx))

	_, err = h.Exec(ctx, "CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT, active INTEGER)")
	require.NoError(t, err)

	g := Grammar{}
	n, err := h.Exec(ctx, "INSERT INTO users (name, active) VALUES (?, ?), (?, ?)", "alice", g.BoolValue(true), "bob", g.BoolValue(false))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	rows, err := h.Query(ctx, "SELECT name FROM users WHERE active = ? ORDER BY id", 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "alice", rows[0]["name"])
}

func TestHandle_TransactionStaysOnPinnedConnection(t *testing.T) {
	ctx := context.Background()
	g := Grammar{}

	h, err := Connect(ctx, config.EndpointConfig{Database: filepath.Join(t.TempDir(), "tx.db")})
	require.NoError(t, err)
	defer h.Close()

	_, err = h.Exec(ctx, "CREATE TABLE t (v INTEGER)")
	require.NoError(t, err)

	_, err = h.Exec(ctx, g.BeginTransaction())
	require.NoError(t, err)
	_, err = h.Exec(ctx, "INSERT INTO t (v) VALUES (1)")
	require.NoError(t, err)
	_, err = h.Exec(ctx, g.Savepoint("trans2"))
	require.NoError(t, err)
	_, err = h.Exec(ctx, "INSERT INTO t (v) VALUES (2)")
	require.NoError(t, err)
	_, err = h.Exec(ctx, g.RollbackToSavepoint("trans2"))
	require.NoError(t, err)
	_, err = h.Exec(ctx, g.Commit())
	require.NoError(t, err)

	rows, err := h.Query(ctx, "SELECT v FROM t")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.EqualValues(t, 1, rows[0]["v"])
}

func TestRegistered(t *testing.T) {
	reg, ok := datasource.GetDriver("sqlite3")
	require.True(t, ok)
	assert.Equal(t, "sqlite", reg.Info.Name)
	assert.NotNil(t, reg.Connect)
}
