package postgres_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/minidb/pkg/adapters/datasource"
	"github.com/ekaya-inc/minidb/pkg/adapters/datasource/postgres"
	"github.com/ekaya-inc/minidb/pkg/testhelpers"
)

func TestHandle_RoundTrip(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	ctx := context.Background()

	h, err := postgres.Connect(ctx, testDB.Endpoint)
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, h.Ping(ctx))

	_, err = h.Exec(ctx, "CREATE TEMP TABLE handle_roundtrip (id int PRIMARY KEY, name text)")
	require.NoError(t, err)

	g := postgres.Grammar{}
	n, err := h.Exec(ctx, g.Placeholders("INSERT INTO handle_roundtrip (id, name) VALUES (?, ?), (?, ?)"), 1, "alice", 2, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	rows, err := h.Query(ctx, g.Placeholders("SELECT name FROM handle_roundtrip WHERE id = ?"), 2)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "bob", rows[0]["name"])
}

func TestHandle_ClosedConnectionIsLost(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	ctx := context.Background()

	h, err := postgres.Connect(ctx, testDB.Endpoint)
	require.NoError(t, err)
	require.NoError(t, h.Close())

	_, err = h.Exec(ctx, "SELECT 1")
	require.Error(t, err)
	assert.Equal(t, datasource.ClassLostConnection, postgres.Classify(err))
}
