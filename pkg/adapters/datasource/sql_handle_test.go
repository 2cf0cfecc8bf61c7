package datasource

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockHandle(t *testing.T) (*SQLHandle, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(
		sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual),
		sqlmock.MonitorPingsOption(true),
	)
	require.NoError(t, err)

	mock.ExpectPing()
	h, err := NewSQLHandle(context.Background(), db)
	require.NoError(t, err)
	return h, mock
}

func TestSQLHandle_Exec(t *testing.T) {
	h, mock := newMockHandle(t)
	ctx := context.Background()

	mock.ExpectExec("UPDATE users SET active = ? WHERE id = ?").
		WithArgs(1, 42).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := h.Exec(ctx, "UPDATE users SET active = ? WHERE id = ?", 1, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	mock.ExpectClose()
	require.NoError(t, h.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLHandle_QueryConvertsBytes(t *testing.T) {
	h, mock := newMockHandle(t)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{"id", "name"}).
		AddRow(int64(1), []byte("alice")).
		AddRow(int64(2), nil)
	mock.ExpectQuery("SELECT id, name FROM users").WillReturnRows(rows)

	result, err := h.Query(ctx, "SELECT id, name FROM users")
	require.NoError(t, err)
	require.Len(t, result, 2)
	assert.Equal(t, "alice", result[0]["name"])
	assert.Equal(t, int64(1), result[0]["id"])
	assert.Nil(t, result[1]["name"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLHandle_PropagatesDriverErrors(t *testing.T) {
	h, mock := newMockHandle(t)
	ctx := context.Background()

	mock.ExpectExec("DELETE FROM users").WillReturnError(driver.ErrBadConn)

	_, err := h.Exec(ctx, "DELETE FROM users")
	assert.True(t, errors.Is(err, driver.ErrBadConn), "bad connection must stay detectable, got %v", err)
}

func TestSQLHandle_RowError(t *testing.T) {
	h, mock := newMockHandle(t)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{"id"}).
		AddRow(1).
		RowError(0, errors.New("server closed the connection unexpectedly"))
	mock.ExpectQuery("SELECT id FROM users").WillReturnRows(rows)

	_, err := h.Query(ctx, "SELECT id FROM users")
	assert.ErrorContains(t, err, "server closed the connection unexpectedly")
}

func TestNewSQLHandle_PingFailureClosesDB(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	mock.ExpectClose()

	_, err = NewSQLHandle(context.Background(), db)
	assert.ErrorContains(t, err, "connection refused")
	assert.NoError(t, mock.ExpectationsWereMet())
}
