package mysql

import (
	"errors"
	"fmt"
	"testing"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/minidb/pkg/adapters/datasource"
	"github.com/ekaya-inc/minidb/pkg/config"
)

func TestGrammar(t *testing.T) {
	g := Grammar{}

	assert.Equal(t, "SELECT * FROM t WHERE a = ?", g.Placeholders("SELECT * FROM t WHERE a = ?"))
	assert.Equal(t, "`app`.`order`", g.QuoteIdentifier("app.order"))
	assert.Equal(t, 0, g.BoolValue(false))
	assert.Equal(t, "START TRANSACTION", g.BeginTransaction())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected datasource.ErrorClass
	}{
		{"deadlock", &gomysql.MySQLError{Number: 1213, Message: "Deadlock found when trying to get lock"}, datasource.ClassConcurrency},
		{"lock wait", fmt.Errorf("update: %w", &gomysql.MySQLError{Number: 1205}), datasource.ClassConcurrency},
		{"gone away", &gomysql.MySQLError{Number: 2006}, datasource.ClassLostConnection},
		{"invalid conn", gomysql.ErrInvalidConn, datasource.ClassLostConnection},
		{"duplicate key", &gomysql.MySQLError{Number: 1062}, datasource.ClassUnknown},
		{"plain", errors.New("boom"), datasource.ClassUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify(tt.err))
		})
	}
}

func TestBuildDSN(t *testing.T) {
	dsn := buildDSN(config.EndpointConfig{
		Host:     "mysql.internal",
		Database: "reports",
		Username: "reporter",
		Password: "p@ss:word",
		Options:  map[string]string{"sql_mode": "TRADITIONAL"},
	})

	parsed, err := gomysql.ParseDSN(dsn)
	require.NoError(t, err)

	assert.Equal(t, "reporter", parsed.User)
	assert.Equal(t, "p@ss:word", parsed.Passwd)
	assert.Equal(t, "mysql.internal:3306", parsed.Addr)
	assert.Equal(t, "reports", parsed.DBName)
	assert.True(t, parsed.ParseTime)
	assert.Equal(t, "TRADITIONAL", parsed.Params["sql_mode"])
}
