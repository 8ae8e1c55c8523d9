package sink

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utkarsh5026/bulkload/internal/protocol"
)

func TestRow_ProjectsOntoColumns(t *testing.T) {
	row := Row(protocol.Record{
		"registro_car": protocol.String("MT-1"),
		"uf":           protocol.String("MT"),
		"percentual":   nil,
		"unknown":      protocol.String("ignored"),
	})

	require.Len(t, row, len(Columns))
	assert.Equal(t, "MT-1", row[0])
	assert.Equal(t, "MT", row[1])
	assert.Nil(t, row[2], "missing column is NULL")
	assert.Nil(t, row[len(Columns)-1], "explicit null stays NULL")
}

func TestIsResourceExhausted(t *testing.T) {
	tests := map[string]struct {
		err  error
		want bool
	}{
		"nil":               {nil, false},
		"pg error code":     {&pgconn.PgError{Code: pgerrcode.TooManyConnections}, true},
		"wrapped pg error":  {errors.Wrap(&pgconn.PgError{Code: pgerrcode.TooManyConnections}, "connect"), true},
		"message only":      {errors.New("FATAL: sorry, too many clients already"), true},
		"other pg error":    {&pgconn.PgError{Code: pgerrcode.UniqueViolation}, false},
		"unrelated failure": {errors.New("connection refused"), false},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsResourceExhausted(tc.err))
		})
	}
}

func TestCreateTableSQL(t *testing.T) {
	ddl := CreateTableSQL("car_gov")

	assert.True(t, strings.HasPrefix(ddl, `CREATE TABLE IF NOT EXISTS "car_gov"`))
	assert.Contains(t, ddl, "id SERIAL PRIMARY KEY")
	assert.Contains(t, ddl, "registro_car TEXT NOT NULL")
	assert.Contains(t, ddl, "codigo_ibge TEXT NOT NULL")
	assert.Contains(t, ddl, "percentual TEXT\n")
	assert.NotContains(t, ddl, "percentual TEXT NOT NULL")
}

func TestCreateConnectionString(t *testing.T) {
	s := CreateConnectionString(map[string]string{"password": `it's\here`})
	assert.Equal(t, `password='it\'s\\here'`, s)

	s = CreateConnectionString(map[string]string{"host": "db", "port": "5432"})
	assert.Contains(t, s, "host='db'")
	assert.Contains(t, s, "port='5432'")
	assert.Contains(t, s, " ")
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.CreateTable(ctx))
	require.NoError(t, m.InsertMany(ctx, []protocol.Record{{"registro_car": protocol.String("a")}}))
	require.NoError(t, m.InsertMany(ctx, []protocol.Record{{"registro_car": protocol.String("b")}}))

	n, err := m.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	m.OnInsert = func([]protocol.Record) error { return errors.New("boom") }
	assert.Error(t, m.InsertMany(ctx, []protocol.Record{{}}))
	n, _ = m.Count(ctx)
	assert.Equal(t, int64(2), n, "failed insert stores nothing")

	require.NoError(t, m.Truncate(ctx))
	assert.Empty(t, m.Rows())

	m.Close()
	assert.True(t, m.Closed())
}

// TestPostgres runs against a real database when BULKLOAD_TEST_POSTGRES_HOST
// is set.
func TestPostgres(t *testing.T) {
	host := os.Getenv("BULKLOAD_TEST_POSTGRES_HOST")
	if host == "" {
		t.Skip("BULKLOAD_TEST_POSTGRES_HOST not set")
	}

	ctx := context.Background()
	db, err := OpenPostgres(ctx, PostgresConfig{
		Host:            host,
		Port:            5432,
		User:            "admin",
		Password:        "admin",
		Database:        "postgres",
		Table:           fmt.Sprintf("bulkload_test_%d", os.Getpid()),
		MaxConns:        1,
		ConnectAttempts: 3,
	})
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.CreateTable(ctx))
	defer func() {
		_, _ = db.pool.Exec(ctx, "DROP TABLE "+db.table)
	}()

	records := []protocol.Record{
		{"registro_car": protocol.String("1"), "uf": protocol.String("MT"), "municipio": protocol.String("X"), "codigo_ibge": protocol.String("5100")},
		{"registro_car": protocol.String("2"), "uf": protocol.String("PA"), "municipio": protocol.String("Y"), "codigo_ibge": protocol.String("1500")},
	}
	require.NoError(t, db.InsertMany(ctx, records))

	n, err := db.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, db.Truncate(ctx))
	n, err = db.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
