package executor

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockDriver wraps base around a sqlmock connection.
func mockDriver(t *testing.T) (*base, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &base{db: db, cfg: Config{QueryTimeout: 5 * time.Second}}, mock
}

func TestBase_Execute(t *testing.T) {
	b, mock := mockDriver(t)

	mock.ExpectQuery("SELECT name, level FROM a_sight").WillReturnRows(
		sqlmock.NewRows([]string{"name", "level"}).
			AddRow("West Lake", "5A").
			AddRow([]byte("Thousand Islet Lake"), "5A"),
	)

	rows, err := b.Execute(context.Background(), "SELECT name, level FROM a_sight")
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "level"}, rows.Columns)
	require.Equal(t, 2, rows.Count())
	assert.Equal(t, "West Lake", rows.Records[0]["name"])
	// []byte values come back as text, not base64.
	assert.Equal(t, "Thousand Islet Lake", rows.Records[1]["name"])
}

func TestBase_ExecuteError(t *testing.T) {
	b, mock := mockDriver(t)

	mock.ExpectQuery("SELECT").WillReturnError(assert.AnError)

	_, err := b.Execute(context.Background(), "SELECT broken")
	require.Error(t, err)
}

func TestBase_ExecuteNotConnected(t *testing.T) {
	b := &base{}
	_, err := b.Execute(context.Background(), "SELECT 1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not established")
}

func TestRegistry(t *testing.T) {
	names := List()
	assert.Contains(t, names, "postgres")
	assert.Contains(t, names, "duckdb")

	_, err := New(Config{Type: "oracle"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown executor type")

	_, err = New(Config{}, nil)
	require.Error(t, err)
}

func TestBuildPostgresDSN(t *testing.T) {
	dsn := buildPostgresDSN(Config{
		Host: "db.example.com", Port: 5433, Database: "sights",
		Username: "geo", Password: "secret",
		Options: map[string]string{"sslmode": "require"},
	})
	assert.Equal(t, "host=db.example.com port=5433 dbname=sights sslmode=require user=geo password=secret", dsn)

	dsn = buildPostgresDSN(Config{Database: "sights"})
	assert.Equal(t, "host=localhost port=5432 dbname=sights sslmode=disable", dsn)
}
