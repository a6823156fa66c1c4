package storage

import (
	"context"
	"path/filepath"
	"testing"

	sq "github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newSQLiteTestStore opens a migrated SQLite store under t.TempDir().
func newSQLiteTestStore(t *testing.T) *SQLStore {
	t.Helper()

	path := filepath.Join(t.TempDir(), "data", "fipe.db")
	s, err := Open(context.Background(), DriverSQLite, "file:"+path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	n, err := s.Migrate(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	return s
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, newSQLiteTestStore)
}

func TestMigrateIsRepeatable(t *testing.T) {
	s := newSQLiteTestStore(t)

	n, err := s.Migrate(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "whatever")
	require.Error(t, err)
}

func TestSQLitePath(t *testing.T) {
	tests := []struct {
		dsn  string
		want string
	}{
		{"file:./data/fipe.db?_pragma=foreign_keys(1)", "./data/fipe.db"},
		{"file:/tmp/x.db", "/tmp/x.db"},
		{"plain.db", "plain.db"},
	}
	for _, tt := range tests {
		if got := sqlitePath(tt.dsn); got != tt.want {
			t.Errorf("sqlitePath(%q) = %q, want %q", tt.dsn, got, tt.want)
		}
	}
}

func TestPlaceholderFor(t *testing.T) {
	tests := []struct {
		driver  string
		want    string
		wantErr bool
	}{
		{driver: DriverPostgres, want: "SELECT code FROM brands WHERE code = $1"},
		{driver: DriverSQLite, want: "SELECT code FROM brands WHERE code = ?"},
		{driver: "mysql", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			format, err := placeholderFor(tt.driver)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)

			query, _, err := sq.StatementBuilder.PlaceholderFormat(format).
				Select("code").From("brands").Where(sq.Eq{"code": "1"}).ToSql()
			require.NoError(t, err)
			assert.Equal(t, tt.want, query)
		})
	}
}
