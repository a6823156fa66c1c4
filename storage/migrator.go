package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"

	"fipe-harvester/utils"
)

//go:embed migrations
var migrationsFS embed.FS

// Migrator applies the embedded schema migrations for one dialect.
type Migrator struct {
	db     *sql.DB
	driver string
	logger *utils.Logger
}

func NewMigrator(db *sql.DB, driver string, logger *utils.Logger) *Migrator {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	return &Migrator{db: db, driver: driver, logger: logger}
}

// Up applies every pending migration and returns how many ran.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	const op = "storage.Migrator.Up"

	var dialect goose.Dialect
	switch m.driver {
	case DriverPostgres:
		dialect = goose.DialectPostgres
	case DriverSQLite:
		dialect = goose.DialectSQLite3
	default:
		return 0, fmt.Errorf("%s: unsupported driver %q", op, m.driver)
	}

	sub, err := fs.Sub(migrationsFS, "migrations/"+m.driver)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	provider, err := goose.NewProvider(dialect, m.db, sub)
	if err != nil {
		return 0, fmt.Errorf("%s: new provider: %w", op, err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	for _, r := range results {
		m.logger.Info("[migrate] applied %s in %s", r.Source.Path, r.Duration)
	}
	return len(results), nil
}

// Migrate is a shortcut for NewMigrator(s.DB(), s.Driver(), logger).Up(ctx).
func (s *SQLStore) Migrate(ctx context.Context, logger *utils.Logger) (int, error) {
	return NewMigrator(s.db, s.driver, logger).Up(ctx)
}
