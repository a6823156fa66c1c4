package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"fipe-harvester/models"
	"fipe-harvester/utils"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// SQLStore persists the catalog to PostgreSQL or SQLite.
type SQLStore struct {
	db     *sql.DB
	driver string
	sb     sq.StatementBuilderType
	now    func() time.Time
}

var _ CatalogStore = (*SQLStore)(nil)

// Open connects to the database for the given driver and waits for it to
// answer a ping. Migrations are not applied; see Migrator.
func Open(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	const op = "storage.Open"

	placeholder, err := placeholderFor(driver)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if driver == DriverSQLite {
		if path := sqlitePath(dsn); path != "" && path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("%s: create data dir: %w", op, err)
			}
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: open: %w", op, err)
	}
	if driver == DriverSQLite {
		// SQLite has a single writer
		db.SetMaxOpenConns(1)
	}

	ping := utils.RetryConfig{
		MaxAttempts: 8,
		Backoff:     utils.ExponentialBackoff(250 * time.Millisecond),
	}
	if err := ping.Do(ctx, "ping "+driver, db.PingContext); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &SQLStore{
		db:     db,
		driver: driver,
		sb:     sq.StatementBuilder.PlaceholderFormat(placeholder),
		now:    time.Now,
	}, nil
}

func placeholderFor(driver string) (sq.PlaceholderFormat, error) {
	switch driver {
	case DriverPostgres:
		return sq.Dollar, nil
	case DriverSQLite:
		return sq.Question, nil
	}
	return nil, fmt.Errorf("unsupported driver %q", driver)
}

func sqlitePath(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return path
}

// DB exposes the underlying handle for migrations.
func (s *SQLStore) DB() *sql.DB { return s.db }

// Driver returns the driver name the store was opened with.
func (s *SQLStore) Driver() string { return s.driver }

// Close releases the connection pool.
func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) exec(ctx context.Context, op string, b sq.Sqlizer) error {
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("%s: build query: %w", op, err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%s: %w", op, classify(err))
	}
	return nil
}

func (s *SQLStore) UpsertReferencePeriod(ctx context.Context, ref models.ReferencePeriod) error {
	b := s.sb.Insert("reference_periods").
		Columns("code", "label", "updated_at").
		Values(ref.Code, ref.Label, s.now().UTC()).
		Suffix(`ON CONFLICT (code) DO UPDATE SET label = excluded.label, updated_at = excluded.updated_at
			WHERE reference_periods.label <> excluded.label`)
	return s.exec(ctx, "storage.UpsertReferencePeriod", b)
}

func (s *SQLStore) UpsertBrand(ctx context.Context, brand models.Brand) error {
	b := s.sb.Insert("brands").
		Columns("code", "name", "updated_at").
		Values(brand.Code, brand.Name, s.now().UTC()).
		Suffix(`ON CONFLICT (code) DO UPDATE SET name = excluded.name, updated_at = excluded.updated_at
			WHERE brands.name <> excluded.name`)
	return s.exec(ctx, "storage.UpsertBrand", b)
}

func (s *SQLStore) UpsertModel(ctx context.Context, brandCode string, model models.Model) error {
	b := s.sb.Insert("models").
		Columns("code", "name", "brand_code", "updated_at").
		Values(model.Code, model.Name, brandCode, s.now().UTC()).
		Suffix(`ON CONFLICT (code) DO UPDATE SET name = excluded.name, brand_code = excluded.brand_code,
			updated_at = excluded.updated_at
			WHERE models.name <> excluded.name OR models.brand_code <> excluded.brand_code`)
	return s.exec(ctx, "storage.UpsertModel", b)
}

func (s *SQLStore) UpsertModelYear(ctx context.Context, modelCode string, year models.ModelYear) error {
	b := s.sb.Insert("model_years").
		Columns("model_code", "code", "label", "year", "fuel_type", "updated_at").
		Values(modelCode, year.Code, year.Label, year.Year, year.FuelType, s.now().UTC()).
		Suffix(`ON CONFLICT (model_code, code) DO UPDATE SET label = excluded.label, year = excluded.year,
			fuel_type = excluded.fuel_type, updated_at = excluded.updated_at
			WHERE model_years.label <> excluded.label OR model_years.year <> excluded.year
			OR model_years.fuel_type <> excluded.fuel_type`)
	return s.exec(ctx, "storage.UpsertModelYear", b)
}

// UpsertPricedInstance always refreshes updated_at so the row records the
// last time the vendor confirmed the price.
func (s *SQLStore) UpsertPricedInstance(ctx context.Context, p models.PricedInstance) error {
	updatedAt := p.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = s.now()
	}
	b := s.sb.Insert("priced_instances").
		Columns("brand_code", "model_code", "year_code", "reference_code", "fuel", "price", "fipe_code", "updated_at").
		Values(p.BrandCode, p.ModelCode, p.YearCode, p.ReferenceCode, p.Fuel, p.Price.StringFixed(2), p.FipeCode, updatedAt.UTC()).
		Suffix(`ON CONFLICT (model_code, year_code, reference_code) DO UPDATE SET
			brand_code = excluded.brand_code, fuel = excluded.fuel, price = excluded.price,
			fipe_code = excluded.fipe_code, updated_at = excluded.updated_at`)
	return s.exec(ctx, "storage.UpsertPricedInstance", b)
}

func (s *SQLStore) ListReferencePeriods(ctx context.Context) ([]models.ReferencePeriod, error) {
	const op = "storage.ListReferencePeriods"

	rows, err := s.query(ctx, s.sb.Select("code", "label").From("reference_periods").OrderBy("code DESC"))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []models.ReferencePeriod
	for rows.Next() {
		var r models.ReferencePeriod
		if err := rows.Scan(&r.Code, &r.Label); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		out = append(out, r)
	}
	return out, rowsErr(op, rows)
}

func (s *SQLStore) ListBrands(ctx context.Context) ([]models.Brand, error) {
	const op = "storage.ListBrands"

	rows, err := s.query(ctx, s.sb.Select("code", "name").From("brands").OrderBy("code"))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []models.Brand
	for rows.Next() {
		var b models.Brand
		if err := rows.Scan(&b.Code, &b.Name); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		out = append(out, b)
	}
	return out, rowsErr(op, rows)
}

func (s *SQLStore) ListModelsByBrand(ctx context.Context, brandCode string) ([]models.Model, error) {
	const op = "storage.ListModelsByBrand"

	rows, err := s.query(ctx, s.sb.Select("code", "name", "brand_code").
		From("models").
		Where(sq.Eq{"brand_code": brandCode}).
		OrderBy("code"))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []models.Model
	for rows.Next() {
		var m models.Model
		if err := rows.Scan(&m.Code, &m.Name, &m.BrandCode); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		out = append(out, m)
	}
	return out, rowsErr(op, rows)
}

func (s *SQLStore) ListModelYearsByModel(ctx context.Context, modelCode string) ([]models.ModelYear, error) {
	const op = "storage.ListModelYearsByModel"

	rows, err := s.query(ctx, s.sb.Select("model_code", "code", "label", "year", "fuel_type").
		From("model_years").
		Where(sq.Eq{"model_code": modelCode}).
		OrderBy("code"))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []models.ModelYear
	for rows.Next() {
		var y models.ModelYear
		if err := rows.Scan(&y.ModelCode, &y.Code, &y.Label, &y.Year, &y.FuelType); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		out = append(out, y)
	}
	return out, rowsErr(op, rows)
}

// Completeness counts catalog rows and the parents still missing children.
func (s *SQLStore) Completeness(ctx context.Context) (models.Completeness, error) {
	const op = "storage.Completeness"

	var c models.Completeness
	counts := []struct {
		dst *int
		b   sq.SelectBuilder
	}{
		{&c.Brands, s.sb.Select("COUNT(*)").From("brands")},
		{&c.Models, s.sb.Select("COUNT(*)").From("models")},
		{&c.ModelYears, s.sb.Select("COUNT(*)").From("model_years")},
		{&c.BrandsWithoutModels, s.sb.Select("COUNT(*)").From("brands b").
			Where("NOT EXISTS (SELECT 1 FROM models m WHERE m.brand_code = b.code)")},
		{&c.ModelsWithoutYears, s.sb.Select("COUNT(*)").From("models m").
			Where("NOT EXISTS (SELECT 1 FROM model_years y WHERE y.model_code = m.code)")},
	}

	for _, q := range counts {
		query, args, err := q.b.ToSql()
		if err != nil {
			return models.Completeness{}, fmt.Errorf("%s: build query: %w", op, err)
		}
		if err := s.db.QueryRowContext(ctx, query, args...).Scan(q.dst); err != nil {
			return models.Completeness{}, fmt.Errorf("%s: %w", op, classify(err))
		}
	}
	return c, nil
}

func (s *SQLStore) HasPricedInstance(ctx context.Context, key models.PriceKey) (bool, error) {
	const op = "storage.HasPricedInstance"

	query, args, err := s.sb.Select("1").
		From("priced_instances").
		Where(sq.Eq{
			"model_code":     key.ModelCode,
			"year_code":      key.YearCode,
			"reference_code": key.ReferenceCode,
		}).
		Limit(1).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("%s: build query: %w", op, err)
	}

	var one int
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("%s: %w", op, classify(err))
	}
	return true, nil
}

func (s *SQLStore) ListPricedInstances(ctx context.Context, referenceCode int) ([]models.PricedInstance, error) {
	const op = "storage.ListPricedInstances"

	rows, err := s.query(ctx, s.sb.Select(
		"id", "brand_code", "model_code", "year_code", "reference_code", "fuel", "price", "fipe_code", "updated_at").
		From("priced_instances").
		Where(sq.Eq{"reference_code": referenceCode}).
		OrderBy("brand_code", "model_code", "year_code"))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []models.PricedInstance
	for rows.Next() {
		var p models.PricedInstance
		if err := rows.Scan(&p.ID, &p.BrandCode, &p.ModelCode, &p.YearCode, &p.ReferenceCode,
			&p.Fuel, &p.Price, &p.FipeCode, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		out = append(out, p)
	}
	return out, rowsErr(op, rows)
}

func (s *SQLStore) query(ctx context.Context, b sq.Sqlizer) (*sql.Rows, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	return rows, nil
}

func rowsErr(op string, rows *sql.Rows) error {
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, classify(err))
	}
	return nil
}
