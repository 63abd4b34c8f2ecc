package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"

	"land-collector/models"
	"land-collector/utils"
)

// PostgresWriter persists canonical records across the property tables.
// Each record is written in one transaction keyed by listing id, so a
// re-run replaces the previous version of a listing.
type PostgresWriter struct {
	db     *sql.DB
	logger *utils.Logger
}

// NewPostgresWriter opens a connection to PostgreSQL, runs schema migrations,
// and returns a ready-to-use PostgresWriter.
func NewPostgresWriter(ctx context.Context, dsn string, logger *utils.Logger) (*PostgresWriter, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	retry := &utils.RetryConfig{
		MaxAttempts: 10,
		BaseDelay:   time.Second,
		MaxDelay:    5 * time.Second,
		Logger:      logger,
	}
	if err := retry.Do(ctx, "postgres-ping", func() error { return db.PingContext(ctx) }); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: %w", err)
	}

	pw := &PostgresWriter{db: db, logger: logger}
	if err := pw.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	return pw, nil
}

func (pw *PostgresWriter) migrate(ctx context.Context) error {
	_, err := pw.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS properties (
			listing_id        TEXT PRIMARY KEY,
			complex_id        TEXT,
			title             TEXT,
			trade_type        TEXT,
			current_floor     INTEGER,
			total_floors      INTEGER,
			parking_count     INTEGER,
			description       TEXT        NOT NULL DEFAULT '',
			photo_urls        TEXT[]      NOT NULL DEFAULT '{}',
			has_warnings      BOOLEAN     NOT NULL DEFAULT FALSE,
			updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS property_prices (
			listing_id   TEXT PRIMARY KEY REFERENCES properties(listing_id) ON DELETE CASCADE,
			deal_price   BIGINT,
			deposit      BIGINT,
			monthly_rent BIGINT
		);

		CREATE TABLE IF NOT EXISTS property_spaces (
			listing_id     TEXT PRIMARY KEY REFERENCES properties(listing_id) ON DELETE CASCADE,
			exclusive_area DOUBLE PRECISION,
			supply_area    DOUBLE PRECISION
		);

		CREATE TABLE IF NOT EXISTS property_locations (
			listing_id   TEXT PRIMARY KEY REFERENCES properties(listing_id) ON DELETE CASCADE,
			latitude     DOUBLE PRECISION,
			longitude    DOUBLE PRECISION,
			road_address TEXT,
			lot_address  TEXT,
			enriched     BOOLEAN NOT NULL DEFAULT FALSE
		);

		CREATE TABLE IF NOT EXISTS property_facilities (
			listing_id TEXT    NOT NULL REFERENCES properties(listing_id) ON DELETE CASCADE,
			facility   TEXT    NOT NULL,
			present    BOOLEAN NOT NULL,
			PRIMARY KEY (listing_id, facility)
		);

		CREATE TABLE IF NOT EXISTS property_realtors (
			listing_id      TEXT PRIMARY KEY REFERENCES properties(listing_id) ON DELETE CASCADE,
			name            TEXT,
			phone           TEXT,
			address         TEXT,
			registration_no TEXT
		);

		CREATE TABLE IF NOT EXISTS property_taxes (
			listing_id       TEXT PRIMARY KEY REFERENCES properties(listing_id) ON DELETE CASCADE,
			acquisition_tax  BIGINT,
			registration_tax BIGINT,
			brokerage_fee    BIGINT
		);

		CREATE TABLE IF NOT EXISTS property_field_provenance (
			listing_id TEXT NOT NULL REFERENCES properties(listing_id) ON DELETE CASCADE,
			field      TEXT NOT NULL,
			provenance TEXT NOT NULL,
			source     TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (listing_id, field)
		);

		CREATE TABLE IF NOT EXISTS property_violations (
			listing_id TEXT NOT NULL REFERENCES properties(listing_id) ON DELETE CASCADE,
			field      TEXT NOT NULL,
			rule       TEXT NOT NULL,
			severity   TEXT NOT NULL,
			detail     TEXT NOT NULL DEFAULT ''
		);

		CREATE INDEX IF NOT EXISTS idx_properties_complex   ON properties(complex_id);
		CREATE INDEX IF NOT EXISTS idx_provenance_field     ON property_field_provenance(field, provenance);
		CREATE INDEX IF NOT EXISTS idx_violations_listing   ON property_violations(listing_id);
	`)
	return err
}

// Persist writes rec and its warnings in one transaction. Unresolved
// fields are stored as NULL with their provenance row saying so.
func (pw *PostgresWriter) Persist(ctx context.Context, rec *models.CanonicalPropertyRecord, vr models.ValidationResult) (err error) {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				pw.logger.Error("[postgres] Rollback for %s failed: %v", rec.ListingID, rbErr)
			}
		}
	}()

	id := rec.ListingID
	photos := rec.PhotoURLs
	if photos == nil {
		photos = []string{}
	}

	steps := []struct {
		table string
		query string
		args  []any
	}{
		{"properties", `
			INSERT INTO properties (listing_id, complex_id, title, trade_type, current_floor, total_floors,
				parking_count, description, photo_urls, has_warnings, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW())
			ON CONFLICT (listing_id) DO UPDATE SET
				complex_id = EXCLUDED.complex_id, title = EXCLUDED.title, trade_type = EXCLUDED.trade_type,
				current_floor = EXCLUDED.current_floor, total_floors = EXCLUDED.total_floors,
				parking_count = EXCLUDED.parking_count, description = EXCLUDED.description,
				photo_urls = EXCLUDED.photo_urls, has_warnings = EXCLUDED.has_warnings, updated_at = NOW()`,
			[]any{id, nullable(rec.ComplexID), nullable(rec.Title), nullable(rec.TradeType),
				nullable(rec.CurrentFloor), nullable(rec.TotalFloors), nullable(rec.ParkingCount),
				rec.Description, pq.Array(photos), vr.HasWarnings()}},
		{"property_prices", `
			INSERT INTO property_prices (listing_id, deal_price, deposit, monthly_rent)
			VALUES ($1,$2,$3,$4)
			ON CONFLICT (listing_id) DO UPDATE SET
				deal_price = EXCLUDED.deal_price, deposit = EXCLUDED.deposit, monthly_rent = EXCLUDED.monthly_rent`,
			[]any{id, nullable(rec.DealPrice), nullable(rec.Deposit), nullable(rec.MonthlyRent)}},
		{"property_spaces", `
			INSERT INTO property_spaces (listing_id, exclusive_area, supply_area)
			VALUES ($1,$2,$3)
			ON CONFLICT (listing_id) DO UPDATE SET
				exclusive_area = EXCLUDED.exclusive_area, supply_area = EXCLUDED.supply_area`,
			[]any{id, nullable(rec.ExclusiveArea), nullable(rec.SupplyArea)}},
		{"property_locations", `
			INSERT INTO property_locations (listing_id, latitude, longitude, road_address, lot_address, enriched)
			VALUES ($1,$2,$3,$4,$5,$6)
			ON CONFLICT (listing_id) DO UPDATE SET
				latitude = EXCLUDED.latitude, longitude = EXCLUDED.longitude, road_address = EXCLUDED.road_address,
				lot_address = EXCLUDED.lot_address, enriched = EXCLUDED.enriched`,
			[]any{id, nullable(rec.Location.Latitude), nullable(rec.Location.Longitude),
				nullable(rec.Location.RoadAddress), nullable(rec.Location.LotAddress), rec.Location.Enriched}},
		{"property_realtors", `
			INSERT INTO property_realtors (listing_id, name, phone, address, registration_no)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (listing_id) DO UPDATE SET
				name = EXCLUDED.name, phone = EXCLUDED.phone, address = EXCLUDED.address,
				registration_no = EXCLUDED.registration_no`,
			[]any{id, nullable(rec.Realtor.Name), nullable(rec.Realtor.Phone),
				nullable(rec.Realtor.Address), nullable(rec.Realtor.RegistrationNo)}},
		{"property_taxes", `
			INSERT INTO property_taxes (listing_id, acquisition_tax, registration_tax, brokerage_fee)
			VALUES ($1,$2,$3,$4)
			ON CONFLICT (listing_id) DO UPDATE SET
				acquisition_tax = EXCLUDED.acquisition_tax, registration_tax = EXCLUDED.registration_tax,
				brokerage_fee = EXCLUDED.brokerage_fee`,
			[]any{id, nullable(rec.Tax.AcquisitionTax), nullable(rec.Tax.RegistrationTax), nullable(rec.Tax.BrokerageFee)}},
		{"property_facilities", `DELETE FROM property_facilities WHERE listing_id = $1`, []any{id}},
		{"property_field_provenance", `DELETE FROM property_field_provenance WHERE listing_id = $1`, []any{id}},
		{"property_violations", `DELETE FROM property_violations WHERE listing_id = $1`, []any{id}},
	}
	for _, s := range steps {
		if _, err = tx.ExecContext(ctx, s.query, s.args...); err != nil {
			return fmt.Errorf("postgres: %s: %w", s.table, err)
		}
	}

	if err = pw.insertFacilities(ctx, tx, rec); err != nil {
		return err
	}
	if err = pw.insertProvenance(ctx, tx, rec); err != nil {
		return err
	}
	if err = pw.insertViolations(ctx, tx, id, vr.Violations); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func (pw *PostgresWriter) insertFacilities(ctx context.Context, tx *sql.Tx, rec *models.CanonicalPropertyRecord) error {
	names := make([]string, 0, len(rec.Facilities))
	for name := range rec.Facilities {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([][]any, 0, len(names))
	for _, name := range names {
		rows = append(rows, []any{rec.ListingID, name, rec.Facilities[name]})
	}
	return insertBatch(ctx, tx, "property_facilities", []string{"listing_id", "facility", "present"}, rows)
}

func (pw *PostgresWriter) insertProvenance(ctx context.Context, tx *sql.Tx, rec *models.CanonicalPropertyRecord) error {
	var rows [][]any
	add := func(name string, tag models.Provenance, source string) {
		rows = append(rows, []any{rec.ListingID, name, string(tag), source})
	}
	for _, f := range rec.MoneyFields() {
		add(f.Name, f.Field.Tag(), f.Field.Source)
	}
	for _, f := range rec.CountFields() {
		add(f.Name, f.Field.Tag(), f.Field.Source)
	}
	for _, f := range rec.FloatFields() {
		add(f.Name, f.Field.Tag(), f.Field.Source)
	}
	for _, f := range rec.TextFields() {
		add(f.Name, f.Field.Tag(), f.Field.Source)
	}
	return insertBatch(ctx, tx, "property_field_provenance",
		[]string{"listing_id", "field", "provenance", "source"}, rows)
}

func (pw *PostgresWriter) insertViolations(ctx context.Context, tx *sql.Tx, id string, vs []models.Violation) error {
	rows := make([][]any, 0, len(vs))
	for _, v := range vs {
		rows = append(rows, []any{id, v.Field, v.Rule, string(v.Severity), v.Detail})
	}
	return insertBatch(ctx, tx, "property_violations",
		[]string{"listing_id", "field", "rule", "severity", "detail"}, rows)
}

// insertBatch writes rows with a multi-row VALUES list, 50 rows per statement.
func insertBatch(ctx context.Context, tx *sql.Tx, table string, columns []string, rows [][]any) error {
	const batchSize = 50
	for i := 0; i < len(rows); i += batchSize {
		end := i + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		query, args := buildInsert(table, columns, rows[i:end])
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("postgres: %s: %w", table, err)
		}
	}
	return nil
}

func buildInsert(table string, columns []string, rows [][]any) (string, []any) {
	valueStrings := make([]string, 0, len(rows))
	valueArgs := make([]any, 0, len(rows)*len(columns))

	for idx, row := range rows {
		base := idx * len(columns)
		placeholders := make([]string, len(columns))
		for c := range columns {
			placeholders[c] = fmt.Sprintf("$%d", base+c+1)
		}
		valueStrings = append(valueStrings, "("+strings.Join(placeholders, ",")+")")
		valueArgs = append(valueArgs, row...)
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", table, strings.Join(columns, ","), strings.Join(valueStrings, ","))
	return query, valueArgs
}

// nullable maps an unresolved field to SQL NULL.
func nullable[T any](f models.Field[T]) any {
	if !f.Resolved() {
		return nil
	}
	return f.Value
}

func (pw *PostgresWriter) Close() error {
	return pw.db.Close()
}
