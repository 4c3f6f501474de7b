package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"otodom-stats/models"
)

// PostgresAggregateStore persists finished per-district statistics to
// PostgreSQL and serves them back to the HTTP layer.
type PostgresAggregateStore struct {
	db *sql.DB
}

// NewPostgresAggregateStore opens a connection to PostgreSQL, runs schema
// migrations, and returns a ready-to-use store.
func NewPostgresAggregateStore(dsn string) (*PostgresAggregateStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	for i := 0; i < 10; i++ {
		if err = db.Ping(); err == nil {
			break
		}
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: ping failed after retries: %w", err)
	}

	ps := &PostgresAggregateStore{db: db}
	if err := ps.migrate(); err != nil {
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	return ps, nil
}

func (ps *PostgresAggregateStore) migrate() error {
	_, err := ps.db.Exec(`
		CREATE TABLE IF NOT EXISTS district_aggregates (
			id                SERIAL PRIMARY KEY,
			city              VARCHAR(64)   NOT NULL,
			district          VARCHAR(128)  NOT NULL,
			room_type         VARCHAR(16)   NOT NULL,
			fetch_date        DATE          NOT NULL,
			listing_count     INTEGER       NOT NULL DEFAULT 0,
			reported_count    INTEGER       NOT NULL DEFAULT 0,
			avg_price         NUMERIC(14,2) NOT NULL DEFAULT 0,
			avg_price_per_sqm NUMERIC(12,2) NOT NULL DEFAULT 0,
			prices            INTEGER[]     NOT NULL DEFAULT '{}',
			prices_per_sqm    INTEGER[]     NOT NULL DEFAULT '{}',
			diagnostics       JSONB         NOT NULL DEFAULT '{}'::jsonb,
			created_at        TIMESTAMPTZ   NOT NULL DEFAULT NOW(),
			UNIQUE (city, district, room_type, fetch_date)
		);

		CREATE INDEX IF NOT EXISTS idx_aggregates_city      ON district_aggregates(city);
		CREATE INDEX IF NOT EXISTS idx_aggregates_fetchdate ON district_aggregates(fetch_date);
	`)
	return err
}

// DeleteAggregatesForCity removes every stored statistic of a city.
func (ps *PostgresAggregateStore) DeleteAggregatesForCity(ctx context.Context, city string) error {
	if _, err := ps.db.ExecContext(ctx, "DELETE FROM district_aggregates WHERE city = $1", city); err != nil {
		return fmt.Errorf("postgres: delete city %s: %w", city, err)
	}
	return nil
}

// SaveAggregate upserts the statistic for one district and room type.
func (ps *PostgresAggregateStore) SaveAggregate(ctx context.Context, target models.TargetDescriptor, result *models.AggregateResult) error {
	diag, err := json.Marshal(result.Diagnostics)
	if err != nil {
		return fmt.Errorf("postgres: marshal diagnostics: %w", err)
	}

	_, err = ps.db.ExecContext(ctx, `
		INSERT INTO district_aggregates
			(city, district, room_type, fetch_date, listing_count, reported_count,
			 avg_price, avg_price_per_sqm, prices, prices_per_sqm, diagnostics)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::jsonb)
		ON CONFLICT (city, district, room_type, fetch_date) DO UPDATE
		SET listing_count     = EXCLUDED.listing_count,
			reported_count    = EXCLUDED.reported_count,
			avg_price         = EXCLUDED.avg_price,
			avg_price_per_sqm = EXCLUDED.avg_price_per_sqm,
			prices            = EXCLUDED.prices,
			prices_per_sqm    = EXCLUDED.prices_per_sqm,
			diagnostics       = EXCLUDED.diagnostics,
			created_at        = NOW()
	`,
		target.City, target.District, string(target.RoomType), target.FetchDate,
		result.Count, result.ReportedCount, result.AvgPrice, result.AvgPricePerSqm,
		pq.Array(toInt64s(result.Prices)), pq.Array(toInt64s(result.PricesPerSqm)), string(diag),
	)
	if err != nil {
		return fmt.Errorf("postgres: save aggregate %s: %w", target.Key(), err)
	}
	return nil
}

// ListAggregates retrieves the stored statistics of a city, newest first.
func (ps *PostgresAggregateStore) ListAggregates(ctx context.Context, city string) ([]AggregateRecord, error) {
	rows, err := ps.db.QueryContext(ctx, `
		SELECT city, district, room_type, fetch_date, listing_count, reported_count,
		       avg_price, avg_price_per_sqm, prices, prices_per_sqm, created_at
		FROM district_aggregates
		WHERE city = $1
		ORDER BY fetch_date DESC, district, room_type
	`, city)
	if err != nil {
		return nil, fmt.Errorf("postgres: list aggregates: %w", err)
	}
	defer rows.Close()

	var records []AggregateRecord
	for rows.Next() {
		var (
			r            AggregateRecord
			roomType     string
			prices       pq.Int64Array
			pricesPerSqm pq.Int64Array
		)
		if err := rows.Scan(
			&r.City, &r.District, &roomType, &r.FetchDate, &r.Count, &r.ReportedCount,
			&r.AvgPrice, &r.AvgPricePerSqm, &prices, &pricesPerSqm, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan row: %w", err)
		}
		r.RoomType = models.RoomType(roomType)
		r.Prices = toInts(prices)
		r.PricesPerSqm = toInts(pricesPerSqm)
		records = append(records, r)
	}
	return records, rows.Err()
}

func (ps *PostgresAggregateStore) Close() error {
	return ps.db.Close()
}

func toInt64s(in []int) []int64 {
	out := make([]int64, len(in))
	for i, v := range in {
		out[i] = int64(v)
	}
	return out
}

func toInts(in []int64) []int {
	out := make([]int, len(in))
	for i, v := range in {
		out[i] = int(v)
	}
	return out
}
