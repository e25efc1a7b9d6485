package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/folio/market-engine/internal/model"
)

// Schema creates the price_cache table. The unique constraint on
// (ticker, date) is what makes Upsert idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS price_cache (
	id          UUID PRIMARY KEY,
	ticker      TEXT NOT NULL,
	date        DATE NOT NULL,
	close_price NUMERIC(20, 6) NOT NULL,
	volume      BIGINT,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT price_cache_ticker_date_uc UNIQUE (ticker, date)
);
CREATE INDEX IF NOT EXISTS price_cache_ticker_idx ON price_cache (ticker);
`

const upsertSQL = `
INSERT INTO price_cache (id, ticker, date, close_price, volume, created_at)
VALUES ($1, $2, $3, $4::NUMERIC, $5, now())
ON CONFLICT (ticker, date) DO UPDATE
SET close_price = EXCLUDED.close_price,
    volume = COALESCE(EXCLUDED.volume, price_cache.volume)`

// PostgresStore implements PriceStore using PostgreSQL as the source of truth.
// Prices are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the price_cache table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	return err
}

func (s *PostgresStore) GetRange(ctx context.Context, ticker string, start, end time.Time) ([]model.PriceObservation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT ticker, date, close_price::TEXT, volume
		 FROM price_cache
		 WHERE ticker = $1 AND date BETWEEN $2 AND $3
		 ORDER BY date`, ticker, model.Day(start), model.Day(end))
	if err != nil {
		return nil, fmt.Errorf("get range %s: %w", ticker, err)
	}
	defer rows.Close()

	return scanObservations(rows)
}

func (s *PostgresStore) Upsert(ctx context.Context, obs model.PriceObservation) (bool, error) {
	if err := validate(obs); err != nil {
		return false, err
	}
	tag, err := s.pool.Exec(ctx, upsertSQL,
		uuid.New(), obs.Ticker, model.Day(obs.Date), obs.Close.String(), obs.Volume)
	if err != nil {
		return false, fmt.Errorf("upsert %s %s: %w", obs.Ticker, model.DateKey(obs.Date), err)
	}
	return tag.RowsAffected() > 0, nil
}

// UpsertBulk writes all observations in one transaction; any failure rolls
// the whole batch back.
func (s *PostgresStore) UpsertBulk(ctx context.Context, obs []model.PriceObservation) (int, error) {
	if len(obs) == 0 {
		return 0, nil
	}
	for _, o := range obs {
		if err := validate(o); err != nil {
			return 0, err
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin bulk upsert: %w", err)
	}
	defer tx.Rollback(ctx) // no-op after commit

	batch := &pgx.Batch{}
	for _, o := range obs {
		batch.Queue(upsertSQL, uuid.New(), o.Ticker, model.Day(o.Date), o.Close.String(), o.Volume)
	}

	br := tx.SendBatch(ctx, batch)
	stored := 0
	for range obs {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return 0, fmt.Errorf("bulk upsert %s: %w", obs[0].Ticker, err)
		}
		if tag.RowsAffected() > 0 {
			stored++
		}
	}
	if err := br.Close(); err != nil {
		return 0, fmt.Errorf("bulk upsert %s: %w", obs[0].Ticker, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit bulk upsert: %w", err)
	}
	return stored, nil
}

func (s *PostgresStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM price_cache WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("retention sweep: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) Invalidate(ctx context.Context, ticker string, day *time.Time) (int64, error) {
	var (
		sql  = `DELETE FROM price_cache WHERE ticker = $1`
		args = []any{ticker}
	)
	if day != nil {
		sql += ` AND date = $2`
		args = append(args, model.Day(*day))
	}
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("invalidate %s: %w", ticker, err)
	}
	return tag.RowsAffected(), nil
}

// pgxRows is the subset of pgx.Rows used by scanObservations.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanObservations(rows pgxRows) ([]model.PriceObservation, error) {
	var result []model.PriceObservation
	for rows.Next() {
		var o model.PriceObservation
		var closeS string

		if err := rows.Scan(&o.Ticker, &o.Date, &closeS, &o.Volume); err != nil {
			return nil, err
		}

		c, err := decimal.NewFromString(closeS)
		if err != nil {
			return nil, fmt.Errorf("parse close_price %q: %w", closeS, err)
		}
		o.Close = c
		o.Date = model.Day(o.Date)
		result = append(result, o)
	}
	return result, rows.Err()
}
