package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"zoopla_fetcher/identity"
	"zoopla_fetcher/models"
)

// PostgresStore mirrors the latest state of every listing and the union of
// all price history seen across runs.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Name() string {
	return "postgres"
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS listings (
			listing_id TEXT PRIMARY KEY,
			url TEXT,
			fingerprint TEXT NOT NULL,
			data JSONB NOT NULL,
			last_run_id UUID,
			first_seen_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS listing_price_history (
			listing_id TEXT NOT NULL,
			date TIMESTAMPTZ NOT NULL,
			price DOUBLE PRECISION NOT NULL,
			price_change_type TEXT NOT NULL,
			first_run_id UUID,
			PRIMARY KEY (listing_id, date, price_change_type)
		);
	`)
	return err
}

// Publish upserts each extracted listing, rewriting the row only when its
// fingerprint changed, and appends unseen price history entries.
func (s *PostgresStore) Publish(ctx context.Context, result *models.RunResult) error {
	batch := &pgx.Batch{}

	for i, rec := range result.Records {
		if rec.Empty() {
			continue
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode record %s: %w", rec.ListingID(), err)
		}
		url := ""
		if i < len(result.URLs) {
			url = result.URLs[i]
		}
		batch.Queue(`
			INSERT INTO listings (listing_id, url, fingerprint, data, last_run_id)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (listing_id) DO UPDATE SET
				url = EXCLUDED.url,
				fingerprint = EXCLUDED.fingerprint,
				data = EXCLUDED.data,
				last_run_id = EXCLUDED.last_run_id,
				updated_at = NOW()
			WHERE listings.fingerprint IS DISTINCT FROM EXCLUDED.fingerprint`,
			rec.ListingID(), url, identity.Fingerprint(rec), data, result.Run.ID)
	}

	for _, e := range result.History {
		batch.Queue(`
			INSERT INTO listing_price_history (listing_id, date, price, price_change_type, first_run_id)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT DO NOTHING`,
			e.ListingID, e.Date, e.Price, string(e.ChangeType), result.Run.ID)
	}

	if batch.Len() == 0 {
		return nil
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	var changed int64
	for i := 0; i < batch.Len(); i++ {
		tag, err := br.Exec()
		if err != nil {
			return fmt.Errorf("batch item %d: %w", i, err)
		}
		changed += tag.RowsAffected()
	}
	log.Printf("[info] postgres: run %s: %d rows written", result.Run.ID, changed)
	return nil
}

// GetListing returns the mirrored record for a listing id, or nil if unknown.
func (s *PostgresStore) GetListing(ctx context.Context, listingID string) (models.Record, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM listings WHERE listing_id = $1`, listingID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rec models.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode listing %s: %w", listingID, err)
	}
	return rec, nil
}
