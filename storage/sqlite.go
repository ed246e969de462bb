package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"zoopla_fetcher/identity"
	"zoopla_fetcher/models"
)

type SQLiteStore struct {
	db *sqlx.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Connect("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS query_runs (
		id TEXT PRIMARY KEY,
		query_name TEXT,
		spec JSON,
		mode TEXT,
		started_at DATETIME,
		finished_at DATETIME,
		status TEXT,
		listings_found INTEGER DEFAULT 0,
		records_ok INTEGER DEFAULT 0,
		records_failed INTEGER DEFAULT 0,
		error TEXT DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS listing_records (
		run_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		listing_id TEXT,
		url TEXT,
		fingerprint TEXT,
		failed BOOLEAN DEFAULT FALSE,
		data JSON,
		PRIMARY KEY (run_id, position),
		FOREIGN KEY (run_id) REFERENCES query_runs(id)
	);

	CREATE TABLE IF NOT EXISTS price_history (
		id INTEGER PRIMARY KEY,
		run_id TEXT NOT NULL,
		listing_id TEXT NOT NULL,
		date DATETIME,
		price REAL,
		price_change_type TEXT,
		FOREIGN KEY (run_id) REFERENCES query_runs(id)
	);

	CREATE TABLE IF NOT EXISTS run_logs (
		id INTEGER PRIMARY KEY,
		run_id TEXT,
		timestamp DATETIME,
		level TEXT,
		message TEXT,
		component TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON query_runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_runs_query ON query_runs(query_name, started_at);
	CREATE INDEX IF NOT EXISTS idx_records_listing ON listing_records(listing_id);
	CREATE INDEX IF NOT EXISTS idx_history_run ON price_history(run_id, listing_id, date);
	CREATE INDEX IF NOT EXISTS idx_logs_run ON run_logs(run_id, timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *models.QueryRun) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO query_runs (id, query_name, spec, mode, started_at, status,
			listings_found, records_ok, records_failed, error)
		VALUES (:id, :query_name, :spec, :mode, :started_at, :status,
			:listings_found, :records_ok, :records_failed, :error)`, run)
	return err
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, run *models.QueryRun) error {
	_, err := s.db.NamedExecContext(ctx, `
		UPDATE query_runs SET finished_at = :finished_at, status = :status,
			listings_found = :listings_found, records_ok = :records_ok,
			records_failed = :records_failed, error = :error
		WHERE id = :id`, run)
	return err
}

// SaveResult stores every row of a run's result in one transaction. Failed
// listings are kept as empty rows so the table has one row per URL.
func (s *SQLiteStore) SaveResult(ctx context.Context, result *models.RunResult) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	runID := result.Run.ID.String()

	for i, rec := range result.Records {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode record %d: %w", i, err)
		}
		url := ""
		if i < len(result.URLs) {
			url = result.URLs[i]
		}
		listingID := rec.ListingID()
		if listingID == "" {
			listingID = identity.ListingIDFromURL(url)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO listing_records (run_id, position, listing_id, url, fingerprint, failed, data)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			runID, i, listingID, url, identity.Fingerprint(rec), rec.Empty(), data); err != nil {
			return fmt.Errorf("insert record %d: %w", i, err)
		}
	}

	for _, e := range result.History {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO price_history (run_id, listing_id, date, price, price_change_type)
			VALUES (?, ?, ?, ?, ?)`,
			runID, e.ListingID, e.Date, e.Price, e.ChangeType); err != nil {
			return fmt.Errorf("insert history for %s: %w", e.ListingID, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) Log(ctx context.Context, entry *models.RunLog) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO run_logs (run_id, timestamp, level, message, component)
		VALUES (?, ?, ?, ?, ?)`,
		entry.RunID, entry.Timestamp, entry.Level, entry.Message, entry.Component)
	return err
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]models.QueryRun, error) {
	if limit <= 0 {
		limit = 50
	}
	var runs []models.QueryRun
	err := s.db.SelectContext(ctx, &runs, `
		SELECT id, query_name, spec, mode, started_at, finished_at, status,
			listings_found, records_ok, records_failed, error
		FROM query_runs ORDER BY started_at DESC LIMIT ?`, limit)
	return runs, err
}

func (s *SQLiteStore) GetRun(ctx context.Context, id uuid.UUID) (*models.QueryRun, error) {
	var run models.QueryRun
	err := s.db.GetContext(ctx, &run, `
		SELECT id, query_name, spec, mode, started_at, finished_at, status,
			listings_found, records_ok, records_failed, error
		FROM query_runs WHERE id = ?`, id.String())
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *SQLiteStore) GetRecords(ctx context.Context, runID uuid.UUID) ([]models.StoredRecord, error) {
	var records []models.StoredRecord
	err := s.db.SelectContext(ctx, &records, `
		SELECT run_id, position, listing_id, url, fingerprint, failed, data
		FROM listing_records WHERE run_id = ? ORDER BY position`, runID.String())
	return records, err
}

func (s *SQLiteStore) GetHistory(ctx context.Context, runID uuid.UUID) ([]models.PriceHistoryEntry, error) {
	var entries []models.PriceHistoryEntry
	err := s.db.SelectContext(ctx, &entries, `
		SELECT listing_id, date, price, price_change_type
		FROM price_history WHERE run_id = ? ORDER BY id`, runID.String())
	return entries, err
}

func (s *SQLiteStore) GetLogs(ctx context.Context, runID uuid.UUID) ([]models.RunLog, error) {
	var logs []models.RunLog
	err := s.db.SelectContext(ctx, &logs, `
		SELECT id, run_id, timestamp, level, message, component
		FROM run_logs WHERE run_id = ? ORDER BY id`, runID.String())
	return logs, err
}

// PreviousFingerprints maps listing id to the fingerprint it had in the most
// recent earlier completed run of the same query and mode.
func (s *SQLiteStore) PreviousFingerprints(ctx context.Context, run *models.QueryRun) (map[string]string, error) {
	var rows []struct {
		ListingID   string `db:"listing_id"`
		Fingerprint string `db:"fingerprint"`
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT listing_id, fingerprint FROM listing_records
		WHERE failed = 0 AND run_id = (
			SELECT id FROM query_runs
			WHERE query_name = ? AND mode = ? AND status = ? AND id != ? AND started_at < ?
			ORDER BY started_at DESC LIMIT 1
		)`, run.QueryName, run.Mode, models.RunStatusCompleted, run.ID.String(), run.StartedAt)
	if err != nil {
		return nil, err
	}

	prev := make(map[string]string, len(rows))
	for _, r := range rows {
		prev[r.ListingID] = r.Fingerprint
	}
	return prev, nil
}
