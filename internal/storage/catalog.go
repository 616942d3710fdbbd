package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/casefind/internal/models"
)

// RecordSummary is the catalog row kept for each fetched record.
type RecordSummary struct {
	ID          int64     `json:"id"`
	DisplayName string    `json:"display_name"`
	AssetCount  int       `json:"asset_count"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// RunSummary is one entry of the ingestion run ledger.
type RunSummary struct {
	ID         string    `json:"id"`
	Stage      string    `json:"stage"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	Succeeded  int       `json:"succeeded"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	Canceled   bool      `json:"canceled"`
}

// Catalog is a SQLite index of record summaries and ingestion runs. The files under the
// data directory remain the source of truth; the catalog only serves status reporting
// and name lookups.
type Catalog struct {
	db *sql.DB
}

// NewCatalog opens or creates the catalog database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewCatalog(dbPath string) (*Catalog, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create catalog directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	// ingestion workers write concurrently; serialize at the connection pool
	db.SetMaxOpenConns(1)

	if err := initCatalogSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Catalog{db: db}, nil
}

func initCatalogSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id INTEGER PRIMARY KEY,
		display_name TEXT NOT NULL,
		asset_count INTEGER NOT NULL DEFAULT 0,
		fetched_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS ingest_runs (
		id TEXT PRIMARY KEY,
		stage TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP,
		succeeded INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		canceled INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_ingest_runs_started_at ON ingest_runs(started_at);
	`
	_, err := db.Exec(schema)
	return err
}

// UpsertRecord inserts or replaces a record summary.
func (c *Catalog) UpsertRecord(ctx context.Context, rec RecordSummary) error {
	if rec.FetchedAt.IsZero() {
		rec.FetchedAt = time.Now().UTC()
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO records (id, display_name, asset_count, fetched_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			asset_count = excluded.asset_count,
			fetched_at = excluded.fetched_at`,
		rec.ID, rec.DisplayName, rec.AssetCount, rec.FetchedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert record %d: %w", rec.ID, err)
	}
	return nil
}

// GetRecord returns the summary for id, or models.ErrNotFound.
func (c *Catalog) GetRecord(ctx context.Context, id int64) (*RecordSummary, error) {
	var rec RecordSummary
	err := c.db.QueryRowContext(ctx,
		`SELECT id, display_name, asset_count, fetched_at FROM records WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.DisplayName, &rec.AssetCount, &rec.FetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CountRecords returns the number of catalogued records.
func (c *Catalog) CountRecords(ctx context.Context) (int64, error) {
	var n int64
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n)
	return n, err
}

// StartRun records the start of an ingestion stage and returns its run id.
func (c *Catalog) StartRun(ctx context.Context, stage string) (string, error) {
	id := uuid.NewString()
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO ingest_runs (id, stage, started_at) VALUES (?, ?, ?)`,
		id, stage, time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("start run: %w", err)
	}
	return id, nil
}

// FinishRun stores the outcome counters of a run started with StartRun.
func (c *Catalog) FinishRun(ctx context.Context, run RunSummary) error {
	if run.FinishedAt.IsZero() {
		run.FinishedAt = time.Now().UTC()
	}
	res, err := c.db.ExecContext(ctx,
		`UPDATE ingest_runs
		 SET finished_at = ?, succeeded = ?, skipped = ?, failed = ?, canceled = ?
		 WHERE id = ?`,
		run.FinishedAt, run.Succeeded, run.Skipped, run.Failed, run.Canceled, run.ID,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", run.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s: %w", run.ID, models.ErrNotFound)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (c *Catalog) RecentRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, stage, started_at, finished_at, succeeded, skipped, failed, canceled
		 FROM ingest_runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var r RunSummary
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.Stage, &r.StartedAt, &finished, &r.Succeeded, &r.Skipped, &r.Failed, &r.Canceled); err != nil {
			return nil, err
		}
		if finished.Valid {
			r.FinishedAt = finished.Time
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Close closes the database.
func (c *Catalog) Close() error {
	return c.db.Close()
}
