package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cdnbox/internal/security"

	_ "modernc.org/sqlite"
)

// History stores redeploy records in SQLite
type History struct {
	db *sql.DB
}

// NewHistory opens or creates the history database at dbPath
func NewHistory(dbPath string) (*History, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			if err := security.CreateSecureDir(dir, security.PermDirectory); err != nil {
				return nil, err
			}
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite has a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	h := &History{db: db}

	if err := h.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := os.Chmod(dbPath, security.PermDBFile); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set database permissions: %w", err)
	}

	return h, nil
}

// Close closes the database connection
func (h *History) Close() error {
	return h.db.Close()
}

func (h *History) initSchema() error {
	_, err := h.db.Exec(`
		CREATE TABLE IF NOT EXISTS redeploys (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			delivery_id TEXT NOT NULL,
			event TEXT NOT NULL,
			ref TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at TEXT NOT NULL,
			completed_at TEXT,
			duration_seconds REAL,
			commit_hash TEXT,
			error_message TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	_, err = h.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_redeploys_started
		ON redeploys(started_at DESC)
	`)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}

// RecordRedeploy stores record and returns its ID. A zero StartedAt is
// recorded as now; CompletedAt defaults to now.
func (h *History) RecordRedeploy(ctx context.Context, record *RedeployRecord) (int64, error) {
	now := time.Now().UTC()

	startedAt := record.StartedAt
	if startedAt.IsZero() {
		startedAt = now
	}

	completedAt := now
	if record.CompletedAt != nil {
		completedAt = *record.CompletedAt
	}

	result, err := h.db.ExecContext(ctx, `
		INSERT INTO redeploys
		(delivery_id, event, ref, status, started_at, completed_at,
		 duration_seconds, commit_hash, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.DeliveryID,
		record.Event,
		record.Ref,
		record.Status,
		startedAt.UTC().Format(time.RFC3339),
		completedAt.UTC().Format(time.RFC3339),
		record.DurationSeconds,
		record.CommitHash,
		record.ErrorMessage,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert redeploy record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}

	return id, nil
}

// GetLatest returns the most recent record, or nil when there is none
func (h *History) GetLatest(ctx context.Context) (*RedeployRecord, error) {
	row := h.db.QueryRowContext(ctx, `
		SELECT id, delivery_id, event, ref, status, started_at, completed_at,
		       duration_seconds, commit_hash, error_message
		FROM redeploys
		ORDER BY id DESC
		LIMIT 1
	`)

	record, err := scanRedeployRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest redeploy: %w", err)
	}

	return record, nil
}

// List returns up to limit records, newest first
func (h *History) List(ctx context.Context, limit int) ([]RedeployRecord, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT id, delivery_id, event, ref, status, started_at, completed_at,
		       duration_seconds, commit_hash, error_message
		FROM redeploys
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query redeploy history: %w", err)
	}
	defer rows.Close()

	var records []RedeployRecord
	for rows.Next() {
		record, err := scanRedeployRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan redeploy record: %w", err)
		}
		records = append(records, *record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return records, nil
}

// CountByStatus returns the number of records per status
func (h *History) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM redeploys GROUP BY status
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count redeploys: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[status] = n
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return counts, nil
}

// scanner is implemented by both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRedeployRecord(s scanner) (*RedeployRecord, error) {
	var record RedeployRecord
	var startedAtStr string
	var completedAtStr sql.NullString

	err := s.Scan(
		&record.ID,
		&record.DeliveryID,
		&record.Event,
		&record.Ref,
		&record.Status,
		&startedAtStr,
		&completedAtStr,
		&record.DurationSeconds,
		&record.CommitHash,
		&record.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}

	startedAt, err := time.Parse(time.RFC3339, startedAtStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse started_at timestamp: %w", err)
	}
	record.StartedAt = startedAt

	if completedAtStr.Valid {
		completedAt, err := time.Parse(time.RFC3339, completedAtStr.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse completed_at timestamp: %w", err)
		}
		record.CompletedAt = &completedAt
	}

	return &record, nil
}
