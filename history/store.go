// Package history archives finished jobs in a local SQLite database
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/bill-scraper/automation"
	"github.com/bill-scraper/jobs"
)

// timeLayout is fixed width so text order is time order
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Record is one archived job
type Record struct {
	ID           string                 `json:"job_id"`
	Status       jobs.Status            `json:"status"`
	Mode         jobs.Mode              `json:"mode"`
	RequestedBy  string                 `json:"requested_by,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	CompletedAt  time.Time              `json:"completed_at"`
	TotalUnits   int                    `json:"total_accounts"`
	Succeeded    int                    `json:"succeeded"`
	Failed       int                    `json:"failed"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Results      []automation.RunResult `json:"results"`
}

// Store is the job archive
type Store struct {
	db *sql.DB
}

var _ jobs.Archiver = (*Store)(nil)

// Open opens (creating if needed) the archive at path
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create history dir: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history db: %w", err)
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate history db: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			mode TEXT NOT NULL,
			requested_by TEXT,
			created_at TEXT NOT NULL,
			completed_at TEXT NOT NULL,
			total_units INTEGER NOT NULL,
			succeeded INTEGER NOT NULL,
			failed INTEGER NOT NULL,
			error_message TEXT,
			results TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_jobs_completed ON jobs(completed_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Archive stores a terminal job, replacing an earlier copy with the same id
func (s *Store) Archive(ctx context.Context, job jobs.Snapshot) error {
	if !job.Status.Terminal() {
		return fmt.Errorf("job %s is %s, only finished jobs are archived", job.ID, job.Status)
	}

	results, err := json.Marshal(job.Results)
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}

	completed := time.Now()
	if job.CompletedAt != nil {
		completed = *job.CompletedAt
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO jobs
			(id, status, mode, requested_by, created_at, completed_at, total_units, succeeded, failed, error_message, results)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		string(job.Status),
		string(job.Metadata.Mode),
		job.Metadata.RequestedBy,
		job.CreatedAt.UTC().Format(timeLayout),
		completed.UTC().Format(timeLayout),
		job.TotalUnits,
		len(job.Succeeded()),
		job.Failures(),
		job.ErrorMessage,
		string(results),
	)
	if err != nil {
		return fmt.Errorf("failed to archive job %s: %w", job.ID, err)
	}
	return nil
}

// Recent returns up to limit archived jobs, newest first
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, status, mode, requested_by, created_at, completed_at, total_units, succeeded, failed, error_message, results
		FROM jobs
		ORDER BY completed_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Get returns one archived job
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, status, mode, requested_by, created_at, completed_at, total_units, succeeded, failed, error_message, results
		FROM jobs
		WHERE id = ?`, id)
	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return Record{}, jobs.ErrJobNotFound
	}
	return r, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (Record, error) {
	var (
		r                    Record
		status, mode         string
		requestedBy, message sql.NullString
		created, completed   string
		results              string
	)
	err := sc.Scan(&r.ID, &status, &mode, &requestedBy, &created, &completed,
		&r.TotalUnits, &r.Succeeded, &r.Failed, &message, &results)
	if err != nil {
		return Record{}, err
	}

	r.Status = jobs.Status(status)
	r.Mode = jobs.Mode(mode)
	r.RequestedBy = requestedBy.String
	r.ErrorMessage = message.String
	if r.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return Record{}, fmt.Errorf("bad created_at for job %s: %w", r.ID, err)
	}
	if r.CompletedAt, err = time.Parse(timeLayout, completed); err != nil {
		return Record{}, fmt.Errorf("bad completed_at for job %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(results), &r.Results); err != nil {
		return Record{}, fmt.Errorf("bad results for job %s: %w", r.ID, err)
	}
	return r, nil
}
