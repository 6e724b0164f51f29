// Package jobstore provides persistent storage for conversion job state using SQLite.
package jobstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// ErrNotFound is returned for unknown job ids.
var ErrNotFound = errors.New("job not found")

// JobStatus represents the current state of a conversion job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether a job in this state will not change again.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// ConvertParams are the parameters of a GEM to bGEF conversion job.
type ConvertParams struct {
	Input      string `json:"input"`
	Output     string `json:"output"`
	Bins       []int  `json:"bins"`
	Region     string `json:"region,omitempty"`
	Omics      string `json:"omics,omitempty"`
	Resolution int    `json:"resolution,omitempty"`
	Overwrite  bool   `json:"overwrite,omitempty"`
	UseGeneMap bool   `json:"use_gene_map,omitempty"`
	DatasetID  string `json:"dataset_id,omitempty"`
}

// JobProgress represents the progress of a conversion job.
type JobProgress struct {
	Phase   string `json:"phase"`
	Records uint64 `json:"records"`
}

// BinResult summarizes one written bin size.
type BinResult struct {
	BinSize int    `json:"bin_size"`
	Genes   int    `json:"genes"`
	Records int    `json:"records"`
	Box     string `json:"box"`
}

// JobResult is the summary of a finished conversion.
type JobResult struct {
	Output     string      `json:"output"`
	Records    uint64      `json:"records"`
	DurationMS int64       `json:"duration_ms"`
	Bins       []BinResult `json:"bins"`
}

// Job represents a conversion job.
type Job struct {
	ID         string        `json:"job_id"`
	Status     JobStatus     `json:"status"`
	Params     ConvertParams `json:"params"`
	Progress   JobProgress   `json:"progress"`
	Result     *JobResult    `json:"result,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	StartedAt  *time.Time    `json:"started_at,omitempty"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// Store provides persistent storage for conversion jobs using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// NewStore creates a new SQLite-based job store.
func NewStore(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for sqlite: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS convert_jobs (
		job_id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		params_json TEXT NOT NULL,
		phase TEXT DEFAULT '',
		records INTEGER DEFAULT 0,
		result_json TEXT,
		error TEXT DEFAULT '',
		created_at TEXT NOT NULL,
		started_at TEXT,
		finished_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_convert_jobs_status ON convert_jobs(status);
	CREATE INDEX IF NOT EXISTS idx_convert_jobs_finished ON convert_jobs(finished_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

const jobColumns = `job_id, status, params_json, phase, records, result_json, error, created_at, started_at, finished_at`

// CreateJob creates a new job record.
func (s *Store) CreateJob(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	paramsJSON, err := json.Marshal(job.Params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO convert_jobs (job_id, status, params_json, phase, records, result_json, error, created_at, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, NULL, ?, ?, NULL, NULL)
	`,
		job.ID,
		string(job.Status),
		string(paramsJSON),
		job.Progress.Phase,
		int64(job.Progress.Records),
		job.Error,
		job.CreatedAt.UTC().Format(timeLayout),
	)
	return err
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM convert_jobs WHERE job_id = ?`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	return job, err
}

// ListJobs returns jobs, newest first. status filters when non-empty.
func (s *Store) ListJobs(ctx context.Context, status JobStatus, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + jobColumns + ` FROM convert_jobs`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

// ListQueuedJobs returns all queued jobs, oldest first (for restart recovery).
func (s *Store) ListQueuedJobs(ctx context.Context) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM convert_jobs WHERE status = ?
		ORDER BY created_at ASC
	`, string(JobStatusQueued))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

// UpdateJobStatus updates the job status and error message. Terminal states
// also stamp finished_at.
func (s *Store) UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var finishedAt *string
	if status.Terminal() {
		t := time.Now().UTC().Format(timeLayout)
		finishedAt = &t
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE convert_jobs SET status = ?, error = ?, finished_at = COALESCE(?, finished_at)
		WHERE job_id = ?
	`, string(status), errMsg, finishedAt, jobID)
	return err
}

// UpdateJobStarted marks a queued job as running. It reports false when the
// job was no longer queued, e.g. cancelled while waiting.
func (s *Store) UpdateJobStarted(ctx context.Context, jobID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx, `
		UPDATE convert_jobs SET status = ?, started_at = ?
		WHERE job_id = ? AND status = ?
	`, string(JobStatusRunning), now, jobID, string(JobStatusQueued))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// UpdateJobProgress updates the progress fields.
func (s *Store) UpdateJobProgress(ctx context.Context, jobID string, p JobProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE convert_jobs SET phase = ?, records = ?
		WHERE job_id = ?
	`, p.Phase, int64(p.Records), jobID)
	return err
}

// CompleteJob stores the result and marks the job completed.
func (s *Store) CompleteJob(ctx context.Context, jobID string, result *JobResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	now := time.Now().UTC().Format(timeLayout)
	_, err = s.db.ExecContext(ctx, `
		UPDATE convert_jobs SET status = ?, result_json = ?, records = ?, phase = ?, error = '', finished_at = ?
		WHERE job_id = ?
	`, string(JobStatusCompleted), string(resultJSON), int64(result.Records), "done", now, jobID)
	return err
}

// MarkRunningAsFailed marks all running jobs as failed (for restart recovery).
func (s *Store) MarkRunningAsFailed(ctx context.Context, errMsg string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx, `
		UPDATE convert_jobs SET status = ?, error = ?, finished_at = ?
		WHERE status = ?
	`, string(JobStatusFailed), errMsg, now, string(JobStatusRunning))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteExpiredJobs deletes finished jobs older than retention.
func (s *Store) DeleteExpiredJobs(ctx context.Context, retention time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-retention).UTC().Format(timeLayout)
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM convert_jobs WHERE finished_at IS NOT NULL AND finished_at < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// DeleteJob deletes a job record.
func (s *Store) DeleteJob(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM convert_jobs WHERE job_id = ?", jobID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var paramsJSON string
	var records int64
	var createdAtStr string
	var resultJSON, startedAtStr, finishedAtStr sql.NullString

	err := row.Scan(
		&job.ID,
		&job.Status,
		&paramsJSON,
		&job.Progress.Phase,
		&records,
		&resultJSON,
		&job.Error,
		&createdAtStr,
		&startedAtStr,
		&finishedAtStr,
	)
	if err != nil {
		return nil, err
	}
	job.Progress.Records = uint64(records)

	if err := json.Unmarshal([]byte(paramsJSON), &job.Params); err != nil {
		return nil, fmt.Errorf("failed to unmarshal params: %w", err)
	}
	if resultJSON.Valid && resultJSON.String != "" {
		job.Result = &JobResult{}
		if err := json.Unmarshal([]byte(resultJSON.String), job.Result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result: %w", err)
		}
	}

	job.CreatedAt, _ = time.Parse(timeLayout, createdAtStr)
	if startedAtStr.Valid {
		t, _ := time.Parse(timeLayout, startedAtStr.String)
		job.StartedAt = &t
	}
	if finishedAtStr.Valid {
		t, _ := time.Parse(timeLayout, finishedAtStr.String)
		job.FinishedAt = &t
	}
	return &job, nil
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	jobs := []*Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
