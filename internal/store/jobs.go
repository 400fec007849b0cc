package store

import (
	"database/sql"
	"time"
)

// JobStatus is the print-job state machine. Transitions move forward only,
// except the bounded Queued -> Failed -> Queued retry cycle.
type JobStatus string

const (
	StatusPending       JobStatus = "pending"
	StatusPersisted     JobStatus = "persisted"
	StatusQueued        JobStatus = "queued"
	StatusSent          JobStatus = "sent"
	StatusFailed        JobStatus = "failed"
	StatusFallbackSaved JobStatus = "fallback_saved"
)

// Terminal reports whether a status ends the job.
func (s JobStatus) Terminal() bool {
	return s == StatusSent || s == StatusFallbackSaved
}

// Cancellable reports whether a job in this status has not yet been handed
// to a device.
func (s JobStatus) Cancellable() bool {
	return s == StatusPending || s == StatusPersisted || s == StatusQueued
}

// Job is one dispatch attempt against a device, referencing a persisted
// artifact by SKU.
type Job struct {
	ID          string     `json:"id"`
	ArtifactSKU string     `json:"artifact_sku"`
	Device      string     `json:"device"`
	Status      JobStatus  `json:"status"`
	Retries     int        `json:"retries"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// CreateJob inserts a new job row.
func (s *Store) CreateJob(job *Job) error {
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now

	_, err := s.db.Exec(`
		INSERT INTO print_jobs (id, artifact_sku, device, status, retries, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, job.ID, job.ArtifactSKU, job.Device, job.Status, job.Retries, job.Error, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return &StorageError{Op: "insert job", Err: err}
	}
	return nil
}

// UpdateJob records a status transition. Terminal statuses also stamp
// completed_at. A row that already reached a terminal status is never
// rewritten: the transition that lost the race is dropped.
func (s *Store) UpdateJob(id string, status JobStatus, retries int, errMsg string) error {
	now := time.Now().UTC()

	var completedAt interface{}
	if status.Terminal() {
		completedAt = now
	}

	res, err := s.db.Exec(`
		UPDATE print_jobs
		SET status = ?, retries = ?, error = ?, updated_at = ?, completed_at = ?
		WHERE id = ? AND status NOT IN (?, ?)
	`, status, retries, errMsg, now, completedAt, id, StatusSent, StatusFallbackSaved)
	if err != nil {
		return &StorageError{Op: "update job", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Either the job does not exist or it is already terminal.
		if _, err := s.GetJob(id); err != nil {
			return err
		}
		return nil
	}
	return nil
}

// GetJob returns one job by ID.
func (s *Store) GetJob(id string) (*Job, error) {
	row := s.db.QueryRow(`
		SELECT id, artifact_sku, device, status, retries, error, created_at, updated_at, completed_at
		FROM print_jobs WHERE id = ?
	`, id)
	return scanJob(row)
}

// ListJobs returns the most recent jobs, newest first.
func (s *Store) ListJobs(limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(`
		SELECT id, artifact_sku, device, status, retries, error, created_at, updated_at, completed_at
		FROM print_jobs ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, &StorageError{Op: "list jobs", Err: err}
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// RecoverQueuedJobs resets jobs a crash left in Queued back to Pending and
// returns their IDs for re-dispatch.
func (s *Store) RecoverQueuedJobs() ([]string, error) {
	rows, err := s.db.Query(`SELECT id FROM print_jobs WHERE status = ?`, StatusQueued)
	if err != nil {
		return nil, &StorageError{Op: "recover jobs", Err: err}
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, &StorageError{Op: "recover jobs", Err: err}
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "recover jobs", Err: err}
	}

	if _, err := s.db.Exec(`UPDATE print_jobs SET status = ? WHERE status = ?`, StatusPending, StatusQueued); err != nil {
		return nil, &StorageError{Op: "recover jobs", Err: err}
	}
	return ids, nil
}

// DeleteJobsOlderThan prunes terminal jobs completed before the cutoff and
// returns how many rows were removed. Artifacts stay on disk; only the job
// history ages out.
func (s *Store) DeleteJobsOlderThan(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`
		DELETE FROM print_jobs
		WHERE status IN (?, ?) AND completed_at < ?
	`, StatusSent, StatusFallbackSaved, cutoff.UTC())
	if err != nil {
		return 0, &StorageError{Op: "prune jobs", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &StorageError{Op: "prune jobs", Err: err}
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var completedAt sql.NullTime
	err := row.Scan(&job.ID, &job.ArtifactSKU, &job.Device, &job.Status,
		&job.Retries, &job.Error, &job.CreatedAt, &job.UpdatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &StorageError{Op: "scan job", Err: err}
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	return &job, nil
}
