package async

import (
	"database/sql"
	"encoding/json"
	"time"

	reeldb "github.com/teranos/reel/db"
	"github.com/teranos/reel/errors"
)

// Store persists job snapshots to the highlight_jobs table
type Store struct {
	db *sql.DB
}

// NewStore creates a new job store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// SaveJob writes the full job snapshot, inserting or replacing the row
func (s *Store) SaveJob(job *Job) error {
	artifactsJSON, err := MarshalArtifacts(job.Artifacts)
	if err != nil {
		return err
	}
	var errorJSON sql.NullString
	if job.Error != nil {
		data, err := json.Marshal(job.Error)
		if err != nil {
			return errors.Wrap(err, "failed to marshal job error")
		}
		errorJSON = sql.NullString{String: string(data), Valid: true}
	}

	query := `
		INSERT INTO highlight_jobs (
			id, mode, status,
			current_stage, stage_name, progress,
			waiting_for, request, artifacts,
			error, output, work_dir,
			created_at, updated_at,
			started_at, completed_at, gate_opened_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			current_stage = excluded.current_stage,
			stage_name = excluded.stage_name,
			progress = excluded.progress,
			waiting_for = excluded.waiting_for,
			artifacts = excluded.artifacts,
			error = excluded.error,
			output = excluded.output,
			work_dir = excluded.work_dir,
			updated_at = excluded.updated_at,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			gate_opened_at = excluded.gate_opened_at
	`

	_, err = s.db.Exec(query,
		job.ID,
		job.Mode,
		job.Status,
		job.CurrentStep,
		job.StageName,
		job.Progress,
		nullString(job.WaitingFor),
		string(job.Payload),
		artifactsJSON,
		errorJSON,
		nullString(job.Output),
		job.WorkDir,
		job.CreatedAt,
		job.UpdatedAt,
		job.StartedAt,
		job.CompletedAt,
		job.GateOpenedAt,
	)
	if err != nil {
		err = errors.Wrap(err, "failed to save job")
		if reeldb.IsDatabaseClosed(err) {
			return errors.Mark(err, reeldb.ErrDatabaseClosed)
		}
		return err
	}
	return nil
}

// GetJob retrieves a job by ID
func (s *Store) GetJob(id string) (*Job, error) {
	query := `SELECT ` + StandardJobSelectColumns() + ` FROM highlight_jobs WHERE id = ?`

	var job Job
	err := ScanJobFromRow(s.db.QueryRow(query, id), &job)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("job %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get job")
	}
	return &job, nil
}

// ListJobs returns jobs newest first, optionally filtered by status
func (s *Store) ListJobs(status *JobStatus, limit int) ([]*Job, error) {
	var query string
	var args []interface{}

	baseQuery := `SELECT ` + StandardJobSelectColumns() + ` FROM highlight_jobs`
	if status != nil {
		query = baseQuery + ` WHERE status = ? ORDER BY created_at DESC LIMIT ?`
		args = []interface{}{*status, limit}
	} else {
		query = baseQuery + ` ORDER BY created_at DESC LIMIT ?`
		args = []interface{}{limit}
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	return scanJobs(rows, "jobs")
}

// ListActive returns the jobs that are not terminal, oldest first, so
// recovery dispatches them in arrival order
func (s *Store) ListActive(limit int) ([]*Job, error) {
	query := `SELECT ` + StandardJobSelectColumns() + `
		FROM highlight_jobs
		WHERE status IN ('pending', 'running', 'awaiting_confirmation')
		ORDER BY created_at ASC
		LIMIT ?`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list active jobs")
	}
	defer rows.Close()

	return scanJobs(rows, "active jobs")
}

// scanJobs is a helper that scans multiple jobs from query rows
func scanJobs(rows *sql.Rows, context string) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		var job Job
		if err := ScanJobFromRows(rows, &job); err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, &job)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "error iterating %s", context)
	}

	return jobs, nil
}

// DeleteJob removes a job from the database
func (s *Store) DeleteJob(id string) error {
	result, err := s.db.Exec(`DELETE FROM highlight_jobs WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, "failed to delete job")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rows == 0 {
		return errors.NewNotFoundError("job %s", id)
	}
	return nil
}

// CleanupOldJobs removes completed/failed jobs older than the specified duration
func (s *Store) CleanupOldJobs(olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)

	query := `
		DELETE FROM highlight_jobs
		WHERE status IN ('completed', 'failed')
		  AND updated_at < ?
	`

	result, err := s.db.Exec(query, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to cleanup old jobs")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}
	return int(rows), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
