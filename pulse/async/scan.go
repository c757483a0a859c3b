package async

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// JobScanArgs holds the nullable and encoded columns of a job row.
type JobScanArgs struct {
	WaitingFor    sql.NullString
	Request       sql.NullString
	ArtifactsJSON sql.NullString
	ErrorJSON     sql.NullString
	Output        sql.NullString
	StartedAt     sql.NullTime
	CompletedAt   sql.NullTime
	GateOpenedAt  sql.NullTime
}

// GetJobScanArgs returns a JobScanArgs struct with all variables ready for scanning
func GetJobScanArgs() *JobScanArgs {
	return &JobScanArgs{}
}

// GetJobScanTargets returns a slice of interface{} pointers for the job and scan args,
// in the order expected by the standard job SELECT query
func GetJobScanTargets(job *Job, args *JobScanArgs) []interface{} {
	return []interface{}{
		&job.ID,
		&job.Mode,
		&job.Status,
		&job.CurrentStep,
		&job.StageName,
		&job.Progress,
		&args.WaitingFor,
		&args.Request,
		&args.ArtifactsJSON,
		&args.ErrorJSON,
		&args.Output,
		&job.WorkDir,
		&job.CreatedAt,
		&job.UpdatedAt,
		&args.StartedAt,
		&args.CompletedAt,
		&args.GateOpenedAt,
	}
}

// ProcessJobScanArgs processes the scanned arguments and populates the job struct.
// Returns an error if JSON unmarshaling fails.
func ProcessJobScanArgs(job *Job, args *JobScanArgs) error {
	if args.Request.Valid {
		job.Payload = json.RawMessage(args.Request.String)
	}

	artifacts, err := UnmarshalArtifacts(args.ArtifactsJSON.String)
	if err != nil {
		return fmt.Errorf("failed to unmarshal artifacts for job %s: %w", job.ID, err)
	}
	job.Artifacts = artifacts

	if args.ErrorJSON.Valid && args.ErrorJSON.String != "" {
		var jobErr JobError
		if err := json.Unmarshal([]byte(args.ErrorJSON.String), &jobErr); err != nil {
			return fmt.Errorf("failed to unmarshal error for job %s: %w", job.ID, err)
		}
		job.Error = &jobErr
	}

	if args.WaitingFor.Valid {
		job.WaitingFor = args.WaitingFor.String
	}
	if args.Output.Valid {
		job.Output = args.Output.String
	}
	if args.StartedAt.Valid {
		job.StartedAt = &args.StartedAt.Time
	}
	if args.CompletedAt.Valid {
		job.CompletedAt = &args.CompletedAt.Time
	}
	if args.GateOpenedAt.Valid {
		job.GateOpenedAt = &args.GateOpenedAt.Time
	}

	return nil
}

// ScanJobFromRow scans a single job from a sql.Row
func ScanJobFromRow(row *sql.Row, job *Job) error {
	args := GetJobScanArgs()
	targets := GetJobScanTargets(job, args)

	if err := row.Scan(targets...); err != nil {
		return err
	}

	return ProcessJobScanArgs(job, args)
}

// ScanJobFromRows scans a single job from sql.Rows (for use in loops)
func ScanJobFromRows(rows *sql.Rows, job *Job) error {
	args := GetJobScanArgs()
	targets := GetJobScanTargets(job, args)

	if err := rows.Scan(targets...); err != nil {
		return err
	}

	return ProcessJobScanArgs(job, args)
}

// StandardJobSelectColumns returns the standard column list for job SELECT queries
func StandardJobSelectColumns() string {
	return `id, mode, status,
		current_stage, stage_name, progress,
		waiting_for, request, artifacts,
		error, output, work_dir,
		created_at, updated_at,
		started_at, completed_at, gate_opened_at`
}
