// Package async runs gated, multi-stage jobs: a registry of in-memory job
// records, a worker pool that drives each job through its pipeline, and
// confirmation gates where a job parks until a caller lets it continue.
//
// ARCHITECTURE: the engine is domain-agnostic
//   - Pipelines (ordered stages and gates) are registered per Mode
//   - The job payload is domain-owned JSON the stages decode themselves
//   - Stages exchange data through named artifacts on the job
package async

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"

	"github.com/teranos/reel/errors"
)

// JobStatus represents the current state of a job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusAwaiting  JobStatus = "awaiting_confirmation"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// IsValidStatus returns true if the status string is a valid JobStatus
func IsValidStatus(s string) bool {
	switch JobStatus(s) {
	case JobStatusPending, JobStatusRunning, JobStatusAwaiting,
		JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is possible.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Mode selects the pipeline a job runs.
type Mode string

const (
	ModeEmbedding Mode = "embedding"
	ModeDirect    Mode = "direct"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeEmbedding, ModeDirect:
		return Mode(s), nil
	default:
		return "", errors.NewInvalidRequestError("unknown mode %q (valid: embedding, direct)", s)
	}
}

// Artifact is a named stage output. Once confirmed it is frozen.
type Artifact struct {
	Value     json.RawMessage `json:"value"`
	Confirmed bool            `json:"confirmed"`
	CreatedAt time.Time       `json:"created_at"`
}

// JobError is recorded on the transition to failed.
type JobError struct {
	Kind    ErrorKind `json:"kind"`
	Stage   string    `json:"stage,omitempty"`
	Message string    `json:"message"`
}

// Candidate is one provider's proposal for a gate that offers a choice.
// Failed providers carry Error and are never selectable.
type Candidate struct {
	Provider string          `json:"provider"`
	Value    json.RawMessage `json:"value,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Selectable reports whether the candidate can be chosen.
func (c Candidate) Selectable() bool { return c.Error == "" }

// ErrArtifactFrozen is returned when a stage overwrites a confirmed artifact
var ErrArtifactFrozen = errors.New("artifact is confirmed")

// Job is one run of a pipeline.
//
// The registry owns the record: the worker running the job and the
// confirmation and cancel paths mutate it under the per-job lock, and
// callers only ever see copies.
type Job struct {
	ID           string               `json:"id"`
	Mode         Mode                 `json:"mode"`
	Status       JobStatus            `json:"status"`
	CurrentStep  int                  `json:"current_stage"`
	StageName    string               `json:"stage_name"`
	Progress     float64              `json:"progress_percent"`
	WaitingFor   string               `json:"waiting_for,omitempty"`
	Payload      json.RawMessage      `json:"payload,omitempty"` // domain-owned request
	Artifacts    map[string]*Artifact `json:"artifacts"`
	Error        *JobError            `json:"error,omitempty"`
	Output       string               `json:"output,omitempty"`
	WorkDir      string               `json:"work_dir,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
	StartedAt    *time.Time           `json:"started_at,omitempty"`
	CompletedAt  *time.Time           `json:"completed_at,omitempty"`
	GateOpenedAt *time.Time           `json:"gate_opened_at,omitempty"`
}

// NewJobID returns a base58-encoded random UUID.
func NewJobID() string {
	id := uuid.New()
	return base58.Encode(id[:])
}

// NewJob creates a pending job for mode with a domain payload.
func NewJob(mode Mode, payload json.RawMessage) (*Job, error) {
	if _, err := ParseMode(string(mode)); err != nil {
		return nil, err
	}
	now := time.Now()
	return &Job{
		ID:        NewJobID(),
		Mode:      mode,
		Status:    JobStatusPending,
		Payload:   payload,
		Artifacts: make(map[string]*Artifact),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Start marks the job as running
func (j *Job) Start() {
	now := time.Now()
	j.Status = JobStatusRunning
	if j.StartedAt == nil {
		j.StartedAt = &now
	}
	j.UpdatedAt = now
}

// Park stops the job at gate until it is confirmed.
func (j *Job) Park(gate string, step int) {
	now := time.Now()
	j.Status = JobStatusAwaiting
	j.CurrentStep = step
	j.StageName = gate
	j.WaitingFor = gate
	j.GateOpenedAt = &now
	j.UpdatedAt = now
}

// Resume moves the job past its open gate to step.
func (j *Job) Resume(step int) {
	j.Status = JobStatusRunning
	j.CurrentStep = step
	j.WaitingFor = ""
	j.GateOpenedAt = nil
	j.UpdatedAt = time.Now()
}

// Complete marks the job as completed
func (j *Job) Complete(output string) {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.Output = output
	j.Progress = 100
	j.WaitingFor = ""
	j.GateOpenedAt = nil
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// Fail marks the job as failed. A terminal job is left as it is.
func (j *Job) Fail(kind ErrorKind, stage, message string) {
	if j.Status.IsTerminal() {
		return
	}
	now := time.Now()
	j.Status = JobStatusFailed
	j.Error = &JobError{Kind: kind, Stage: stage, Message: message}
	j.WaitingFor = ""
	j.GateOpenedAt = nil
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// SetProgress raises progress to p; progress never decreases.
func (j *Job) SetProgress(p float64) {
	if p > 100 {
		p = 100
	}
	if p > j.Progress {
		j.Progress = p
		j.UpdatedAt = time.Now()
	}
}

// Put stores value under name unless that artifact is already confirmed.
func (j *Job) Put(name string, value interface{}) error {
	if a, ok := j.Artifacts[name]; ok && a.Confirmed {
		return errors.Wrapf(ErrArtifactFrozen, "artifact %s", name)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal artifact %s", name)
	}
	if j.Artifacts == nil {
		j.Artifacts = make(map[string]*Artifact)
	}
	j.Artifacts[name] = &Artifact{Value: raw, CreatedAt: time.Now()}
	j.UpdatedAt = time.Now()
	return nil
}

// Get decodes the artifact name into dst.
func (j *Job) Get(name string, dst interface{}) error {
	a, ok := j.Artifacts[name]
	if !ok {
		return errors.Wrapf(errors.ErrNotFound, "artifact %s", name)
	}
	if err := json.Unmarshal(a.Value, dst); err != nil {
		return errors.Wrapf(err, "failed to decode artifact %s", name)
	}
	return nil
}

// Freeze confirms artifact name, replacing its value when value is non-nil.
func (j *Job) Freeze(name string, value json.RawMessage) error {
	a, ok := j.Artifacts[name]
	if !ok {
		return errors.Wrapf(errors.ErrNotFound, "artifact %s", name)
	}
	if a.Confirmed {
		return errors.Wrapf(ErrArtifactFrozen, "artifact %s", name)
	}
	if value != nil {
		a.Value = value
	}
	a.Confirmed = true
	j.UpdatedAt = time.Now()
	return nil
}

// Clone returns a deep copy safe to hand outside the registry.
func (j *Job) Clone() *Job {
	c := *j
	c.Payload = append(json.RawMessage(nil), j.Payload...)
	c.Artifacts = make(map[string]*Artifact, len(j.Artifacts))
	for name, a := range j.Artifacts {
		cp := *a
		cp.Value = append(json.RawMessage(nil), a.Value...)
		c.Artifacts[name] = &cp
	}
	if j.Error != nil {
		e := *j.Error
		c.Error = &e
	}
	c.StartedAt = cloneTime(j.StartedAt)
	c.CompletedAt = cloneTime(j.CompletedAt)
	c.GateOpenedAt = cloneTime(j.GateOpenedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// MarshalArtifacts converts the artifact map to a JSON string
func MarshalArtifacts(artifacts map[string]*Artifact) (string, error) {
	if len(artifacts) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(artifacts)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal artifacts")
	}
	return string(data), nil
}

// UnmarshalArtifacts converts a JSON string to an artifact map
func UnmarshalArtifacts(data string) (map[string]*Artifact, error) {
	artifacts := make(map[string]*Artifact)
	if data == "" {
		return artifacts, nil
	}
	if err := json.Unmarshal([]byte(data), &artifacts); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal artifacts")
	}
	return artifacts, nil
}
