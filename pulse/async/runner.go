package async

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/teranos/reel/errors"
	"github.com/teranos/reel/logger"
)

// errStopped means the job left the running state under the runner, by a
// cancel or the janitor. The runner just stops.
var errStopped = errors.New("job no longer running")

// Runner drives jobs through their pipelines.
type Runner struct {
	reg       *Registry
	pipelines *PipelineRegistry
	logger    *zap.SugaredLogger
}

// NewRunner creates a runner over the registry and the pipelines.
func NewRunner(reg *Registry, pipelines *PipelineRegistry, log *zap.SugaredLogger) *Runner {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Runner{reg: reg, pipelines: pipelines, logger: log}
}

// Registry returns the job registry the runner works on.
func (r *Runner) Registry() *Registry { return r.reg }

// Pipelines returns the pipeline registry.
func (r *Runner) Pipelines() *PipelineRegistry { return r.pipelines }

// Run executes the job from its current step until it parks at a gate,
// completes or fails. It returns nil for all three; a non-nil error means
// ctx ended first and the job was left as it was.
func (r *Runner) Run(ctx context.Context, id string) error {
	job, err := r.reg.Snapshot(id)
	if err != nil {
		return err
	}
	p := r.pipelines.Get(job.Mode)
	if p == nil {
		r.fail(id, ErrorKindStageFailed, "", fmt.Sprintf("no pipeline registered for mode %s", job.Mode))
		return nil
	}

	err = r.reg.Update(id, func(j *Job) error {
		switch j.Status {
		case JobStatusPending:
			j.Start()
			return nil
		case JobStatusRunning:
			return nil
		default:
			return errStopped
		}
	})
	if err != nil {
		return ignoreStopped(err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		job, err = r.reg.Snapshot(id)
		if err != nil {
			return err
		}
		if job.Status != JobStatusRunning {
			return nil
		}

		idx := job.CurrentStep
		if idx >= len(p.Steps) {
			return ignoreStopped(r.reg.Update(id, func(j *Job) error {
				if j.Status != JobStatusRunning {
					return errStopped
				}
				j.Complete(j.Output)
				return nil
			}))
		}

		step := p.Steps[idx]
		if step.Gate {
			parked, err := r.park(id, step, idx)
			if err != nil || parked {
				return ignoreStopped(err)
			}
			continue
		}

		if err := r.runStage(ctx, id, step, idx); err != nil {
			return err
		}
	}
}

// park opens the gate, or walks past it when its artifact was already
// confirmed (a job recovered right after a confirmation).
func (r *Runner) park(id string, step Step, idx int) (bool, error) {
	parked := false
	err := r.reg.Update(id, func(j *Job) error {
		if j.Status != JobStatusRunning {
			return errStopped
		}
		a, ok := j.Artifacts[step.Name]
		if !ok {
			j.Fail(ErrorKindStageFailed, step.Name, fmt.Sprintf("gate %s has no artifact to confirm", step.Name))
			return nil
		}
		if a.Confirmed {
			j.CurrentStep = idx + 1
			return nil
		}
		j.Park(step.Name, idx)
		parked = true
		return nil
	})
	if err == nil && parked {
		logger.PulseInfow(r.logger, "Job awaiting confirmation", "job_id", id, "gate", step.Name)
	}
	return parked, err
}

func (r *Runner) runStage(ctx context.Context, id string, step Step, idx int) error {
	var snapshot *Job
	err := r.reg.Update(id, func(j *Job) error {
		if j.Status != JobStatusRunning {
			return errStopped
		}
		j.CurrentStep = idx
		j.StageName = step.Name
		j.SetProgress(step.From)
		snapshot = j.Clone()
		return nil
	})
	if err != nil {
		return ignoreStopped(err)
	}

	stageCtx := logger.WithStage(logger.WithJobID(ctx, id), step.Name)
	log := logger.FromContext(stageCtx, r.logger)
	sc := &StageContext{reg: r.reg, job: snapshot, step: step, Log: log}

	log.Debugw("Stage started", "progress", step.From)
	if err := step.Run(stageCtx, sc); err != nil {
		if errors.Is(err, errStopped) {
			log.Debugw("Stage result dropped, job no longer running")
			return nil
		}
		if ctx.Err() != nil {
			// Cancelled jobs are already failed; on shutdown the job stays
			// running so recovery picks it up from this stage.
			log.Infow("Stage interrupted", "error", err)
			return ctx.Err()
		}
		kind := ClassifyError(err)
		log.Warnw("Stage failed", "kind", kind, "error", err)
		r.fail(id, kind, step.Name, err.Error())
		return nil
	}

	err = r.reg.Update(id, func(j *Job) error {
		if j.Status != JobStatusRunning {
			return errStopped
		}
		j.SetProgress(step.To)
		j.CurrentStep = idx + 1
		return nil
	})
	if err == nil {
		log.Debugw("Stage finished", "progress", step.To)
	}
	return ignoreStopped(err)
}

func (r *Runner) fail(id string, kind ErrorKind, stage, msg string) {
	if err := r.reg.Update(id, func(j *Job) error {
		if j.Status.IsTerminal() {
			return errStopped
		}
		j.Fail(kind, stage, msg)
		return nil
	}); err != nil && !errors.Is(err, errStopped) {
		r.logger.Warnw("Failed to record job failure", "job_id", id, "error", err)
	}
}

// Confirm resolves the job's gate. When the job is parked at gate the
// artifact is frozen (replaced by supplied when non-nil) and the job moves
// to the next step with status running; the caller dispatches it. A gate
// the job already passed is a no-op, also once the job has ended. Anything
// else is rejected with
// ErrInvalidConfirmationState and the job is left unchanged.
//
// resumed reports whether the job needs dispatching.
func (r *Runner) Confirm(id, gate string, supplied json.RawMessage) (resumed bool, err error) {
	job, err := r.reg.Snapshot(id)
	if err != nil {
		return false, err
	}
	p := r.pipelines.Get(job.Mode)
	if p == nil {
		return false, errors.Wrapf(errors.ErrInvalidConfirmationState, "job %s has no pipeline", id)
	}
	idx := p.Index(gate)
	if idx < 0 || !p.Steps[idx].Gate {
		return false, errors.Wrapf(errors.ErrInvalidConfirmationState,
			"%s is not a confirmation gate of the %s pipeline", gate, job.Mode)
	}
	step := p.Steps[idx]

	err = r.reg.Update(id, func(j *Job) error {
		if j.Status == JobStatusAwaiting && j.WaitingFor == gate {
			held := j.Artifacts[gate]
			if held == nil {
				return errors.Wrapf(errors.ErrInvalidConfirmationState, "gate %s has no artifact", gate)
			}
			value := supplied
			if step.Confirm != nil {
				v, err := step.Confirm(held.Value, supplied)
				if err != nil {
					return err
				}
				value = v
			}
			if err := j.Freeze(gate, value); err != nil {
				return err
			}
			j.Resume(idx + 1)
			resumed = true
			return nil
		}
		if a := j.Artifacts[gate]; a != nil && a.Confirmed && idx < j.CurrentStep {
			return nil
		}
		return errors.Wrapf(errors.ErrInvalidConfirmationState,
			"job %s is %s, not awaiting %s", id, j.Status, gate)
	})
	if err != nil {
		return false, err
	}
	if resumed {
		logger.PulseInfow(r.logger, "Gate confirmed", "job_id", id, "gate", gate)
	}
	return resumed, nil
}

func ignoreStopped(err error) error {
	if errors.Is(err, errStopped) {
		return nil
	}
	return err
}
