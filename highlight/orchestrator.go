package highlight

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/reel/am"
	"github.com/teranos/reel/errors"
	"github.com/teranos/reel/logger"
	"github.com/teranos/reel/pulse/async"
	"github.com/teranos/reel/storage"
)

// ErrNotReady is returned for the output of a job that has not completed.
var ErrNotReady = errors.New("output not ready")

// Orchestrator owns the jobs of one process. It creates jobs, routes
// confirmations and cancellations, and runs the worker pool and janitor.
type Orchestrator struct {
	deps    Deps
	reg     *async.Registry
	runner  *async.Runner
	pool    *async.WorkerPool
	janitor *async.Janitor
	store   *async.Store // nil keeps jobs in memory only
	logger  *zap.SugaredLogger

	stopJanitor context.CancelFunc
	janitorDone chan struct{}
}

// NewPipelines registers both modes' pipelines over deps.
func NewPipelines(deps *Deps) (*async.PipelineRegistry, error) {
	reg := async.NewPipelineRegistry()
	if err := reg.Register(deps.EmbeddingPipeline()); err != nil {
		return nil, err
	}
	if err := reg.Register(deps.DirectPipeline()); err != nil {
		return nil, err
	}
	return reg, nil
}

// New wires an orchestrator. db may be nil; otherwise job snapshots are
// persisted to it and unfinished jobs recovered from it on Start.
// Cancelling ctx stops the workers.
func New(ctx context.Context, deps Deps, db *sql.DB) (*Orchestrator, error) {
	if deps.Oracle == nil || deps.Media == nil || deps.Resolver == nil || deps.Settings == nil {
		return nil, errors.New("orchestrator needs an oracle, a media toolkit, a resolver, and settings")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop().Sugar()
	}
	log := deps.Logger.Named("highlight")

	pipelines, err := NewPipelines(&deps)
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{deps: deps, logger: log}

	var (
		snap   async.Snapshotter
		loader async.JobLoader
	)
	if db != nil {
		o.store = async.NewStore(db)
		snap, loader = o.store, o.store
	}

	cfg := deps.Settings.Load()
	o.reg = async.NewRegistry(snap, log)
	o.runner = async.NewRunner(o.reg, pipelines, log)
	o.pool = async.NewWorkerPool(ctx, o.runner, loader, async.WorkerPoolConfig{
		Workers:   cfg.Pulse.Workers,
		QueueSize: async.DefaultWorkerPoolConfig().QueueSize,
	}, log)
	o.pool.OnRelease(func(job *async.Job) {
		if job.Status.IsTerminal() {
			o.cleanup(job)
		}
	})
	o.janitor = async.NewJanitor(o.reg, async.JanitorConfig{
		Interval:    time.Duration(cfg.Pulse.JanitorIntervalSeconds) * time.Second,
		Retention:   cfg.Retention(),
		GateTimeout: cfg.GateTimeout(),
	}, o.cleanup, log)
	return o, nil
}

// Start drops stale snapshots, recovers unfinished jobs, and starts the
// workers and the janitor.
func (o *Orchestrator) Start() {
	if o.store != nil {
		if n, err := o.store.CleanupOldJobs(o.deps.Settings.Load().Retention()); err != nil {
			o.logger.Warnw("Failed to clean up old job snapshots", logger.FieldError, err)
		} else if n > 0 {
			o.logger.Infow("Cleaned up old job snapshots", logger.FieldCount, n)
		}
	}
	o.pool.Start()

	ctx, cancel := context.WithCancel(context.Background())
	o.stopJanitor = cancel
	o.janitorDone = make(chan struct{})
	go func() {
		defer close(o.janitorDone)
		o.janitor.Run(ctx)
	}()
}

// Stop stops the janitor and the workers. Running jobs keep their status
// and are recovered by the next Start.
func (o *Orchestrator) Stop() {
	if o.stopJanitor != nil {
		o.stopJanitor()
		<-o.janitorDone
	}
	o.pool.Stop()
}

// Registry exposes the job registry for event streaming.
func (o *Orchestrator) Registry() *async.Registry { return o.reg }

// Pool exposes the worker pool for metrics.
func (o *Orchestrator) Pool() *async.WorkerPool { return o.pool }

// Reload applies a new configuration to the stages that start from now on.
func (o *Orchestrator) Reload(cfg *am.Config) {
	o.deps.Settings.Store(cfg)
	if o.deps.Budget != nil {
		o.deps.Budget.SetLimits(BudgetLimits(cfg))
	}
}

// Create validates req, registers a pending job, and dispatches it. Jobs
// are refused once provider spend has reached a configured cap.
func (o *Orchestrator) Create(req Request) (*async.Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := o.deps.Resolver.Check(req.Source); err != nil {
		return nil, err
	}
	if err := o.deps.Budget.Check(context.Background()); err != nil {
		o.logger.Warnw("Job refused", logger.FieldMode, req.Mode, logger.FieldError, err)
		return nil, err
	}
	if req.Mode == async.ModeDirect {
		if _, err := o.deps.localizers(req.Options.Providers); err != nil {
			return nil, err
		}
	}
	payload, err := req.Payload()
	if err != nil {
		return nil, err
	}
	job, err := async.NewJob(req.Mode, payload)
	if err != nil {
		return nil, err
	}
	job.WorkDir = filepath.Join(o.workRoot(), job.ID)

	if err := o.reg.Insert(job); err != nil {
		return nil, err
	}
	o.logger.Infow("Job created",
		logger.FieldJobID, job.ID,
		logger.FieldMode, job.Mode,
		"source", req.Source,
	)
	o.pool.Dispatch(job.ID)
	return job, nil
}

// Job returns a snapshot of the job.
func (o *Orchestrator) Job(id string) (*async.Job, error) {
	return o.reg.Snapshot(id)
}

// Jobs returns snapshots of every job, newest first.
func (o *Orchestrator) Jobs() []*async.Job {
	return o.reg.List()
}

// Confirm passes gate with value. For the summary gate, provider selects
// the candidate and value, when set, is the edited criteria text.
func (o *Orchestrator) Confirm(id, gate string, value json.RawMessage, provider string) error {
	supplied := value
	if gate == GateSummary && provider != "" {
		var err error
		if supplied, err = summaryChoice(value, provider); err != nil {
			return err
		}
	}

	resumed, err := o.runner.Confirm(id, gate, supplied)
	if err != nil {
		return err
	}
	if resumed {
		o.pool.Dispatch(id)
	}
	return nil
}

func summaryChoice(value json.RawMessage, provider string) (json.RawMessage, error) {
	choice := SummaryChoice{Provider: provider}
	if !isEmpty(value) {
		if err := json.Unmarshal(value, &choice.Criteria); err != nil {
			var obj SummaryChoice
			if err := json.Unmarshal(value, &obj); err != nil {
				return nil, errors.NewInvalidRequestError("summary value must be criteria text or an object")
			}
			choice.Criteria = obj.Criteria
		}
	}
	data, err := json.Marshal(choice)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode summary choice")
	}
	return data, nil
}

// Cancel fails the job as cancelled and aborts its in-flight work. It is a
// no-op on terminal jobs.
func (o *Orchestrator) Cancel(id string) error {
	cancelled := false
	err := o.reg.Update(id, func(j *async.Job) error {
		if j.Status.IsTerminal() {
			return nil
		}
		stage := j.StageName
		if j.WaitingFor != "" {
			stage = j.WaitingFor
		}
		j.Fail(async.ErrorKindCancelled, stage, "cancelled by user")
		cancelled = true
		return nil
	})
	if err != nil || !cancelled {
		return err
	}
	if err := o.reg.Cancel(id); err != nil {
		return err
	}
	o.logger.Infow("Job cancelled", logger.FieldJobID, id)

	// A worker still holding the job cleans up on release.
	if !o.reg.Held(id) {
		if job, err := o.reg.Snapshot(id); err == nil {
			o.cleanup(job)
		}
	}
	return nil
}

// Output locates a completed job's highlight.
func (o *Orchestrator) Output(ctx context.Context, id string) (storage.Location, error) {
	job, err := o.reg.Snapshot(id)
	if err != nil {
		return storage.Location{}, err
	}
	if job.Status != async.JobStatusCompleted || job.Output == "" {
		return storage.Location{}, errors.Wrapf(ErrNotReady, "job %s is %s", id, job.Status)
	}
	return o.deps.Resolver.Locate(ctx, job.Output)
}

// Metrics reports worker and job counts.
func (o *Orchestrator) Metrics() async.SystemMetrics {
	return o.pool.GetSystemMetrics()
}

func (o *Orchestrator) workRoot() string {
	if dir := o.deps.Settings.Load().Pulse.WorkDir; dir != "" {
		return dir
	}
	return filepath.Join(os.TempDir(), "reel")
}

// cleanup removes a finished job's scratch directory. Outputs live in the
// store, not the work dir.
func (o *Orchestrator) cleanup(job *async.Job) {
	if job.WorkDir == "" {
		return
	}
	if err := os.RemoveAll(job.WorkDir); err != nil {
		o.logger.Warnw("Failed to remove work dir",
			logger.FieldJobID, job.ID,
			logger.FieldFile, job.WorkDir,
			logger.FieldError, err,
		)
		return
	}
	o.logger.Debugw("Removed work dir", logger.FieldJobID, job.ID, logger.FieldFile, job.WorkDir)
}
