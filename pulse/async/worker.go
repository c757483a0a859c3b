package async

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/reel/errors"
	"github.com/teranos/reel/sym"
)

const (
	// MaxOrphanedJobsToRecover limits how many jobs we'll attempt to recover
	// on startup to prevent overwhelming the system after a crash
	MaxOrphanedJobsToRecover = 1000

	// stopTimeout bounds how long Stop waits for in-flight stages.
	stopTimeout = 30 * time.Second
)

// pulseLogger wraps zap.SugaredLogger with special methods for Pulse operations
// Uses different log levels to create visual distinction:
// - DEBUG level → STARTING (✿ Opening operations)
// - WARN level → CLOSING (❀ Closing operations)
// - INFO level → PULSE (general worker operations)
type pulseLogger struct {
	*zap.SugaredLogger
}

// Starting logs an Opening (✿) event - uses DEBUG level for "STARTING" appearance
func (l pulseLogger) Starting(msg string, keysAndValues ...interface{}) {
	l.Debugw(sym.PulseOpen+" "+msg, keysAndValues...)
}

// Closing logs a Closing (❀) event - uses WARN level for "CLOSING" appearance
func (l pulseLogger) Closing(msg string, keysAndValues ...interface{}) {
	l.Warnw(sym.PulseClose+" "+msg, keysAndValues...)
}

// Pulse logs general Pulse/worker operations - uses INFO level
func (l pulseLogger) Pulse(msg string, keysAndValues ...interface{}) {
	l.Infow(msg, keysAndValues...)
}

// JobLoader lists the jobs a previous process left unfinished.
type JobLoader interface {
	ListActive(limit int) ([]*Job, error)
}

// ReleaseFunc is called after a worker lets go of a job, with a snapshot
// of the job as the worker left it.
type ReleaseFunc func(job *Job)

// WorkerPoolConfig contains configuration for the worker pool
type WorkerPoolConfig struct {
	Workers   int `json:"workers"`    // Number of concurrent workers
	QueueSize int `json:"queue_size"` // Dispatch channel buffer
}

// DefaultWorkerPoolConfig returns sensible defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		Workers:   2,
		QueueSize: 256,
	}
}

// WorkerPool runs jobs on a fixed set of goroutines.
//
// Workers read job ids from the dispatch channel. A worker holds a job
// until it parks at a gate or reaches a terminal status, then goes back to
// the channel; a parked job costs no goroutine. The registry's claim flag
// keeps a job on at most one worker.
type WorkerPool struct {
	runner        *Runner
	reg           *Registry
	loader        JobLoader
	onRelease     ReleaseFunc
	workers       int
	dispatch      chan string
	parentCtx     context.Context // Parent context from which worker context is derived
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	activeWorkers int
	jobsProcessed int
	startTime     time.Time
	logger        pulseLogger
	mu            sync.Mutex
}

// NewWorkerPool creates a worker pool. The worker count is capped by what
// the machine's available memory can carry.
//
// Context propagation: the server passes its root context. Cancelling it
// stops the workers and interrupts in-flight stages; interrupted jobs keep
// their running status so the next start recovers them.
func NewWorkerPool(ctx context.Context, runner *Runner, loader JobLoader, cfg WorkerPoolConfig, log *zap.SugaredLogger) *WorkerPool {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	pLogger := pulseLogger{log.Named("pulse")}

	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	if capped := capWorkers(workers); capped < workers {
		pLogger.SugaredLogger.Warnw("Reducing worker count for available memory",
			"configured", workers,
			"workers", capped)
		workers = capped
	}
	queueSize := cfg.QueueSize
	if queueSize < 1 {
		queueSize = DefaultWorkerPoolConfig().QueueSize
	}

	workerCtx, cancel := context.WithCancel(ctx)
	return &WorkerPool{
		runner:    runner,
		reg:       runner.Registry(),
		loader:    loader,
		workers:   workers,
		dispatch:  make(chan string, queueSize),
		parentCtx: ctx,
		ctx:       workerCtx,
		cancel:    cancel,
		logger:    pLogger,
	}
}

// OnRelease installs a hook run each time a worker releases a job.
// Must be called before Start.
func (wp *WorkerPool) OnRelease(fn ReleaseFunc) {
	wp.onRelease = fn
}

// Start recovers unfinished jobs and begins processing.
// ✿ Opening: recovery runs before the workers spawn
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	// Check if context was cancelled (after Stop()) - if so, create new one
	select {
	case <-wp.ctx.Done():
		wp.ctx, wp.cancel = context.WithCancel(wp.parentCtx)
		wp.logger.Starting("Recreated worker context after previous shutdown")
	default:
	}
	wp.startTime = time.Now()
	wp.jobsProcessed = 0
	wp.mu.Unlock()

	if err := wp.recoverOrphanedJobs(); err != nil {
		wp.logger.SugaredLogger.Warnw("Failed to recover orphaned jobs", "error", err)
		// Continue starting workers even if recovery fails
	}

	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
	wp.logger.Pulse(sym.Pulse+" Worker pool started", "workers", wp.workers)
}

// recoverOrphanedJobs reloads jobs that were not terminal when the last
// process exited. Running and pending jobs go back on the dispatch
// channel; awaiting jobs are restored parked at their gate.
func (wp *WorkerPool) recoverOrphanedJobs() error {
	if wp.loader == nil {
		return nil
	}
	jobs, err := wp.loader.ListActive(MaxOrphanedJobsToRecover)
	if err != nil {
		return errors.Wrap(err, "failed to list unfinished jobs")
	}
	if len(jobs) == 0 {
		return nil
	}

	wp.logger.Starting("Opening - found unfinished jobs from previous run", "count", len(jobs))
	recovered := 0
	for _, job := range jobs {
		if err := wp.reg.Insert(job); err != nil {
			wp.logger.SugaredLogger.Warnw("Failed to recover job", "job_id", job.ID, "error", err)
			continue
		}
		recovered++
		switch job.Status {
		case JobStatusRunning, JobStatusPending:
			wp.Dispatch(job.ID)
			wp.logger.Starting("Recovered job", "job_id", job.ID, "stage", job.StageName)
		case JobStatusAwaiting:
			wp.logger.Starting("Restored parked job", "job_id", job.ID, "gate", job.WaitingFor)
		}
	}
	wp.logger.Starting("Recovery complete", "recovered", recovered, "total", len(jobs))
	return nil
}

// Dispatch queues a job for the workers. It never blocks the caller: when
// the channel is full the send is handed to a goroutine.
func (wp *WorkerPool) Dispatch(id string) {
	select {
	case wp.dispatch <- id:
	default:
		go func() {
			select {
			case wp.dispatch <- id:
			case <-wp.ctx.Done():
			}
		}()
	}
}

// Stop gracefully stops the worker pool
// ❀ Closing: in-flight stages see their context cancelled and return
// Uses a 30-second timeout so a stuck stage cannot block shutdown
func (wp *WorkerPool) Stop() {
	wp.cancel()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wp.logger.Pulse(sym.PulseClose + " WorkerPool.Stop() complete - all workers exited cleanly")
	case <-time.After(stopTimeout):
		wp.logger.Closing("WorkerPool.Stop() timeout - stages may still be unwinding", "timeout", stopTimeout)
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()
	for {
		select {
		case <-wp.ctx.Done():
			return
		case jobID := <-wp.dispatch:
			wp.process(id, jobID)
		}
	}
}

// process runs one job on worker id until the job parks or ends.
func (wp *WorkerPool) process(workerID int, jobID string) {
	if wp.ctx.Err() != nil {
		return
	}
	if !wp.reg.claim(jobID) {
		// Already held, terminal, parked or evicted
		return
	}

	wp.mu.Lock()
	wp.activeWorkers++
	wp.jobsProcessed++
	wp.mu.Unlock()
	defer func() {
		wp.mu.Lock()
		wp.activeWorkers--
		wp.mu.Unlock()
	}()

	err := wp.run(jobID)
	if err != nil && wp.ctx.Err() == nil && !errors.Is(err, context.Canceled) {
		wp.logger.SugaredLogger.Errorw("Worker error processing job",
			"worker_id", workerID,
			"job_id", jobID,
			"error", err)
	}

	again := wp.reg.release(jobID)
	if wp.onRelease != nil {
		if job, err := wp.reg.Snapshot(jobID); err == nil {
			wp.onRelease(job)
		}
	}
	if again && wp.ctx.Err() == nil {
		// Confirmed while this worker was still parking it
		wp.Dispatch(jobID)
	}
}

// run ties the job's own context to the pool's so that both a cancel and
// a shutdown interrupt the stage.
func (wp *WorkerPool) run(jobID string) error {
	jobCtx, err := wp.reg.Context(jobID)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(jobCtx)
	defer cancel()
	stop := context.AfterFunc(wp.ctx, cancel)
	defer stop()

	return wp.runner.Run(ctx, jobID)
}

// Workers returns the number of concurrent workers
func (wp *WorkerPool) Workers() int {
	return wp.workers
}

// Runner returns the runner driving the pool's jobs.
func (wp *WorkerPool) Runner() *Runner {
	return wp.runner
}
