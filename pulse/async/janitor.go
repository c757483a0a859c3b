package async

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/reel/logger"
)

// JanitorConfig sets the janitor's clocks.
type JanitorConfig struct {
	Interval    time.Duration // time between sweeps
	Retention   time.Duration // how long terminal jobs stay queryable
	GateTimeout time.Duration // how long a job may wait at a gate
}

// SweepResult counts what one sweep did.
type SweepResult struct {
	TimedOut int
	Evicted  int
}

// Janitor fails jobs stuck at a gate and evicts old terminal jobs.
type Janitor struct {
	reg     *Registry
	cfg     JanitorConfig
	cleanup func(job *Job)
	logger  *zap.SugaredLogger
}

// NewJanitor creates a janitor. cleanup, when set, runs for every job the
// janitor times out or evicts.
func NewJanitor(reg *Registry, cfg JanitorConfig, cleanup func(job *Job), log *zap.SugaredLogger) *Janitor {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Janitor{reg: reg, cfg: cfg, cleanup: cleanup, logger: log}
}

// Run sweeps every interval until ctx is cancelled.
func (jn *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(jn.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			res := jn.Sweep(now)
			if res.TimedOut > 0 || res.Evicted > 0 {
				logger.PulseInfow(jn.logger, "Janitor sweep",
					"timed_out", res.TimedOut,
					"evicted", res.Evicted)
			}
		}
	}
}

// Sweep runs one pass as of now.
func (jn *Janitor) Sweep(now time.Time) SweepResult {
	var res SweepResult
	for _, job := range jn.reg.List() {
		switch {
		case job.Status == JobStatusAwaiting && jn.cfg.GateTimeout > 0:
			if job.GateOpenedAt == nil || now.Sub(*job.GateOpenedAt) < jn.cfg.GateTimeout {
				continue
			}
			if jn.timeout(job.ID, job.WaitingFor) {
				res.TimedOut++
			}
		case job.Status.IsTerminal() && jn.cfg.Retention > 0:
			ended := job.UpdatedAt
			if job.CompletedAt != nil {
				ended = *job.CompletedAt
			}
			if now.Sub(ended) < jn.cfg.Retention || jn.reg.Held(job.ID) {
				continue
			}
			if err := jn.reg.Evict(job.ID); err != nil {
				continue
			}
			if jn.cleanup != nil {
				jn.cleanup(job)
			}
			res.Evicted++
		}
	}
	return res
}

// timeout fails the job if it is still waiting at gate.
func (jn *Janitor) timeout(id, gate string) bool {
	timedOut := false
	err := jn.reg.Update(id, func(j *Job) error {
		if j.Status != JobStatusAwaiting || j.WaitingFor != gate {
			return nil
		}
		j.Fail(ErrorKindTimeout, gate,
			fmt.Sprintf("confirmation for %s not received within %s", gate, jn.cfg.GateTimeout))
		timedOut = true
		return nil
	})
	if err != nil || !timedOut {
		return false
	}
	logger.PulseWarnw(jn.logger, "Gate timed out", "job_id", id, "gate", gate)
	if job, err := jn.reg.Snapshot(id); err == nil && jn.cleanup != nil {
		jn.cleanup(job)
	}
	return true
}
