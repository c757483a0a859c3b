package async

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/teranos/reel/errors"
)

// StageFunc is the body of a stage. It reads its inputs from the job's
// payload and artifacts and writes its outputs as artifacts.
//
// Context cancellation: stages MUST pass ctx to every blocking call so a
// cancelled job aborts its in-flight work.
type StageFunc func(ctx context.Context, sc *StageContext) error

// ConfirmFunc turns the value a caller supplied at a gate into the value
// that gets frozen. held is the artifact as the stage wrote it; supplied is
// nil when the caller confirmed without a value.
type ConfirmFunc func(held, supplied json.RawMessage) (json.RawMessage, error)

// Step is a stage or a gate. A stage owns the progress range [From, To].
// A gate parks the job on the artifact named like the gate, which the
// stage before it must have written.
type Step struct {
	Name    string
	Gate    bool
	From    float64
	To      float64
	Run     StageFunc
	Confirm ConfirmFunc // gates only; nil freezes the supplied value as is
}

// Stage declares a stage step.
func Stage(name string, from, to float64, run StageFunc) Step {
	return Step{Name: name, From: from, To: to, Run: run}
}

// Gate declares a confirmation gate.
func Gate(name string, confirm ConfirmFunc) Step {
	return Step{Name: name, Gate: true, Confirm: confirm}
}

// Pipeline is the fixed step sequence of a mode.
type Pipeline struct {
	Mode  Mode
	Steps []Step
}

// Validate checks the step sequence: named steps, a body for every stage,
// non-overlapping ascending progress ranges, and no gate first.
func (p *Pipeline) Validate() error {
	if len(p.Steps) == 0 {
		return errors.Newf("pipeline %s has no steps", p.Mode)
	}
	seen := make(map[string]bool, len(p.Steps))
	last := 0.0
	for i, s := range p.Steps {
		if s.Name == "" {
			return errors.Newf("pipeline %s step %d has no name", p.Mode, i)
		}
		if seen[s.Name] {
			return errors.Newf("pipeline %s repeats step %s", p.Mode, s.Name)
		}
		seen[s.Name] = true
		if s.Gate {
			if i == 0 {
				return errors.Newf("pipeline %s starts with gate %s", p.Mode, s.Name)
			}
			continue
		}
		if s.Run == nil {
			return errors.Newf("pipeline %s stage %s has no body", p.Mode, s.Name)
		}
		if s.From < last || s.To < s.From || s.To > 100 {
			return errors.Newf("pipeline %s stage %s has progress range [%g, %g] after %g",
				p.Mode, s.Name, s.From, s.To, last)
		}
		last = s.To
	}
	return nil
}

// Index returns the position of the named step, or -1.
func (p *Pipeline) Index(name string) int {
	for i, s := range p.Steps {
		if s.Name == name {
			return i
		}
	}
	return -1
}

// Names lists the step names in order.
func (p *Pipeline) Names() []string {
	names := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		names[i] = s.Name
	}
	return names
}

// PipelineRegistry manages pipelines by mode.
// Thread-safe for concurrent registration and lookup.
type PipelineRegistry struct {
	pipelines map[Mode]*Pipeline
	mu        sync.RWMutex
}

// NewPipelineRegistry creates an empty pipeline registry.
func NewPipelineRegistry() *PipelineRegistry {
	return &PipelineRegistry{
		pipelines: make(map[Mode]*Pipeline),
	}
}

// Register adds a validated pipeline.
// Panics if a pipeline is already registered for the mode.
func (r *PipelineRegistry) Register(p *Pipeline) error {
	if err := p.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.pipelines[p.Mode]; exists {
		panic(fmt.Sprintf("pipeline already registered for mode: %s", p.Mode))
	}
	r.pipelines[p.Mode] = p
	return nil
}

// Get retrieves the pipeline for a mode.
// Returns nil if no pipeline is registered.
func (r *PipelineRegistry) Get(mode Mode) *Pipeline {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pipelines[mode]
}

// Has checks if a pipeline is registered for a mode.
func (r *PipelineRegistry) Has(mode Mode) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.pipelines[mode]
	return exists
}

// StageContext is a stage's handle on its job. Reads come from the
// snapshot taken when the stage started; writes go through the registry
// under the job lock.
type StageContext struct {
	reg  *Registry
	job  *Job
	step Step
	Log  *zap.SugaredLogger
}

// JobID returns the running job's id.
func (sc *StageContext) JobID() string { return sc.job.ID }

// Mode returns the running job's mode.
func (sc *StageContext) Mode() Mode { return sc.job.Mode }

// WorkDir returns the job's scratch directory.
func (sc *StageContext) WorkDir() string { return sc.job.WorkDir }

// Payload decodes the job's request into dst.
func (sc *StageContext) Payload(dst interface{}) error {
	if err := json.Unmarshal(sc.job.Payload, dst); err != nil {
		return errors.Wrap(err, "failed to decode job payload")
	}
	return nil
}

// Artifact decodes a previously written artifact into dst.
func (sc *StageContext) Artifact(name string, dst interface{}) error {
	return sc.job.Get(name, dst)
}

// HasArtifact reports whether name was written.
func (sc *StageContext) HasArtifact(name string) bool {
	_, ok := sc.job.Artifacts[name]
	return ok
}

// Put writes an artifact. Once the job has left the running state (a
// cancel, the janitor) writes are refused with errStopped.
func (sc *StageContext) Put(name string, value interface{}) error {
	err := sc.reg.Update(sc.job.ID, func(j *Job) error {
		if j.Status != JobStatusRunning {
			return errStopped
		}
		return j.Put(name, value)
	})
	if err != nil {
		return err
	}
	return sc.job.Put(name, value)
}

// SetOutput records the job's final output reference.
func (sc *StageContext) SetOutput(ref string) error {
	err := sc.reg.Update(sc.job.ID, func(j *Job) error {
		if j.Status != JobStatusRunning {
			return errStopped
		}
		j.Output = ref
		return nil
	})
	if err != nil {
		return err
	}
	sc.job.Output = ref
	return nil
}

// Progress reports fraction (0..1) of the stage done, mapped into the
// stage's progress range.
func (sc *StageContext) Progress(fraction float64) {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	p := sc.step.From + (sc.step.To-sc.step.From)*fraction
	if err := sc.reg.Update(sc.job.ID, func(j *Job) error {
		if j.Status != JobStatusRunning {
			return errStopped
		}
		j.SetProgress(p)
		return nil
	}); err != nil {
		sc.Log.Debugw("Progress update dropped", "error", err)
	}
}
