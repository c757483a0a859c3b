package async

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	reeldb "github.com/teranos/reel/db"
	"github.com/teranos/reel/errors"
)

const (
	// SubscriberChannelBufferSize is the buffer size for subscriber channels
	SubscriberChannelBufferSize = 100
)

// Snapshotter persists job snapshots. Writes are best-effort: the
// registry stays authoritative and logs persistence failures.
type Snapshotter interface {
	SaveJob(job *Job) error
	DeleteJob(id string) error
}

type entry struct {
	mu      sync.Mutex
	job     *Job
	running bool // held by a worker
	ctx     context.Context
	cancel  context.CancelFunc
}

// Registry owns the in-memory job records.
//
// The map is guarded by an RWMutex (insert, evict, list); each entry has
// its own mutex guarding the job, so polling one job never blocks work on
// another.
type Registry struct {
	mu          sync.RWMutex
	entries     map[string]*entry
	store       Snapshotter
	subMu       sync.Mutex
	subscribers []chan *Job
	logger      *zap.SugaredLogger
}

// NewRegistry creates an empty registry. store may be nil.
func NewRegistry(store Snapshotter, logger *zap.SugaredLogger) *Registry {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Registry{
		entries: make(map[string]*entry),
		store:   store,
		logger:  logger,
	}
}

// Insert adds a new job. The job gets its own cancellable context.
func (r *Registry) Insert(job *Job) error {
	r.mu.Lock()
	if _, exists := r.entries[job.ID]; exists {
		r.mu.Unlock()
		return errors.Newf("job %s already registered", job.ID)
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &entry{job: job.Clone(), ctx: ctx, cancel: cancel}
	r.entries[job.ID] = e
	r.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	r.persist(e.job)
	r.notify(e.job)
	return nil
}

func (r *Registry) get(id string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, errors.NewNotFoundError("job %s", id)
	}
	return e, nil
}

// Snapshot returns a copy of the job. It never mutates.
func (r *Registry) Snapshot(id string) (*Job, error) {
	e, err := r.get(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job.Clone(), nil
}

// List returns copies of every job, newest first.
func (r *Registry) List() []*Job {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	jobs := make([]*Job, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		jobs = append(jobs, e.job.Clone())
		e.mu.Unlock()
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	return jobs
}

// Len returns the number of registered jobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Update applies fn to the job under its lock. fn works on a copy that
// replaces the job only when fn succeeds, so a rejected mutation leaves
// the job unchanged.
func (r *Registry) Update(id string, fn func(*Job) error) error {
	e, err := r.get(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.job.Clone()
	if err := fn(next); err != nil {
		return err
	}
	e.job = next
	r.persist(next)
	r.notify(next)
	return nil
}

// Context returns the job's context; it is cancelled by Cancel.
func (r *Registry) Context(id string) (context.Context, error) {
	e, err := r.get(id)
	if err != nil {
		return nil, err
	}
	return e.ctx, nil
}

// Cancel aborts whatever the job is doing. It does not change the record;
// callers mark the job failed first.
func (r *Registry) Cancel(id string) error {
	e, err := r.get(id)
	if err != nil {
		return err
	}
	e.cancel()
	return nil
}

// claim marks the job as held by a worker. It fails when another worker
// holds it or the job is not runnable.
func (r *Registry) claim(id string) bool {
	e, err := r.get(id)
	if err != nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return false
	}
	switch e.job.Status {
	case JobStatusPending, JobStatusRunning:
		e.running = true
		return true
	default:
		return false
	}
}

// release drops the worker's hold and reports whether the job became
// runnable again while held (a confirmation raced the park).
func (r *Registry) release(id string) bool {
	e, err := r.get(id)
	if err != nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = false
	return e.job.Status == JobStatusRunning || e.job.Status == JobStatusPending
}

// Held reports whether a worker currently holds the job.
func (r *Registry) Held(id string) bool {
	e, err := r.get(id)
	if err != nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Evict removes the job from memory and from the snapshot store.
func (r *Registry) Evict(id string) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return errors.NewNotFoundError("job %s", id)
	}
	delete(r.entries, id)
	r.mu.Unlock()

	e.cancel()
	if r.store != nil {
		if err := r.store.DeleteJob(id); err != nil && !errors.IsNotFoundError(err) {
			r.logger.Warnw("Failed to delete job snapshot", "job_id", id, "error", err)
		}
	}
	return nil
}

// persist writes a snapshot. REQUIRES: the entry lock is held, which
// keeps snapshots of one job in order.
func (r *Registry) persist(job *Job) {
	if r.store == nil {
		return
	}
	if err := r.store.SaveJob(job); err != nil {
		// Workers still unwinding after shutdown closed the database.
		if reeldb.IsDatabaseClosed(err) {
			r.logger.Debugw("Job snapshot dropped, database closed",
				"job_id", job.ID,
				"status", job.Status)
			return
		}
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", job.ID))
		r.logger.Warnw("Failed to persist job snapshot",
			"job_id", job.ID,
			"status", job.Status,
			"error", err)
	}
}

// Subscribe returns a channel that receives a copy of every job update.
// The caller is responsible for calling Unsubscribe when done.
// The returned channel is buffered to prevent blocking the notifier.
func (r *Registry) Subscribe() chan *Job {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	ch := make(chan *Job, SubscriberChannelBufferSize)
	r.subscribers = append(r.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber channel from the registry.
// The channel is NOT closed by this method - callers should close it themselves
// after unsubscribing if needed. This prevents double-close panics.
func (r *Registry) Unsubscribe(ch chan *Job) {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	for i, sub := range r.subscribers {
		if sub == ch {
			r.subscribers = append(r.subscribers[:i], r.subscribers[i+1:]...)
			return
		}
	}
}

// notify sends job updates to all subscribers.
// Uses non-blocking send to avoid stalling if a subscriber is slow.
func (r *Registry) notify(job *Job) {
	r.subMu.Lock()
	defer r.subMu.Unlock()

	if len(r.subscribers) == 0 {
		return
	}
	snapshot := job.Clone()
	for _, ch := range r.subscribers {
		select {
		case ch <- snapshot:
		default:
			// Channel full, skip (non-blocking)
		}
	}
}
