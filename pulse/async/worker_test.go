package async

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLoader struct {
	jobs []*Job
}

func (l *fakeLoader) ListActive(limit int) ([]*Job, error) {
	return l.jobs, nil
}

func waitForStatus(t *testing.T, reg *Registry, id string, want JobStatus) *Job {
	t.Helper()
	var got *Job
	require.Eventually(t, func() bool {
		j, err := reg.Snapshot(id)
		if err != nil {
			return false
		}
		got = j
		return j.Status == want
	}, 5*time.Second, 10*time.Millisecond, "job %s never reached %s", id, want)
	return got
}

// TestTASBotInitializesWorkerPool: the pool never runs with fewer than one
// worker.
func TestTASBotInitializesWorkerPool(t *testing.T) {
	runner, _ := newTestRunner(t, speedrunPipeline(nil))

	pool := NewWorkerPool(context.Background(), runner, nil, WorkerPoolConfig{Workers: 0}, createTestLogger())
	assert.Equal(t, 1, pool.Workers())
	assert.Same(t, runner, pool.Runner())
}

func TestWorkerPoolCapsWorkersByMemory(t *testing.T) {
	orig := memoryStats
	t.Cleanup(func() { memoryStats = orig })
	memoryStats = func() (uint64, uint64, error) {
		return 8 << 30, 5 << 30, nil // 5GB free: (5-2)/1.5 = 2 workers
	}

	runner, _ := newTestRunner(t, speedrunPipeline(nil))
	pool := NewWorkerPool(context.Background(), runner, nil, WorkerPoolConfig{Workers: 8}, createTestLogger())
	assert.Equal(t, 2, pool.Workers())
}

// TestKirbyParksAndResumes runs a job through the pool: it parks at the
// gate, and a confirmation plus dispatch carries it to completion.
func TestKirbyParksAndResumes(t *testing.T) {
	runner, reg := newTestRunner(t, speedrunPipeline(nil))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var releasedMu sync.Mutex
	var released []JobStatus
	pool := NewWorkerPool(ctx, runner, nil, WorkerPoolConfig{Workers: 2}, createTestLogger())
	pool.OnRelease(func(job *Job) {
		releasedMu.Lock()
		released = append(released, job.Status)
		releasedMu.Unlock()
	})
	pool.Start()
	defer pool.Stop()

	job := insertJob(t, reg, ModeEmbedding)
	pool.Dispatch(job.ID)
	waitForStatus(t, reg, job.ID, JobStatusAwaiting)
	require.Eventually(t, func() bool { return !reg.Held(job.ID) }, time.Second, 5*time.Millisecond,
		"parked jobs release their worker")

	resumed, err := runner.Confirm(job.ID, "draft", json.RawMessage(`"100%"`))
	require.NoError(t, err)
	require.True(t, resumed)
	pool.Dispatch(job.ID)

	done := waitForStatus(t, reg, job.ID, JobStatusCompleted)
	assert.Equal(t, "reel:100%", done.Output)

	require.Eventually(t, func() bool {
		releasedMu.Lock()
		defer releasedMu.Unlock()
		return len(released) == 2
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, JobStatusAwaiting, released[0])
	assert.Equal(t, JobStatusCompleted, released[1])
}

func TestWorkerPoolIgnoresDuplicateDispatch(t *testing.T) {
	var mu sync.Mutex
	runs := 0
	gate := make(chan struct{})
	runner, reg := newTestRunner(t, speedrunPipeline(func(ctx context.Context, sc *StageContext) error {
		mu.Lock()
		runs++
		mu.Unlock()
		<-gate
		return sc.Put("draft", "x")
	}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool := NewWorkerPool(ctx, runner, nil, WorkerPoolConfig{Workers: 3}, createTestLogger())
	pool.Start()
	defer pool.Stop()

	job := insertJob(t, reg, ModeEmbedding)
	pool.Dispatch(job.ID)
	pool.Dispatch(job.ID)
	pool.Dispatch(job.ID)
	time.Sleep(50 * time.Millisecond)
	close(gate)

	waitForStatus(t, reg, job.ID, JobStatusAwaiting)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, runs)
}

// TestCronosRecoversUnfinishedJobs: after a restart running jobs go back
// to work and parked jobs stay parked.
func TestCronosRecoversUnfinishedJobs(t *testing.T) {
	runner, reg := newTestRunner(t, speedrunPipeline(nil))

	running, err := NewJob(ModeEmbedding, nil)
	require.NoError(t, err)
	running.Start()
	parked, err := NewJob(ModeEmbedding, nil)
	require.NoError(t, err)
	require.NoError(t, parked.Put("draft", "saved"))
	parked.Start()
	parked.Park("draft", 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool := NewWorkerPool(ctx, runner, &fakeLoader{jobs: []*Job{running, parked}}, WorkerPoolConfig{Workers: 1}, createTestLogger())
	pool.Start()
	defer pool.Stop()

	waitForStatus(t, reg, running.ID, JobStatusAwaiting)
	got, err := reg.Snapshot(parked.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusAwaiting, got.Status)
	assert.Equal(t, "draft", got.WaitingFor)
}

// TestStopLeavesInterruptedJobsRunning: shutdown is not a failure.
func TestStopLeavesInterruptedJobsRunning(t *testing.T) {
	started := make(chan struct{})
	runner, reg := newTestRunner(t, speedrunPipeline(func(ctx context.Context, sc *StageContext) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))
	pool := NewWorkerPool(context.Background(), runner, nil, WorkerPoolConfig{Workers: 1}, createTestLogger())
	pool.Start()

	job := insertJob(t, reg, ModeEmbedding)
	pool.Dispatch(job.ID)
	<-started
	pool.Stop()

	got, err := reg.Snapshot(job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusRunning, got.Status)
	assert.False(t, reg.Held(job.ID))
}

// TestCancelInterruptsRunningStage: the per-job context reaches the stage.
func TestCancelInterruptsRunningStage(t *testing.T) {
	started := make(chan struct{})
	runner, reg := newTestRunner(t, speedrunPipeline(func(ctx context.Context, sc *StageContext) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool := NewWorkerPool(ctx, runner, nil, WorkerPoolConfig{Workers: 1}, createTestLogger())
	pool.Start()
	defer pool.Stop()

	job := insertJob(t, reg, ModeEmbedding)
	pool.Dispatch(job.ID)
	<-started

	require.NoError(t, reg.Update(job.ID, func(j *Job) error {
		j.Fail(ErrorKindCancelled, j.StageName, "cancelled by user")
		return nil
	}))
	require.NoError(t, reg.Cancel(job.ID))

	require.Eventually(t, func() bool { return !reg.Held(job.ID) }, 5*time.Second, 10*time.Millisecond)
	got, err := reg.Snapshot(job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, got.Status)
	assert.Equal(t, ErrorKindCancelled, got.Error.Kind)
}

func TestGetSystemMetrics(t *testing.T) {
	orig := memoryStats
	t.Cleanup(func() { memoryStats = orig })
	memoryStats = func() (uint64, uint64, error) {
		return 16 << 30, 12 << 30, nil
	}

	runner, reg := newTestRunner(t, speedrunPipeline(nil))
	pool := NewWorkerPool(context.Background(), runner, nil, WorkerPoolConfig{Workers: 2}, createTestLogger())
	insertJob(t, reg, ModeEmbedding)

	m := pool.GetSystemMetrics()
	assert.Equal(t, 2, m.WorkersTotal)
	assert.Equal(t, 1, m.JobsPending)
	assert.InDelta(t, 16.0, m.MemoryTotalGB, 0.01)
	assert.InDelta(t, 25.0, m.MemoryPercent, 0.01)
}

func TestCalculateSafeWorkerCount(t *testing.T) {
	assert.Equal(t, 1, calculateSafeWorkerCount(1))
	assert.Equal(t, 1, calculateSafeWorkerCount(3))
	assert.Equal(t, 4, calculateSafeWorkerCount(8.5))
	assert.Equal(t, 16, calculateSafeWorkerCount(512))
}
