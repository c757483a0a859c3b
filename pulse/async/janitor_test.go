package async

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCronosTimesOutForgottenGates: a gate left open past the timeout
// fails the job with kind timeout.
func TestCronosTimesOutForgottenGates(t *testing.T) {
	runner, reg := newTestRunner(t, speedrunPipeline(nil))
	job := insertJob(t, reg, ModeEmbedding)
	require.NoError(t, runner.Run(context.Background(), job.ID))

	var cleaned []string
	jn := NewJanitor(reg, JanitorConfig{GateTimeout: time.Hour, Retention: 24 * time.Hour},
		func(j *Job) { cleaned = append(cleaned, j.ID) }, createTestLogger())

	res := jn.Sweep(time.Now())
	assert.Equal(t, SweepResult{}, res, "fresh gates are left alone")

	res = jn.Sweep(time.Now().Add(2 * time.Hour))
	assert.Equal(t, 1, res.TimedOut)

	got, err := reg.Snapshot(job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, got.Status)
	assert.Equal(t, ErrorKindTimeout, got.Error.Kind)
	assert.Equal(t, "draft", got.Error.Stage)
	assert.Equal(t, []string{job.ID}, cleaned)

	_, err = runner.Confirm(job.ID, "draft", nil)
	assert.Error(t, err, "a timed out gate cannot be confirmed")
}

func TestCronosEvictsPastRetention(t *testing.T) {
	reg := NewRegistry(nil, createTestLogger())
	done := insertJob(t, reg, ModeEmbedding)
	require.NoError(t, reg.Update(done.ID, func(j *Job) error {
		j.Complete("out.mp4")
		return nil
	}))
	live := insertJob(t, reg, ModeEmbedding)

	var cleaned []string
	jn := NewJanitor(reg, JanitorConfig{Retention: time.Hour, GateTimeout: time.Hour},
		func(j *Job) { cleaned = append(cleaned, j.ID) }, createTestLogger())

	assert.Equal(t, 0, jn.Sweep(time.Now()).Evicted)

	res := jn.Sweep(time.Now().Add(2 * time.Hour))
	assert.Equal(t, 1, res.Evicted)
	assert.Equal(t, []string{done.ID}, cleaned)

	_, err := reg.Snapshot(done.ID)
	assert.Error(t, err)
	_, err = reg.Snapshot(live.ID)
	assert.NoError(t, err, "pending jobs are never evicted")
}

func TestJanitorRunStopsWithContext(t *testing.T) {
	reg := NewRegistry(nil, createTestLogger())
	jn := NewJanitor(reg, JanitorConfig{Interval: 5 * time.Millisecond}, nil, createTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		jn.Run(ctx)
		close(stopped)
	}()
	cancel()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}
