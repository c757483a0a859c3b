package async

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/reel/errors"
)

func TestNewJob(t *testing.T) {
	job, err := NewJob(ModeDirect, json.RawMessage(`{}`))
	require.NoError(t, err)

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, JobStatusPending, job.Status)
	assert.Equal(t, ModeDirect, job.Mode)
	assert.NotNil(t, job.Artifacts)
	assert.False(t, job.CreatedAt.IsZero())

	other, err := NewJob(ModeDirect, nil)
	require.NoError(t, err)
	assert.NotEqual(t, job.ID, other.ID)

	_, err = NewJob("freestyle", nil)
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("embedding")
	require.NoError(t, err)
	assert.Equal(t, ModeEmbedding, m)

	_, err = ParseMode("")
	assert.Error(t, err)
}

func TestJobTransitions(t *testing.T) {
	job, err := NewJob(ModeEmbedding, nil)
	require.NoError(t, err)

	job.Start()
	assert.Equal(t, JobStatusRunning, job.Status)
	require.NotNil(t, job.StartedAt)
	started := *job.StartedAt

	job.Park("criteria", 1)
	assert.Equal(t, JobStatusAwaiting, job.Status)
	assert.Equal(t, "criteria", job.WaitingFor)
	assert.NotNil(t, job.GateOpenedAt)

	job.Resume(2)
	assert.Equal(t, JobStatusRunning, job.Status)
	assert.Empty(t, job.WaitingFor)
	assert.Nil(t, job.GateOpenedAt)
	assert.Equal(t, 2, job.CurrentStep)

	job.Start()
	assert.Equal(t, started, *job.StartedAt, "restart keeps the first start time")

	job.Complete("out.mp4")
	assert.Equal(t, JobStatusCompleted, job.Status)
	assert.Equal(t, 100.0, job.Progress)
	assert.NotNil(t, job.CompletedAt)

	job.Fail(ErrorKindStageFailed, "stitch", "too late")
	assert.Equal(t, JobStatusCompleted, job.Status, "terminal jobs stay terminal")
	assert.Nil(t, job.Error)
}

func TestJobProgressIsMonotonic(t *testing.T) {
	job := &Job{}
	job.SetProgress(40)
	job.SetProgress(10)
	assert.Equal(t, 40.0, job.Progress)
	job.SetProgress(250)
	assert.Equal(t, 100.0, job.Progress)
}

func TestArtifactFreeze(t *testing.T) {
	job, err := NewJob(ModeEmbedding, nil)
	require.NoError(t, err)

	require.NoError(t, job.Put("criteria", "- waves"))
	require.NoError(t, job.Put("criteria", "- big waves"), "unconfirmed artifacts can be rewritten")

	require.NoError(t, job.Freeze("criteria", json.RawMessage(`"- sunsets"`)))
	var got string
	require.NoError(t, job.Get("criteria", &got))
	assert.Equal(t, "- sunsets", got)

	err = job.Put("criteria", "- overwritten")
	assert.True(t, errors.Is(err, ErrArtifactFrozen))
	err = job.Freeze("criteria", nil)
	assert.True(t, errors.Is(err, ErrArtifactFrozen))

	err = job.Freeze("missing", nil)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestFreezeKeepsHeldValueWithoutSupplied(t *testing.T) {
	job, err := NewJob(ModeEmbedding, nil)
	require.NoError(t, err)
	require.NoError(t, job.Put("analysis", "1. wave at 0:10"))
	require.NoError(t, job.Freeze("analysis", nil))

	var got string
	require.NoError(t, job.Get("analysis", &got))
	assert.Equal(t, "1. wave at 0:10", got)
	assert.True(t, job.Artifacts["analysis"].Confirmed)
}

func TestCloneIsDeep(t *testing.T) {
	job, err := NewJob(ModeEmbedding, json.RawMessage(`{"a":1}`))
	require.NoError(t, err)
	require.NoError(t, job.Put("criteria", "x"))
	job.Fail(ErrorKindTimeout, "criteria", "late")

	c := job.Clone()
	c.Artifacts["criteria"].Value[1] = 'y'
	c.Artifacts["extra"] = &Artifact{}
	c.Error.Message = "changed"
	c.Payload[0] = '['

	var got string
	require.NoError(t, job.Get("criteria", &got))
	assert.Equal(t, "x", got)
	assert.Len(t, job.Artifacts, 1)
	assert.Equal(t, "late", job.Error.Message)
	assert.Equal(t, byte('{'), job.Payload[0])
}

func TestArtifactsRoundTripThroughJSON(t *testing.T) {
	empty, err := MarshalArtifacts(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", empty)

	in := map[string]*Artifact{
		"criteria": {Value: json.RawMessage(`"- waves"`), Confirmed: true, CreatedAt: time.Unix(100, 0).UTC()},
	}
	data, err := MarshalArtifacts(in)
	require.NoError(t, err)
	out, err := UnmarshalArtifacts(data)
	require.NoError(t, err)
	assert.True(t, out["criteria"].Confirmed)
	assert.JSONEq(t, `"- waves"`, string(out["criteria"].Value))

	_, err = UnmarshalArtifacts("{not json")
	assert.Error(t, err)
}

func TestClassifyError(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorKind
	}{
		{errors.Wrap(errors.ErrTransientProvider, "openrouter"), ErrorKindTransientProvider},
		{errors.NewStageError("analyze_video", errors.ErrUnreadableMedia), ErrorKindUnreadableMedia},
		{errors.Wrap(errors.ErrNoClipsMatched, "threshold 0.9"), ErrorKindNoClipsMatched},
		{errors.Wrap(context.Canceled, "ffmpeg"), ErrorKindCancelled},
		{errors.ErrTimeout, ErrorKindTimeout},
		{errors.New("ffmpeg exited 1"), ErrorKindStageFailed},
		{nil, ErrorKindStageFailed},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ClassifyError(tc.err), "%v", tc.err)
	}
}

func TestPhaseOf(t *testing.T) {
	job, err := NewJob(ModeEmbedding, nil)
	require.NoError(t, err)
	assert.Equal(t, Pending{}, PhaseOf(job))

	job.Start()
	job.StageName = "compress"
	job.SetProgress(45)
	assert.Equal(t, Running{Stage: "compress", Progress: 45}, PhaseOf(job))

	require.NoError(t, job.Put("criteria", "- waves"))
	job.Park("criteria", 1)
	p, ok := PhaseOf(job).(Awaiting)
	require.True(t, ok)
	assert.Equal(t, "criteria", p.Gate)
	assert.JSONEq(t, `"- waves"`, string(p.Artifact))

	job.Fail(ErrorKindTimeout, "criteria", "late")
	f, ok := PhaseOf(job).(Failed)
	require.True(t, ok)
	assert.Equal(t, ErrorKindTimeout, f.Err.Kind)
	assert.Equal(t, JobStatusFailed, f.Status())
}

func TestIsValidStatus(t *testing.T) {
	assert.True(t, IsValidStatus("awaiting_confirmation"))
	assert.False(t, IsValidStatus("queued"))
	assert.True(t, JobStatusFailed.IsTerminal())
	assert.False(t, JobStatusAwaiting.IsTerminal())
}
