package highlight

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/reel/ai/oracle"
	"github.com/teranos/reel/ai/tracker"
	"github.com/teranos/reel/errors"
	reeltest "github.com/teranos/reel/internal/testing"
	"github.com/teranos/reel/match"
	"github.com/teranos/reel/pulse/async"
	"github.com/teranos/reel/pulse/budget"
)

func TestEmbeddingJobRunsThroughBothGates(t *testing.T) {
	an := &fakeAnalyzer{text: testAnalysis}
	fx := newFixture(t, embeddingSet(t, &fakeCriteria{text: "- goals\n- saves"}, an))
	o := startOrchestrator(t, fx.deps)

	job, err := o.Create(Request{Mode: async.ModeEmbedding, Theme: "football", Source: fx.source})
	require.NoError(t, err)

	parked := waitParked(t, o, job.ID, GateCriteria)
	assert.Equal(t, 10.0, parked.Progress)
	var crit Criteria
	require.NoError(t, parked.Get(GateCriteria, &crit))
	assert.Equal(t, "writer", crit.Provider)
	assert.False(t, crit.Fallback)

	require.NoError(t, o.Confirm(job.ID, GateCriteria, json.RawMessage(`"- goals only"`), ""))

	parked = waitParked(t, o, job.ID, GateAnalysis)
	assert.Equal(t, "- goals only", an.gotCriteria(), "analysis runs on the confirmed criteria")
	var analysis Analysis
	require.NoError(t, parked.Get(GateAnalysis, &analysis))
	assert.Len(t, analysis.Points, 3)

	require.NoError(t, o.Confirm(job.ID, GateAnalysis, nil, ""))

	done := waitForStatus(t, o, job.ID, async.JobStatusCompleted)
	assert.Equal(t, 100.0, done.Progress)
	assert.Equal(t, [][2]float64{{9, 12}, {30, 33}}, fx.media.cuts())

	var clips Clips
	require.NoError(t, done.Get(ArtifactClips, &clips))
	require.Len(t, clips.Clips, 2)
	assert.Contains(t, clips.Clips[0].Description, "Opening goal")

	loc, err := o.Output(context.Background(), job.ID)
	require.NoError(t, err)
	data, err := os.ReadFile(loc.Path)
	require.NoError(t, err)
	assert.Equal(t, "[9,12]+[30,33]", string(data))

	require.Eventually(t, func() bool {
		_, err := os.Stat(done.WorkDir)
		return os.IsNotExist(err)
	}, time.Second, 10*time.Millisecond, "work dir is removed once the job is done")
}

func TestEmbeddingConfirmIsIdempotent(t *testing.T) {
	fx := newFixture(t, embeddingSet(t, &fakeCriteria{text: "- goals"}, &fakeAnalyzer{text: testAnalysis}))
	o := startOrchestrator(t, fx.deps)

	job, err := o.Create(Request{Mode: async.ModeEmbedding, Theme: "football", Source: fx.source})
	require.NoError(t, err)
	waitParked(t, o, job.ID, GateCriteria)

	require.NoError(t, o.Confirm(job.ID, GateCriteria, nil, ""))
	waitParked(t, o, job.ID, GateAnalysis)

	assert.NoError(t, o.Confirm(job.ID, GateCriteria, json.RawMessage(`"- late edit"`), ""),
		"a second confirmation of a passed gate is a no-op")
	got, err := o.Job(job.ID)
	require.NoError(t, err)
	var crit Criteria
	require.NoError(t, got.Get(GateCriteria, &crit))
	assert.Equal(t, "- goals", crit.Text)

	err = o.Confirm(job.ID, "highlights", nil, "")
	assert.True(t, errors.Is(err, errors.ErrInvalidConfirmationState))
}

func TestCriteriaFallBackToDefault(t *testing.T) {
	for name, gen := range map[string]*fakeCriteria{
		"generator fails": {err: errors.New("quota exceeded")},
		"no bullets":      {text: "Look for exciting things."},
	} {
		t.Run(name, func(t *testing.T) {
			fx := newFixture(t, embeddingSet(t, gen, &fakeAnalyzer{text: testAnalysis}))
			o := startOrchestrator(t, fx.deps)

			job, err := o.Create(Request{Mode: async.ModeEmbedding, Theme: "football", Source: fx.source})
			require.NoError(t, err)
			parked := waitParked(t, o, job.ID, GateCriteria)

			var crit Criteria
			require.NoError(t, parked.Get(GateCriteria, &crit))
			assert.True(t, crit.Fallback)
			assert.Equal(t, oracle.DefaultCriteria, crit.Text)
		})
	}
}

func TestAnalysisWithoutPointsFails(t *testing.T) {
	fx := newFixture(t, embeddingSet(t, &fakeCriteria{text: "- goals"}, &fakeAnalyzer{text: "Nothing happens."}))
	o := startOrchestrator(t, fx.deps)

	job, err := o.Create(Request{Mode: async.ModeEmbedding, Theme: "football", Source: fx.source})
	require.NoError(t, err)
	waitParked(t, o, job.ID, GateCriteria)
	require.NoError(t, o.Confirm(job.ID, GateCriteria, nil, ""))

	failed := waitForStatus(t, o, job.ID, async.JobStatusFailed)
	require.NotNil(t, failed.Error)
	assert.Equal(t, async.ErrorKindNoClipsMatched, failed.Error.Kind)
	assert.Equal(t, StageAnalyzeVideo, failed.Error.Stage)
}

func TestUnreadableSourceFails(t *testing.T) {
	fx := newFixture(t, embeddingSet(t, &fakeCriteria{text: "- goals"}, &fakeAnalyzer{text: testAnalysis}))
	fx.media.probeErr = errors.Wrap(errors.ErrUnreadableMedia, "moov atom not found")
	o := startOrchestrator(t, fx.deps)

	job, err := o.Create(Request{Mode: async.ModeEmbedding, Theme: "football", Source: fx.source})
	require.NoError(t, err)
	waitParked(t, o, job.ID, GateCriteria)
	require.NoError(t, o.Confirm(job.ID, GateCriteria, nil, ""))

	failed := waitForStatus(t, o, job.ID, async.JobStatusFailed)
	assert.Equal(t, async.ErrorKindUnreadableMedia, failed.Error.Kind)
}

func TestDirectJobSelectsProviderAndEditsHighlights(t *testing.T) {
	alpha := &fakeLocalizer{
		summary: oracle.Localization{Summary: "A tight match", Criteria: "- goals"},
	}
	beta := &fakeLocalizer{
		summary: oracle.Localization{Summary: "Two goals", Criteria: "- goals\n- saves"},
		refined: oracle.Localization{Intervals: []match.RawInterval{
			{Start: 10.0, End: 14.0, Description: "goal", Intensity: "high"},
			{Start: "0:40", End: "0:45", Description: "save"},
			{Start: 50.0, End: 45.0, Description: "inverted"},
		}},
	}
	broken := &fakeLocalizer{err: errors.MarkTransient(errors.New("503"))}
	fx := newFixture(t, directSet(t, []string{"alpha", "beta", "broken"}, alpha, beta, broken))
	o := startOrchestrator(t, fx.deps)

	job, err := o.Create(Request{Mode: async.ModeDirect, Source: fx.source})
	require.NoError(t, err)

	parked := waitParked(t, o, job.ID, GateSummary)
	var sum Summary
	require.NoError(t, parked.Get(GateSummary, &sum))
	require.Len(t, sum.Candidates, 3)
	assert.True(t, sum.Candidates[0].Selectable())
	assert.True(t, sum.Candidates[1].Selectable())
	assert.False(t, sum.Candidates[2].Selectable())
	assert.Contains(t, sum.Candidates[2].Error, "503")

	err = o.Confirm(job.ID, GateSummary, nil, "")
	assert.True(t, errors.IsInvalidRequestError(err), "two candidates succeeded, so a provider is required")
	err = o.Confirm(job.ID, GateSummary, nil, "broken")
	assert.True(t, errors.IsInvalidRequestError(err))
	still, err := o.Job(job.ID)
	require.NoError(t, err)
	assert.Equal(t, async.JobStatusAwaiting, still.Status, "rejected choices leave the job parked")

	require.NoError(t, o.Confirm(job.ID, GateSummary, json.RawMessage(`"- goals and saves"`), "beta"))

	parked = waitParked(t, o, job.ID, GateHighlights)
	assert.Equal(t, []string{"", "- goals and saves"}, beta.calls())
	assert.Empty(t, alpha.calls()[1:], "only the selected provider refines")

	var hl Highlights
	require.NoError(t, parked.Get(GateHighlights, &hl))
	assert.Equal(t, "beta", hl.Provider)
	require.Len(t, hl.Clips, 2)
	assert.Equal(t, 40.0, hl.Clips[1].Start)
	assert.True(t, parked.Artifacts[ArtifactWarnings] != nil, "the inverted interval is reported")

	edited := json.RawMessage(`{"clips":[{"start":5,"end":8,"description":"kick-off"},{"start":41,"end":44}]}`)
	require.NoError(t, o.Confirm(job.ID, GateHighlights, edited, ""))

	done := waitForStatus(t, o, job.ID, async.JobStatusCompleted)
	assert.Equal(t, [][2]float64{{5, 8}, {41, 44}}, fx.media.cuts())
	assert.NotEmpty(t, done.Output)
}

func TestDirectSingleCandidateNeedsNoProvider(t *testing.T) {
	solo := &fakeLocalizer{
		summary: oracle.Localization{Summary: "One goal", Criteria: "- goals"},
		refined: oracle.Localization{Intervals: []match.RawInterval{{Start: 1.0, End: 4.0}}},
	}
	down := &fakeLocalizer{err: errors.New("bad key")}
	fx := newFixture(t, directSet(t, []string{"solo", "down"}, solo, down))
	o := startOrchestrator(t, fx.deps)

	job, err := o.Create(Request{Mode: async.ModeDirect, Source: fx.source})
	require.NoError(t, err)
	waitParked(t, o, job.ID, GateSummary)

	require.NoError(t, o.Confirm(job.ID, GateSummary, nil, ""))
	waitParked(t, o, job.ID, GateHighlights)
	assert.Equal(t, []string{"", "- goals"}, solo.calls(), "criteria default to the candidate's")

	require.NoError(t, o.Confirm(job.ID, GateHighlights, nil, ""))
	waitForStatus(t, o, job.ID, async.JobStatusCompleted)
}

func TestDirectAllProvidersFail(t *testing.T) {
	fx := newFixture(t, directSet(t, []string{"a", "b"},
		&fakeLocalizer{err: errors.MarkTransient(errors.New("timeout"))},
		&fakeLocalizer{err: errors.MarkTransient(errors.New("503"))},
	))
	o := startOrchestrator(t, fx.deps)

	job, err := o.Create(Request{Mode: async.ModeDirect, Source: fx.source})
	require.NoError(t, err)

	failed := waitForStatus(t, o, job.ID, async.JobStatusFailed)
	assert.Equal(t, async.ErrorKindTransientProvider, failed.Error.Kind)
	assert.Contains(t, failed.Error.Message, "provider a")
	assert.Contains(t, failed.Error.Message, "provider b")
}

func TestCreateRejectsUnknownProvider(t *testing.T) {
	fx := newFixture(t, directSet(t, []string{"alpha"}, &fakeLocalizer{}))
	o := startOrchestrator(t, fx.deps)

	_, err := o.Create(Request{Mode: async.ModeDirect, Source: fx.source, Options: Options{Providers: []string{"gamma"}}})
	assert.True(t, errors.IsInvalidRequestError(err))
	assert.Empty(t, o.Jobs())
}

func TestCancelAtGate(t *testing.T) {
	fx := newFixture(t, embeddingSet(t, &fakeCriteria{text: "- goals"}, &fakeAnalyzer{text: testAnalysis}))
	o := startOrchestrator(t, fx.deps)

	job, err := o.Create(Request{Mode: async.ModeEmbedding, Theme: "football", Source: fx.source})
	require.NoError(t, err)
	waitParked(t, o, job.ID, GateCriteria)

	require.NoError(t, o.Cancel(job.ID))
	got, err := o.Job(job.ID)
	require.NoError(t, err)
	assert.Equal(t, async.JobStatusFailed, got.Status)
	assert.Equal(t, async.ErrorKindCancelled, got.Error.Kind)
	assert.Equal(t, GateCriteria, got.Error.Stage)

	assert.NoError(t, o.Cancel(job.ID), "cancelling a terminal job is a no-op")
	err = o.Confirm(job.ID, GateCriteria, nil, "")
	assert.True(t, errors.Is(err, errors.ErrInvalidConfirmationState))
	assert.True(t, errors.IsNotFoundError(o.Cancel("missing")))
}

func TestCancelInterruptsRunningStage(t *testing.T) {
	solo := &fakeLocalizer{
		summary: oracle.Localization{Criteria: "- goals"},
		refined: oracle.Localization{Intervals: []match.RawInterval{{Start: 1.0, End: 4.0}}},
	}
	fx := newFixture(t, directSet(t, []string{"solo"}, solo))
	fx.media.hold = make(chan struct{})
	o := startOrchestrator(t, fx.deps)

	job, err := o.Create(Request{Mode: async.ModeDirect, Source: fx.source})
	require.NoError(t, err)
	waitParked(t, o, job.ID, GateSummary)
	require.NoError(t, o.Confirm(job.ID, GateSummary, nil, ""))
	waitParked(t, o, job.ID, GateHighlights)
	require.NoError(t, o.Confirm(job.ID, GateHighlights, nil, ""))

	require.Eventually(t, func() bool {
		j, err := o.Job(job.ID)
		return err == nil && j.StageName == StageExtractClips && o.Registry().Held(job.ID)
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, o.Cancel(job.ID))
	failed := waitForStatus(t, o, job.ID, async.JobStatusFailed)
	assert.Equal(t, async.ErrorKindCancelled, failed.Error.Kind)
	assert.Equal(t, StageExtractClips, failed.Error.Stage)

	require.Eventually(t, func() bool {
		_, err := os.Stat(failed.WorkDir)
		return os.IsNotExist(err) && !o.Registry().Held(job.ID)
	}, 5*time.Second, 10*time.Millisecond, "the releasing worker removes the work dir")
}

func TestOutputBeforeCompletion(t *testing.T) {
	fx := newFixture(t, embeddingSet(t, &fakeCriteria{text: "- goals"}, &fakeAnalyzer{text: testAnalysis}))
	o := startOrchestrator(t, fx.deps)

	job, err := o.Create(Request{Mode: async.ModeEmbedding, Theme: "football", Source: fx.source})
	require.NoError(t, err)
	waitParked(t, o, job.ID, GateCriteria)

	_, err = o.Output(context.Background(), job.ID)
	assert.True(t, errors.Is(err, ErrNotReady))
	_, err = o.Output(context.Background(), "missing")
	assert.True(t, errors.IsNotFoundError(err))
}

// TestParkedJobSurvivesRestart: a job parked at a gate is restored from
// the snapshot store and can be confirmed by the next process.
func TestParkedJobSurvivesRestart(t *testing.T) {
	db := reeltest.CreateTestDB(t)
	fx := newFixture(t, embeddingSet(t, &fakeCriteria{text: "- goals"}, &fakeAnalyzer{text: testAnalysis}))

	first, err := New(context.Background(), fx.deps, db)
	require.NoError(t, err)
	first.Start()
	job, err := first.Create(Request{Mode: async.ModeEmbedding, Theme: "football", Source: fx.source})
	require.NoError(t, err)
	waitParked(t, first, job.ID, GateCriteria)
	first.Stop()

	second, err := New(context.Background(), fx.deps, db)
	require.NoError(t, err)
	second.Start()
	t.Cleanup(second.Stop)

	restored := waitParked(t, second, job.ID, GateCriteria)
	assert.True(t, restored.Artifacts[GateCriteria] != nil)

	require.NoError(t, second.Confirm(job.ID, GateCriteria, nil, ""))
	waitParked(t, second, job.ID, GateAnalysis)
	require.NoError(t, second.Confirm(job.ID, GateAnalysis, nil, ""))
	waitForStatus(t, second, job.ID, async.JobStatusCompleted)
}

func TestReloadAppliesToLaterStages(t *testing.T) {
	fx := newFixture(t, embeddingSet(t, &fakeCriteria{text: "- goals"}, &fakeAnalyzer{text: testAnalysis}))
	o := startOrchestrator(t, fx.deps)

	job, err := o.Create(Request{Mode: async.ModeEmbedding, Theme: "football", Source: fx.source})
	require.NoError(t, err)
	waitParked(t, o, job.ID, GateCriteria)

	cfg := testConfig(t)
	cfg.Matching.Threshold = 1.5
	o.Reload(cfg)

	require.NoError(t, o.Confirm(job.ID, GateCriteria, nil, ""))
	waitParked(t, o, job.ID, GateAnalysis)
	require.NoError(t, o.Confirm(job.ID, GateAnalysis, nil, ""))

	failed := waitForStatus(t, o, job.ID, async.JobStatusFailed)
	assert.Equal(t, async.ErrorKindNoClipsMatched, failed.Error.Kind, "no similarity clears the reloaded threshold")
	assert.Equal(t, StageMatchClips, failed.Error.Stage)
}

func TestCreateRefusedOverBudget(t *testing.T) {
	usage := tracker.NewUsageTracker(reeltest.CreateTestDB(t), nil)
	cost := 2.0
	require.NoError(t, usage.Track(context.Background(), tracker.Usage{
		Provider: "openrouter", Model: "google/gemini-2.5-pro",
		RequestTimestamp: time.Now().Add(-time.Minute), Cost: &cost, Success: true,
	}))

	fx := newFixture(t, embeddingSet(t, &fakeCriteria{text: "- goals"}, &fakeAnalyzer{text: testAnalysis}))
	fx.deps.Budget = budget.NewGuard(usage, budget.Limits{DailyUSD: 1})
	o := startOrchestrator(t, fx.deps)

	_, err := o.Create(Request{Mode: async.ModeEmbedding, Theme: "football", Source: fx.source})
	assert.True(t, errors.Is(err, budget.ErrBudgetExceeded))
	assert.Empty(t, o.Jobs())

	cfg := testConfig(t)
	cfg.Pulse.DailyBudgetUSD = 5
	o.Reload(cfg)
	_, err = o.Create(Request{Mode: async.ModeEmbedding, Theme: "football", Source: fx.source})
	assert.NoError(t, err, "a raised cap admits jobs again")
}

func TestCreateRefusesUnsafeSources(t *testing.T) {
	fx := newFixture(t, embeddingSet(t, &fakeCriteria{text: "- goals"}, &fakeAnalyzer{text: testAnalysis}))
	o := startOrchestrator(t, fx.deps)

	for _, src := range []string{
		"/etc/hostname",
		"file:///etc/passwd",
		"git::https://github.com/teranos/reel.git",
		"http://169.254.169.254/latest/meta-data/",
	} {
		_, err := o.Create(Request{Mode: async.ModeEmbedding, Theme: "football", Source: src})
		assert.True(t, errors.IsInvalidRequestError(err), "%s: got %v", src, err)
	}
	assert.Empty(t, o.Jobs())
}
