package highlight

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/reel/ai/oracle"
	"github.com/teranos/reel/am"
	"github.com/teranos/reel/match"
	"github.com/teranos/reel/media"
	"github.com/teranos/reel/pulse/async"
	"github.com/teranos/reel/storage"
)

// ============================================================================
// Highlight Test Universe
// ============================================================================
//
// Every test cuts a reel from the same 60 second match recording. The
// fake embedder places point "A." on segment 3 ([9, 12]) and point "B."
// on segment 10 ([30, 33]); nothing else clears the threshold.
// ============================================================================

type fakeMedia struct {
	mu        sync.Mutex
	info      media.Info
	probeErr  error
	extracted [][2]float64
	stitched  int
	hold      chan struct{} // when set, ExtractSegment waits for it or ctx
}

func (f *fakeMedia) Probe(ctx context.Context, path string) (media.Info, error) {
	if f.probeErr != nil {
		return media.Info{}, f.probeErr
	}
	return f.info, nil
}

func (f *fakeMedia) Compress(ctx context.Context, src, dstDir string) (media.Compressed, error) {
	return media.Compressed{Path: src, Size: f.info.Size, Tier: media.TierInline.String(), Inline: true}, nil
}

func (f *fakeMedia) ExtractSegment(ctx context.Context, src string, start, end float64, dst string) error {
	if f.hold != nil {
		select {
		case <-f.hold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	f.extracted = append(f.extracted, [2]float64{start, end})
	f.mu.Unlock()
	return os.WriteFile(dst, []byte(fmt.Sprintf("[%g,%g]", start, end)), 0o644)
}

func (f *fakeMedia) Stitch(ctx context.Context, clips []string, crossfade float64, dst string) (float64, error) {
	var parts []string
	for _, c := range clips {
		data, err := os.ReadFile(c)
		if err != nil {
			return 0, err
		}
		parts = append(parts, string(data))
	}
	f.mu.Lock()
	f.stitched++
	f.mu.Unlock()
	return float64(len(clips)), os.WriteFile(dst, []byte(strings.Join(parts, "+")), 0o644)
}

func (f *fakeMedia) cuts() [][2]float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][2]float64(nil), f.extracted...)
}

type fakeCriteria struct {
	text string
	err  error
}

func (f *fakeCriteria) GenerateCriteria(ctx context.Context, theme string) (string, error) {
	return f.text, f.err
}

type fakeAnalyzer struct {
	mu       sync.Mutex
	text     string
	criteria string
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, video oracle.Video, criteria string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.criteria = criteria
	return f.text, nil
}

func (f *fakeAnalyzer) gotCriteria() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.criteria
}

type fakeEmbedder struct{}

func (fakeEmbedder) EmbedText(ctx context.Context, text string, dim int) ([]float32, error) {
	switch {
	case strings.HasPrefix(text, "A."):
		return []float32{1, 0, 0, 0}, nil
	case strings.HasPrefix(text, "B."):
		return []float32{0, 1, 0, 0}, nil
	default:
		return []float32{0, 0, 0, 1}, nil
	}
}

func (fakeEmbedder) EmbedSegments(ctx context.Context, video oracle.Video, segmentSeconds float64, dim int) ([]match.Segment, error) {
	segments := match.Segmentize(video.Duration, segmentSeconds)
	for i := range segments {
		switch i {
		case 3:
			segments[i].Embedding = []float32{1, 0, 0, 0}
		case 10:
			segments[i].Embedding = []float32{0, 1, 0, 0}
		default:
			segments[i].Embedding = []float32{0, 0, 1, 0}
		}
	}
	return segments, nil
}

type fakeLocalizer struct {
	mu       sync.Mutex
	summary  oracle.Localization
	refined  oracle.Localization
	err      error
	criteria []string
}

func (f *fakeLocalizer) Localize(ctx context.Context, video oracle.Video, criteria string) (*oracle.Localization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.criteria = append(f.criteria, criteria)
	if criteria == "" {
		out := f.summary
		return &out, nil
	}
	out := f.refined
	return &out, nil
}

func (f *fakeLocalizer) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.criteria...)
}

const testAnalysis = `Highlights of the match:
A. [HIGH] Opening goal from a corner
B. [MEDIUM] Goalkeeper double save
C. [LOW] Crowd wave`

func testConfig(t *testing.T) *am.Config {
	return &am.Config{
		Pulse: am.PulseConfig{
			Workers:                2,
			WorkDir:                filepath.Join(t.TempDir(), "work"),
			RetentionHours:         24,
			GateTimeoutHours:       24,
			JanitorIntervalSeconds: 60,
		},
		Media: am.MediaConfig{
			SegmentSeconds:   3,
			CrossfadeSeconds: 0.5,
			InlineLimitMB:    25,
			TargetMB:         100,
		},
		Matching: am.MatchingConfig{
			Threshold:       0.05,
			TopK:            3,
			OverlapFraction: 0.5,
		},
		Oracle: am.OracleConfig{
			EmbeddingDimension:   1024,
			FanoutTimeoutSeconds: 5,
		},
	}
}

// fixture is one wired test environment.
type fixture struct {
	deps     Deps
	media    *fakeMedia
	store    *storage.LocalStore
	source   string // store reference of the match recording
	analyzer *fakeAnalyzer
}

func newFixture(t *testing.T, set *oracle.Set) *fixture {
	t.Helper()
	store, err := storage.NewLocalStore(filepath.Join(t.TempDir(), "store"))
	require.NoError(t, err)

	raw := filepath.Join(t.TempDir(), "match.mp4")
	require.NoError(t, os.WriteFile(raw, []byte("not really a video"), 0o644))
	ref, err := store.Put(context.Background(), raw, "sources/match.mp4")
	require.NoError(t, err)

	fm := &fakeMedia{info: media.Info{Duration: 60, Size: 1 << 20, HasAudio: true}}
	return &fixture{
		deps: Deps{
			Oracle:   set,
			Media:    fm,
			Resolver: storage.NewResolver(store, nil),
			Settings: NewSettings(testConfig(t)),
			Logger:   zap.NewNop().Sugar(),
		},
		media:  fm,
		store:  store,
		source: ref,
	}
}

// embeddingSet wires criteria, analysis, and embedding fakes.
func embeddingSet(t *testing.T, crit *fakeCriteria, an *fakeAnalyzer) *oracle.Set {
	t.Helper()
	set, err := oracle.NewSet(oracle.SetConfig{Criteria: "writer", Analysis: "watcher", Embedding: "vectors"},
		&oracle.Backend{Name: "writer", Criteria: crit},
		&oracle.Backend{Name: "watcher", Analyzer: an},
		&oracle.Backend{Name: "vectors", Embedder: fakeEmbedder{}},
	)
	require.NoError(t, err)
	return set
}

// directSet wires one localizer per name, in order.
func directSet(t *testing.T, names []string, locs ...*fakeLocalizer) *oracle.Set {
	t.Helper()
	backends := make([]*oracle.Backend, len(locs))
	for i, l := range locs {
		backends[i] = &oracle.Backend{Name: names[i], Localizer: l}
	}
	set, err := oracle.NewSet(oracle.SetConfig{Direct: names}, backends...)
	require.NoError(t, err)
	return set
}

func startOrchestrator(t *testing.T, deps Deps) *Orchestrator {
	t.Helper()
	o, err := New(context.Background(), deps, nil)
	require.NoError(t, err)
	o.Start()
	t.Cleanup(o.Stop)
	return o
}

func waitForStatus(t *testing.T, o *Orchestrator, id string, want async.JobStatus) *async.Job {
	t.Helper()
	var got *async.Job
	require.Eventually(t, func() bool {
		j, err := o.Job(id)
		if err != nil {
			return false
		}
		got = j
		return j.Status == want
	}, 5*time.Second, 10*time.Millisecond, "job %s never reached %s", id, want)
	return got
}

// waitParked waits until the job is awaiting gate and no worker holds it.
func waitParked(t *testing.T, o *Orchestrator, id, gate string) *async.Job {
	t.Helper()
	job := waitForStatus(t, o, id, async.JobStatusAwaiting)
	require.Equal(t, gate, job.WaitingFor)
	require.Eventually(t, func() bool { return !o.Registry().Held(id) }, time.Second, 5*time.Millisecond)
	return job
}
