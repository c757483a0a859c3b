package oracle

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/reel/errors"
	"github.com/teranos/reel/match"
)

type stubLocalizer struct {
	loc *Localization
	err error
}

func (s stubLocalizer) Localize(ctx context.Context, _ Video, _ string) (*Localization, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.loc, nil
}

type stubCriteria struct{}

func (stubCriteria) GenerateCriteria(context.Context, string) (string, error) { return "- x", nil }

func TestParsePoints(t *testing.T) {
	analysis := `**Summary:**
A surfer rides waves at sunset.

**Highlight points:**
A. [priority 1] - Surfer drops into a large wave
**B.** [priority 2] - Silhouette against the setting sun
C) [priority 1] - Wipeout in the whitewater
- a stray bullet that should be ignored
K. not a valid label`

	points := ParsePoints(analysis)
	assert.Equal(t, []string{
		"A. [priority 1] - Surfer drops into a large wave",
		"B. [priority 2] - Silhouette against the setting sun",
		"C. [priority 1] - Wipeout in the whitewater",
	}, points)

	bullets := ParsePoints("## Criteria\n- golden light on water\n- board carving a turn\n")
	assert.Equal(t, []string{"golden light on water", "board carving a turn"}, bullets)

	assert.Empty(t, ParsePoints("nothing structured here"))
}

func TestUsableCriteria(t *testing.T) {
	assert.True(t, UsableCriteria(DefaultCriteria))
	assert.False(t, UsableCriteria("I cannot help with that."))
}

func TestParseLocalization(t *testing.T) {
	fenced := "Here you go:\n```json\n{\"highlights\":[{\"start_time\":12.5,\"end_time\":18.3,\"description\":\"drop in\",\"intensity\":\"high\"}]}\n```\nEnjoy."
	loc, err := ParseLocalization(fenced)
	require.NoError(t, err)
	require.Len(t, loc.Intervals, 1)
	assert.Equal(t, 12.5, loc.Intervals[0].Start)
	assert.Equal(t, "high", loc.Intervals[0].Intensity)

	bare := `Sure. {"summary":"Surfing at dusk.","criteria":["big waves","sunset light"]}`
	loc, err = ParseLocalization(bare)
	require.NoError(t, err)
	assert.Equal(t, "Surfing at dusk.", loc.Summary)
	assert.Equal(t, "- big waves\n- sunset light", loc.Criteria)
	assert.Empty(t, loc.Intervals)

	loc, err = ParseLocalization(`{"criteria":"- a\n- b"}`)
	require.NoError(t, err)
	assert.Equal(t, "- a\n- b", loc.Criteria)

	_, err = ParseLocalization("no json at all")
	assert.Error(t, err)

	_, err = ParseLocalization(`{"highlights": "oops"}`)
	assert.Error(t, err)
}

func TestTruncateKeepsRunes(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abc...", truncate("abcdef", 3))
	// 精 is three bytes; a cut inside it backs off to the rune start.
	assert.Equal(t, "a...", truncate("a精彩", 2))
	assert.Equal(t, "a精...", truncate("a精彩", 5))

	_, err := ParseLocalization(strings.Repeat("精彩瞬间", 60))
	require.Error(t, err)
	details := errors.GetAllDetails(err)
	require.NotEmpty(t, details)
	for _, d := range details {
		assert.True(t, utf8.ValidString(d), "detail is not valid UTF-8")
		assert.LessOrEqual(t, len(d), 503)
	}
}

func TestParseLocalization_FeedsNormalize(t *testing.T) {
	loc, err := ParseLocalization(`{"highlights":[
		{"start_time":"0:30","end_time":"0:36","description":"a"},
		{"start_time":500,"end_time":30,"description":"inverted"}
	]}`)
	require.NoError(t, err)
	clips, warnings, err := match.Normalize(loc.Intervals, 120, 0)
	require.NoError(t, err)
	require.Len(t, clips, 1)
	assert.Equal(t, 30.0, clips[0].Start)
	assert.Len(t, warnings, 1)
}

func TestRetry(t *testing.T) {
	p := Policy{Attempts: 3, BaseDelay: time.Millisecond}

	t.Run("retries transient errors", func(t *testing.T) {
		var calls int32
		err := Retry(context.Background(), p, "stub", func(context.Context) error {
			if atomic.AddInt32(&calls, 1) < 3 {
				return errors.MarkTransient(errors.New("503"))
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, int32(3), calls)
	})

	t.Run("gives up after attempts", func(t *testing.T) {
		var calls int32
		err := Retry(context.Background(), p, "stub", func(context.Context) error {
			atomic.AddInt32(&calls, 1)
			return errors.MarkTransient(errors.New("503"))
		})
		assert.Error(t, err)
		assert.True(t, errors.IsTransient(err))
		assert.Equal(t, int32(3), calls)
	})

	t.Run("does not retry permanent errors", func(t *testing.T) {
		var calls int32
		err := Retry(context.Background(), p, "stub", func(context.Context) error {
			atomic.AddInt32(&calls, 1)
			return errors.New("401 unauthorized")
		})
		assert.Error(t, err)
		assert.Equal(t, int32(1), calls)
	})

	t.Run("aborts on cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := Retry(ctx, Policy{Attempts: 3, BaseDelay: time.Hour}, "stub", func(context.Context) error {
			return errors.MarkTransient(errors.New("503"))
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestFanOut(t *testing.T) {
	backends := []*Backend{
		{Name: "flash", Localizer: stubLocalizer{loc: &Localization{Summary: "from flash"}}},
		{Name: "pro", Localizer: stubLocalizer{err: errors.New("quota exceeded")}},
		{Name: "nova", Localizer: stubLocalizer{loc: &Localization{Summary: "from nova"}}},
	}
	localize := func(ctx context.Context, b *Backend) (*Localization, error) {
		return b.Localizer.Localize(ctx, Video{}, "")
	}

	candidates, err := FanOut(context.Background(), backends, time.Second, localize)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, "flash", candidates[0].Provider)
	assert.Equal(t, "nova", candidates[1].Provider)

	failing := []*Backend{
		{Name: "flash", Localizer: stubLocalizer{err: errors.New("timeout talking to flash")}},
		{Name: "pro", Localizer: stubLocalizer{err: errors.New("quota exceeded")}},
	}
	_, err = FanOut(context.Background(), failing, time.Second, localize)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider flash")
	assert.Contains(t, err.Error(), "provider pro")
	assert.Contains(t, err.Error(), "quota exceeded")

	_, err = FanOut(context.Background(), nil, time.Second, localize)
	assert.Error(t, err)
}

func TestFanOut_Timeout(t *testing.T) {
	slow := []*Backend{{Name: "slow"}}
	_, err := FanOut(context.Background(), slow, 10*time.Millisecond, func(ctx context.Context, _ *Backend) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewSet(t *testing.T) {
	gen := &Backend{Name: "anthropic", Criteria: stubCriteria{}}
	flash := &Backend{Name: "flash", Localizer: stubLocalizer{}}

	set, err := NewSet(SetConfig{Criteria: "anthropic", Direct: []string{"flash"}}, gen, flash)
	require.NoError(t, err)
	name, g := set.Criteria()
	assert.Equal(t, "anthropic", name)
	assert.NotNil(t, g)
	assert.Len(t, set.Localizers(), 1)

	_, err = set.Localizer("flash")
	assert.NoError(t, err)
	_, err = set.Localizer("missing")
	assert.True(t, errors.IsInvalidRequestError(err))

	_, _, err = set.Embedder()
	assert.Error(t, err)

	_, err = NewSet(SetConfig{Criteria: "flash"}, gen, flash)
	assert.Error(t, err, "flash cannot generate criteria")

	_, err = NewSet(SetConfig{Analysis: "nope"}, gen)
	assert.Error(t, err)
}

func TestVideoReference(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v.mp4")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o644))

	ref, err := Video{Path: path, Inline: true}.Reference()
	require.NoError(t, err)
	assert.Equal(t, "data:video/mp4;base64,YWJj", ref)

	ref, err = Video{Path: path, URL: "https://bucket/v.mp4"}.Reference()
	require.NoError(t, err)
	assert.Equal(t, "https://bucket/v.mp4", ref)

	_, err = Video{}.Reference()
	assert.Error(t, err)
}

func TestDimensionsAndPrompts(t *testing.T) {
	assert.True(t, ValidDimension(1024))
	assert.False(t, ValidDimension(512))
	assert.True(t, strings.Contains(LocalizePrompt("- x", 61.5), "61.50"))
	assert.Contains(t, CriteriaPrompt("sunset surfing"), "sunset surfing")
	assert.Contains(t, AnalysisPrompt("- x"), "A. [priority 1]")
}

func TestNewLimiter(t *testing.T) {
	unlimited := NewLimiter(0)
	for i := 0; i < 100; i++ {
		assert.True(t, unlimited.Allow())
	}
	limited := NewLimiter(1)
	assert.True(t, limited.Allow())
	assert.False(t, limited.Allow())
	assert.NoError(t, Wait(context.Background(), nil))
}
