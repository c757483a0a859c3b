package highlight

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/teranos/reel/ai/oracle"
	"github.com/teranos/reel/errors"
	"github.com/teranos/reel/logger"
	"github.com/teranos/reel/match"
	"github.com/teranos/reel/pulse/async"
)

// DirectPipeline returns the direct-mode steps: providers propose a
// summary and criteria, the chosen one localizes highlights, and the
// confirmed list is cut and stitched.
func (d *Deps) DirectPipeline() *async.Pipeline {
	return &async.Pipeline{
		Mode: async.ModeDirect,
		Steps: []async.Step{
			async.Stage(StageLocalize, 0, 30, d.localizeAndSummarize),
			async.Gate(GateSummary, confirmSummary),
			async.Stage(StageRefine, 30, 55, d.refineHighlights),
			async.Gate(GateHighlights, d.confirmHighlights),
			async.Stage(StageExtractClips, 55, 85, d.extractClips),
			async.Stage(StageStitch, 85, 100, d.stitch),
		},
	}
}

// localizers resolves the job's provider subset against the configured
// direct-mode backends.
func (d *Deps) localizers(names []string) ([]*oracle.Backend, error) {
	all := d.Oracle.Localizers()
	if len(names) == 0 {
		return all, nil
	}
	byName := make(map[string]*oracle.Backend, len(all))
	for _, b := range all {
		byName[b.Name] = b
	}
	out := make([]*oracle.Backend, 0, len(names))
	for _, n := range names {
		b, ok := byName[n]
		if !ok {
			return nil, errors.NewInvalidRequestError("provider %q is not a configured direct provider", n)
		}
		out = append(out, b)
	}
	return out, nil
}

// localizeAndSummarize fans the source out to every direct provider. Each
// answer becomes a candidate on the summary artifact; failed providers
// are recorded with their error.
func (d *Deps) localizeAndSummarize(ctx context.Context, sc *async.StageContext) error {
	var req Request
	if err := sc.Payload(&req); err != nil {
		return err
	}
	backends, err := d.localizers(req.Options.Providers)
	if err != nil {
		return err
	}

	src, err := d.stageSource(ctx, sc, &req)
	if err != nil {
		return err
	}
	sc.Progress(0.2)

	video := d.video(src, src.Path, src.Info.Size)
	var (
		mu     sync.Mutex
		failed = make(map[string]string)
	)
	cands, err := oracle.FanOut(ctx, backends, d.Settings.Load().FanoutTimeout(),
		func(ctx context.Context, b *oracle.Backend) (*oracle.Localization, error) {
			loc, err := b.Localizer.Localize(ctx, video, "")
			if err != nil {
				mu.Lock()
				failed[b.Name] = err.Error()
				mu.Unlock()
				sc.Log.Warnw("Provider failed", logger.FieldProvider, b.Name, logger.FieldError, err)
				return nil, err
			}
			return loc, nil
		})
	if err != nil {
		return err
	}

	byProvider := make(map[string]*oracle.Localization, len(cands))
	for _, c := range cands {
		byProvider[c.Provider] = c.Value
	}
	summary := Summary{Candidates: make([]async.Candidate, 0, len(backends))}
	for _, b := range backends {
		loc, ok := byProvider[b.Name]
		if !ok {
			msg := failed[b.Name]
			if msg == "" {
				msg = "no answer"
			}
			summary.Candidates = append(summary.Candidates, async.Candidate{Provider: b.Name, Error: msg})
			continue
		}
		value, err := json.Marshal(loc)
		if err != nil {
			return errors.Wrapf(err, "failed to encode %s candidate", b.Name)
		}
		summary.Candidates = append(summary.Candidates, async.Candidate{Provider: b.Name, Value: value})
	}

	sc.Log.Infow("Providers answered", logger.FieldCount, len(cands), "failed", len(backends)-len(cands))
	return sc.Put(GateSummary, summary)
}

// refineHighlights asks the selected provider to localize highlights
// against the confirmed criteria.
func (d *Deps) refineHighlights(ctx context.Context, sc *async.StageContext) error {
	var (
		req Request
		sum Summary
	)
	if err := sc.Payload(&req); err != nil {
		return err
	}
	if err := sc.Artifact(GateSummary, &sum); err != nil {
		return err
	}
	loc, err := d.Oracle.Localizer(sum.Selected)
	if err != nil {
		return err
	}
	src, err := d.stageSource(ctx, sc, &req)
	if err != nil {
		return err
	}
	sc.Progress(0.1)

	res, err := loc.Localize(ctx, d.video(src, src.Path, src.Info.Size), sum.Criteria)
	if err != nil {
		return err
	}

	clips, warnings, err := match.Normalize(res.Intervals, src.Info.Duration,
		d.Settings.Load().Matching.DirectMinSeparationSeconds)
	if len(warnings) > 0 {
		sc.Log.Warnw("Dropped localized intervals", logger.FieldCount, len(warnings))
		if perr := sc.Put(ArtifactWarnings, warnings); perr != nil {
			return perr
		}
	}
	if err != nil {
		return err
	}

	summaryText := res.Summary
	if summaryText == "" {
		summaryText = candidateSummary(sum, sum.Selected)
	}
	return sc.Put(GateHighlights, Highlights{
		Provider: sum.Selected,
		Summary:  summaryText,
		Duration: src.Info.Duration,
		Clips:    clips,
	})
}

func (d *Deps) extractClips(ctx context.Context, sc *async.StageContext) error {
	var (
		hl  Highlights
		src Source
	)
	if err := sc.Artifact(GateHighlights, &hl); err != nil {
		return err
	}
	if err := sc.Artifact(ArtifactSource, &src); err != nil {
		return err
	}
	clips, err := d.cut(ctx, sc, &src, hl.Clips, 1)
	if err != nil {
		return err
	}
	return sc.Put(ArtifactClips, Clips{Clips: clips})
}

func candidateSummary(sum Summary, provider string) string {
	for _, c := range sum.Candidates {
		if c.Provider != provider || !c.Selectable() {
			continue
		}
		var loc oracle.Localization
		if err := json.Unmarshal(c.Value, &loc); err == nil {
			return loc.Summary
		}
	}
	return ""
}
