package highlight

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/teranos/reel/ai/oracle"
	"github.com/teranos/reel/errors"
	"github.com/teranos/reel/logger"
	"github.com/teranos/reel/match"
	"github.com/teranos/reel/media"
	"github.com/teranos/reel/pulse/async"
)

// EmbeddingPipeline returns the embedding-mode steps:
// criteria, analysis, then embedding-similarity matching.
func (d *Deps) EmbeddingPipeline() *async.Pipeline {
	return &async.Pipeline{
		Mode: async.ModeEmbedding,
		Steps: []async.Step{
			async.Stage(StageGenerateCriteria, 0, 10, d.generateCriteria),
			async.Gate(GateCriteria, confirmCriteria),
			async.Stage(StageAnalyzeVideo, 10, 40, d.analyzeVideo),
			async.Gate(GateAnalysis, confirmAnalysis),
			async.Stage(StageCompress, 40, 50, d.compress),
			async.Stage(StageEmbedSegments, 50, 70, d.embedSegments),
			async.Stage(StageMatchClips, 70, 85, d.matchClips),
			async.Stage(StageStitch, 85, 100, d.stitch),
		},
	}
}

// generateCriteria rewrites the default criteria for the theme. A
// missing, failing, or unusable generator falls back to DefaultCriteria.
func (d *Deps) generateCriteria(ctx context.Context, sc *async.StageContext) error {
	var req Request
	if err := sc.Payload(&req); err != nil {
		return err
	}

	out := Criteria{Text: oracle.DefaultCriteria, Fallback: true}
	name, gen := d.Oracle.Criteria()
	if gen != nil {
		text, err := gen.GenerateCriteria(ctx, req.Theme)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			sc.Log.Warnw("Criteria generation failed, using default criteria",
				logger.FieldProvider, name,
				logger.FieldError, err,
			)
		case !oracle.UsableCriteria(text):
			sc.Log.Warnw("Generated criteria have no bullets, using default criteria",
				logger.FieldProvider, name,
			)
		default:
			out = Criteria{Text: text, Provider: name}
		}
	}
	return sc.Put(GateCriteria, out)
}

func (d *Deps) analyzeVideo(ctx context.Context, sc *async.StageContext) error {
	var req Request
	if err := sc.Payload(&req); err != nil {
		return err
	}
	var crit Criteria
	if err := sc.Artifact(GateCriteria, &crit); err != nil {
		return err
	}
	name, analyzer, err := d.Oracle.Analyzer()
	if err != nil {
		return err
	}

	src, err := d.stageSource(ctx, sc, &req)
	if err != nil {
		return err
	}
	sc.Progress(0.3)

	text, err := analyzer.Analyze(ctx, d.video(src, src.Path, src.Info.Size), crit.Text)
	if err != nil {
		return err
	}
	points := oracle.ParsePoints(text)
	if len(points) == 0 {
		return errors.WithDetailf(errors.Wrapf(errors.ErrNoClipsMatched, "analysis by %s has no highlight points", name),
			"analysis: %.200s", text)
	}

	sc.Log.Infow("Video analyzed", logger.FieldProvider, name, logger.FieldCount, len(points))
	return sc.Put(GateAnalysis, Analysis{Text: text, Points: points, Provider: name})
}

func (d *Deps) compress(ctx context.Context, sc *async.StageContext) error {
	var src Source
	if err := sc.Artifact(ArtifactSource, &src); err != nil {
		return err
	}
	out, err := d.Media.Compress(ctx, src.Path, filepath.Join(sc.WorkDir(), "compressed"))
	if err != nil {
		return err
	}
	return sc.Put(ArtifactCompressed, out)
}

// embedSegments embeds each confirmed point, then the compressed video
// in fixed-length segments. Vectors go to the work dir; the artifact
// only records where.
func (d *Deps) embedSegments(ctx context.Context, sc *async.StageContext) error {
	var (
		req  Request
		an   Analysis
		src  Source
		comp media.Compressed
	)
	if err := sc.Payload(&req); err != nil {
		return err
	}
	for name, dst := range map[string]interface{}{GateAnalysis: &an, ArtifactSource: &src, ArtifactCompressed: &comp} {
		if err := sc.Artifact(name, dst); err != nil {
			return err
		}
	}
	name, emb, err := d.Oracle.Embedder()
	if err != nil {
		return err
	}

	cfg := d.Settings.Load()
	dim := dimension(cfg, req.Options)
	segSeconds := segmentSeconds(cfg, req.Options)

	total := float64(len(an.Points) + 1)
	points := make([]match.HighlightPoint, 0, len(an.Points))
	for i, text := range an.Points {
		vec, err := emb.EmbedText(ctx, text, dim)
		if err != nil {
			return errors.Wrapf(err, "failed to embed point %d", i)
		}
		points = append(points, match.HighlightPoint{Text: text, Embedding: vec})
		sc.Progress(float64(i+1) / total)
	}

	segments, err := emb.EmbedSegments(ctx, d.video(&src, comp.Path, comp.Size), segSeconds, dim)
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		return errors.Newf("embedding provider %s returned no segments", name)
	}

	segPath := filepath.Join(sc.WorkDir(), segmentsFile)
	if err := writeJSON(segPath, segments); err != nil {
		return err
	}
	pointPath := filepath.Join(sc.WorkDir(), pointsFile)
	if err := writeJSON(pointPath, points); err != nil {
		return err
	}

	sc.Log.Infow("Segments embedded",
		logger.FieldProvider, name,
		logger.FieldCount, len(segments),
		"points", len(points),
		"dimension", dim,
	)
	return sc.Put(ArtifactEmbeddings, Embeddings{
		SegmentsFile: segPath,
		PointsFile:   pointPath,
		Segments:     len(segments),
		Points:       len(points),
		Dimension:    dim,
		Provider:     name,
	})
}

func (d *Deps) matchClips(ctx context.Context, sc *async.StageContext) error {
	var (
		req Request
		emb Embeddings
	)
	if err := sc.Payload(&req); err != nil {
		return err
	}
	if err := sc.Artifact(ArtifactEmbeddings, &emb); err != nil {
		return err
	}
	var (
		segments []match.Segment
		points   []match.HighlightPoint
	)
	if err := readJSON(emb.SegmentsFile, &segments); err != nil {
		return err
	}
	if err := readJSON(emb.PointsFile, &points); err != nil {
		return err
	}

	cfg := d.Settings.Load()
	params := matchParams(cfg, req.Options, segmentSeconds(cfg, req.Options))
	clips, err := match.Match(segments, points, params)
	if err != nil {
		return err
	}

	sc.Log.Infow("Clips matched",
		logger.FieldCount, len(clips),
		"threshold", params.Threshold,
		"top_k", params.TopK,
	)
	return sc.Put(ArtifactClips, Clips{Clips: clips})
}

func writeJSON(path string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "failed to encode %s", filepath.Base(path))
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}

func readJSON(path string, dst interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "failed to read %s", path)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return errors.Wrapf(err, "failed to decode %s", filepath.Base(path))
	}
	return nil
}
