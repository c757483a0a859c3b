package highlight

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/teranos/reel/errors"
	"github.com/teranos/reel/logger"
	"github.com/teranos/reel/match"
	"github.com/teranos/reel/pulse/async"
)

// cut extracts every clip without a file from the source. Progress runs
// over [0, share] of the stage.
func (d *Deps) cut(ctx context.Context, sc *async.StageContext, src *Source, clips []match.Clip, share float64) ([]match.Clip, error) {
	if len(clips) == 0 {
		return nil, errors.Wrap(errors.ErrNoClipsMatched, "nothing to extract")
	}
	dir := filepath.Join(sc.WorkDir(), clipsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create %s", dir)
	}

	out := make([]match.Clip, len(clips))
	for i, c := range clips {
		out[i] = c
		if c.File != "" {
			if _, err := os.Stat(c.File); err == nil {
				continue
			}
		}
		dst := filepath.Join(dir, fmt.Sprintf("clip_%03d.mp4", i))
		if err := d.Media.ExtractSegment(ctx, src.Path, c.Start, c.End, dst); err != nil {
			return nil, errors.Wrapf(err, "failed to extract clip %d [%g, %g]", i, c.Start, c.End)
		}
		out[i].File = dst
		sc.Progress(share * float64(i+1) / float64(len(clips)))
	}
	return out, nil
}

// stitch joins the clips with crossfades and stores the result. The
// stored reference becomes the job output.
func (d *Deps) stitch(ctx context.Context, sc *async.StageContext) error {
	var (
		req Request
		cl  Clips
		src Source
	)
	if err := sc.Payload(&req); err != nil {
		return err
	}
	if err := sc.Artifact(ArtifactClips, &cl); err != nil {
		return err
	}
	if err := sc.Artifact(ArtifactSource, &src); err != nil {
		return err
	}

	clips, err := d.cut(ctx, sc, &src, cl.Clips, 0.6)
	if err != nil {
		return err
	}
	if err := sc.Put(ArtifactClips, Clips{Clips: clips}); err != nil {
		return err
	}

	files := make([]string, len(clips))
	for i, c := range clips {
		files[i] = c.File
	}
	dst := filepath.Join(sc.WorkDir(), outputFile)
	length, err := d.Media.Stitch(ctx, files, crossfade(d.Settings.Load(), req.Options), dst)
	if err != nil {
		return err
	}
	sc.Progress(0.8)

	store := d.Resolver.Store()
	if store == nil {
		return errors.New("no output store configured")
	}
	ref, err := store.Put(ctx, dst, "outputs/"+sc.JobID()+"/"+outputFile)
	if err != nil {
		return errors.Wrap(err, "failed to store highlight")
	}

	sc.Log.Infow("Highlight stitched",
		logger.FieldCount, len(clips),
		logger.FieldDuration, length,
		logger.FieldFile, ref,
	)
	return sc.SetOutput(ref)
}
