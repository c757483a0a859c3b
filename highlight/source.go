package highlight

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/teranos/reel/ai/oracle"
	"github.com/teranos/reel/errors"
	"github.com/teranos/reel/logger"
	"github.com/teranos/reel/media"
	"github.com/teranos/reel/pulse/async"
)

// stageSource fetches the job's source into the work dir and probes it,
// once per job. Later calls return the recorded artifact.
func (d *Deps) stageSource(ctx context.Context, sc *async.StageContext, req *Request) (*Source, error) {
	var src Source
	if sc.HasArtifact(ArtifactSource) {
		if err := sc.Artifact(ArtifactSource, &src); err != nil {
			return nil, err
		}
		if _, err := os.Stat(src.Path); err == nil {
			return &src, nil
		}
		// Work dir lost (restart on another host); stage again.
	}

	if err := os.MkdirAll(sc.WorkDir(), 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create work dir %s", sc.WorkDir())
	}
	dst := filepath.Join(sc.WorkDir(), "source"+sourceExt(req.Source))
	if err := d.Resolver.Fetch(ctx, req.Source, dst); err != nil {
		if errors.Is(err, errors.ErrInvalidRequest) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, errors.Mark(errors.Wrap(err, "failed to stage source"), errors.ErrUnreadableMedia)
	}

	info, err := d.Media.Probe(ctx, dst)
	if err != nil {
		return nil, err
	}

	src = Source{Ref: req.Source, Path: dst, Info: info}
	if loc, err := d.Resolver.Locate(ctx, req.Source); err == nil && loc.URL != "" {
		src.URL = loc.URL
	}
	if err := sc.Put(ArtifactSource, src); err != nil {
		return nil, err
	}

	sc.Log.Infow("Source staged",
		logger.FieldFile, dst,
		logger.FieldDuration, info.Duration,
		logger.FieldSize, info.Size,
	)
	return &src, nil
}

// video describes path to a provider: inline when small enough or when
// no URL is reachable, otherwise by URL. The source URL only stands in
// for the staged source itself, never for a re-encode.
func (d *Deps) video(src *Source, path string, size int64) oracle.Video {
	limit := int64(d.Settings.Load().Media.InlineLimitMB) * media.MB
	url := ""
	if path == src.Path {
		url = src.URL
	}
	return oracle.Video{
		Path:     path,
		URL:      url,
		Inline:   url == "" || size <= limit,
		Duration: src.Info.Duration,
		MIME:     mimeOf(path),
	}
}

func sourceExt(ref string) string {
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		ref = ref[:i]
	}
	ext := strings.ToLower(filepath.Ext(ref))
	if ext == "" || len(ext) > 6 {
		return ".mp4"
	}
	return ext
}

func mimeOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mov":
		return "video/quicktime"
	case ".webm":
		return "video/webm"
	case ".mkv":
		return "video/x-matroska"
	case ".avi":
		return "video/x-msvideo"
	default:
		return "video/mp4"
	}
}
