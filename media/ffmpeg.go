// Package media wraps the external ffmpeg/ffprobe tools behind a Toolkit:
// probing, size-tiered compression, segment extraction, and crossfade
// stitching.
package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"

	"github.com/teranos/reel/am"
	"github.com/teranos/reel/errors"
	"github.com/teranos/reel/logger"
	"github.com/teranos/reel/storage"
)

// Info is what the pipeline needs to know about a video.
type Info struct {
	Duration float64 `json:"duration"`
	Size     int64   `json:"size"`
	Width    int     `json:"width,omitempty"`
	Height   int     `json:"height,omitempty"`
	HasAudio bool    `json:"has_audio"`
}

// Compressed describes the output of Compress.
type Compressed struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
	Tier string `json:"tier"`
	// Inline is true when the file is small enough to embed in a
	// provider request instead of uploading or linking it.
	Inline bool `json:"inline"`
}

// Toolkit is the media capability the pipeline stages depend on.
type Toolkit interface {
	Probe(ctx context.Context, path string) (Info, error)
	Compress(ctx context.Context, src, dstDir string) (Compressed, error)
	ExtractSegment(ctx context.Context, src string, start, end float64, dst string) error
	Stitch(ctx context.Context, clips []string, crossfade float64, dst string) (float64, error)
}

// MinimumFFmpeg is the oldest release with the xfade filter.
var MinimumFFmpeg = semver.MustParse("4.3.0")

// FFmpeg implements Toolkit with the ffmpeg and ffprobe binaries.
type FFmpeg struct {
	runner      Runner
	ffmpeg      string
	ffprobe     string
	inlineLimit int64
	target      int64
	targetMB    int
	audioK      int
	extraArgs   []string
	logger      *zap.SugaredLogger
}

// NewFFmpeg builds a toolkit from media configuration. A nil runner uses
// ExecRunner.
func NewFFmpeg(cfg am.MediaConfig, runner Runner, log *zap.SugaredLogger) (*FFmpeg, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if runner == nil {
		runner = ExecRunner{Logger: log}
	}
	extra, err := SplitArgs(cfg.ExtraEncodeArgs)
	if err != nil {
		return nil, errors.WithHint(err, "check media.extra_encode_args in am.toml")
	}
	f := &FFmpeg{
		runner:      runner,
		ffmpeg:      orDefault(cfg.FFmpegPath, "ffmpeg"),
		ffprobe:     orDefault(cfg.FFprobePath, "ffprobe"),
		inlineLimit: int64(cfg.InlineLimitMB) * MB,
		target:      int64(cfg.TargetMB) * MB,
		targetMB:    cfg.TargetMB,
		audioK:      cfg.AudioBitrateK,
		extraArgs:   extra,
		logger:      log,
	}
	if f.audioK <= 0 {
		f.audioK = 128
	}
	return f, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

var versionPattern = regexp.MustCompile(`ffmpeg version n?(\d+(?:\.\d+){0,2})`)

// CheckVersion fails when ffmpeg is missing or older than MinimumFFmpeg.
// Builds that report no parseable version (git snapshots) are accepted.
func (f *FFmpeg) CheckVersion(ctx context.Context) (string, error) {
	out, err := f.runner.Run(ctx, f.ffmpeg, "-hide_banner", "-version")
	if err != nil {
		return "", errors.WithHint(errors.Wrap(err, "ffmpeg not available"),
			"install ffmpeg or set media.ffmpeg_path")
	}
	m := versionPattern.FindStringSubmatch(string(out))
	if m == nil {
		return "unknown", nil
	}
	v, err := semver.NewVersion(m[1])
	if err != nil {
		return m[1], nil
	}
	if v.LessThan(MinimumFFmpeg) {
		return v.String(), errors.Newf("ffmpeg %s is older than required %s", v, MinimumFFmpeg)
	}
	return v.String(), nil
}

type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
		Size     string `json:"size"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
		Duration  string `json:"duration"`
	} `json:"streams"`
}

// Probe reads duration, size, and stream layout. Anything ffprobe cannot
// make sense of is ErrUnreadableMedia.
func (f *FFmpeg) Probe(ctx context.Context, path string) (Info, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return Info{}, errors.Wrapf(errors.ErrUnreadableMedia, "%s: %v", path, err)
	}

	out, err := f.runner.Run(ctx, f.ffprobe,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	if err != nil {
		if ctx.Err() != nil {
			return Info{}, err
		}
		return Info{}, errors.Mark(errors.Wrapf(err, "probe %s", path), errors.ErrUnreadableMedia)
	}

	var parsed probeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return Info{}, errors.Wrapf(errors.ErrUnreadableMedia, "probe %s: %v", path, err)
	}

	info := Info{Size: stat.Size()}
	hasVideo := false
	for _, s := range parsed.Streams {
		switch s.CodecType {
		case "video":
			if !hasVideo {
				info.Width, info.Height = s.Width, s.Height
				hasVideo = true
			}
			if info.Duration == 0 {
				info.Duration, _ = strconv.ParseFloat(s.Duration, 64)
			}
		case "audio":
			info.HasAudio = true
		}
	}
	if d, err := strconv.ParseFloat(parsed.Format.Duration, 64); err == nil && d > 0 {
		info.Duration = d
	}
	if !hasVideo || info.Duration <= 0 {
		return Info{}, errors.Wrapf(errors.ErrUnreadableMedia, "%s has no video stream with a duration", path)
	}

	logger.MediaDebugw(f.logger, "Probed source",
		logger.FieldFile, filepath.Base(path),
		logger.FieldDuration, info.Duration,
		logger.FieldSize, info.Size,
	)
	return info, nil
}

// Compress places a provider-ready copy of src in dstDir. Sources at or
// below the target size pass through untouched. Larger ones are
// re-encoded with a bitrate computed to land near the target.
func (f *FFmpeg) Compress(ctx context.Context, src, dstDir string) (Compressed, error) {
	info, err := f.Probe(ctx, src)
	if err != nil {
		return Compressed{}, err
	}

	tier := ClassifySize(info.Size, f.inlineLimit, f.target)
	if tier != TierReencode {
		logger.MediaDebugw(f.logger, "Source within size target, not re-encoding",
			logger.FieldSize, info.Size,
			"tier", tier.String(),
		)
		return Compressed{Path: src, Size: info.Size, Tier: tier.String(), Inline: tier == TierInline}, nil
	}

	if err := os.MkdirAll(dstDir, am.DefaultDirPermissions); err != nil {
		return Compressed{}, errors.Wrap(err, "failed to create compression directory")
	}
	dst := filepath.Join(dstDir, "compressed.mp4")

	videoK := TargetBitrateK(f.targetMB, info.Duration, f.audioK)
	args := []string{
		"-y", "-i", src,
		"-c:v", "libx264", "-preset", "medium",
		"-b:v", fmt.Sprintf("%dk", videoK),
		"-maxrate", fmt.Sprintf("%dk", videoK*3/2),
		"-bufsize", fmt.Sprintf("%dk", videoK*2),
		"-c:a", "aac", "-b:a", fmt.Sprintf("%dk", f.audioK),
		"-movflags", "+faststart",
	}
	args = append(args, f.extraArgs...)
	args = append(args, dst)

	if _, err := f.runner.Run(ctx, f.ffmpeg, args...); err != nil {
		return Compressed{}, errors.Wrap(err, "re-encode failed")
	}
	stat, err := os.Stat(dst)
	if err != nil {
		return Compressed{}, errors.Wrap(err, "re-encode produced no output")
	}
	logger.MediaDebugw(f.logger, "Re-encoded source",
		"from", info.Size,
		"to", stat.Size(),
		"video_kbps", videoK,
	)
	return Compressed{Path: dst, Size: stat.Size(), Tier: tier.String(), Inline: stat.Size() <= f.inlineLimit}, nil
}

// ExtractSegment cuts [start, end) from src into dst, re-encoding so cuts
// land on exact timestamps rather than keyframes.
func (f *FFmpeg) ExtractSegment(ctx context.Context, src string, start, end float64, dst string) error {
	if end <= start {
		return errors.NewInvalidRequestError(fmt.Sprintf("empty segment [%.3f, %.3f)", start, end))
	}
	if err := os.MkdirAll(filepath.Dir(dst), am.DefaultDirPermissions); err != nil {
		return errors.Wrap(err, "failed to create segment directory")
	}
	_, err := f.runner.Run(ctx, f.ffmpeg,
		"-ss", formatSeconds(start),
		"-i", src,
		"-t", formatSeconds(end-start),
		"-c:v", "libx264", "-preset", "medium", "-crf", "23",
		"-c:a", "aac", "-b:a", "128k",
		"-g", "30",
		"-y", dst,
	)
	if err != nil {
		return errors.Wrapf(err, "extract [%.3f, %.3f)", start, end)
	}
	return nil
}

// Stitch joins clips in order with crossfade transitions into dst and
// returns the expected length of the result. A single clip is copied as
// is. The crossfade is clamped to half of the shortest clip.
func (f *FFmpeg) Stitch(ctx context.Context, clips []string, crossfade float64, dst string) (float64, error) {
	if len(clips) == 0 {
		return 0, errors.Wrap(errors.ErrNoClipsMatched, "nothing to stitch")
	}
	if err := os.MkdirAll(filepath.Dir(dst), am.DefaultDirPermissions); err != nil {
		return 0, errors.Wrap(err, "failed to create output directory")
	}

	durations := make([]float64, len(clips))
	withAudio := true
	for i, clip := range clips {
		info, err := f.Probe(ctx, clip)
		if err != nil {
			return 0, errors.Wrapf(err, "clip %d", i)
		}
		durations[i] = info.Duration
		withAudio = withAudio && info.HasAudio
	}
	if len(clips) == 1 {
		if err := storage.CopyFile(ctx, clips[0], dst); err != nil {
			return 0, err
		}
		return durations[0], nil
	}

	cf := EffectiveCrossfade(durations, crossfade)
	if cf < crossfade {
		f.logger.Debugw("Crossfade clamped to shortest clip",
			"requested", crossfade,
			"effective", cf,
		)
	}

	args := make([]string, 0, 2*len(clips)+16)
	for _, clip := range clips {
		args = append(args, "-i", clip)
	}
	graph, videoOut, audioOut := CrossfadeGraph(durations, cf, withAudio)
	args = append(args, "-filter_complex", graph, "-map", videoOut)
	if withAudio {
		args = append(args, "-map", audioOut, "-c:a", "aac", "-b:a", "128k")
	}
	args = append(args,
		"-c:v", "libx264", "-preset", "medium", "-crf", "23",
		"-movflags", "+faststart",
		"-y", dst,
	)
	if _, err := f.runner.Run(ctx, f.ffmpeg, args...); err != nil {
		return 0, errors.Wrap(err, "stitch failed")
	}

	total := StitchedDuration(durations, cf)
	logger.MediaDebugw(f.logger, "Stitched highlight reel",
		logger.FieldCount, len(clips),
		logger.FieldDuration, total,
	)
	return total, nil
}

func formatSeconds(s float64) string {
	out := strings.TrimRight(strings.TrimRight(strconv.FormatFloat(s, 'f', 3, 64), "0"), ".")
	if out == "" || out == "-" {
		return "0"
	}
	return out
}
