package media

import (
	"fmt"
	"strings"
)

// Tier is the compression decision for a source of a given size.
type Tier int

const (
	// TierInline: small enough to send inline to providers, untouched.
	TierInline Tier = iota
	// TierPassthrough: untouched; re-encoding at this size tends to grow
	// the file and lose quality.
	TierPassthrough
	// TierReencode: re-encoded toward the target size.
	TierReencode
)

func (t Tier) String() string {
	switch t {
	case TierInline:
		return "inline"
	case TierPassthrough:
		return "passthrough"
	default:
		return "reencode"
	}
}

// MB is the unit the sizing policy is expressed in.
const MB = int64(1024 * 1024)

// ClassifySize maps a byte size to exactly one of three tiers:
// size <= inlineLimit, inlineLimit < size <= target, size > target.
func ClassifySize(size, inlineLimit, target int64) Tier {
	switch {
	case size <= inlineLimit:
		return TierInline
	case size <= target:
		return TierPassthrough
	default:
		return TierReencode
	}
}

// minVideoBitrateK keeps very long sources from producing a non-positive
// bitrate.
const minVideoBitrateK = 64

// TargetBitrateK returns the video bitrate in kbit/s that lands a source
// of durationSeconds at targetMB once audioK of audio is added.
func TargetBitrateK(targetMB int, durationSeconds float64, audioK int) int {
	if durationSeconds <= 0 {
		return minVideoBitrateK
	}
	total := int(float64(targetMB) * 8 * 1024 / durationSeconds)
	video := total - audioK
	if video < minVideoBitrateK {
		return minVideoBitrateK
	}
	return video
}

// StitchedDuration is the length of n clips joined with crossfade
// overlaps: sum(durations) - (n-1)*crossfade.
func StitchedDuration(durations []float64, crossfade float64) float64 {
	if len(durations) == 0 {
		return 0
	}
	var total float64
	for _, d := range durations {
		total += d
	}
	return total - float64(len(durations)-1)*crossfade
}

// EffectiveCrossfade clamps crossfade to half the shortest clip, since
// xfade cannot blend more than a clip holds.
func EffectiveCrossfade(durations []float64, crossfade float64) float64 {
	cf := crossfade
	for _, d := range durations {
		if d/2 < cf {
			cf = d / 2
		}
	}
	if cf < 0 {
		return 0
	}
	return cf
}

// CrossfadeGraph builds the filter_complex joining len(durations) inputs
// with a video xfade, and an audio acrossfade when withAudio is set, at
// every junction. It returns the graph and the final video and audio
// labels.
//
// The offset of junction i (joining input i) is
// sum(durations[:i]) - i*crossfade, the point in the running output where
// the next clip starts fading in.
func CrossfadeGraph(durations []float64, crossfade float64, withAudio bool) (string, string, string) {
	var parts []string
	videoIn, audioIn := "[0:v]", "[0:a]"
	var running float64
	for i := 1; i < len(durations); i++ {
		running += durations[i-1]
		offset := running - float64(i)*crossfade
		videoOut := fmt.Sprintf("[v%d]", i)
		audioOut := fmt.Sprintf("[a%d]", i)
		parts = append(parts, fmt.Sprintf("%s[%d:v]xfade=transition=fade:duration=%.3f:offset=%.3f%s",
			videoIn, i, crossfade, offset, videoOut))
		if withAudio {
			parts = append(parts, fmt.Sprintf("%s[%d:a]acrossfade=d=%.3f%s", audioIn, i, crossfade, audioOut))
		}
		videoIn, audioIn = videoOut, audioOut
	}
	return strings.Join(parts, ";"), videoIn, audioIn
}
