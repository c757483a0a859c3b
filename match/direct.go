package match

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/teranos/reel/errors"
)

// RawInterval is a localized highlight as a provider or a user returned
// it. Bounds are kept loosely typed because they arrive as numbers,
// numeric strings, "mm:ss" timestamps, or garbage.
type RawInterval struct {
	Start       interface{} `json:"start_time"`
	End         interface{} `json:"end_time"`
	Description string      `json:"description"`
	Confidence  float64     `json:"confidence,omitempty"`
	Intensity   string      `json:"intensity,omitempty"`
	Reason      string      `json:"reason,omitempty"`
}

// Normalize validates and orders directly localized intervals.
// Intervals must satisfy 0 <= start < end <= duration; anything else is
// dropped with a warning. Survivors are merged with the MergeClose rule
// and returned chronologically. If nothing survives the result is
// ErrNoClipsMatched.
func Normalize(raw []RawInterval, duration, minSeparation float64) ([]Clip, []string, error) {
	var clips []Clip
	var warnings []string

	for i, r := range raw {
		start, okStart := Seconds(r.Start)
		end, okEnd := Seconds(r.End)
		switch {
		case !okStart || !okEnd:
			warnings = append(warnings, fmt.Sprintf("interval %d dropped: non-numeric bound (%v, %v)", i, r.Start, r.End))
			continue
		case start >= end:
			warnings = append(warnings, fmt.Sprintf("interval %d dropped: inverted bound [%g, %g]", i, start, end))
			continue
		case start < 0 || (duration > 0 && end > duration):
			warnings = append(warnings, fmt.Sprintf("interval %d dropped: [%g, %g] outside [0, %g]", i, start, end, duration))
			continue
		}

		desc := strings.TrimSpace(r.Description)
		clips = append(clips, Clip{
			Start:       start,
			End:         end,
			Score:       confidence(r),
			Description: desc,
			Sources:     []string{fmt.Sprintf("interval %d", i)},
		})
	}

	if len(clips) == 0 {
		return nil, warnings, errors.WithDetailf(errors.ErrNoClipsMatched,
			"all %d localized intervals were invalid", len(raw))
	}

	return MergeClose(clips, minSeparation), warnings, nil
}

// confidence prefers an explicit confidence, else maps intensity.
func confidence(r RawInterval) float64 {
	if r.Confidence > 0 {
		return r.Confidence
	}
	return IntensityConfidence(r.Intensity)
}

// IntensityConfidence maps high/medium/low to a confidence score;
// anything else counts as medium.
func IntensityConfidence(intensity string) float64 {
	switch strings.ToLower(strings.TrimSpace(intensity)) {
	case "high":
		return 0.9
	case "low":
		return 0.3
	default:
		return 0.6
	}
}

// Seconds converts a loosely typed bound to seconds. Accepted: numbers,
// json.Number, numeric strings, and "mm:ss" / "hh:mm:ss" timestamps.
func Seconds(v interface{}) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, ok := parseTimestamp(strings.TrimSpace(t))
		if !ok {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func parseTimestamp(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	if !strings.Contains(s, ":") {
		f, err := strconv.ParseFloat(strings.TrimSuffix(s, "s"), 64)
		return f, err == nil
	}

	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, false
	}
	var total float64
	for _, part := range parts {
		f, err := strconv.ParseFloat(part, 64)
		if err != nil || f < 0 {
			return 0, false
		}
		total = total*60 + f
	}
	return total, true
}
