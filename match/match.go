// Package match selects highlight clips from segment embeddings and
// normalizes directly localized intervals.
//
// Embedding mode runs in five steps:
//
//  1. per point, the top-k segments whose cosine similarity clears the
//     threshold (ties to the earlier start)
//  2. all points' picks pooled
//  3. overlap collapse: picks overlapping by more than OverlapFraction
//     keep only the most similar
//  4. proximity merge: clips closer than MinSeparation become one clip
//  5. chronological order
//
// Output is always chronological. Stitching crossfades adjacent clips, so
// relevance order is never used.
package match

import (
	"math"
	"sort"
	"strings"

	"github.com/teranos/reel/errors"
)

// Segment is a fixed-duration slice of the source video with its embedding.
type Segment struct {
	Index     int       `json:"index"`
	Start     float64   `json:"start"`
	End       float64   `json:"end"`
	Embedding []float32 `json:"embedding,omitempty"`
}

// Duration returns End - Start.
func (s Segment) Duration() float64 { return s.End - s.Start }

// HighlightPoint is one target moment to search for.
type HighlightPoint struct {
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding,omitempty"`
}

// Clip is a selected output interval.
type Clip struct {
	Start       float64  `json:"start"`
	End         float64  `json:"end"`
	Score       float64  `json:"score"`
	Description string   `json:"description"`
	Sources     []string `json:"sources,omitempty"`
	File        string   `json:"file,omitempty"`
}

// Duration returns End - Start.
func (c Clip) Duration() float64 { return c.End - c.Start }

// Params tunes selection.
type Params struct {
	Threshold       float64 `json:"threshold"`
	TopK            int     `json:"top_k"`
	OverlapFraction float64 `json:"overlap_fraction"`
	MinSeparation   float64 `json:"min_separation"`
}

// DefaultParams returns the selection defaults for 3-second segments.
func DefaultParams() Params {
	return Params{
		Threshold:       0.05,
		TopK:            3,
		OverlapFraction: 0.5,
		MinSeparation:   3,
	}
}

type pick struct {
	point   string
	segment Segment
	sim     float64
	sources []string
}

// Match runs embedding-mode selection. A point without any segment above
// the threshold contributes nothing; an empty pool is ErrNoClipsMatched.
func Match(segments []Segment, points []HighlightPoint, p Params) ([]Clip, error) {
	if p.TopK <= 0 {
		return nil, errors.Newf("top_k must be positive, got %d", p.TopK)
	}

	var pool []pick
	for _, point := range points {
		picks, err := topK(segments, point, p)
		if err != nil {
			return nil, err
		}
		pool = append(pool, picks...)
	}

	if len(pool) == 0 {
		return nil, errors.WithDetailf(errors.ErrNoClipsMatched,
			"%d points, %d segments, threshold %.3f", len(points), len(segments), p.Threshold)
	}

	survivors := collapseOverlaps(pool, p.OverlapFraction)

	clips := make([]Clip, 0, len(survivors))
	for _, s := range survivors {
		clips = append(clips, Clip{
			Start:       s.segment.Start,
			End:         s.segment.End,
			Score:       s.sim,
			Description: s.point,
			Sources:     s.sources,
		})
	}

	return MergeClose(clips, p.MinSeparation), nil
}

func topK(segments []Segment, point HighlightPoint, p Params) ([]pick, error) {
	if len(point.Embedding) == 0 {
		return nil, nil
	}

	var picks []pick
	for _, seg := range segments {
		if len(seg.Embedding) == 0 {
			continue
		}
		if len(seg.Embedding) != len(point.Embedding) {
			return nil, errors.Newf("embedding dimension mismatch: segment %d has %d, point has %d",
				seg.Index, len(seg.Embedding), len(point.Embedding))
		}
		sim := CosineSimilarity(point.Embedding, seg.Embedding)
		// NaN never clears the threshold.
		if !(sim >= p.Threshold) {
			continue
		}
		picks = append(picks, pick{point: point.Text, segment: seg, sim: sim, sources: []string{point.Text}})
	}

	sort.SliceStable(picks, func(i, j int) bool { return byRelevance(picks[i], picks[j]) })
	if len(picks) > p.TopK {
		picks = picks[:p.TopK]
	}
	return picks, nil
}

// byRelevance orders by similarity, then earlier start.
func byRelevance(a, b pick) bool {
	if a.sim != b.sim {
		return a.sim > b.sim
	}
	return a.segment.Start < b.segment.Start
}

// collapseOverlaps keeps, greedily in relevance order, every pick that
// does not overlap an already kept pick by more than fraction. The kept
// pick absorbs the dropped pick's sources.
func collapseOverlaps(pool []pick, fraction float64) []pick {
	sorted := make([]pick, len(pool))
	copy(sorted, pool)
	sort.SliceStable(sorted, func(i, j int) bool { return byRelevance(sorted[i], sorted[j]) })

	var kept []pick
	for _, candidate := range sorted {
		absorbed := false
		for i := range kept {
			if OverlapFraction(kept[i].segment.Start, kept[i].segment.End,
				candidate.segment.Start, candidate.segment.End) > fraction {
				kept[i].sources = appendUnique(kept[i].sources, candidate.sources...)
				absorbed = true
				break
			}
		}
		if !absorbed {
			kept = append(kept, candidate)
		}
	}
	return kept
}

// MergeClose sorts clips by start and merges neighbours whose gap is
// below minSeparation, or that overlap. A merged clip spans both, keeps
// the higher score and joins the descriptions. The result is
// chronological and has no two clips closer than minSeparation.
func MergeClose(clips []Clip, minSeparation float64) []Clip {
	if len(clips) == 0 {
		return nil
	}

	sorted := make([]Clip, len(clips))
	copy(sorted, clips)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].End < sorted[j].End
	})

	merged := []Clip{cloneClip(sorted[0])}
	for _, next := range sorted[1:] {
		last := &merged[len(merged)-1]
		gap := next.Start - last.End
		if gap < minSeparation || gap < 0 {
			last.End = math.Max(last.End, next.End)
			last.Score = math.Max(last.Score, next.Score)
			last.Description = joinDescriptions(last.Description, next.Description)
			last.Sources = appendUnique(last.Sources, next.Sources...)
			continue
		}
		merged = append(merged, cloneClip(next))
	}
	return merged
}

func cloneClip(c Clip) Clip {
	c.Sources = append([]string(nil), c.Sources...)
	return c
}

func joinDescriptions(a, b string) string {
	switch {
	case b == "" || a == b:
		return a
	case a == "":
		return b
	case strings.Contains(a, b):
		return a
	default:
		return a + "; " + b
	}
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		found := false
		for _, existing := range dst {
			if existing == v {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, v)
		}
	}
	return dst
}

// OverlapFraction returns the intersection of [aStart, aEnd) and
// [bStart, bEnd) relative to the shorter interval, in [0, 1].
func OverlapFraction(aStart, aEnd, bStart, bEnd float64) float64 {
	inter := math.Min(aEnd, bEnd) - math.Max(aStart, bStart)
	if inter <= 0 {
		return 0
	}
	shorter := math.Min(aEnd-aStart, bEnd-bStart)
	if shorter <= 0 {
		return 0
	}
	return math.Min(inter/shorter, 1)
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0
// when either is empty, zero, or the lengths differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Segmentize splits [0, duration) into consecutive slices of length
// segmentSeconds; the last slice is shorter when duration is not a
// multiple.
func Segmentize(duration, segmentSeconds float64) []Segment {
	if duration <= 0 || segmentSeconds <= 0 {
		return nil
	}
	var segments []Segment
	for i := 0; ; i++ {
		start := float64(i) * segmentSeconds
		if start >= duration {
			break
		}
		segments = append(segments, Segment{
			Index: i,
			Start: start,
			End:   math.Min(start+segmentSeconds, duration),
		})
	}
	return segments
}
