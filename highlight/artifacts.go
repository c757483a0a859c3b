package highlight

import (
	"github.com/teranos/reel/match"
	"github.com/teranos/reel/media"
	"github.com/teranos/reel/pulse/async"
)

// Step names. Gates share their name with the artifact they park on.
const (
	StageGenerateCriteria = "generate_criteria"
	StageAnalyzeVideo     = "analyze_video"
	StageCompress         = "compress"
	StageEmbedSegments    = "embed_segments"
	StageMatchClips       = "match_clips"
	StageLocalize         = "localize_and_summarize"
	StageRefine           = "refine_highlights"
	StageExtractClips     = "extract_clips"
	StageStitch           = "stitch"

	GateCriteria   = "criteria"
	GateAnalysis   = "analysis"
	GateSummary    = "summary"
	GateHighlights = "highlights"
)

// Artifact names that are not gates.
const (
	ArtifactSource     = "source"
	ArtifactCompressed = "compressed"
	ArtifactEmbeddings = "embeddings"
	ArtifactClips      = "clips"
	ArtifactWarnings   = "warnings"
)

// Files kept in the job work dir.
const (
	segmentsFile = "segments.json"
	pointsFile   = "points.json"
	outputFile   = "highlight.mp4"
	clipsDir     = "clips"
)

// Source is the staged input video.
type Source struct {
	Ref  string     `json:"ref"`
	Path string     `json:"path"`
	URL  string     `json:"url,omitempty"` // what providers may fetch instead of inline bytes
	Info media.Info `json:"info"`
}

// Criteria is the criteria artifact. Provider is empty when the default
// template was used.
type Criteria struct {
	Text     string `json:"text"`
	Provider string `json:"provider,omitempty"`
	Fallback bool   `json:"fallback,omitempty"`
	Edited   bool   `json:"edited,omitempty"`
}

// Analysis is the analysis artifact: the raw text and the points parsed
// from it.
type Analysis struct {
	Text     string   `json:"text"`
	Points   []string `json:"points"`
	Provider string   `json:"provider"`
}

// Embeddings points at the vectors written by embed_segments.
type Embeddings struct {
	SegmentsFile string `json:"segments_file"`
	PointsFile   string `json:"points_file"`
	Segments     int    `json:"segments"`
	Points       int    `json:"points"`
	Dimension    int    `json:"dimension"`
	Provider     string `json:"provider"`
}

// Summary is the direct-mode model selection artifact: one candidate per
// provider, each holding an oracle.Localization. Confirmation fills
// Selected and Criteria.
type Summary struct {
	Candidates []async.Candidate `json:"candidates"`
	Selected   string            `json:"selected,omitempty"`
	Criteria   string            `json:"criteria,omitempty"`
}

// SummaryChoice is what a caller confirms the summary gate with.
type SummaryChoice struct {
	Provider string `json:"provider"`
	Criteria string `json:"criteria,omitempty"`
}

// Highlights is the direct-mode editable clip list.
type Highlights struct {
	Provider string       `json:"provider"`
	Summary  string       `json:"summary,omitempty"`
	Duration float64      `json:"duration"`
	Clips    []match.Clip `json:"clips"`
}

// Clips is the final clip list. File is set once a clip is extracted.
type Clips struct {
	Clips []match.Clip `json:"clips"`
}
