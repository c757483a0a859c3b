// Package oracle defines the analysis capabilities the highlight pipeline
// consumes (criteria generation, video analysis, embeddings, direct
// localization) and the plumbing shared by every backend: retries,
// provider fan-out, rate limiting, and response parsing.
package oracle

import (
	"context"
	"encoding/base64"
	"os"
	"sort"

	"github.com/teranos/reel/errors"
	"github.com/teranos/reel/match"
)

// AllowedDimensions are the embedding sizes backends may be asked for.
var AllowedDimensions = []int{256, 384, 1024, 3072}

// DefaultDimension is used when a job does not choose one.
const DefaultDimension = 1024

// ValidDimension reports whether dim is one of AllowedDimensions.
func ValidDimension(dim int) bool {
	for _, d := range AllowedDimensions {
		if d == dim {
			return true
		}
	}
	return false
}

// Video is a source as a provider sees it: either inline bytes read from
// Path or a URL the provider can fetch.
type Video struct {
	Path     string
	URL      string
	Inline   bool
	Duration float64
	MIME     string
}

// DataURI returns the file at Path as a base64 data URI.
func (v Video) DataURI() (string, error) {
	data, err := os.ReadFile(v.Path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read %s", v.Path)
	}
	mime := v.MIME
	if mime == "" {
		mime = "video/mp4"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// Reference returns what to send a provider: a data URI for inline videos,
// otherwise the URL.
func (v Video) Reference() (string, error) {
	if v.Inline || v.URL == "" {
		if v.Path == "" {
			return "", errors.New("video has neither a local path nor a URL")
		}
		return v.DataURI()
	}
	return v.URL, nil
}

// Localization is one provider's direct-mode answer: a summary, the
// criteria it judged by, and the intervals it found.
type Localization struct {
	Summary   string              `json:"summary"`
	Criteria  string              `json:"criteria"`
	Intervals []match.RawInterval `json:"highlights"`
}

// CriteriaGenerator rewrites the default highlight criteria for a theme.
type CriteriaGenerator interface {
	GenerateCriteria(ctx context.Context, theme string) (string, error)
}

// Analyzer watches a video and describes its highlight points.
type Analyzer interface {
	Analyze(ctx context.Context, video Video, criteria string) (string, error)
}

// Embedder places text and fixed-length video segments in one vector space.
type Embedder interface {
	EmbedText(ctx context.Context, text string, dim int) ([]float32, error)
	EmbedSegments(ctx context.Context, video Video, segmentSeconds float64, dim int) ([]match.Segment, error)
}

// Localizer finds highlight intervals directly. With empty criteria it
// proposes a summary and criteria; otherwise it localizes against them.
type Localizer interface {
	Localize(ctx context.Context, video Video, criteria string) (*Localization, error)
}

// Backend is a named provider and whichever capabilities it offers.
type Backend struct {
	Name      string
	Criteria  CriteriaGenerator
	Analyzer  Analyzer
	Embedder  Embedder
	Localizer Localizer
}

// Set resolves which backend serves each capability.
type Set struct {
	backends  map[string]*Backend
	criteria  string
	analysis  string
	embedding string
	direct    []string
}

// SetConfig names the backend per capability; Direct lists the
// localizers fanned out to in direct mode.
type SetConfig struct {
	Criteria  string
	Analysis  string
	Embedding string
	Direct    []string
}

// NewSet checks that every named backend exists and offers the capability
// it was chosen for. Empty names leave the capability unconfigured.
func NewSet(cfg SetConfig, backends ...*Backend) (*Set, error) {
	s := &Set{
		backends:  make(map[string]*Backend, len(backends)),
		criteria:  cfg.Criteria,
		analysis:  cfg.Analysis,
		embedding: cfg.Embedding,
		direct:    cfg.Direct,
	}
	for _, b := range backends {
		if b == nil || b.Name == "" {
			return nil, errors.New("backend without a name")
		}
		s.backends[b.Name] = b
	}

	check := func(name, capability string, has func(*Backend) bool) error {
		if name == "" {
			return nil
		}
		b, ok := s.backends[name]
		if !ok {
			return errors.WithHintf(errors.Newf("%s provider %q is not configured", capability, name),
				"available: %v", s.Names())
		}
		if !has(b) {
			return errors.Newf("provider %q cannot serve %s", name, capability)
		}
		return nil
	}

	if err := check(cfg.Criteria, "criteria", func(b *Backend) bool { return b.Criteria != nil }); err != nil {
		return nil, err
	}
	if err := check(cfg.Analysis, "analysis", func(b *Backend) bool { return b.Analyzer != nil }); err != nil {
		return nil, err
	}
	if err := check(cfg.Embedding, "embedding", func(b *Backend) bool { return b.Embedder != nil }); err != nil {
		return nil, err
	}
	for _, name := range cfg.Direct {
		if err := check(name, "localization", func(b *Backend) bool { return b.Localizer != nil }); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Names lists the registered backends, sorted.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.backends))
	for name := range s.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Criteria returns the criteria generator and its name, or nil when none
// is configured; the pipeline then falls back to DefaultCriteria.
func (s *Set) Criteria() (string, CriteriaGenerator) {
	if b, ok := s.backends[s.criteria]; ok {
		return b.Name, b.Criteria
	}
	return "", nil
}

// Analyzer returns the configured analyzer.
func (s *Set) Analyzer() (string, Analyzer, error) {
	b, ok := s.backends[s.analysis]
	if !ok {
		return "", nil, errors.New("no analysis provider configured")
	}
	return b.Name, b.Analyzer, nil
}

// Embedder returns the configured embedder.
func (s *Set) Embedder() (string, Embedder, error) {
	b, ok := s.backends[s.embedding]
	if !ok {
		return "", nil, errors.New("no embedding provider configured")
	}
	return b.Name, b.Embedder, nil
}

// Localizers returns the direct-mode backends in configured order.
func (s *Set) Localizers() []*Backend {
	out := make([]*Backend, 0, len(s.direct))
	for _, name := range s.direct {
		out = append(out, s.backends[name])
	}
	return out
}

// Localizer returns the named direct-mode backend.
func (s *Set) Localizer(name string) (Localizer, error) {
	for _, n := range s.direct {
		if n == name {
			return s.backends[name].Localizer, nil
		}
	}
	return nil, errors.Wrapf(errors.ErrInvalidRequest, "unknown provider %q", name)
}
