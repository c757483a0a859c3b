package highlight

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/teranos/reel/ai/oracle"
	"github.com/teranos/reel/am"
	"github.com/teranos/reel/match"
	"github.com/teranos/reel/media"
	"github.com/teranos/reel/pulse/budget"
	"github.com/teranos/reel/storage"
)

// Deps are the collaborators the stages call.
type Deps struct {
	Oracle   *oracle.Set
	Media    media.Toolkit
	Resolver *storage.Resolver
	Settings *Settings
	Budget   *budget.Guard // nil admits every job
	Logger   *zap.SugaredLogger
}

// Settings holds the live configuration. Stages read it at the start of
// each stage, so a reload applies to the next stage of a running job.
type Settings struct {
	cfg atomic.Pointer[am.Config]
}

// NewSettings wraps cfg.
func NewSettings(cfg *am.Config) *Settings {
	s := &Settings{}
	s.cfg.Store(cfg)
	return s
}

// Load returns the current configuration.
func (s *Settings) Load() *am.Config { return s.cfg.Load() }

// Store swaps in a reloaded configuration.
func (s *Settings) Store(cfg *am.Config) { s.cfg.Store(cfg) }

// BudgetLimits reads the spend caps from cfg.
func BudgetLimits(cfg *am.Config) budget.Limits {
	return budget.Limits{DailyUSD: cfg.Pulse.DailyBudgetUSD, MonthlyUSD: cfg.Pulse.MonthlyBudgetUSD}
}

// matchParams merges configured defaults with the job's overrides.
func matchParams(cfg *am.Config, opts Options, segmentSeconds float64) match.Params {
	p := match.DefaultParams()
	m := cfg.Matching
	if m.Threshold != 0 {
		p.Threshold = m.Threshold
	}
	if m.TopK > 0 {
		p.TopK = m.TopK
	}
	if m.OverlapFraction > 0 {
		p.OverlapFraction = m.OverlapFraction
	}
	p.MinSeparation = segmentSeconds
	if m.MinSeparationSeconds > 0 {
		p.MinSeparation = m.MinSeparationSeconds
	}
	if opts.Threshold != nil {
		p.Threshold = *opts.Threshold
	}
	if opts.TopK > 0 {
		p.TopK = opts.TopK
	}
	return p
}

func segmentSeconds(cfg *am.Config, opts Options) float64 {
	if opts.SegmentSeconds > 0 {
		return opts.SegmentSeconds
	}
	if cfg.Media.SegmentSeconds > 0 {
		return cfg.Media.SegmentSeconds
	}
	return 3
}

func dimension(cfg *am.Config, opts Options) int {
	if opts.Dimension != 0 {
		return opts.Dimension
	}
	if cfg.Oracle.EmbeddingDimension != 0 {
		return cfg.Oracle.EmbeddingDimension
	}
	return oracle.DefaultDimension
}

func crossfade(cfg *am.Config, opts Options) float64 {
	if opts.Crossfade != nil {
		return *opts.Crossfade
	}
	return cfg.Media.CrossfadeSeconds
}
