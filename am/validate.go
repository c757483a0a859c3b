package am

import (
	"sort"

	"github.com/BurntSushi/toml"

	"github.com/teranos/reel/errors"
)

var allowedDimensions = map[int]bool{256: true, 384: true, 1024: true, 3072: true}

// AllowedEmbeddingDimension reports whether dim is one the embedding
// providers accept.
func AllowedEmbeddingDimension(dim int) bool {
	return allowedDimensions[dim]
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 0 {
		return errors.Newf("server.port must be positive, got %d", c.Server.Port)
	}

	// Pulse workers: 0 = no background workers, negative = invalid
	if c.Pulse.Workers < 0 {
		return errors.Newf("pulse.workers must be >= 0, got %d", c.Pulse.Workers)
	}
	if c.Pulse.RetentionHours < 0 || c.Pulse.GateTimeoutHours < 0 {
		return errors.New("pulse.retention_hours and pulse.gate_timeout_hours must be >= 0")
	}
	if c.Pulse.DailyBudgetUSD < 0 || c.Pulse.MonthlyBudgetUSD < 0 {
		return errors.New("pulse.daily_budget_usd and pulse.monthly_budget_usd must be >= 0")
	}

	if c.Media.SegmentSeconds <= 0 {
		return errors.Newf("media.segment_seconds must be > 0, got %g", c.Media.SegmentSeconds)
	}
	if c.Media.CrossfadeSeconds < 0 {
		return errors.Newf("media.crossfade_seconds must be >= 0, got %g", c.Media.CrossfadeSeconds)
	}
	if c.Media.InlineLimitMB <= 0 || c.Media.TargetMB < c.Media.InlineLimitMB {
		return errors.Newf("media tiers must satisfy 0 < inline_limit_mb (%d) <= target_mb (%d)",
			c.Media.InlineLimitMB, c.Media.TargetMB)
	}

	if c.Matching.Threshold < -1 || c.Matching.Threshold > 1 {
		return errors.Newf("matching.threshold must be within [-1, 1], got %g", c.Matching.Threshold)
	}
	if c.Matching.TopK <= 0 {
		return errors.Newf("matching.top_k must be > 0, got %d", c.Matching.TopK)
	}
	if c.Matching.OverlapFraction < 0 || c.Matching.OverlapFraction > 1 {
		return errors.Newf("matching.overlap_fraction must be within [0, 1], got %g", c.Matching.OverlapFraction)
	}

	if !AllowedEmbeddingDimension(c.Oracle.EmbeddingDimension) {
		return errors.WithHint(
			errors.Newf("oracle.embedding_dimension %d is not supported", c.Oracle.EmbeddingDimension),
			"use one of 256, 384, 1024, 3072")
	}
	if c.Oracle.MaxAttempts <= 0 {
		return errors.Newf("oracle.max_attempts must be > 0, got %d", c.Oracle.MaxAttempts)
	}

	switch c.Storage.Backend {
	case StorageLocal:
		if c.Storage.LocalDir == "" {
			return errors.New("storage.local_dir cannot be empty for the local backend")
		}
	case StorageS3:
		if c.Storage.S3.Bucket == "" {
			return errors.WithHint(errors.New("storage.s3.bucket cannot be empty for the s3 backend"),
				"set S3_BUCKET or storage.s3.bucket in am.toml")
		}
	default:
		return errors.Newf("storage.backend must be %q or %q, got %q", StorageLocal, StorageS3, c.Storage.Backend)
	}

	return nil
}

// UnknownKeys decodes the TOML file at path against Config and returns
// the keys it does not recognise (typos viper would silently ignore).
func UnknownKeys(path string) ([]string, error) {
	var cfg Config
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", path)
	}

	var keys []string
	for _, key := range meta.Undecoded() {
		keys = append(keys, key.String())
	}
	sort.Strings(keys)
	return keys, nil
}
