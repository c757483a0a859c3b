package am

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "reel.db")

	// Server defaults
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.allowed_origins", []string{
		"http://localhost",
		"https://localhost",
		"http://127.0.0.1",
		"https://127.0.0.1",
	})
	v.SetDefault("server.max_upload_mb", 1024)

	// Pulse defaults
	v.SetDefault("pulse.workers", 2)
	v.SetDefault("pulse.work_dir", filepath.Join(os.TempDir(), "reel"))
	v.SetDefault("pulse.retention_hours", 24)
	v.SetDefault("pulse.gate_timeout_hours", 24)
	v.SetDefault("pulse.janitor_interval_seconds", 60)
	v.SetDefault("pulse.daily_budget_usd", 0.0)
	v.SetDefault("pulse.monthly_budget_usd", 0.0)

	// Media defaults
	v.SetDefault("media.ffmpeg_path", "ffmpeg")
	v.SetDefault("media.ffprobe_path", "ffprobe")
	v.SetDefault("media.segment_seconds", 3.0)
	v.SetDefault("media.crossfade_seconds", 0.5)
	v.SetDefault("media.inline_limit_mb", 25)
	v.SetDefault("media.target_mb", 100)
	v.SetDefault("media.audio_bitrate_k", 128)
	v.SetDefault("media.extra_encode_args", "")

	// Matching defaults
	v.SetDefault("matching.threshold", 0.05)
	v.SetDefault("matching.top_k", 3)
	v.SetDefault("matching.overlap_fraction", 0.5)
	v.SetDefault("matching.min_separation_seconds", 0.0)
	v.SetDefault("matching.direct_min_separation_seconds", 0.0)

	// Oracle defaults
	v.SetDefault("oracle.criteria_provider", "anthropic")
	v.SetDefault("oracle.analysis_provider", "openrouter")
	v.SetDefault("oracle.embedding_provider", "sidecar")
	v.SetDefault("oracle.direct_models", []string{
		"google/gemini-2.5-flash",
		"google/gemini-2.5-pro",
		"amazon/nova-pro-v1",
	})
	v.SetDefault("oracle.embedding_dimension", 1024)
	v.SetDefault("oracle.fanout_timeout_seconds", 300)
	v.SetDefault("oracle.requests_per_minute", 30)
	v.SetDefault("oracle.max_attempts", 3)

	v.SetDefault("oracle.openrouter.model", "google/gemini-2.5-flash")
	v.SetDefault("oracle.openrouter.temperature", 0.2)
	v.SetDefault("oracle.openrouter.max_tokens", 4000)

	v.SetDefault("oracle.anthropic.model", "claude-sonnet-4-20250514")
	v.SetDefault("oracle.anthropic.max_tokens", 1000)

	v.SetDefault("oracle.openai.chat_model", "gpt-4o-mini")
	v.SetDefault("oracle.openai.embedding_model", "text-embedding-3-large")

	v.SetDefault("oracle.sidecar.base_url", "http://127.0.0.1:8890")
	v.SetDefault("oracle.sidecar.timeout_seconds", 600)

	// Storage defaults
	v.SetDefault("storage.backend", StorageLocal)
	v.SetDefault("storage.local_dir", "reel-data")
	v.SetDefault("storage.source_dirs", []string{})
	v.SetDefault("storage.s3.region", "us-east-1")
	v.SetDefault("storage.s3.prefix", "reel/")
	v.SetDefault("storage.s3.presign_minutes", 60)
}

// BindSensitiveEnvVars explicitly binds credentials to the environment
// variable names the providers document, in addition to REEL_* names.
func BindSensitiveEnvVars(v *viper.Viper) {
	_ = v.BindEnv("oracle.openrouter.api_key", "REEL_ORACLE_OPENROUTER_API_KEY", "OPENROUTER_API_KEY")
	_ = v.BindEnv("oracle.anthropic.api_key", "REEL_ORACLE_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("oracle.openai.api_key", "REEL_ORACLE_OPENAI_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("storage.s3.bucket", "REEL_STORAGE_S3_BUCKET", "S3_BUCKET")
	_ = v.BindEnv("storage.s3.region", "REEL_STORAGE_S3_REGION", "AWS_REGION")
	_ = v.BindEnv("database.path", "REEL_DATABASE_PATH")
}

// GetServerPort returns server.port, or DefaultServerPort when unset
func (c *Config) GetServerPort() int {
	if c.Server.Port == 0 {
		return DefaultServerPort
	}
	return c.Server.Port
}

// GetServerAllowedOrigins returns the allowed CORS origins
func (c *Config) GetServerAllowedOrigins() []string {
	if len(c.Server.AllowedOrigins) == 0 {
		return []string{"http://localhost", "http://127.0.0.1"}
	}
	return c.Server.AllowedOrigins
}

// Retention returns how long terminal jobs stay in the registry
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Pulse.RetentionHours) * time.Hour
}

// GateTimeout returns how long a confirmation gate may stay open
func (c *Config) GateTimeout() time.Duration {
	return time.Duration(c.Pulse.GateTimeoutHours) * time.Hour
}

// FanoutTimeout returns the join timeout for parallel providers
func (c *Config) FanoutTimeout() time.Duration {
	return time.Duration(c.Oracle.FanoutTimeoutSeconds) * time.Second
}

// MinSeparation returns the embedding-mode merge gap, defaulting to the
// segment duration.
func (c *Config) MinSeparation() float64 {
	if c.Matching.MinSeparationSeconds > 0 {
		return c.Matching.MinSeparationSeconds
	}
	return c.Media.SegmentSeconds
}

// Redacted returns a copy with credentials masked, for display
func (c *Config) Redacted() Config {
	out := *c
	out.Oracle.OpenRouter.APIKey = mask(out.Oracle.OpenRouter.APIKey)
	out.Oracle.Anthropic.APIKey = mask(out.Oracle.Anthropic.APIKey)
	out.Oracle.OpenAI.APIKey = mask(out.Oracle.OpenAI.APIKey)
	return out
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "****"
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Database: %s, Storage: %s, Pulse: {Workers: %d}, Oracle: {Criteria: %s, Analysis: %s, Embedding: %s}}",
		c.Database.Path, c.Storage.Backend, c.Pulse.Workers,
		c.Oracle.CriteriaProvider, c.Oracle.AnalysisProvider, c.Oracle.EmbeddingProvider)
}
