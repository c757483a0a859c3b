package am

// Config represents the reel configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database" toml:"database" json:"database"`
	Server   ServerConfig   `mapstructure:"server" toml:"server" json:"server"`
	Pulse    PulseConfig    `mapstructure:"pulse" toml:"pulse" json:"pulse"`
	Media    MediaConfig    `mapstructure:"media" toml:"media" json:"media"`
	Matching MatchingConfig `mapstructure:"matching" toml:"matching" json:"matching"`
	Oracle   OracleConfig   `mapstructure:"oracle" toml:"oracle" json:"oracle"`
	Storage  StorageConfig  `mapstructure:"storage" toml:"storage" json:"storage"`
}

// DatabaseConfig configures the SQLite job snapshot store.
// An empty path keeps jobs in memory only.
type DatabaseConfig struct {
	Path string `mapstructure:"path" toml:"path" json:"path"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Port           int      `mapstructure:"port" toml:"port" json:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins" toml:"allowed_origins" json:"allowed_origins"`
	MaxUploadMB    int      `mapstructure:"max_upload_mb" toml:"max_upload_mb" json:"max_upload_mb"`
}

// DefaultServerPort is used when server.port is not configured
const DefaultServerPort = 8877

// PulseConfig configures the job workers and the janitor
type PulseConfig struct {
	Workers                int    `mapstructure:"workers" toml:"workers" json:"workers"`                                        // concurrent job workers (default: 2)
	WorkDir                string `mapstructure:"work_dir" toml:"work_dir" json:"work_dir"`                                     // per-job scratch directories live here
	RetentionHours         int    `mapstructure:"retention_hours" toml:"retention_hours" json:"retention_hours"`                // terminal jobs are evicted after this
	GateTimeoutHours       int    `mapstructure:"gate_timeout_hours" toml:"gate_timeout_hours" json:"gate_timeout_hours"`       // open gates fail the job after this
	JanitorIntervalSeconds int    `mapstructure:"janitor_interval_seconds" toml:"janitor_interval_seconds" json:"janitor_interval_seconds"`

	// Provider spend caps over sliding windows; 0 = unlimited
	DailyBudgetUSD   float64 `mapstructure:"daily_budget_usd" toml:"daily_budget_usd" json:"daily_budget_usd"`
	MonthlyBudgetUSD float64 `mapstructure:"monthly_budget_usd" toml:"monthly_budget_usd" json:"monthly_budget_usd"`
}

// MediaConfig configures the ffmpeg toolkit and the sizing policy
type MediaConfig struct {
	FFmpegPath       string  `mapstructure:"ffmpeg_path" toml:"ffmpeg_path" json:"ffmpeg_path"`
	FFprobePath      string  `mapstructure:"ffprobe_path" toml:"ffprobe_path" json:"ffprobe_path"`
	SegmentSeconds   float64 `mapstructure:"segment_seconds" toml:"segment_seconds" json:"segment_seconds"`
	CrossfadeSeconds float64 `mapstructure:"crossfade_seconds" toml:"crossfade_seconds" json:"crossfade_seconds"`
	InlineLimitMB    int     `mapstructure:"inline_limit_mb" toml:"inline_limit_mb" json:"inline_limit_mb"` // first tier: sources this small are sent inline to providers
	TargetMB         int     `mapstructure:"target_mb" toml:"target_mb" json:"target_mb"`                   // sources above this are re-encoded toward it
	AudioBitrateK    int     `mapstructure:"audio_bitrate_k" toml:"audio_bitrate_k" json:"audio_bitrate_k"`
	ExtraEncodeArgs  string  `mapstructure:"extra_encode_args" toml:"extra_encode_args" json:"extra_encode_args"` // shell-quoted, appended to re-encodes
}

// MatchingConfig configures clip selection defaults; jobs may override
// threshold and top_k.
type MatchingConfig struct {
	Threshold                  float64 `mapstructure:"threshold" toml:"threshold" json:"threshold"`
	TopK                       int     `mapstructure:"top_k" toml:"top_k" json:"top_k"`
	OverlapFraction            float64 `mapstructure:"overlap_fraction" toml:"overlap_fraction" json:"overlap_fraction"`
	MinSeparationSeconds       float64 `mapstructure:"min_separation_seconds" toml:"min_separation_seconds" json:"min_separation_seconds"`             // 0 = segment duration
	DirectMinSeparationSeconds float64 `mapstructure:"direct_min_separation_seconds" toml:"direct_min_separation_seconds" json:"direct_min_separation_seconds"` // 0 = merge overlaps only
}

// OracleConfig selects and configures the AI providers
type OracleConfig struct {
	CriteriaProvider     string   `mapstructure:"criteria_provider" toml:"criteria_provider" json:"criteria_provider"`    // anthropic | openrouter | openai
	AnalysisProvider     string   `mapstructure:"analysis_provider" toml:"analysis_provider" json:"analysis_provider"`    // openrouter
	EmbeddingProvider    string   `mapstructure:"embedding_provider" toml:"embedding_provider" json:"embedding_provider"` // sidecar
	DirectModels         []string `mapstructure:"direct_models" toml:"direct_models" json:"direct_models"`                // OpenRouter models raced in direct mode
	EmbeddingDimension   int      `mapstructure:"embedding_dimension" toml:"embedding_dimension" json:"embedding_dimension"`
	FanoutTimeoutSeconds int      `mapstructure:"fanout_timeout_seconds" toml:"fanout_timeout_seconds" json:"fanout_timeout_seconds"`
	RequestsPerMinute    int      `mapstructure:"requests_per_minute" toml:"requests_per_minute" json:"requests_per_minute"` // per backend, 0 = unlimited
	MaxAttempts          int      `mapstructure:"max_attempts" toml:"max_attempts" json:"max_attempts"`

	OpenRouter OpenRouterConfig `mapstructure:"openrouter" toml:"openrouter" json:"openrouter"`
	Anthropic  AnthropicConfig  `mapstructure:"anthropic" toml:"anthropic" json:"anthropic"`
	OpenAI     OpenAIConfig     `mapstructure:"openai" toml:"openai" json:"openai"`
	Sidecar    SidecarConfig    `mapstructure:"sidecar" toml:"sidecar" json:"sidecar"`
}

// OpenRouterConfig configures the OpenRouter chat backend
type OpenRouterConfig struct {
	APIKey      string  `mapstructure:"api_key" toml:"api_key" json:"api_key"`
	Model       string  `mapstructure:"model" toml:"model" json:"model"`
	Temperature float64 `mapstructure:"temperature" toml:"temperature" json:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens" toml:"max_tokens" json:"max_tokens"`
}

// AnthropicConfig configures the Anthropic Messages backend
type AnthropicConfig struct {
	APIKey    string `mapstructure:"api_key" toml:"api_key" json:"api_key"`
	Model     string `mapstructure:"model" toml:"model" json:"model"`
	MaxTokens int    `mapstructure:"max_tokens" toml:"max_tokens" json:"max_tokens"`
}

// OpenAIConfig configures the OpenAI (or compatible) backend
type OpenAIConfig struct {
	APIKey         string `mapstructure:"api_key" toml:"api_key" json:"api_key"`
	BaseURL        string `mapstructure:"base_url" toml:"base_url" json:"base_url"`
	ChatModel      string `mapstructure:"chat_model" toml:"chat_model" json:"chat_model"`
	EmbeddingModel string `mapstructure:"embedding_model" toml:"embedding_model" json:"embedding_model"`
}

// SidecarConfig configures the multimodal embedding service
type SidecarConfig struct {
	BaseURL        string `mapstructure:"base_url" toml:"base_url" json:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" toml:"timeout_seconds" json:"timeout_seconds"`
}

// StorageConfig selects where sources, uploads and outputs live
type StorageConfig struct {
	Backend    string   `mapstructure:"backend" toml:"backend" json:"backend"` // local | s3
	LocalDir   string   `mapstructure:"local_dir" toml:"local_dir" json:"local_dir"`
	SourceDirs []string `mapstructure:"source_dirs" toml:"source_dirs" json:"source_dirs"`
	S3         S3Config `mapstructure:"s3" toml:"s3" json:"s3"`
}

// S3Config configures the S3 storage backend
type S3Config struct {
	Bucket         string `mapstructure:"bucket" toml:"bucket" json:"bucket"`
	Region         string `mapstructure:"region" toml:"region" json:"region"`
	Prefix         string `mapstructure:"prefix" toml:"prefix" json:"prefix"`
	Endpoint       string `mapstructure:"endpoint" toml:"endpoint" json:"endpoint"` // S3-compatible endpoints (minio)
	PresignMinutes int    `mapstructure:"presign_minutes" toml:"presign_minutes" json:"presign_minutes"`
}

// Storage backends
const (
	StorageLocal = "local"
	StorageS3    = "s3"
)

// Default file permissions
const (
	DefaultDirPermissions = 0o755
)
