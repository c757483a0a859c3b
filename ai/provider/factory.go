// Package provider builds the oracle.Set the pipeline runs against from
// configuration. Provider selection lives here so the pipeline only sees
// capabilities.
package provider

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/reel/ai/anthropic"
	"github.com/teranos/reel/ai/openai"
	"github.com/teranos/reel/ai/openrouter"
	"github.com/teranos/reel/ai/oracle"
	"github.com/teranos/reel/ai/sidecar"
	"github.com/teranos/reel/ai/tracker"
	"github.com/teranos/reel/am"
)

// Provider represents an AI provider type
type Provider string

const (
	// ProviderOpenRouter uses OpenRouter.ai (criteria, analysis, direct localization)
	ProviderOpenRouter Provider = "openrouter"
	// ProviderAnthropic uses direct Anthropic API (criteria)
	ProviderAnthropic Provider = "anthropic"
	// ProviderOpenAI uses the OpenAI API or a compatible server (criteria)
	ProviderOpenAI Provider = "openai"
	// ProviderSidecar uses the local multimodal embedding service (embeddings)
	ProviderSidecar Provider = "sidecar"
)

// Options carries the shared collaborators of every backend.
type Options struct {
	Tracker *tracker.UsageTracker
	Logger  *zap.SugaredLogger
}

// NewSet creates every backend the configuration describes and resolves
// the capability selection.
//
// A criteria provider without credentials is dropped with a warning; the
// pipeline then falls back to the default criteria. Analysis and direct
// providers stay registered so the missing key surfaces as a stage error
// carrying a hint.
func NewSet(cfg *am.Config, opts Options) (*oracle.Set, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	oc := cfg.Oracle
	policy := oracle.Policy{Attempts: oc.MaxAttempts, BaseDelay: time.Second}

	router := newOpenRouterClient(cfg, policy, opts.Tracker, log)
	claude := anthropic.NewClient(anthropic.Config{
		APIKey:    oc.Anthropic.APIKey,
		Model:     oc.Anthropic.Model,
		MaxTokens: oc.Anthropic.MaxTokens,
		Policy:    policy,
		Limiter:   oracle.NewLimiter(oc.RequestsPerMinute),
		Tracker:   opts.Tracker,
		Logger:    log.Named("anthropic"),
	})
	gpt := openai.NewClient(openai.Config{
		APIKey:         oc.OpenAI.APIKey,
		BaseURL:        oc.OpenAI.BaseURL,
		ChatModel:      oc.OpenAI.ChatModel,
		EmbeddingModel: oc.OpenAI.EmbeddingModel,
		Policy:         policy,
		Limiter:        oracle.NewLimiter(oc.RequestsPerMinute),
		Tracker:        opts.Tracker,
		Logger:         log.Named("openai"),
	})
	embed, err := sidecar.NewClient(sidecar.Config{
		BaseURL: oc.Sidecar.BaseURL,
		Timeout: time.Duration(oc.Sidecar.TimeoutSeconds) * time.Second,
		Policy:  policy,
		Logger:  log.Named("sidecar"),
	})
	if err != nil {
		return nil, err
	}

	backends := []*oracle.Backend{
		{Name: string(ProviderOpenRouter), Criteria: router, Analyzer: router, Localizer: router},
		{Name: string(ProviderAnthropic), Criteria: claude},
		{Name: string(ProviderOpenAI), Criteria: gpt},
		{Name: string(ProviderSidecar), Embedder: embed},
	}
	// Direct-mode candidates are named by model id, one per model, all
	// sharing the OpenRouter account limiter.
	for _, model := range oc.DirectModels {
		backends = append(backends, &oracle.Backend{Name: model, Localizer: router.WithModel(model)})
	}

	criteria := oc.CriteriaProvider
	configured := map[string]bool{
		string(ProviderOpenRouter): router.IsConfigured(),
		string(ProviderAnthropic):  claude.IsConfigured(),
		string(ProviderOpenAI):     gpt.IsConfigured(),
	}
	if ok, known := configured[criteria]; known && !ok {
		log.Warnw("Criteria provider has no credentials, default criteria will be used",
			"provider", criteria)
		criteria = ""
	}

	return oracle.NewSet(oracle.SetConfig{
		Criteria:  criteria,
		Analysis:  oc.AnalysisProvider,
		Embedding: oc.EmbeddingProvider,
		Direct:    oc.DirectModels,
	}, backends...)
}

func newOpenRouterClient(cfg *am.Config, policy oracle.Policy, t *tracker.UsageTracker, log *zap.SugaredLogger) *openrouter.Client {
	rc := cfg.Oracle.OpenRouter
	config := openrouter.Config{
		APIKey:  rc.APIKey,
		Model:   rc.Model,
		Policy:  policy,
		Limiter: oracle.NewLimiter(cfg.Oracle.RequestsPerMinute),
		Tracker: t,
		Logger:  log.Named("openrouter"),
	}
	if rc.Temperature > 0 {
		temperature := rc.Temperature
		config.Temperature = &temperature
	}
	if rc.MaxTokens > 0 {
		maxTokens := rc.MaxTokens
		config.MaxTokens = &maxTokens
	}
	return openrouter.NewClient(config)
}

// GetAvailableProviders returns the providers that have credentials or,
// for the sidecar, an endpoint.
func GetAvailableProviders(cfg *am.Config) []Provider {
	var providers []Provider

	if cfg.Oracle.OpenRouter.APIKey != "" {
		providers = append(providers, ProviderOpenRouter)
	}
	if cfg.Oracle.Anthropic.APIKey != "" {
		providers = append(providers, ProviderAnthropic)
	}
	if cfg.Oracle.OpenAI.APIKey != "" || cfg.Oracle.OpenAI.BaseURL != "" {
		providers = append(providers, ProviderOpenAI)
	}
	if cfg.Oracle.Sidecar.BaseURL != "" {
		providers = append(providers, ProviderSidecar)
	}

	return providers
}

// ParseProvider converts a string to a Provider type
func ParseProvider(s string) (Provider, error) {
	switch s {
	case "openrouter", "or":
		return ProviderOpenRouter, nil
	case "anthropic", "claude":
		return ProviderAnthropic, nil
	case "openai", "gpt":
		return ProviderOpenAI, nil
	case "sidecar", "local":
		return ProviderSidecar, nil
	default:
		return "", fmt.Errorf("unknown provider: %s (valid: openrouter, anthropic, openai, sidecar)", s)
	}
}
