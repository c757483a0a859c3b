// Package openai is the OpenAI (or OpenAI-compatible) backend: text
// embeddings with a requested dimension, and chat for criteria generation.
package openai

import (
	"context"
	"net/http"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/reel/ai/oracle"
	"github.com/teranos/reel/ai/tracker"
	"github.com/teranos/reel/errors"
	"github.com/teranos/reel/logger"
)

const (
	DefaultChatModel      = "gpt-4o-mini"
	DefaultEmbeddingModel = "text-embedding-3-large"

	providerName = "openai"
)

// Config holds OpenAI client configuration
type Config struct {
	APIKey         string
	BaseURL        string // empty = api.openai.com
	ChatModel      string
	EmbeddingModel string
	Name           string       // provider name in logs and usage rows (default "openai")
	HTTPClient     *http.Client // nil = go-openai default
	Policy         oracle.Policy
	Limiter        *rate.Limiter
	Tracker        *tracker.UsageTracker
	Logger         *zap.SugaredLogger
}

// Client wraps go-openai with retries, limiting and usage tracking.
type Client struct {
	api     *goopenai.Client
	config  Config
	logger  *zap.SugaredLogger
	limiter *rate.Limiter
	tracker *tracker.UsageTracker
}

// NewClient creates a new OpenAI client
func NewClient(config Config) *Client {
	if config.ChatModel == "" {
		config.ChatModel = DefaultChatModel
	}
	if config.EmbeddingModel == "" {
		config.EmbeddingModel = DefaultEmbeddingModel
	}
	if config.Name == "" {
		config.Name = providerName
	}
	if config.Policy.Attempts == 0 {
		config.Policy = oracle.DefaultPolicy()
	}
	log := config.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	config.Policy.Logger = log

	clientConfig := goopenai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(config.BaseURL, "/")
	}
	if config.HTTPClient != nil {
		clientConfig.HTTPClient = config.HTTPClient
	}

	return &Client{
		api:     goopenai.NewClientWithConfig(clientConfig),
		config:  config,
		logger:  log,
		limiter: config.Limiter,
		tracker: config.Tracker,
	}
}

// EmbedText returns the embedding of text truncated to dim dimensions.
func (c *Client) EmbedText(ctx context.Context, text string, dim int) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.NewInvalidRequestError("cannot embed empty text")
	}
	req := goopenai.EmbeddingRequest{
		Input:      []string{text},
		Model:      goopenai.EmbeddingModel(c.config.EmbeddingModel),
		Dimensions: dim,
	}

	started := time.Now()
	var resp goopenai.EmbeddingResponse
	err := oracle.Retry(ctx, c.config.Policy, c.config.Name+"/"+c.config.EmbeddingModel, func(ctx context.Context) error {
		if err := oracle.Wait(ctx, c.limiter); err != nil {
			return err
		}
		var callErr error
		resp, callErr = c.api.CreateEmbeddings(ctx, req)
		return c.classify(callErr)
	})
	if err == nil && len(resp.Data) == 0 {
		err = errors.Newf("%s returned no embedding", c.config.Name)
	}
	if err != nil {
		c.tracker.Record(ctx, c.config.Name, c.config.EmbeddingModel, started, 0, 0, err)
		return nil, err
	}
	c.tracker.Record(ctx, c.config.Name, c.config.EmbeddingModel, started, resp.Usage.PromptTokens, 0, nil)

	vec := resp.Data[0].Embedding
	if dim > 0 && len(vec) != dim {
		return nil, errors.Newf("%s returned %d dimensions, asked for %d", c.config.Name, len(vec), dim)
	}
	return vec, nil
}

// GenerateCriteria implements oracle.CriteriaGenerator.
func (c *Client) GenerateCriteria(ctx context.Context, theme string) (string, error) {
	return c.complete(ctx, oracle.CriteriaPrompt(theme))
}

func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	if c.config.APIKey == "" && c.config.BaseURL == "" {
		return "", errors.WithHint(errors.New("OpenAI API key not configured"),
			"set OPENAI_API_KEY or oracle.openai.api_key")
	}
	req := goopenai.ChatCompletionRequest{
		Model: c.config.ChatModel,
		Messages: []goopenai.ChatCompletionMessage{
			{
				Role:    goopenai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		Temperature: 0.7,
		MaxTokens:   1000,
	}

	log := logger.FromContext(ctx, c.logger)
	logger.OracleDebugw(log, "OpenAI chat request", "model", c.config.ChatModel)

	started := time.Now()
	var resp goopenai.ChatCompletionResponse
	err := oracle.Retry(ctx, c.config.Policy, c.config.Name+"/"+c.config.ChatModel, func(ctx context.Context) error {
		if err := oracle.Wait(ctx, c.limiter); err != nil {
			return err
		}
		var callErr error
		resp, callErr = c.api.CreateChatCompletion(ctx, req)
		return c.classify(callErr)
	})
	if err == nil && len(resp.Choices) == 0 {
		err = errors.Newf("no response choices from %s", c.config.ChatModel)
	}
	if err != nil {
		c.tracker.Record(ctx, c.config.Name, c.config.ChatModel, started, 0, 0, err)
		return "", err
	}
	c.tracker.Record(ctx, c.config.Name, c.config.ChatModel, started,
		resp.Usage.PromptTokens, resp.Usage.CompletionTokens, nil)

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// classify turns go-openai errors into the oracle's transient/permanent split.
func (c *Client) classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return oracle.StatusError(c.config.Name, apiErr.HTTPStatusCode, []byte(apiErr.Message))
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return oracle.StatusError(c.config.Name, reqErr.HTTPStatusCode, []byte(reqErr.Error()))
	}
	return oracle.TransportError(c.config.Name, err)
}

// IsConfigured returns true if the client can reach an endpoint
func (c *Client) IsConfigured() bool {
	return c.config.APIKey != "" || c.config.BaseURL != ""
}

var _ oracle.CriteriaGenerator = (*Client)(nil)
