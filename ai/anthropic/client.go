package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/reel/ai/openrouter"
	"github.com/teranos/reel/ai/oracle"
	"github.com/teranos/reel/ai/tracker"
	"github.com/teranos/reel/errors"
	"github.com/teranos/reel/internal/httpclient"
	"github.com/teranos/reel/logger"
)

const (
	// DefaultModel is the default Claude model
	DefaultModel = "claude-sonnet-4-20250514"

	// BaseURL is the Anthropic API endpoint
	BaseURL = "https://api.anthropic.com/v1"

	// APIVersion is the required Anthropic API version header
	APIVersion = "2023-06-01"

	providerName = "anthropic"
)

// Client is an Anthropic Messages API client used for criteria generation.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *httpclient.SaferClient
	config     Config
	logger     *zap.SugaredLogger
}

// Config holds Anthropic client configuration
type Config struct {
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Policy      oracle.Policy
	Limiter     *rate.Limiter
	Tracker     *tracker.UsageTracker
	Logger      *zap.SugaredLogger
}

// NewClient creates a new Anthropic API client
func NewClient(config Config) *Client {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.Temperature == 0 {
		config.Temperature = 0.7
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 1000
	}
	if config.Policy.Attempts == 0 {
		config.Policy = oracle.DefaultPolicy()
	}
	log := config.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	config.Policy.Logger = log

	return &Client{
		apiKey:     config.APIKey,
		baseURL:    BaseURL,
		httpClient: httpclient.NewSaferClient(120 * time.Second),
		config:     config,
		logger:     log,
	}
}

// MessagesRequest represents a request to the Anthropic Messages API
type MessagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Messages    []Message `json:"messages"`
	System      string    `json:"system,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

// Message represents a message in the conversation
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// MessagesResponse represents the response from the Messages API
type MessagesResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	Content    []ContentBlock `json:"content"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Usage      Usage          `json:"usage"`
}

// ContentBlock represents a content block in the response
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Usage represents token usage information
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Text concatenates the text blocks of a response.
func (r *MessagesResponse) Text() string {
	var b strings.Builder
	for _, block := range r.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return strings.TrimSpace(b.String())
}

// Chat takes the OpenRouter request shape so either client can serve a
// text-only prompt. Attachments are not supported.
func (c *Client) Chat(ctx context.Context, req openrouter.ChatRequest) (*openrouter.ChatResponse, error) {
	if c.config.APIKey == "" {
		return nil, errors.WithHint(errors.New("Anthropic API key not configured"),
			"set ANTHROPIC_API_KEY or oracle.anthropic.api_key")
	}
	if len(req.Attachments) > 0 {
		return nil, errors.New("anthropic client does not accept video attachments")
	}

	temperature := c.config.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	maxTokens := c.config.MaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	model := c.config.Model
	if req.Model != nil {
		model = *req.Model
	}

	messagesReq := MessagesRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		System:      req.SystemPrompt,
		Messages:    []Message{{Role: "user", Content: req.UserPrompt}},
	}

	log := logger.FromContext(ctx, c.logger)
	logger.OracleDebugw(log, "Anthropic request", "model", model, "max_tokens", maxTokens)

	started := time.Now()
	var resp *MessagesResponse
	err := oracle.Retry(ctx, c.config.Policy, providerName+"/"+model, func(ctx context.Context) error {
		var callErr error
		resp, callErr = c.createMessages(ctx, messagesReq)
		return callErr
	})
	if err == nil && resp.Text() == "" {
		err = errors.Newf("empty response from %s", model)
	}
	if err != nil {
		c.config.Tracker.Record(ctx, providerName, model, started, 0, 0, err)
		return nil, err
	}
	c.config.Tracker.Record(ctx, providerName, model, started, resp.Usage.InputTokens, resp.Usage.OutputTokens, nil)

	return &openrouter.ChatResponse{
		Content: resp.Text(),
		Usage: openrouter.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}

// GenerateCriteria implements oracle.CriteriaGenerator.
func (c *Client) GenerateCriteria(ctx context.Context, theme string) (string, error) {
	resp, err := c.Chat(ctx, openrouter.ChatRequest{UserPrompt: oracle.CriteriaPrompt(theme)})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (c *Client) createMessages(ctx context.Context, req MessagesRequest) (*MessagesResponse, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request")
	}
	if err := oracle.Wait(ctx, c.config.Limiter); err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(reqBody))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", APIVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, oracle.TransportError(providerName, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, oracle.TransportError(providerName, err)
	}
	// 529 is Anthropic's "overloaded"; StatusError treats all 5xx as transient.
	if resp.StatusCode != http.StatusOK {
		return nil, oracle.StatusError(providerName, resp.StatusCode, respBody)
	}

	var messagesResp MessagesResponse
	if err := json.Unmarshal(respBody, &messagesResp); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal response")
	}
	return &messagesResp, nil
}

// IsConfigured returns true if the client has an API key
func (c *Client) IsConfigured() bool {
	return c.config.APIKey != ""
}

// SetHTTPClient overrides the HTTP client and base URL for tests.
func (c *Client) SetHTTPClient(client *http.Client, baseURL string) {
	c.httpClient = httpclient.WrapClient(client)
	if baseURL != "" {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

var _ oracle.CriteriaGenerator = (*Client)(nil)
