package openrouter

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

	"github.com/teranos/reel/ai/oracle"
	"github.com/teranos/reel/ai/tracker"
	"github.com/teranos/reel/errors"
	"github.com/teranos/reel/internal/httpclient"
	"github.com/teranos/reel/logger"
)

const (
	// DefaultModel is the fallback model when none is specified
	// Should match the default in am/defaults.go for consistency
	DefaultModel = "google/gemini-2.5-flash"

	// BaseURL is the OpenRouter API endpoint
	BaseURL = "https://openrouter.ai/api/v1"

	providerName = "openrouter"
)

// Client is an OpenRouter chat client. It serves criteria generation,
// video analysis, and direct localization for any video-capable model
// OpenRouter routes to.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *httpclient.SaferClient
	config     Config
	limiter    *rate.Limiter
	tracker    *tracker.UsageTracker
	logger     *zap.SugaredLogger
}

// Config holds AI client configuration
type Config struct {
	APIKey      string
	Model       string
	Temperature *float64 // nil = use default (0.4)
	MaxTokens   *int     // nil = use default (4000)
	Policy      oracle.Policy
	Limiter     *rate.Limiter         // shared across clients of one account
	Tracker     *tracker.UsageTracker // nil = no usage rows
	Logger      *zap.SugaredLogger    // Structured logger (nil = nop logger)
}

// NewClient creates a new OpenRouter client
func NewClient(config Config) *Client {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.Temperature == nil {
		defaultTemp := 0.4
		config.Temperature = &defaultTemp
	}
	if config.MaxTokens == nil {
		defaultTokens := 4000
		config.MaxTokens = &defaultTokens
	}
	if config.Policy.Attempts == 0 {
		config.Policy = oracle.DefaultPolicy()
	}

	log := config.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	config.Policy.Logger = log

	// Blocks private IPs, localhost, and redirects to them
	blockPrivateIP := true
	saferClient := httpclient.NewSaferClientWithOptions(300*time.Second, httpclient.SaferClientOptions{
		BlockPrivateIP: &blockPrivateIP,
	})

	return &Client{
		apiKey:     config.APIKey,
		baseURL:    BaseURL,
		httpClient: saferClient,
		config:     config,
		limiter:    config.Limiter,
		tracker:    config.Tracker,
		logger:     log,
	}
}

// WithModel returns a client sharing this one's settings, limiter and
// HTTP client but talking to a different model.
func (c *Client) WithModel(model string) *Client {
	clone := *c
	clone.config.Model = model
	return &clone
}

// Model returns the model this client requests.
func (c *Client) Model() string { return c.config.Model }

// ChatCompletionRequest represents a request to the chat completions endpoint
type ChatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// ChatRequest represents a high-level request to the AI
type ChatRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  *float64     // Override default temperature
	MaxTokens    *int         // Override default max tokens
	Model        *string      // Override default model
	Attachments  []ContentPart // Multimodal attachments, appended after the prompt text
}

// ChatResponse represents the AI response
type ChatResponse struct {
	Content string
	Usage   Usage
}

// ContentPart is one entry of a multimodal content array.
//
// Videos use type "video_url" with either a data URI or a fetchable URL.
type ContentPart struct {
	Type     string            `json:"type"`
	Text     string            `json:"text,omitempty"`
	ImageURL *ContentPartImage `json:"image_url,omitempty"`
	VideoURL *ContentPartVideo `json:"video_url,omitempty"`
}

// ContentPartImage holds a data URI or URL for an image attachment.
type ContentPartImage struct {
	URL string `json:"url"`
}

// ContentPartVideo holds a data URI ("data:video/mp4;base64,...") or URL.
type ContentPartVideo struct {
	URL string `json:"url"`
}

// VideoPart builds the attachment for v.
func VideoPart(v oracle.Video) (ContentPart, error) {
	ref, err := v.Reference()
	if err != nil {
		return ContentPart{}, err
	}
	return ContentPart{Type: "video_url", VideoURL: &ContentPartVideo{URL: ref}}, nil
}

// Message represents a message in a chat completion.
// Content is json.RawMessage so it can serialize as either a plain string
// (for text-only) or a []ContentPart array (for multimodal).
type Message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// NewTextMessage creates a Message with plain text content (serialized as a JSON string).
func NewTextMessage(role, text string) Message {
	raw, _ := json.Marshal(text)
	return Message{Role: role, Content: raw}
}

// NewMultimodalMessage creates a Message with a content parts array (text + attachments).
func NewMultimodalMessage(role, text string, attachments []ContentPart) Message {
	parts := make([]ContentPart, 0, 1+len(attachments))
	parts = append(parts, ContentPart{Type: "text", Text: text})
	parts = append(parts, attachments...)
	raw, _ := json.Marshal(parts)
	return Message{Role: role, Content: raw}
}

// TextContent extracts the plain text from Content.
func (m Message) TextContent() string {
	var s string
	if err := json.Unmarshal(m.Content, &s); err != nil {
		return string(m.Content)
	}
	return s
}

// ChatCompletionResponse represents the response from chat completions
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Choice represents a completion choice
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Usage represents token usage information
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CreateChatCompletion sends one chat completion request. Failures are
// classified so oracle.Retry can tell transient ones apart.
func (c *Client) CreateChatCompletion(ctx context.Context, req ChatCompletionRequest) (*ChatCompletionResponse, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request")
	}

	if err := oracle.Wait(ctx, c.limiter); err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	// Shown on the OpenRouter dashboard
	httpReq.Header.Set("X-Title", "reel")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, oracle.TransportError(providerName, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, oracle.TransportError(providerName, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, oracle.StatusError(providerName, resp.StatusCode, respBody)
	}

	var chatResp ChatCompletionResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal response")
	}
	return &chatResp, nil
}

// Chat sends a chat request with transient-failure retries and records
// usage against the job in ctx.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if c.config.APIKey == "" {
		return nil, errors.WithHint(errors.New("OpenRouter API key not configured"),
			"set OPENROUTER_API_KEY or oracle.openrouter.api_key")
	}

	temperature := *c.config.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	maxTokens := *c.config.MaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	model := c.config.Model
	if req.Model != nil {
		model = *req.Model
	}

	log := logger.FromContext(ctx, c.logger)
	logger.OracleDebugw(log, "AI chat request",
		"model", model,
		"temperature", temperature,
		"max_tokens", maxTokens,
		"attachments", len(req.Attachments),
	)

	var userMsg Message
	if len(req.Attachments) > 0 {
		userMsg = NewMultimodalMessage("user", req.UserPrompt, req.Attachments)
	} else {
		userMsg = NewTextMessage("user", req.UserPrompt)
	}
	messages := []Message{userMsg}
	if req.SystemPrompt != "" {
		messages = append([]Message{NewTextMessage("system", req.SystemPrompt)}, messages...)
	}

	completionReq := ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}

	started := time.Now()
	var resp *ChatCompletionResponse
	err := oracle.Retry(ctx, c.config.Policy, providerName+"/"+model, func(ctx context.Context) error {
		var callErr error
		resp, callErr = c.CreateChatCompletion(ctx, completionReq)
		return callErr
	})
	if err == nil && len(resp.Choices) == 0 {
		err = errors.Newf("no response choices from %s", model)
	}
	if err != nil {
		c.tracker.Record(ctx, providerName, model, started, 0, 0, err)
		return nil, err
	}
	c.tracker.Record(ctx, providerName, model, started, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, nil)

	responseText := resp.Choices[0].Message.TextContent()
	logger.OracleDebugw(log, "OpenRouter response",
		"model", model,
		"content_length", len(responseText),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		logger.FieldDurationMS, time.Since(started).Milliseconds(),
	)

	return &ChatResponse{
		Content: strings.TrimSpace(responseText),
		Usage:   resp.Usage,
	}, nil
}

// IsConfigured returns true if the client has a valid API key
func (c *Client) IsConfigured() bool {
	return c.config.APIKey != ""
}

// SetHTTPClient overrides the HTTP client and base URL for tests against
// an httptest server.
func (c *Client) SetHTTPClient(client *http.Client, baseURL string) {
	c.httpClient = httpclient.WrapClient(client)
	if baseURL != "" {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}
