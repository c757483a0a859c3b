// Package sidecar talks to the multimodal embedding service that places
// text and video segments in one vector space.
//
// Text goes through the service's OpenAI-compatible /v1/embeddings route;
// videos through POST /v1/embed/video, which cuts the video into
// fixed-length segments and embeds each one.
package sidecar

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

	"github.com/teranos/reel/ai/openai"
	"github.com/teranos/reel/ai/oracle"
	"github.com/teranos/reel/errors"
	"github.com/teranos/reel/internal/httpclient"
	"github.com/teranos/reel/logger"
	"github.com/teranos/reel/match"
)

const (
	DefaultBaseURL = "http://127.0.0.1:8890"

	providerName = "sidecar"

	// Model name the service answers to on /v1/embeddings.
	textModel = "multimodal-embedding"
)

// Config holds sidecar client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
	Policy  oracle.Policy
	Limiter *rate.Limiter
	Logger  *zap.SugaredLogger
}

// Client implements oracle.Embedder against the sidecar.
type Client struct {
	baseURL    string
	httpClient *httpclient.SaferClient
	text       *openai.Client
	config     Config
	logger     *zap.SugaredLogger
}

// NewClient creates a sidecar client. Loopback and private addresses are
// allowed because the service normally runs next to reel.
func NewClient(config Config) (*Client, error) {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Minute
	}
	if config.Policy.Attempts == 0 {
		config.Policy = oracle.DefaultPolicy()
	}
	log := config.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	config.Policy.Logger = log

	httpClient, err := httpclient.NewEndpointClient(config.BaseURL, config.Timeout)
	if err != nil {
		return nil, errors.Wrap(err, "sidecar")
	}

	c := &Client{
		baseURL:    config.BaseURL,
		httpClient: httpClient,
		config:     config,
		logger:     log,
	}
	c.text = c.textClient(httpClient.Client)
	return c, nil
}

func (c *Client) textClient(hc *http.Client) *openai.Client {
	return openai.NewClient(openai.Config{
		APIKey:         "sidecar",
		BaseURL:        c.baseURL + "/v1",
		EmbeddingModel: textModel,
		Name:           providerName,
		HTTPClient:     hc,
		Policy:         c.config.Policy,
		Limiter:        c.config.Limiter,
		Logger:         c.logger,
	})
}

// EmbedText implements oracle.Embedder.
func (c *Client) EmbedText(ctx context.Context, text string, dim int) ([]float32, error) {
	return c.text.EmbedText(ctx, text, dim)
}

type videoRequest struct {
	Video          string  `json:"video,omitempty"` // data URI or URL
	Path           string  `json:"path,omitempty"`  // readable when the service shares the filesystem
	SegmentSeconds float64 `json:"segment_seconds"`
	Dimension      int     `json:"dimension"`
}

type videoResponse struct {
	Segments []match.Segment `json:"segments"`
	Model    string          `json:"model"`
}

// EmbedSegments implements oracle.Embedder. Segments come back indexed in
// order; one whose length disagrees with dim is rejected.
func (c *Client) EmbedSegments(ctx context.Context, video oracle.Video, segmentSeconds float64, dim int) ([]match.Segment, error) {
	req := videoRequest{
		Path:           video.Path,
		SegmentSeconds: segmentSeconds,
		Dimension:      dim,
	}
	if video.URL != "" && !video.Inline {
		req.Video = video.URL
	} else if video.Path == "" {
		return nil, errors.New("video has neither a local path nor a URL")
	}

	log := logger.FromContext(ctx, c.logger)
	started := time.Now()

	var resp videoResponse
	err := oracle.Retry(ctx, c.config.Policy, providerName+"/video", func(ctx context.Context) error {
		if err := oracle.Wait(ctx, c.config.Limiter); err != nil {
			return err
		}
		return c.post(ctx, "/v1/embed/video", req, &resp)
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Segments) == 0 {
		return nil, errors.New("sidecar returned no segments")
	}
	for i := range resp.Segments {
		s := &resp.Segments[i]
		s.Index = i
		if len(s.Embedding) != dim {
			return nil, errors.Newf("segment %d has %d dimensions, asked for %d", i, len(s.Embedding), dim)
		}
		if s.End <= s.Start {
			return nil, errors.Newf("segment %d has empty interval [%.2f, %.2f]", i, s.Start, s.End)
		}
	}

	logger.OracleDebugw(log, "Embedded video segments",
		logger.FieldCount, len(resp.Segments),
		"dimension", dim,
		logger.FieldDurationMS, time.Since(started).Milliseconds(),
	)
	return resp.Segments, nil
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "failed to marshal request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return oracle.TransportError(providerName, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return oracle.TransportError(providerName, err)
	}
	if resp.StatusCode != http.StatusOK {
		return oracle.StatusError(providerName, resp.StatusCode, respBody)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return errors.Wrap(err, "failed to unmarshal sidecar response")
	}
	return nil
}

// SetHTTPClient overrides the HTTP client and base URL for tests against
// an httptest server.
func (c *Client) SetHTTPClient(client *http.Client, baseURL string) {
	c.httpClient = httpclient.WrapClient(client)
	if baseURL != "" {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
	c.text = c.textClient(client)
}

var _ oracle.Embedder = (*Client)(nil)
