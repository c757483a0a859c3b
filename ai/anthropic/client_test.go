package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/reel/ai/openrouter"
	"github.com/teranos/reel/ai/oracle"
	"github.com/teranos/reel/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	c := NewClient(Config{APIKey: "sk-ant-test", Policy: oracle.Policy{Attempts: 3, BaseDelay: time.Millisecond}})
	c.SetHTTPClient(server.Client(), server.URL)
	return c
}

func TestGenerateCriteria(t *testing.T) {
	var got MessagesRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "sk-ant-test", r.Header.Get("x-api-key"))
		assert.Equal(t, APIVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(MessagesResponse{
			Content: []ContentBlock{{Type: "text", Text: "## Highlight criteria\n- Riders carving at golden hour"}},
			Usage:   Usage{InputTokens: 120, OutputTokens: 40},
		})
	})

	criteria, err := c.GenerateCriteria(context.Background(), "sunset surfing")
	require.NoError(t, err)
	assert.True(t, oracle.UsableCriteria(criteria))
	assert.Equal(t, DefaultModel, got.Model)
	require.Len(t, got.Messages, 1)
	assert.Contains(t, got.Messages[0].Content, "sunset surfing")
}

func TestChat_OverloadedIsRetried(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(529)
			w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error"}}`))
			return
		}
		json.NewEncoder(w).Encode(MessagesResponse{Content: []ContentBlock{{Type: "text", Text: "ok"}}})
	})

	resp, err := c.Chat(context.Background(), openrouter.ChatRequest{UserPrompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, int32(2), calls)
}

func TestChat_Errors(t *testing.T) {
	_, err := NewClient(Config{}).Chat(context.Background(), openrouter.ChatRequest{UserPrompt: "hi"})
	assert.Error(t, err)

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid x-api-key"}`, http.StatusUnauthorized)
	})
	_, err = c.Chat(context.Background(), openrouter.ChatRequest{UserPrompt: "hi"})
	require.Error(t, err)
	assert.False(t, errors.IsTransient(err))

	_, err = c.Chat(context.Background(), openrouter.ChatRequest{
		UserPrompt:  "hi",
		Attachments: []openrouter.ContentPart{{Type: "video_url"}},
	})
	assert.Error(t, err)
}
