package openai

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

	"github.com/teranos/reel/ai/oracle"
	"github.com/teranos/reel/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewClient(Config{
		APIKey:     "test-key",
		BaseURL:    server.URL + "/v1",
		HTTPClient: server.Client(),
		Policy:     oracle.Policy{Attempts: 3, BaseDelay: time.Millisecond},
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestEmbedText(t *testing.T) {
	var got map[string]interface{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"object": "list",
			"model":  DefaultEmbeddingModel,
			"data": []map[string]interface{}{
				{"object": "embedding", "index": 0, "embedding": []float32{0.1, 0.2, 0.3, 0.4}},
			},
			"usage": map[string]int{"prompt_tokens": 6, "total_tokens": 6},
		})
	})

	vec, err := client.EmbedText(context.Background(), "surfer drops into a wave", 4)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3, 0.4}, vec)
	assert.Equal(t, DefaultEmbeddingModel, got["model"])
	assert.EqualValues(t, 4, got["dimensions"])
}

func TestEmbedText_DimensionMismatch(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"data": []map[string]interface{}{{"index": 0, "embedding": []float32{1, 2}}},
		})
	})
	_, err := client.EmbedText(context.Background(), "x", 256)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "asked for 256")
}

func TestEmbedText_EmptyInput(t *testing.T) {
	client := NewClient(Config{APIKey: "k"})
	_, err := client.EmbedText(context.Background(), "  ", 256)
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestGenerateCriteria_RetriesServerErrors(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		if atomic.AddInt32(&calls, 1) == 1 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
				"error": map[string]string{"message": "overloaded", "type": "server_error"},
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id":    "chatcmpl-1",
			"model": DefaultChatModel,
			"choices": []map[string]interface{}{
				{"index": 0, "message": map[string]string{"role": "assistant", "content": "  - big waves\n- sunset  "}},
			},
			"usage": map[string]int{"prompt_tokens": 40, "completion_tokens": 8, "total_tokens": 48},
		})
	})

	criteria, err := client.GenerateCriteria(context.Background(), "surfing")
	require.NoError(t, err)
	assert.Equal(t, "- big waves\n- sunset", criteria)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestGenerateCriteria_PermanentError(t *testing.T) {
	var calls int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{
			"error": map[string]string{"message": "bad key", "type": "invalid_request_error"},
		})
	})

	_, err := client.GenerateCriteria(context.Background(), "surfing")
	require.Error(t, err)
	assert.False(t, errors.IsTransient(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestIsConfigured(t *testing.T) {
	assert.False(t, NewClient(Config{}).IsConfigured())
	assert.True(t, NewClient(Config{APIKey: "k"}).IsConfigured())
	assert.True(t, NewClient(Config{BaseURL: "http://127.0.0.1:8890/v1"}).IsConfigured())
}
