package commands

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/teranos/reel/am"
	"github.com/teranos/reel/errors"
	"github.com/teranos/reel/highlight"
	"github.com/teranos/reel/pulse/async"
)

func TestWriteConfigFormats(t *testing.T) {
	cfg := am.Config{
		Server: am.ServerConfig{Port: 9000},
		Oracle: am.OracleConfig{DirectModels: []string{"google/gemini-2.5-pro"}},
	}

	var buf bytes.Buffer
	require.NoError(t, writeConfig(&buf, cfg, "json"))
	var back am.Config
	require.NoError(t, json.Unmarshal(buf.Bytes(), &back))
	assert.Equal(t, 9000, back.Server.Port)

	buf.Reset()
	require.NoError(t, writeConfig(&buf, cfg, "toml"))
	assert.True(t, strings.HasPrefix(buf.String(), "# reel configuration"))
	assert.Contains(t, buf.String(), "google/gemini-2.5-pro")

	buf.Reset()
	require.NoError(t, writeConfig(&buf, cfg, "yaml"))
	var generic map[string]interface{}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &generic))

	err := writeConfig(&buf, cfg, "ini")
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestAutoConfirmation(t *testing.T) {
	value, provider, err := autoConfirmation(highlight.GateCriteria, json.RawMessage(`{"text":"- goals"}`))
	require.NoError(t, err)
	assert.Nil(t, value, "non-choice gates are accepted as proposed")
	assert.Empty(t, provider)

	summary, err := json.Marshal(highlight.Summary{Candidates: []async.Candidate{
		{Provider: "broken", Error: "upstream 503"},
		{Provider: "google/gemini-2.5-pro", Value: json.RawMessage(`{"summary":"a match"}`)},
		{Provider: "openai/gpt-4o", Value: json.RawMessage(`{"summary":"a game"}`)},
	}})
	require.NoError(t, err)
	_, provider, err = autoConfirmation(highlight.GateSummary, summary)
	require.NoError(t, err)
	assert.Equal(t, "google/gemini-2.5-pro", provider, "first provider that answered")

	allFailed, err := json.Marshal(highlight.Summary{Candidates: []async.Candidate{{Provider: "x", Error: "boom"}}})
	require.NoError(t, err)
	_, _, err = autoConfirmation(highlight.GateSummary, allFailed)
	assert.Error(t, err)
}
