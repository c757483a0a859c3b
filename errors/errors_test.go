package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	original := New("original")
	wrapped := Wrap(original, "wrapped")

	assert.Contains(t, wrapped.Error(), "wrapped")
	assert.Contains(t, wrapped.Error(), "original")
	assert.True(t, Is(wrapped, original))
}

func TestWithDetailKeepsIdentity(t *testing.T) {
	err := WithDetail(Wrap(ErrNotFound, "job lookup"), "Job ID: abc")
	assert.True(t, IsNotFoundError(err))
	assert.Contains(t, GetAllDetails(err), "Job ID: abc")
}

func TestMarkTransient(t *testing.T) {
	base := fmt.Errorf("status 503: upstream busy")
	marked := MarkTransient(base)

	require.NotNil(t, marked)
	assert.True(t, IsTransient(marked))
	assert.Equal(t, base.Error(), marked.Error())
	assert.True(t, IsTransient(Wrap(marked, "analyze")))
	assert.False(t, IsTransient(base))
	assert.Nil(t, MarkTransient(nil))
}

func TestStageError(t *testing.T) {
	cause := Wrap(ErrUnreadableMedia, "probe source.mp4")
	err := NewStageError("compress", cause)

	assert.Equal(t, "compress", StageOf(err))
	assert.True(t, Is(err, ErrUnreadableMedia))
	assert.Contains(t, err.Error(), "stage compress failed")

	// Re-wrapping keeps the originating stage.
	again := NewStageError("stitch", Wrap(err, "outer"))
	assert.Equal(t, "compress", StageOf(again))
}

func TestStageOfPlainError(t *testing.T) {
	assert.Equal(t, "", StageOf(New("plain")))
	assert.Equal(t, "", StageOf(nil))
}

func TestNewInvalidRequestError(t *testing.T) {
	err := NewInvalidRequestError("theme is required for %s mode", "embedding")
	assert.True(t, IsInvalidRequestError(err))
	assert.Contains(t, err.Error(), "theme is required for embedding mode")
}
