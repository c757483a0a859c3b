package sym

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGlyphsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for _, e := range registry {
		assert.False(t, seen[e.glyph], "duplicate glyph %s", e.glyph)
		seen[e.glyph] = true
		assert.Equal(t, e.label, Label(e.glyph))
	}
}

func TestForStatus(t *testing.T) {
	assert.Equal(t, Gate, ForStatus("awaiting_confirmation"))
	assert.Equal(t, Done, ForStatus("completed"))
	assert.Equal(t, Failed, ForStatus("failed"))
	assert.Equal(t, Pulse, ForStatus("running"))
	assert.Equal(t, "", Label("?"))
}
