// Package sym defines the glyphs reel uses in logs and terminal output.
// They are stable across the CLI, the server logs and documentation.
package sym

// System glyphs.
const (
	Pulse      = "꩜" // async jobs and the worker pool
	PulseOpen  = "✿" // worker pool startup and job recovery
	PulseClose = "❀" // graceful shutdown
	DB         = "⊔" // job snapshot store
	AM         = "≡" // configuration
	Media      = "▶" // ffmpeg/ffprobe and storage staging
	Oracle     = "◈" // AI providers
	Gate       = "⏸" // job parked on a confirmation gate
	Done       = "✦" // job completed
	Failed     = "✗" // job failed
)

// entry binds a glyph to a short label for terminal listings.
type entry struct {
	glyph string
	label string
}

var registry = []entry{
	{Pulse, "pulse"},
	{PulseOpen, "start"},
	{PulseClose, "stop"},
	{DB, "db"},
	{AM, "am"},
	{Media, "media"},
	{Oracle, "oracle"},
	{Gate, "gate"},
	{Done, "done"},
	{Failed, "failed"},
}

var glyphToLabel map[string]string

func init() {
	glyphToLabel = make(map[string]string, len(registry))
	for _, e := range registry {
		glyphToLabel[e.glyph] = e.label
	}
}

// Label returns the label for glyph, or "" when glyph is unknown.
func Label(glyph string) string {
	return glyphToLabel[glyph]
}

// ForStatus returns the glyph shown next to a job status.
func ForStatus(status string) string {
	switch status {
	case "awaiting_confirmation":
		return Gate
	case "completed":
		return Done
	case "failed":
		return Failed
	default:
		return Pulse
	}
}
