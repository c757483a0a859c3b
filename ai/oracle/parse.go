package oracle

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/teranos/reel/errors"
)

// DefaultCriteria is the template a theme rewrites, and the fallback when
// criteria generation fails or returns nothing usable.
const DefaultCriteria = `## Highlight criteria
- Moments of striking action or technical skill
- Emotionally rich or dramatic beats
- Key turning points or important events
- Visually outstanding or well-composed shots
- Moments with narrative or storytelling value`

var (
	pointPattern  = regexp.MustCompile(`^(?:\*\*)?([A-J])[.)](?:\*\*)?\s+(.+)$`)
	bulletPattern = regexp.MustCompile(`^[-*•]\s+(.+)$`)
	fencePattern  = regexp.MustCompile("(?s)```(?:json)?\\s*\\n(.*?)\\n\\s*```")
	objectPattern = regexp.MustCompile(`(?s)\{.*\}`)
)

// ParsePoints extracts highlight points from an analysis. Points are the
// lines labelled A. through J.; when there are none, "- " bullets are
// used instead. Each point keeps its whole line so priority markers take
// part in embedding.
func ParsePoints(analysis string) []string {
	var lettered, bullets []string
	for _, line := range strings.Split(analysis, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if m := pointPattern.FindStringSubmatch(line); m != nil {
			lettered = append(lettered, m[1]+". "+strings.TrimSpace(m[2]))
			continue
		}
		if m := bulletPattern.FindStringSubmatch(line); m != nil {
			bullets = append(bullets, strings.TrimSpace(m[1]))
		}
	}
	if len(lettered) > 0 {
		return lettered
	}
	return bullets
}

// UsableCriteria reports whether generated criteria contain at least one
// bullet. Prose-only answers are replaced by DefaultCriteria.
func UsableCriteria(criteria string) bool {
	for _, line := range strings.Split(criteria, "\n") {
		if bulletPattern.MatchString(strings.TrimSpace(line)) {
			return true
		}
	}
	return false
}

// ExtractJSON pulls the JSON document out of a model response: the body of
// a ```json fence, else the outermost {...}, else the whole text.
func ExtractJSON(text string) string {
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := objectPattern.FindString(text); m != "" {
		return m
	}
	return strings.TrimSpace(text)
}

type localizationWire struct {
	Summary    string          `json:"summary"`
	Criteria   json.RawMessage `json:"criteria"`
	Highlights json.RawMessage `json:"highlights"`
}

// ParseLocalization decodes a direct-mode response. Criteria may be a
// string or a list of strings; a list is rendered as "- " bullets.
// Intervals are decoded as is and validated later by match.Normalize.
func ParseLocalization(text string) (*Localization, error) {
	body := ExtractJSON(text)
	var wire localizationWire
	if err := json.Unmarshal([]byte(body), &wire); err != nil {
		return nil, errors.WithDetail(errors.Wrap(err, "response is not valid JSON"), truncate(text, 500))
	}

	loc := &Localization{Summary: strings.TrimSpace(wire.Summary)}

	if len(wire.Criteria) > 0 && string(wire.Criteria) != "null" {
		var s string
		var list []string
		switch {
		case json.Unmarshal(wire.Criteria, &s) == nil:
			loc.Criteria = strings.TrimSpace(s)
		case json.Unmarshal(wire.Criteria, &list) == nil:
			lines := make([]string, 0, len(list))
			for _, item := range list {
				if item = strings.TrimSpace(item); item != "" {
					lines = append(lines, "- "+strings.TrimPrefix(item, "- "))
				}
			}
			loc.Criteria = strings.Join(lines, "\n")
		default:
			return nil, errors.Newf("criteria is neither a string nor a list: %s", truncate(string(wire.Criteria), 200))
		}
	}

	if len(wire.Highlights) > 0 && string(wire.Highlights) != "null" {
		if err := json.Unmarshal(wire.Highlights, &loc.Intervals); err != nil {
			return nil, errors.Wrap(err, "highlights is not a list of intervals")
		}
	}
	return loc, nil
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
