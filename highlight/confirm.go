package highlight

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/teranos/reel/ai/oracle"
	"github.com/teranos/reel/errors"
	"github.com/teranos/reel/logger"
	"github.com/teranos/reel/match"
)

// Gate hooks turn a caller's value into the frozen artifact. Values may
// be a bare string (or interval list) or the artifact object itself; a
// nil value confirms what the stage wrote.

func isEmpty(supplied json.RawMessage) bool {
	s := bytes.TrimSpace(supplied)
	return len(s) == 0 || bytes.Equal(s, []byte("null"))
}

// editedText accepts "text" or {"text": "..."}.
func editedText(supplied json.RawMessage) (string, error) {
	var text string
	if err := json.Unmarshal(supplied, &text); err != nil {
		var obj struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(supplied, &obj); err != nil {
			return "", errors.NewInvalidRequestError("value must be a string or an object with text")
		}
		text = obj.Text
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.NewInvalidRequestError("value must not be empty")
	}
	return text, nil
}

func confirmCriteria(held, supplied json.RawMessage) (json.RawMessage, error) {
	if isEmpty(supplied) {
		return held, nil
	}
	var crit Criteria
	if err := json.Unmarshal(held, &crit); err != nil {
		return nil, errors.Wrap(err, "failed to decode criteria")
	}
	text, err := editedText(supplied)
	if err != nil {
		return nil, err
	}
	if text != crit.Text {
		crit.Text = text
		crit.Edited = true
	}
	return json.Marshal(crit)
}

// confirmAnalysis re-parses edited analysis text. An edit that leaves no
// highlight points is rejected.
func confirmAnalysis(held, supplied json.RawMessage) (json.RawMessage, error) {
	if isEmpty(supplied) {
		return held, nil
	}
	var an Analysis
	if err := json.Unmarshal(held, &an); err != nil {
		return nil, errors.Wrap(err, "failed to decode analysis")
	}
	text, err := editedText(supplied)
	if err != nil {
		return nil, err
	}
	points := oracle.ParsePoints(text)
	if len(points) == 0 {
		return nil, errors.NewInvalidRequestError("edited analysis has no highlight points (use lines like \"A. ...\" or \"- ...\")")
	}
	an.Text, an.Points = text, points
	return json.Marshal(an)
}

// confirmSummary selects a candidate. A provider is required when more
// than one candidate succeeded; criteria default to the chosen
// candidate's.
func confirmSummary(held, supplied json.RawMessage) (json.RawMessage, error) {
	var sum Summary
	if err := json.Unmarshal(held, &sum); err != nil {
		return nil, errors.Wrap(err, "failed to decode summary")
	}
	var choice SummaryChoice
	if !isEmpty(supplied) {
		if err := json.Unmarshal(supplied, &choice); err != nil {
			return nil, errors.NewInvalidRequestError("value must be an object with provider and criteria")
		}
	}

	var selectable []string
	for _, c := range sum.Candidates {
		if c.Selectable() {
			selectable = append(selectable, c.Provider)
		}
	}
	if choice.Provider == "" {
		if len(selectable) != 1 {
			return nil, errors.NewInvalidRequestError("provider is required: choose one of %v", selectable)
		}
		choice.Provider = selectable[0]
	}

	var picked *oracle.Localization
	for _, c := range sum.Candidates {
		if c.Provider != choice.Provider {
			continue
		}
		if !c.Selectable() {
			return nil, errors.NewInvalidRequestError("provider %q failed and cannot be selected", c.Provider)
		}
		picked = &oracle.Localization{}
		if err := json.Unmarshal(c.Value, picked); err != nil {
			return nil, errors.Wrapf(err, "failed to decode %s candidate", c.Provider)
		}
	}
	if picked == nil {
		return nil, errors.NewInvalidRequestError("provider %q has no candidate (choose one of %v)", choice.Provider, selectable)
	}

	criteria := strings.TrimSpace(choice.Criteria)
	if criteria == "" {
		criteria = strings.TrimSpace(picked.Criteria)
	}
	if criteria == "" {
		criteria = oracle.DefaultCriteria
	}
	sum.Selected, sum.Criteria = choice.Provider, criteria
	return json.Marshal(sum)
}

// editedInterval takes bounds as start_time/end_time or start/end.
type editedInterval struct {
	match.RawInterval
	AltStart interface{} `json:"start"`
	AltEnd   interface{} `json:"end"`
	Score    float64     `json:"score"`
}

func (e editedInterval) raw() match.RawInterval {
	r := e.RawInterval
	if r.Start == nil {
		r.Start = e.AltStart
	}
	if r.End == nil {
		r.End = e.AltEnd
	}
	if r.Confidence == 0 {
		r.Confidence = e.Score
	}
	return r
}

// userHighlights accepts the clip list in the shape it was shown
// ({"clips": [...]}), as {"highlights": [...]}, or as a bare list.
func userHighlights(supplied json.RawMessage) ([]match.RawInterval, error) {
	var list []editedInterval
	if err := json.Unmarshal(supplied, &list); err != nil {
		var obj struct {
			Clips      []editedInterval `json:"clips"`
			Highlights []editedInterval `json:"highlights"`
		}
		if err := json.Unmarshal(supplied, &obj); err != nil {
			return nil, errors.NewInvalidRequestError("value must be a list of highlights")
		}
		list = append(obj.Clips, obj.Highlights...)
	}
	raw := make([]match.RawInterval, len(list))
	for i, e := range list {
		raw[i] = e.raw()
	}
	return raw, nil
}

// confirmHighlights validates an edited highlight list against the
// source duration. Invalid entries are dropped; an edit with no valid
// entry is rejected.
func (d *Deps) confirmHighlights(held, supplied json.RawMessage) (json.RawMessage, error) {
	if isEmpty(supplied) {
		return held, nil
	}
	var hl Highlights
	if err := json.Unmarshal(held, &hl); err != nil {
		return nil, errors.Wrap(err, "failed to decode highlights")
	}
	raw, err := userHighlights(supplied)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, errors.NewInvalidRequestError("at least one highlight is required")
	}

	clips, warnings, err := match.Normalize(raw, hl.Duration, d.Settings.Load().Matching.DirectMinSeparationSeconds)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "edited highlights"), errors.ErrInvalidRequest)
	}
	if len(warnings) > 0 {
		d.Logger.Warnw("Dropped edited highlights", logger.FieldCount, len(warnings), "warnings", warnings)
	}
	hl.Clips = clips
	return json.Marshal(hl)
}
