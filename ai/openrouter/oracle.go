package openrouter

import (
	"context"

	"github.com/teranos/reel/ai/oracle"
	"github.com/teranos/reel/errors"
)

// Temperatures per task: localization wants stable timestamps, criteria
// and analysis may be more descriptive.
var (
	localizeTemperature = 0.4
	analyzeTemperature  = 0.7
)

// GenerateCriteria implements oracle.CriteriaGenerator.
func (c *Client) GenerateCriteria(ctx context.Context, theme string) (string, error) {
	resp, err := c.Chat(ctx, ChatRequest{UserPrompt: oracle.CriteriaPrompt(theme)})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// Analyze implements oracle.Analyzer.
func (c *Client) Analyze(ctx context.Context, video oracle.Video, criteria string) (string, error) {
	part, err := VideoPart(video)
	if err != nil {
		return "", err
	}
	resp, err := c.Chat(ctx, ChatRequest{
		UserPrompt:  oracle.AnalysisPrompt(criteria),
		Temperature: &analyzeTemperature,
		Attachments: []ContentPart{part},
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// Localize implements oracle.Localizer. With empty criteria the model
// summarizes the video and proposes criteria; otherwise it timestamps
// highlights against them.
func (c *Client) Localize(ctx context.Context, video oracle.Video, criteria string) (*oracle.Localization, error) {
	part, err := VideoPart(video)
	if err != nil {
		return nil, err
	}

	prompt := oracle.SummaryPrompt()
	temperature := analyzeTemperature
	if criteria != "" {
		prompt = oracle.LocalizePrompt(criteria, video.Duration)
		temperature = localizeTemperature
	}

	resp, err := c.Chat(ctx, ChatRequest{
		UserPrompt:  prompt,
		Temperature: &temperature,
		Attachments: []ContentPart{part},
	})
	if err != nil {
		return nil, err
	}

	loc, err := oracle.ParseLocalization(resp.Content)
	if err != nil {
		return nil, errors.Wrapf(err, "model %s", c.config.Model)
	}
	if criteria != "" {
		loc.Criteria = criteria
	}
	return loc, nil
}

var (
	_ oracle.CriteriaGenerator = (*Client)(nil)
	_ oracle.Analyzer          = (*Client)(nil)
	_ oracle.Localizer         = (*Client)(nil)
)
