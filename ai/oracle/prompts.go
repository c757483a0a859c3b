package oracle

import "fmt"

// CriteriaPrompt asks a text model to rewrite DefaultCriteria for theme.
func CriteriaPrompt(theme string) string {
	return fmt.Sprintf(`Rewrite the highlight criteria below for a video highlight reel.

User theme: %s

Template:
%s

Keep the same format, one criterion per "- " bullet, but rewrite the
content so it fits the scenes the user wants. Output only the rewritten
criteria in markdown.`, theme, DefaultCriteria)
}

// AnalysisPrompt asks a video model for lettered highlight points.
func AnalysisPrompt(criteria string) string {
	return fmt.Sprintf(`Analyze this video and distill its highlight points.

%s

Output format:

**Summary:**
[one or two sentences on the content and theme of the video]

**Highlight points:**
A. [priority 1] - [concrete description of the highlight]
B. [priority 2] - [concrete description of the highlight]
...

Rules:
1. List points in the order they occur in the video, at most ten (A to J).
2. Mark every point with a priority: 1 most important, 2 important, 3 minor.
3. Describe what is visible so the description can be matched to footage.
4. Focus on the genuinely exciting moments rather than a general overview.`, criteria)
}

// SummaryPrompt asks a video model for a summary and proposed criteria.
func SummaryPrompt() string {
	return `Analyze this video.

Task 1: summarize its content, theme, and style in two or three sentences.
Task 2: propose five concrete, actionable criteria for picking highlight
moments in this particular video, considering visual dynamics, emotional
impact, technical difficulty, narrative turning points, and audience appeal.

Output JSON only:
` + "```json" + `
{"summary": "...", "criteria": ["...", "...", "...", "...", "..."]}
` + "```"
}

// LocalizePrompt asks a video model to timestamp highlights against criteria.
func LocalizePrompt(criteria string, duration float64) string {
	return fmt.Sprintf(`Using the highlight criteria below, find and precisely time every
highlight in this video.

%s

You are an expert in video content analysis and temporal localization.
1. Watch the whole video and identify every highlight moment.
2. Determine precise start and end timestamps for each.
3. Check every timestamp lies within the video duration (%.2f seconds).
4. Output structured JSON only.

`+"```json"+`
{
  "highlights": [
    {
      "index": 1,
      "start_time": 12.5,
      "end_time": 18.3,
      "duration": 5.8,
      "description": "what happens in this highlight",
      "intensity": "high",
      "reason": "which criterion it meets"
    }
  ]
}
`+"```"+`

Requirements: timestamps in seconds with one decimal; start_time < end_time;
all timestamps between 0 and %.2f; highlights of 3 to 10 seconds;
intensity one of "high", "medium", "low"; chronological order; no text
outside the JSON.`, criteria, duration, duration)
}
