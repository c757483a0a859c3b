// Package tracker records every provider call a highlight job makes, with
// token counts and estimated cost, in the provider_usage table.
package tracker

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/reel/errors"
	"github.com/teranos/reel/logger"
)

// Usage is one provider call.
type Usage struct {
	ID                int64      `json:"id"`
	JobID             string     `json:"job_id"`
	Stage             string     `json:"stage"`
	Provider          string     `json:"provider"`
	Model             string     `json:"model"`
	RequestTimestamp  time.Time  `json:"request_timestamp"`
	ResponseTimestamp *time.Time `json:"response_timestamp,omitempty"`
	PromptTokens      *int       `json:"prompt_tokens,omitempty"`
	CompletionTokens  *int       `json:"completion_tokens,omitempty"`
	Cost              *float64   `json:"cost,omitempty"`
	Success           bool       `json:"success"`
	ErrorMessage      *string    `json:"error_message,omitempty"`
}

// UsageTracker writes and aggregates provider usage. A nil tracker
// accepts every call and records nothing, so clients need no DB in tests.
type UsageTracker struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// NewUsageTracker creates a tracker over db
func NewUsageTracker(db *sql.DB, log *zap.SugaredLogger) *UsageTracker {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &UsageTracker{db: db, logger: log}
}

// Track inserts u.
func (t *UsageTracker) Track(ctx context.Context, u Usage) error {
	if t == nil || t.db == nil {
		return nil
	}
	_, err := t.db.ExecContext(ctx, `
		INSERT INTO provider_usage (
			job_id, stage, provider, model, request_timestamp, response_timestamp,
			prompt_tokens, completion_tokens, cost, success, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.JobID, u.Stage, u.Provider, u.Model, u.RequestTimestamp, u.ResponseTimestamp,
		u.PromptTokens, u.CompletionTokens, u.Cost, u.Success, u.ErrorMessage,
	)
	if err != nil {
		return errors.Wrap(err, "failed to record provider usage")
	}
	return nil
}

// Record builds a Usage from a finished call, attributing it to the job
// and stage carried by ctx. Tracking failures are logged, never returned:
// a lost usage row must not fail a pipeline stage.
func (t *UsageTracker) Record(ctx context.Context, provider, model string, started time.Time, promptTokens, completionTokens int, callErr error) {
	if t == nil || t.db == nil {
		return
	}
	finished := time.Now()
	u := Usage{
		JobID:             logger.JobIDFromContext(ctx),
		Stage:             logger.StageFromContext(ctx),
		Provider:          provider,
		Model:             model,
		RequestTimestamp:  started,
		ResponseTimestamp: &finished,
		Success:           callErr == nil,
	}
	if callErr != nil {
		msg := callErr.Error()
		u.ErrorMessage = &msg
	} else {
		cost := CalculateCost(model, promptTokens, completionTokens)
		u.PromptTokens = &promptTokens
		u.CompletionTokens = &completionTokens
		u.Cost = &cost
	}

	// The job context may already be cancelled; the row is still wanted.
	if err := t.Track(context.WithoutCancel(ctx), u); err != nil {
		t.logger.Warnw("Failed to track provider usage",
			logger.FieldProvider, provider,
			"model", model,
			logger.FieldError, err,
		)
	}
}

// UsageStats aggregates usage over a period or a job.
type UsageStats struct {
	TotalRequests      int     `json:"total_requests"`
	SuccessfulRequests int     `json:"successful_requests"`
	SuccessRate        float64 `json:"success_rate"`
	PromptTokens       int     `json:"prompt_tokens"`
	CompletionTokens   int     `json:"completion_tokens"`
	TotalCost          float64 `json:"total_cost"`
	UniqueModels       int     `json:"unique_models"`
}

const statsColumns = `
	COUNT(*),
	COUNT(CASE WHEN success = 1 THEN 1 END),
	COALESCE(SUM(prompt_tokens), 0),
	COALESCE(SUM(completion_tokens), 0),
	COALESCE(SUM(cost), 0),
	COUNT(DISTINCT model)`

func scanStats(row *sql.Row) (*UsageStats, error) {
	var stats UsageStats
	err := row.Scan(
		&stats.TotalRequests, &stats.SuccessfulRequests,
		&stats.PromptTokens, &stats.CompletionTokens,
		&stats.TotalCost, &stats.UniqueModels,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read usage stats")
	}
	if stats.TotalRequests > 0 {
		stats.SuccessRate = float64(stats.SuccessfulRequests) / float64(stats.TotalRequests)
	}
	return &stats, nil
}

// Stats returns usage since the given time.
func (t *UsageTracker) Stats(ctx context.Context, since time.Time) (*UsageStats, error) {
	if t == nil || t.db == nil {
		return &UsageStats{}, nil
	}
	return scanStats(t.db.QueryRowContext(ctx,
		`SELECT`+statsColumns+` FROM provider_usage WHERE request_timestamp >= ?`, since))
}

// JobStats returns the usage of a single job.
func (t *UsageTracker) JobStats(ctx context.Context, jobID string) (*UsageStats, error) {
	if t == nil || t.db == nil {
		return &UsageStats{}, nil
	}
	return scanStats(t.db.QueryRowContext(ctx,
		`SELECT`+statsColumns+` FROM provider_usage WHERE job_id = ?`, jobID))
}

// ModelBreakdown is usage per provider and model.
type ModelBreakdown struct {
	Provider          string   `json:"provider"`
	Model             string   `json:"model"`
	RequestCount      int      `json:"request_count"`
	TotalCost         float64  `json:"total_cost"`
	AvgResponseTimeMs *float64 `json:"avg_response_time_ms,omitempty"`
}

// Breakdown returns successful usage per model since the given time,
// most expensive first.
func (t *UsageTracker) Breakdown(ctx context.Context, since time.Time) ([]ModelBreakdown, error) {
	if t == nil || t.db == nil {
		return nil, nil
	}
	rows, err := t.db.QueryContext(ctx, `
		SELECT
			provider,
			model,
			COUNT(*),
			COALESCE(SUM(cost), 0),
			AVG(CASE WHEN response_timestamp IS NOT NULL THEN
				(julianday(response_timestamp) - julianday(request_timestamp)) * 86400000
				ELSE NULL END)
		FROM provider_usage
		WHERE request_timestamp >= ? AND success = 1
		GROUP BY provider, model
		ORDER BY 4 DESC`, since)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query usage breakdown")
	}
	defer rows.Close()

	var out []ModelBreakdown
	for rows.Next() {
		var mb ModelBreakdown
		if err := rows.Scan(&mb.Provider, &mb.Model, &mb.RequestCount, &mb.TotalCost, &mb.AvgResponseTimeMs); err != nil {
			return nil, errors.Wrap(err, "failed to scan usage breakdown")
		}
		out = append(out, mb)
	}
	return out, rows.Err()
}
