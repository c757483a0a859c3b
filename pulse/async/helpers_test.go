package async

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ============================================================================
// TAS Bot & Kirby Test Universe
// ============================================================================
//
// Characters:
//   - TAS Bot: Frame-perfect coordinator who builds pipelines and confirms gates
//   - Kirby: The worker who inhales jobs and runs their stages ('Poyo!')
//   - Cronos: Greek god of time, appears for timeouts and retention
//
// Theme: every test pipeline is a two-stage speedrun with one save point
// (the "draft" gate) between the stages.
// ============================================================================

func createTestLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

// speedrunPipeline builds: record (0-50) → [draft] → publish (50-100).
// record writes the draft artifact; publish turns the confirmed draft into
// the output reference.
func speedrunPipeline(record StageFunc) *Pipeline {
	if record == nil {
		record = func(ctx context.Context, sc *StageContext) error {
			sc.Progress(0.5)
			return sc.Put("draft", "any% route")
		}
	}
	return &Pipeline{
		Mode: ModeEmbedding,
		Steps: []Step{
			Stage("record", 0, 50, record),
			Gate("draft", nil),
			Stage("publish", 50, 100, func(ctx context.Context, sc *StageContext) error {
				var draft string
				if err := sc.Artifact("draft", &draft); err != nil {
					return err
				}
				return sc.SetOutput("reel:" + draft)
			}),
		},
	}
}

func newTestRunner(t *testing.T, pipelines ...*Pipeline) (*Runner, *Registry) {
	t.Helper()
	reg := NewRegistry(nil, createTestLogger())
	pr := NewPipelineRegistry()
	for _, p := range pipelines {
		require.NoError(t, pr.Register(p))
	}
	return NewRunner(reg, pr, createTestLogger()), reg
}

func insertJob(t *testing.T, reg *Registry, mode Mode) *Job {
	t.Helper()
	job, err := NewJob(mode, json.RawMessage(`{"theme":"speedrun"}`))
	require.NoError(t, err)
	require.NoError(t, reg.Insert(job))
	return job
}
