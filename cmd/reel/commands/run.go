package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/reel/ai/oracle"
	"github.com/teranos/reel/errors"
	"github.com/teranos/reel/highlight"
	"github.com/teranos/reel/logger"
	"github.com/teranos/reel/pulse/async"
	"github.com/teranos/reel/sym"
)

// RunCmd runs one highlight job in this process
var RunCmd = &cobra.Command{
	Use:   "run",
	Short: sym.Pulse + " Cut a highlight reel from one video",
	Long: sym.Pulse + ` run — Cut a highlight reel from one video without a server

The job runs in this process. At every confirmation gate the proposed
value is shown and you may accept, edit, or cancel. --yes accepts every
gate as proposed (at the model-selection gate the first model that
answered is chosen).

Examples:
  reel run --mode embedding --theme football --source match.mp4
  reel run --mode direct --source s3://bucket/match.mp4 --yes
  reel run --mode embedding --theme "goals only" --source match.mp4 --threshold 0.3 --top-k 5`,
	RunE: runRun,
}

var (
	runMode      string
	runTheme     string
	runSource    string
	runYes       bool
	runThreshold float64
	runTopK      int
	runDimension int
	runProviders []string
)

const pollInterval = 250 * time.Millisecond

func init() {
	RunCmd.Flags().StringVar(&runMode, "mode", string(async.ModeEmbedding), "Pipeline: embedding or direct")
	RunCmd.Flags().StringVar(&runTheme, "theme", "", "What the reel is about (required in embedding mode)")
	RunCmd.Flags().StringVar(&runSource, "source", "", "Video path, URL, or storage reference")
	RunCmd.Flags().BoolVarP(&runYes, "yes", "y", false, "Accept every gate as proposed")
	RunCmd.Flags().Float64Var(&runThreshold, "threshold", 0, "Similarity threshold in [-1, 1] (overrides matching.threshold)")
	RunCmd.Flags().IntVar(&runTopK, "top-k", 0, "Segments kept per highlight point (overrides matching.top_k)")
	RunCmd.Flags().IntVar(&runDimension, "dimension", 0, "Embedding dimension (256, 384, 1024, 3072)")
	RunCmd.Flags().StringSliceVar(&runProviders, "providers", nil, "Direct mode: subset of oracle.direct_models to race")
	_ = RunCmd.MarkFlagRequired("source")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	req := highlight.Request{
		Mode:   async.Mode(runMode),
		Theme:  runTheme,
		Source: runSource,
		Options: highlight.Options{
			TopK:      runTopK,
			Dimension: runDimension,
			Providers: runProviders,
		},
	}
	if cmd.Flags().Changed("threshold") {
		req.Options.Threshold = &runThreshold
	}
	// A path named on the command line is readable on purpose.
	if dir, ok := localSourceDir(runSource); ok {
		cfg.Storage.SourceDirs = append(cfg.Storage.SourceDirs, dir)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx, cfg, "")
	if err != nil {
		return err
	}
	defer a.close()

	a.orch.Start()
	defer a.orch.Stop()

	job, err := a.orch.Create(req)
	if err != nil {
		return err
	}
	pterm.Info.Printfln("Job %s (%s mode)", job.ID, job.Mode)

	return follow(ctx, a.orch, job.ID)
}

// follow polls the job, prompts at gates, and reports the outcome.
func follow(ctx context.Context, orch *highlight.Orchestrator, id string) error {
	spinner, _ := pterm.DefaultSpinner.Start("pending")
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	lastGate := ""
	for {
		select {
		case <-ctx.Done():
			_ = spinner.Stop()
			if err := orch.Cancel(id); err != nil {
				return err
			}
			pterm.Warning.Println("Cancelled")
			return ctx.Err()
		case <-ticker.C:
		}

		job, err := orch.Job(id)
		if err != nil {
			_ = spinner.Stop()
			return err
		}

		switch phase := async.PhaseOf(job).(type) {
		case async.Running:
			spinner.UpdateText(fmt.Sprintf("%s  %3.0f%%", phase.Stage, phase.Progress))
		case async.Awaiting:
			// The orchestrator may still be parking; prompt once per gate.
			if phase.Gate == lastGate {
				continue
			}
			lastGate = phase.Gate
			_ = spinner.Stop()

			value, provider, err := confirmation(phase.Gate, phase.Artifact)
			if errors.Is(err, errAbort) {
				if err := orch.Cancel(id); err != nil {
					return err
				}
				pterm.Warning.Println("Cancelled at " + phase.Gate)
				return nil
			}
			if err != nil {
				return err
			}
			if err := orch.Confirm(id, phase.Gate, value, provider); err != nil {
				// An edit the gate rejects: show why and ask again.
				pterm.Error.Println(err.Error())
				lastGate = ""
			}
			spinner, _ = pterm.DefaultSpinner.Start("resuming")
		case async.Completed:
			spinner.Success("Reel ready")
			pterm.Println(phase.Output)
			if loc, err := orch.Output(ctx, id); err == nil {
				if loc.Path != "" {
					pterm.Println(loc.Path)
				} else {
					pterm.Println(loc.URL)
				}
			}
			return nil
		case async.Failed:
			spinner.Fail(fmt.Sprintf("%s failed at %s", sym.Failed, phase.Err.Stage))
			return errors.Newf("%s: %s", phase.Err.Kind, phase.Err.Message)
		}
	}
}

var errAbort = errors.New("aborted at gate")

// confirmation decides what to send for gate: the auto answer with
// --yes, otherwise whatever the user picks.
func confirmation(gate string, artifact json.RawMessage) (json.RawMessage, string, error) {
	if runYes {
		return autoConfirmation(gate, artifact)
	}
	showArtifact(gate, artifact)

	if gate == highlight.GateSummary {
		return chooseCandidate(artifact)
	}

	options := []string{"accept", "edit", "cancel"}
	if gate == highlight.GateHighlights {
		options = []string{"accept", "cancel"}
	}
	choice, err := pterm.DefaultInteractiveSelect.WithOptions(options).Show(sym.Gate + " " + gate)
	if err != nil {
		return nil, "", err
	}
	switch choice {
	case "cancel":
		return nil, "", errAbort
	case "edit":
		text, err := pterm.DefaultInteractiveTextInput.WithMultiLine().Show("New " + gate)
		if err != nil {
			return nil, "", err
		}
		data, err := json.Marshal(strings.TrimSpace(text))
		return data, "", err
	default:
		return nil, "", nil
	}
}

// autoConfirmation accepts gate as proposed. The summary gate has no
// single proposal, so the first provider that answered is chosen.
func autoConfirmation(gate string, artifact json.RawMessage) (json.RawMessage, string, error) {
	if gate != highlight.GateSummary {
		return nil, "", nil
	}
	var sum highlight.Summary
	if err := json.Unmarshal(artifact, &sum); err != nil {
		return nil, "", errors.Wrap(err, "failed to read summary candidates")
	}
	for _, c := range sum.Candidates {
		if c.Selectable() {
			return nil, c.Provider, nil
		}
	}
	return nil, "", errors.New("no provider produced a summary")
}

func chooseCandidate(artifact json.RawMessage) (json.RawMessage, string, error) {
	var sum highlight.Summary
	if err := json.Unmarshal(artifact, &sum); err != nil {
		return nil, "", errors.Wrap(err, "failed to read summary candidates")
	}
	var options []string
	for _, c := range sum.Candidates {
		if c.Selectable() {
			options = append(options, c.Provider)
		}
	}
	options = append(options, "cancel")
	choice, err := pterm.DefaultInteractiveSelect.WithOptions(options).Show(sym.Gate + " pick a model")
	if err != nil {
		return nil, "", err
	}
	if choice == "cancel" {
		return nil, "", errAbort
	}
	return nil, choice, nil
}

// showArtifact prints the value up for confirmation in a readable form.
func showArtifact(gate string, artifact json.RawMessage) {
	pterm.DefaultSection.Println(gate)
	switch gate {
	case highlight.GateCriteria:
		var c highlight.Criteria
		if json.Unmarshal(artifact, &c) == nil {
			if c.Fallback {
				pterm.Warning.Println("criteria provider unavailable, showing the default criteria")
			}
			pterm.Println(c.Text)
			return
		}
	case highlight.GateAnalysis:
		var an highlight.Analysis
		if json.Unmarshal(artifact, &an) == nil {
			pterm.Println(an.Text)
			return
		}
	case highlight.GateSummary:
		var sum highlight.Summary
		if json.Unmarshal(artifact, &sum) == nil {
			for _, c := range sum.Candidates {
				if !c.Selectable() {
					pterm.Error.Printfln("%s: %s", c.Provider, c.Error)
					continue
				}
				var loc oracle.Localization
				_ = json.Unmarshal(c.Value, &loc)
				pterm.DefaultBox.WithTitle(c.Provider).Println(loc.Summary)
			}
			return
		}
	case highlight.GateHighlights:
		var h highlight.Highlights
		if json.Unmarshal(artifact, &h) == nil {
			rows := pterm.TableData{{"#", "start", "end", "score"}}
			for i, clip := range h.Clips {
				rows = append(rows, []string{
					fmt.Sprint(i + 1),
					fmt.Sprintf("%.1f", clip.Start),
					fmt.Sprintf("%.1f", clip.End),
					fmt.Sprintf("%.2f", clip.Score),
				})
			}
			_ = pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
			return
		}
	}
	logger.Logger.Debugw("Unrecognised artifact", logger.FieldGate, gate)
	pterm.Println(string(artifact))
}

// localSourceDir returns the directory of a plain-path source.
func localSourceDir(ref string) (string, bool) {
	if u, err := url.Parse(ref); err == nil && u.Scheme != "" {
		return "", false
	}
	abs, err := filepath.Abs(ref)
	if err != nil {
		return "", false
	}
	return filepath.Dir(abs), true
}
