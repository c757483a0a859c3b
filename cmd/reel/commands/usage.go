package commands

import (
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/reel/ai/tracker"
	"github.com/teranos/reel/db"
	"github.com/teranos/reel/errors"
	"github.com/teranos/reel/highlight"
	"github.com/teranos/reel/logger"
	"github.com/teranos/reel/pulse/budget"
	"github.com/teranos/reel/sym"
)

// UsageCmd reports provider usage and estimated cost
var UsageCmd = &cobra.Command{
	Use:   "usage",
	Short: sym.Oracle + " Show AI provider usage and cost",
	Long: sym.Oracle + ` usage — Show AI provider usage recorded in the job database

Examples:
  reel usage                # last 24 hours
  reel usage --since 168h   # last week
  reel usage --job <id>     # one job`,
	RunE: runUsage,
}

var (
	usageSince time.Duration
	usageJob   string
)

func init() {
	UsageCmd.Flags().DurationVar(&usageSince, "since", 24*time.Hour, "Window to report")
	UsageCmd.Flags().StringVar(&usageJob, "job", "", "Report a single job")
}

func runUsage(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Database.Path == "" {
		return errors.WithHint(errors.New("no job database configured"), "set database.path in am.toml")
	}
	conn, err := db.OpenWithMigrations(cfg.Database.Path, logger.Logger.Named("db"))
	if err != nil {
		return err
	}
	defer conn.Close()
	t := tracker.NewUsageTracker(conn, logger.Logger.Named("tracker"))

	if usageJob != "" {
		stats, err := t.JobStats(cmd.Context(), usageJob)
		if err != nil {
			return err
		}
		return renderStats("Job "+usageJob, stats)
	}

	since := time.Now().Add(-usageSince)
	stats, err := t.Stats(cmd.Context(), since)
	if err != nil {
		return err
	}
	if err := renderStats("Since "+since.Format(time.RFC822), stats); err != nil {
		return err
	}

	breakdown, err := t.Breakdown(cmd.Context(), since)
	if err != nil {
		return err
	}
	if len(breakdown) > 0 {
		rows := pterm.TableData{{"provider", "model", "requests", "cost"}}
		for _, mb := range breakdown {
			rows = append(rows, []string{mb.Provider, mb.Model, fmt.Sprint(mb.RequestCount), fmt.Sprintf("$%.4f", mb.TotalCost)})
		}
		if err := pterm.DefaultTable.WithHasHeader().WithData(rows).Render(); err != nil {
			return err
		}
	}

	limits := highlight.BudgetLimits(cfg)
	if limits.DailyUSD <= 0 && limits.MonthlyUSD <= 0 {
		return nil
	}
	st, err := budget.NewGuard(t, limits).Status(cmd.Context())
	if err != nil {
		return err
	}
	pterm.DefaultSection.Println("Budget")
	return pterm.DefaultTable.WithHasHeader().WithData(pterm.TableData{
		{"window", "spent", "cap"},
		{"24h", fmt.Sprintf("$%.4f", st.DailySpend), capText(limits.DailyUSD)},
		{"30d", fmt.Sprintf("$%.4f", st.MonthlySpend), capText(limits.MonthlyUSD)},
	}).Render()
}

func capText(v float64) string {
	if v <= 0 {
		return "unlimited"
	}
	return fmt.Sprintf("$%.2f", v)
}

func renderStats(title string, s *tracker.UsageStats) error {
	pterm.DefaultSection.Println(title)
	return pterm.DefaultTable.WithData(pterm.TableData{
		{"Requests", fmt.Sprintf("%d (%.0f%% ok)", s.TotalRequests, s.SuccessRate*100)},
		{"Tokens", fmt.Sprintf("%d in / %d out", s.PromptTokens, s.CompletionTokens)},
		{"Models", fmt.Sprint(s.UniqueModels)},
		{"Cost", fmt.Sprintf("$%.4f", s.TotalCost)},
	}).Render()
}
