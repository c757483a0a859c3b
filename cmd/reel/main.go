package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/reel/cmd/reel/commands"
	"github.com/teranos/reel/logger"
)

var rootCmd = &cobra.Command{
	Use:   "reel",
	Short: "reel - cut highlight reels from long videos",
	Long: `reel - cut highlight reels from long videos.

A job runs a staged pipeline over a source video and stops at confirmation
gates where a person can accept or edit what the models proposed.

Available commands:
  server  - Start the HTTP API and job workers
  run     - Run one job in this terminal
  am      - Manage configuration ("I am")
  usage   - Show AI provider usage and cost
  version - Show version information

Examples:
  reel server --port 8877
  reel run --mode embedding --theme football --source match.mp4
  reel am show --format yaml`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if cmd.Name() == "server" && verbosity == 0 {
			verbosity = 1
		}
		if err := logger.Initialize(jsonLogs, verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit JSON logs (for log shippers)")

	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.RunCmd)
	rootCmd.AddCommand(commands.ServerCmd)
	rootCmd.AddCommand(commands.UsageCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
