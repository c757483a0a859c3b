package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/reel/am"
	"github.com/teranos/reel/errors"
	"github.com/teranos/reel/logger"
	"github.com/teranos/reel/server"
	"github.com/teranos/reel/version"
)

// ServerCmd starts the reel HTTP API with its worker pool
var ServerCmd = &cobra.Command{
	Use:     "server",
	Aliases: []string{"serve"},
	Short:   "Start the reel HTTP API and job workers",
	Long: `Launch the reel server: the JSON job API, the upload endpoint, the
websocket event stream, the worker pool and the janitor.

Jobs parked at a confirmation gate survive a restart when database.path
is set. Matching and pulse settings are reloaded when the active am.toml
changes.`,
	RunE: runServer,
}

var (
	serverPort   int
	serverDBPath string
)

func init() {
	ServerCmd.Flags().IntVar(&serverPort, "port", 0, "Port to listen on (overrides server.port)")
	ServerCmd.Flags().StringVar(&serverDBPath, "db-path", "", "Job database path (overrides database.path)")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serverPort != 0 {
		cfg.Server.Port = serverPort
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := bootstrap(ctx, cfg, serverDBPath)
	if err != nil {
		return err
	}
	defer a.close()

	printStartupBanner(cfg, a)

	a.orch.Start()

	if path := am.ActiveConfigPath(); path != "" {
		watcher, err := am.NewConfigWatcher(path, a.logger.Named("am"))
		if err != nil {
			a.logger.Warnw("Config hot reload disabled", logger.FieldFile, path, logger.FieldError, err)
		} else {
			watcher.OnReload(func(next *am.Config) error {
				a.orch.Reload(next)
				return nil
			})
			watcher.Start()
			defer watcher.Stop()
		}
	}

	srv := server.New(a.orch, a.store, cfg.Server, a.logger,
		server.WithUsage(a.usage),
		server.WithBudget(a.budget),
		server.WithVersion(version.Get().Tag()),
	)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		a.orch.Stop()
		if err != nil {
			return errors.Wrap(err, "server failed")
		}
		return nil
	case <-sigChan:
		pterm.Info.Println("Shutting down gracefully (press Ctrl+C again to force)...")

		shutdownDone := make(chan error, 1)
		go func() {
			sctx, scancel := context.WithTimeout(context.Background(), server.ShutdownTimeout)
			defer scancel()
			err := srv.Shutdown(sctx)
			a.orch.Stop()
			shutdownDone <- err
		}()

		select {
		case err := <-shutdownDone:
			if err != nil {
				return errors.Wrap(err, "shutdown error")
			}
			pterm.Success.Println("Server stopped cleanly")
			return nil
		case <-sigChan:
			pterm.Warning.Println("Force shutdown - exiting immediately")
			os.Exit(1)
			return nil
		}
	}
}
