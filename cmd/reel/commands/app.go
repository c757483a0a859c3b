package commands

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"github.com/teranos/reel/ai/provider"
	"github.com/teranos/reel/ai/tracker"
	"github.com/teranos/reel/am"
	"github.com/teranos/reel/db"
	"github.com/teranos/reel/errors"
	"github.com/teranos/reel/highlight"
	"github.com/teranos/reel/logger"
	"github.com/teranos/reel/media"
	"github.com/teranos/reel/pulse/budget"
	"github.com/teranos/reel/storage"
	"github.com/teranos/reel/sym"
)

// app is everything a command needs to run jobs in this process.
type app struct {
	cfg     *am.Config
	db      *sql.DB // nil when database.path is empty
	store   storage.Store
	usage   *tracker.UsageTracker
	budget  *budget.Guard
	orch    *highlight.Orchestrator
	logger  *zap.SugaredLogger
	version string // ffmpeg version
}

// loadConfig loads and validates the configuration.
func loadConfig() (*am.Config, error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.WithHint(errors.Wrap(err, "invalid configuration"), "run 'reel am validate' for details")
	}
	return cfg, nil
}

// bootstrap wires storage, the database, providers, ffmpeg and the
// orchestrator from cfg. dbPath overrides database.path when set.
func bootstrap(ctx context.Context, cfg *am.Config, dbPath string) (*app, error) {
	log := logger.Logger
	a := &app{cfg: cfg, logger: log}

	if dbPath == "" {
		dbPath = cfg.Database.Path
	}
	if dbPath != "" {
		conn, err := db.OpenWithMigrations(dbPath, log.Named("db"))
		if err != nil {
			return nil, err
		}
		a.db = conn
		a.usage = tracker.NewUsageTracker(conn, log.Named("tracker"))
		a.budget = budget.NewGuard(a.usage, highlight.BudgetLimits(cfg))
	}

	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		a.close()
		return nil, err
	}
	a.store = store

	set, err := provider.NewSet(cfg, provider.Options{Tracker: a.usage, Logger: log.Named("oracle")})
	if err != nil {
		a.close()
		return nil, errors.Wrap(err, "failed to configure providers")
	}

	ff, err := media.NewFFmpeg(cfg.Media, nil, log.Named("media"))
	if err != nil {
		a.close()
		return nil, err
	}
	if a.version, err = ff.CheckVersion(ctx); err != nil {
		a.close()
		return nil, err
	}
	log.Infow("ffmpeg ready", logger.FieldSymbol, sym.Media, "version", a.version)

	orch, err := highlight.New(ctx, highlight.Deps{
		Oracle:   set,
		Media:    ff,
		Resolver: storage.NewResolver(store, log.Named("storage"), storage.WithSourceDirs(cfg.Storage.SourceDirs...)),
		Settings: highlight.NewSettings(cfg),
		Budget:   a.budget,
		Logger:   log,
	}, a.db)
	if err != nil {
		a.close()
		return nil, err
	}
	a.orch = orch
	return a, nil
}

func (a *app) close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warnw("Failed to close database", logger.FieldError, err)
		}
	}
}
