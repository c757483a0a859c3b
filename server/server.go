// Package server exposes the highlight orchestrator over HTTP: a JSON API
// for creating, polling, confirming and cancelling jobs, an upload
// endpoint feeding the storage backend, and a websocket event stream.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/reel/ai/tracker"
	"github.com/teranos/reel/am"
	"github.com/teranos/reel/highlight"
	"github.com/teranos/reel/logger"
	"github.com/teranos/reel/pulse/async"
	"github.com/teranos/reel/pulse/budget"
	"github.com/teranos/reel/storage"
	"github.com/teranos/reel/sym"
)

const (
	// ShutdownTimeout bounds graceful shutdown of in-flight requests
	ShutdownTimeout = 10 * time.Second

	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 120 * time.Second

	// defaultMaxUploadMB applies when server.max_upload_mb is unset
	defaultMaxUploadMB = 2048
)

// Orchestrator is the job surface the handlers drive.
type Orchestrator interface {
	Create(req highlight.Request) (*async.Job, error)
	Job(id string) (*async.Job, error)
	Jobs() []*async.Job
	Confirm(id, gate string, value json.RawMessage, provider string) error
	Cancel(id string) error
	Output(ctx context.Context, id string) (storage.Location, error)
	Metrics() async.SystemMetrics
	Registry() *async.Registry
}

// Server is the reel HTTP API.
type Server struct {
	orch    Orchestrator
	store   storage.Store
	usage   *tracker.UsageTracker // nil disables usage reporting
	budget  *budget.Guard
	cfg     am.ServerConfig
	version string
	logger  *zap.SugaredLogger
	started time.Time

	// ctx ends every open event stream on shutdown
	ctx    context.Context
	cancel context.CancelFunc

	httpServer *http.Server
}

// Option configures optional server collaborators.
type Option func(*Server)

// WithUsage reports provider usage from t on /api/usage.
func WithUsage(t *tracker.UsageTracker) Option {
	return func(s *Server) { s.usage = t }
}

// WithBudget reports spend against the caps on /api/usage.
func WithBudget(g *budget.Guard) Option {
	return func(s *Server) { s.budget = g }
}

// WithVersion sets the version string reported by /health.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// New creates a server over orch. store receives uploads.
func New(orch Orchestrator, store storage.Store, cfg am.ServerConfig, log *zap.SugaredLogger, opts ...Option) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg.Port == 0 {
		cfg.Port = am.DefaultServerPort
	}
	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = defaultMaxUploadMB
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		orch:    orch,
		store:   store,
		cfg:     cfg,
		version: "dev",
		logger:  log.Named("server"),
		started: time.Now(),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start serves HTTP on the configured port until Shutdown. It returns nil
// after a graceful shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}
	s.logger.Infow("HTTP server listening",
		logger.FieldSymbol, sym.PulseOpen,
		logger.FieldAddress, addr,
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown closes event streams and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	if s.httpServer == nil {
		return nil
	}
	s.logger.Infow("HTTP server shutting down", logger.FieldSymbol, sym.PulseClose)
	return s.httpServer.Shutdown(ctx)
}
