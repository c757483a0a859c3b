package server

import (
	"bufio"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/teranos/reel/errors"
	"github.com/teranos/reel/logger"
)

// Handler returns the routed API wrapped in CORS, panic recovery and
// request logging.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.HandleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/jobs", s.HandleCreateJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs", s.HandleListJobs).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}", s.HandleGetJob).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}/confirm/{gate}", s.HandleConfirm).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{id}/cancel", s.HandleCancel).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{id}/output", s.HandleOutput).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}/usage", s.HandleJobUsage).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{id}/events", s.HandleEvents).Methods(http.MethodGet)
	api.HandleFunc("/uploads", s.HandleUpload).Methods(http.MethodPost)
	api.HandleFunc("/usage", s.HandleUsage).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	var h http.Handler = r
	h = s.logRequests(h)
	h = handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{s}),
		handlers.PrintRecoveryStack(false),
	)(h)
	h = handlers.CORS(
		handlers.AllowedOriginValidator(s.checkOrigin),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		handlers.AllowCredentials(),
	)(h)
	return h
}

// checkOrigin allows requests without an Origin header and origins that
// start with one of the configured prefixes, so any port matches. With no
// configuration only localhost is allowed.
func (s *Server) checkOrigin(origin string) bool {
	if origin == "" {
		return true
	}
	allowed := s.cfg.AllowedOrigins
	if len(allowed) == 0 {
		allowed = []string{"http://localhost", "https://localhost", "http://127.0.0.1"}
	}
	for _, prefix := range allowed {
		if strings.HasPrefix(origin, prefix) {
			return true
		}
	}
	return false
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debugw("HTTP request",
			logger.FieldMethod, r.Method,
			logger.FieldPath, r.URL.Path,
			logger.FieldStatus, rec.status,
			logger.FieldDurationMS, time.Since(start).Milliseconds(),
		)
	})
}

type recoveryLogger struct{ s *Server }

func (l recoveryLogger) Println(v ...interface{}) {
	l.s.logger.Errorw("Recovered from handler panic", "panic", v)
}
