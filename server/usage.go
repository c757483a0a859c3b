package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/teranos/reel/ai/tracker"
	"github.com/teranos/reel/pulse/budget"
)

const defaultUsageWindow = 24 * time.Hour

// UsageReport is the body of GET /api/usage.
type UsageReport struct {
	Since     time.Time                `json:"since"`
	Stats     *tracker.UsageStats      `json:"stats"`
	Breakdown []tracker.ModelBreakdown `json:"breakdown"`
	Budget    *budget.Status           `json:"budget,omitempty"`
}

// HandleUsage handles GET /api/usage?window=24h
func (s *Server) HandleUsage(w http.ResponseWriter, r *http.Request) {
	window := defaultUsageWindow
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "window must be a positive duration such as 24h")
			return
		}
		window = d
	}
	since := time.Now().Add(-window)

	stats, err := s.usage.Stats(r.Context(), since)
	if err != nil {
		writeErr(w, err)
		return
	}
	breakdown, err := s.usage.Breakdown(r.Context(), since)
	if err != nil {
		writeErr(w, err)
		return
	}
	if breakdown == nil {
		breakdown = []tracker.ModelBreakdown{}
	}
	report := UsageReport{Since: since, Stats: stats, Breakdown: breakdown}
	if s.budget != nil {
		if report.Budget, err = s.budget.Status(r.Context()); err != nil {
			writeErr(w, err)
			return
		}
	}
	_ = writeJSON(w, http.StatusOK, report)
}

// HandleJobUsage handles GET /api/jobs/{id}/usage
func (s *Server) HandleJobUsage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := s.orch.Job(id); err != nil {
		writeErr(w, err)
		return
	}
	stats, err := s.usage.JobStats(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = writeJSON(w, http.StatusOK, stats)
}
