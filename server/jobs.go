package server

import (
	"encoding/json"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gorilla/mux"

	"github.com/teranos/reel/highlight"
	"github.com/teranos/reel/logger"
	"github.com/teranos/reel/pulse/async"
)

// ArtifactView is one artifact in a status view.
type ArtifactView struct {
	Value     json.RawMessage `json:"value"`
	Confirmed bool            `json:"confirmed"`
}

// JobView is the status view returned by the job endpoints.
type JobView struct {
	ID           string                  `json:"id"`
	Mode         async.Mode              `json:"mode"`
	Status       async.JobStatus         `json:"status"`
	CurrentStage int                     `json:"current_stage"`
	StageName    string                  `json:"stage_name,omitempty"`
	Progress     float64                 `json:"progress_percent"`
	WaitingFor   string                  `json:"waiting_for,omitempty"`
	Artifacts    map[string]ArtifactView `json:"artifacts"`
	Error        *async.JobError         `json:"error,omitempty"`
	Output       string                  `json:"output,omitempty"`
	CreatedAt    time.Time               `json:"created_at"`
	UpdatedAt    time.Time               `json:"updated_at"`
}

func viewOf(j *async.Job) JobView {
	v := JobView{
		ID:           j.ID,
		Mode:         j.Mode,
		Status:       j.Status,
		CurrentStage: j.CurrentStep,
		StageName:    j.StageName,
		Progress:     j.Progress,
		WaitingFor:   j.WaitingFor,
		Artifacts:    make(map[string]ArtifactView, len(j.Artifacts)),
		Error:        j.Error,
		Output:       j.Output,
		CreatedAt:    j.CreatedAt,
		UpdatedAt:    j.UpdatedAt,
	}
	for name, a := range j.Artifacts {
		v.Artifacts[name] = ArtifactView{Value: a.Value, Confirmed: a.Confirmed}
	}
	return v
}

// HandleCreateJob handles POST /api/jobs
func (s *Server) HandleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req highlight.Request
	if !readJSON(w, r, &req) {
		return
	}
	job, err := s.orch.Create(req)
	if err != nil {
		s.logger.Infow("Job rejected", logger.FieldError, err)
		writeErr(w, err)
		return
	}
	_ = writeJSON(w, http.StatusAccepted, map[string]string{"id": job.ID})
}

// HandleListJobs handles GET /api/jobs
func (s *Server) HandleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.orch.Jobs()
	views := make([]JobView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, viewOf(j))
	}
	_ = writeJSON(w, http.StatusOK, views)
}

// HandleGetJob handles GET /api/jobs/{id}
func (s *Server) HandleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.orch.Job(mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = writeJSON(w, http.StatusOK, viewOf(job))
}

// ConfirmRequest is the body of a confirmation. Provider selects the
// candidate at the summary gate.
type ConfirmRequest struct {
	Value    json.RawMessage `json:"value,omitempty"`
	Provider string          `json:"provider,omitempty"`
}

// HandleConfirm handles POST /api/jobs/{id}/confirm/{gate}
func (s *Server) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, gate := vars["id"], vars["gate"]

	var body ConfirmRequest
	if !readJSON(w, r, &body) {
		return
	}
	if err := s.orch.Confirm(id, gate, body.Value, body.Provider); err != nil {
		s.logger.Infow("Confirmation rejected",
			logger.FieldJobID, shortID(id),
			logger.FieldGate, gate,
			logger.FieldError, err,
		)
		writeErr(w, err)
		return
	}
	job, err := s.orch.Job(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = writeJSON(w, http.StatusOK, viewOf(job))
}

// HandleCancel handles POST /api/jobs/{id}/cancel
func (s *Server) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.orch.Cancel(id); err != nil {
		writeErr(w, err)
		return
	}
	job, err := s.orch.Job(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = writeJSON(w, http.StatusOK, viewOf(job))
}

// HandleOutput handles GET /api/jobs/{id}/output. Local outputs are
// streamed; remote ones redirect to their (presigned) URL.
func (s *Server) HandleOutput(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	loc, err := s.orch.Output(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	if loc.URL != "" {
		http.Redirect(w, r, loc.URL, http.StatusFound)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+id+filepath.Ext(loc.Path)+`"`)
	http.ServeFile(w, r, loc.Path)
}

// HandleHealth handles GET /health
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	_ = writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"metrics":        s.orch.Metrics(),
	})
}
