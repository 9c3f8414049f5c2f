package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/loopdeck/loopdeck/pkg/jobs"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.version,
	})
}

func (s *Server) handleBuildStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.build.Status())
}

func (s *Server) handleBuildStart(w http.ResponseWriter, r *http.Request) {
	var opts jobs.BuildOptions
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
		writeDomainError(w, jobs.Errf(jobs.CodeValidation, "invalid request body: %v", err), nil)
		return
	}

	job, err := s.build.Start(opts)
	if err != nil {
		writeDomainError(w, err, job)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleBuildStop(w http.ResponseWriter, r *http.Request) {
	if err := s.build.Stop(); err != nil {
		writeDomainError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handlePRDStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDomainError(w, jobs.Errf(jobs.CodeValidation, "invalid request body: %v", err), nil)
		return
	}

	job, err := s.gen.StartPRD(req.Description)
	if err != nil {
		writeDomainError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"key": job.Key,
		"job": job,
	})
}

func (s *Server) handleGenerationStatus(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	writeJSON(w, http.StatusOK, s.gen.Status(key))
}

func (s *Server) handlePlanStart(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	job, err := s.gen.StartPlan(key)
	if err != nil {
		writeDomainError(w, err, job)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleGenerationCancel(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	if err := s.gen.Cancel(key); err != nil {
		writeDomainError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
