package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-worker/internal/crawler"
)

const (
	defaultJobLimit = 50
	maxJobLimit     = 500
)

type submitJobRequest struct {
	Worker     string           `json:"worker"`
	RequestKey string           `json:"request_key"`
	Metadata   crawler.Metadata `json:"metadata"`
}

// submitJob handles POST /v1/jobs. It answers 202 {"job_id","status"} once
// the job is pending, 400 for a malformed body or unknown worker, or 500.
// request_key is optional; a handler that needs one fails the job instead.
func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Worker = strings.TrimSpace(req.Worker)
	req.RequestKey = strings.TrimSpace(req.RequestKey)
	switch {
	case req.Worker == "":
		writeError(w, http.StatusBadRequest, "worker required")
		return
	case s.workers != nil && !s.workers[req.Worker]:
		writeError(w, http.StatusBadRequest, "unknown worker: "+req.Worker)
		return
	}

	jobID, err := s.queue.Enqueue(r.Context(), req.Worker, req.RequestKey, req.Metadata)
	if err != nil {
		s.logger.Error("enqueue failed", zap.String("worker", req.Worker), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": jobID,
		"status": string(crawler.JobStatusPending),
	})
}

// listJobs handles GET /v1/jobs?status=&worker=&limit=&offset=. It returns
// {"jobs": [...]} newest first, or 400 for invalid filters.
func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultJobLimit, maxJobLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter := crawler.JobFilter{
		Worker: strings.TrimSpace(r.URL.Query().Get("worker")),
		Limit:  limit,
		Offset: offset,
	}
	if statusParam := strings.TrimSpace(r.URL.Query().Get("status")); statusParam != "" {
		status := crawler.JobStatus(strings.ToLower(statusParam))
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "invalid status")
			return
		}
		filter.Status = status
	}
	jobs, err := s.store.ListJobs(r.Context(), filter)
	if err != nil {
		s.logger.Error("list jobs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// getJob handles GET /v1/jobs/{job_id}. Failed jobs carry their error in
// job.metadata.error.
func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

// getJobResults handles GET /v1/jobs/{job_id}/results.
func (s *Server) getJobResults(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	results, err := s.store.ListResults(r.Context(), job.ID)
	if err != nil {
		s.logger.Error("list results failed", zap.String("job_id", job.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to fetch job results")
		return
	}
	if results == nil {
		results = []crawler.Result{}
	}
	writeJSON(w, http.StatusOK, crawler.JobResult{Job: job, Results: results})
}

func (s *Server) loadJob(w http.ResponseWriter, r *http.Request) (crawler.Job, bool) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.store.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, crawler.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return crawler.Job{}, false
		}
		s.logger.Error("get job failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return crawler.Job{}, false
	}
	return job, true
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}
