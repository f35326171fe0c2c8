package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/snapradar/archive-crawler/internal/archive"
)

// submitJobRequest is the JSON body accepted by POST /v1/jobs. Dates use the
// 2006-01-02 layout.
type submitJobRequest struct {
	Domain           string                   `json:"domain"`
	DomainID         string                   `json:"domain_id"`
	From             string                   `json:"from"`
	To               string                   `json:"to"`
	Source           archive.SourceMode       `json:"source"`
	FallbackEnabled  *bool                    `json:"fallback_enabled"`
	FallbackStrategy archive.FallbackStrategy `json:"fallback_strategy"`
	ConcurrencyLimit int                      `json:"concurrency_limit"`
	BatchSize        int                      `json:"batch_size"`

	Sources map[archive.Source]archive.SourceOverrides `json:"sources"`
}

const dateLayout = "2006-01-02"

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Domain == "" {
		s.writeError(w, http.StatusBadRequest, "domain is required")
		return
	}
	from, err := time.Parse(dateLayout, req.From)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "from must be a YYYY-MM-DD date")
		return
	}
	to, err := time.Parse(dateLayout, req.To)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "to must be a YYYY-MM-DD date")
		return
	}
	if to.Before(from) {
		s.writeError(w, http.StatusBadRequest, "to must not precede from")
		return
	}

	fallback := true
	if req.FallbackEnabled != nil {
		fallback = *req.FallbackEnabled
	}
	jobCfg := archive.JobConfig{
		Mode:             req.Source,
		FallbackEnabled:  fallback,
		FallbackStrategy: req.FallbackStrategy,
		Sources:          req.Sources,
		ConcurrencyLimit: req.ConcurrencyLimit,
		BatchSize:        req.BatchSize,
	}.ApplyDefaults()
	if err := jobCfg.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	domainID := req.DomainID
	if domainID == "" {
		domainID = req.Domain
	}
	jobID, err := s.ids.NewID()
	if err != nil {
		s.logger.Error("generate job id failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "could not allocate job id")
		return
	}
	job := archive.CrawlJob{
		ID:        jobID,
		DomainID:  domainID,
		Domain:    req.Domain,
		From:      from,
		To:        to,
		Config:    jobCfg,
		Status:    archive.JobStatusQueued,
		Submitted: s.clock.Now().UTC(),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.dispatch.Enqueue(ctx, job); err != nil {
		s.logger.Error("enqueue failed", zap.String("job_id", job.ID), zap.Error(err))
		s.writeError(w, http.StatusServiceUnavailable, "job queue unavailable")
		return
	}

	s.logger.Info("job accepted",
		zap.String("job_id", job.ID),
		zap.String("domain", job.Domain),
		zap.String("mode", string(jobCfg.Mode)),
	)
	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id": job.ID,
		"status": job.Status,
	})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.contents.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, archive.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("get job failed", zap.String("job_id", jobID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) getJobEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		s.writeError(w, http.StatusServiceUnavailable, errNoEventStore.Error())
		return
	}
	jobID := chi.URLParam(r, "job_id")
	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)
	events, err := s.events.ListEvents(r.Context(), jobID, limit, offset)
	if err != nil {
		s.logger.Error("list events failed", zap.String("job_id", jobID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "event lookup failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"job_id": jobID,
		"events": events,
	})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if !s.dispatch.Cancel(jobID) {
		s.writeError(w, http.StatusConflict, "job is not running")
		return
	}
	s.logger.Info("job cancel requested", zap.String("job_id", jobID))
	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": jobID,
		"status": "cancelling",
	})
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
