package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/seedbank-crawler/internal/crawler"
	"github.com/JakeFAU/seedbank-crawler/internal/jobs"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req jobs.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Mode == "" {
		req.Mode = crawler.JobModeManual
	}
	job, err := s.deps.Submitter.Submit(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.JobID,
		"status": string(job.Status),
	})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter := crawler.JobFilter{
		VendorID: r.URL.Query().Get("vendor_id"),
		Limit:    limit,
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			status := crawler.JobStatus(strings.ToUpper(strings.TrimSpace(part)))
			if !status.Valid() {
				s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", part))
				return
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}
	list, err := s.deps.Jobs.ListJobs(r.Context(), filter)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"jobs": list})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Jobs.GetJob(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	job, err := s.deps.Submitter.Cancel(r.Context(), chi.URLParam(r, "job_id"), req.Reason)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

type scheduleRequest struct {
	IntervalHours int        `json:"intervalHours"`
	StartTime     *time.Time `json:"startTime,omitempty"`
}

func (s *Server) putSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	var start time.Time
	if req.StartTime != nil {
		start = *req.StartTime
	}
	sched, err := s.deps.Schedules.ScheduleVendorRecurring(r.Context(), chi.URLParam(r, "vendor_id"), req.IntervalHours, start)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"schedule": sched})
}

func (s *Server) getSchedule(w http.ResponseWriter, r *http.Request) {
	sched, err := s.deps.Schedules.Get(r.Context(), chi.URLParam(r, "vendor_id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"schedule": sched})
}

func (s *Server) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Schedules.Unschedule(r.Context(), chi.URLParam(r, "vendor_id")); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listCrawlLogs(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := s.deps.CrawlLogs.ListCrawlLogs(r.Context(), r.URL.Query().Get("vendor_id"), limit)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"crawlLogs": entries})
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	return min(n, maxListLimit), nil
}
