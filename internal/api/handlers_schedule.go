package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"autocdn/internal/core"
)

type schedulePreviewRequest struct {
	Expr  string `json:"expr"`
	Now   string `json:"now,omitempty"`
	Count int    `json:"count,omitempty"`
}

type schedulePreviewResponse struct {
	Valid     bool     `json:"valid"`
	NextTimes []string `json:"next_times,omitempty"`
	Message   string   `json:"message,omitempty"`
}

type scheduleResponse struct {
	Enabled   bool    `json:"enabled"`
	Cron      string  `json:"cron,omitempty"`
	Config    string  `json:"config,omitempty"`
	NextRunAt *string `json:"next_run_at,omitempty"`
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	resp := scheduleResponse{Cron: s.deps.ScheduleCron, Config: s.deps.ScheduleConfig}
	if s.deps.Schedule != nil && resp.Config != "" {
		if next, ok := s.deps.Schedule.Next(resp.Config); ok {
			resp.Enabled = true
			resp.NextRunAt = formatTime(&next)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSchedulePreview(w http.ResponseWriter, r *http.Request) {
	var req schedulePreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, schedulePreviewResponse{Valid: false, Message: "invalid JSON payload"})
		return
	}
	expr := strings.TrimSpace(req.Expr)
	if expr == "" {
		writeJSON(w, http.StatusBadRequest, schedulePreviewResponse{Valid: false, Message: "cron expression is required"})
		return
	}
	schedule, err := core.ParseCron(expr)
	if err != nil {
		writeJSON(w, http.StatusOK, schedulePreviewResponse{Valid: false, Message: err.Error()})
		return
	}

	count := req.Count
	if count <= 0 || count > 10 {
		count = 5
	}

	base := time.Now().In(s.location)
	if req.Now != "" {
		if parsed, err := time.Parse(time.RFC3339, req.Now); err == nil {
			base = parsed.In(s.location)
		}
	}

	times := core.NextOccurrences(schedule, base, count)
	formatted := make([]string, 0, len(times))
	for _, t := range times {
		formatted = append(formatted, t.UTC().Format(time.RFC3339))
	}
	writeJSON(w, http.StatusOK, schedulePreviewResponse{Valid: true, NextTimes: formatted})
}
