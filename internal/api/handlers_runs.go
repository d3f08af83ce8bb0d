package api

import (
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"autocdn/internal/core"
	"autocdn/internal/store"

	"github.com/go-chi/chi/v5"
)

type runResponse struct {
	ID        string  `json:"id"`
	Config    string  `json:"config"`
	Mode      string  `json:"mode"`
	Status    string  `json:"status"`
	StartedAt string  `json:"started_at"`
	EndedAt   *string `json:"ended_at,omitempty"`
	Error     *string `json:"error,omitempty"`
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := parseIntDefault(q.Get("limit"), 20)
	offset := parseIntDefault(q.Get("offset"), 0)
	runs, err := s.deps.Runs.ListRuns(r.Context(), strings.TrimSpace(q.Get("config")), limit, offset)
	if err != nil {
		s.logger.Error("list runs", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list runs")
		return
	}

	resp := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		resp = append(resp, runToResponse(run))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, runToResponse(run))
}

func (s *Server) lookupRun(w http.ResponseWriter, r *http.Request) (*core.RunRecord, bool) {
	runID := chi.URLParam(r, "runID")
	run, err := s.deps.Runs.GetRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, store.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "run not found")
		} else {
			s.logger.Error("get run", "run_id", runID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to load run")
		}
		return nil, false
	}
	return run, true
}

func (s *Server) handleRunLog(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	runID := run.ID

	tail := parseIntDefault(r.URL.Query().Get("tail"), 0)
	follow := strings.EqualFold(r.URL.Query().Get("follow"), "1") || strings.EqualFold(r.URL.Query().Get("follow"), "true")

	file, err := os.Open(s.deps.Runs.RunLogPath(runID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeError(w, http.StatusNotFound, "not_found", "log not found")
		} else {
			s.logger.Error("open log", "run_id", runID, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to read log")
		}
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.logger.Error("read log", "run_id", runID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to read log")
		return
	}
	offset := int64(len(data))
	data = []byte(store.TailLines(string(data), tail))

	flusher, canFlush := w.(http.Flusher)
	if follow && !canFlush {
		writeError(w, http.StatusBadRequest, "unsupported", "streaming not supported")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if !follow {
		_, _ = w.Write(data)
		return
	}

	w.Header().Set("Cache-Control", "no-cache")
	if len(data) > 0 {
		_, _ = w.Write(data)
		if data[len(data)-1] != '\n' {
			_, _ = w.Write([]byte("\n"))
		}
	}
	flusher.Flush()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			pos, err := file.Seek(0, io.SeekEnd)
			if err != nil {
				return
			}
			if pos > offset {
				buf := make([]byte, pos-offset)
				if _, err := file.ReadAt(buf, offset); err == nil {
					_, _ = w.Write(buf)
					flusher.Flush()
				}
				offset = pos
			}
			if !run.Status.Finished() {
				if refreshed, err := s.deps.Runs.GetRun(r.Context(), runID); err == nil {
					run = refreshed
				}
			}
			if run.Status.Finished() && pos == offset {
				return
			}
		}
	}
}

func runToResponse(run *core.RunRecord) runResponse {
	return runResponse{
		ID:        run.ID,
		Config:    run.ConfigName,
		Mode:      string(run.Mode),
		Status:    string(run.Status),
		StartedAt: run.StartedAt.UTC().Format(time.RFC3339),
		EndedAt:   formatTime(run.EndedAt),
		Error:     run.Error,
	}
}
