package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"autocdn/internal/core"
)

type startRunRequest struct {
	Config string `json:"config"`
	Mode   string `json:"mode"`
}

type runStateResponse struct {
	Phase           string   `json:"phase"`
	Running         bool     `json:"running"`
	StatusText      string   `json:"status_text"`
	ProgressPercent float64  `json:"progress_percent"`
	LogLines        []string `json:"log_lines"`
	RunID           string   `json:"run_id,omitempty"`
	Config          string   `json:"config,omitempty"`
	Mode            string   `json:"mode,omitempty"`
	StartedAt       *string  `json:"started_at,omitempty"`
	EndedAt         *string  `json:"ended_at,omitempty"`
	Error           *string  `json:"error,omitempty"`
}

func stateToResponse(st core.RunState) runStateResponse {
	resp := runStateResponse{
		Phase:           string(st.Phase),
		Running:         st.Running,
		StatusText:      st.StatusText,
		ProgressPercent: st.ProgressPercent,
		LogLines:        st.LogLines,
		RunID:           st.RunID,
		Config:          st.ConfigName,
		Mode:            string(st.Mode),
		StartedAt:       formatTime(st.StartedAt),
		EndedAt:         formatTime(st.EndedAt),
	}
	if resp.LogLines == nil {
		resp.LogLines = []string{}
	}
	if st.Err != nil {
		msg := st.Err.Error()
		resp.Error = &msg
	}
	return resp
}

func (s *Server) handleRunState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, stateToResponse(s.deps.Controller.Snapshot()))
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	name := strings.TrimSpace(req.Config)
	if name == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "config is required")
		return
	}
	mode := core.ModeManual
	if req.Mode != "" {
		mode = core.Mode(strings.ToLower(strings.TrimSpace(req.Mode)))
	}
	if !mode.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_input", "mode must be auto or manual")
		return
	}
	if _, err := s.deps.Configs.Load(r.Context(), name); err != nil {
		s.writeConfigError(w, "start run", name, err)
		return
	}

	runID, ok := s.deps.Controller.Start(name, mode)
	if !ok {
		writeError(w, http.StatusConflict, "conflict", "a probe run is already in progress")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

func (s *Server) handleStopRun(w http.ResponseWriter, r *http.Request) {
	requested := s.deps.Controller.Stop()
	writeJSON(w, http.StatusAccepted, map[string]bool{"stop_requested": requested})
}
