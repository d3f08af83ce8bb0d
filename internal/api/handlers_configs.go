package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"autocdn/internal/core"
	"autocdn/internal/store"

	"github.com/go-chi/chi/v5"
)

const maxConfigBody = 1 << 20

type createConfigRequest struct {
	Name string `json:"name"`
}

type configListResponse struct {
	Configs []string `json:"configs"`
}

func (s *Server) handleListConfigs(w http.ResponseWriter, r *http.Request) {
	names, err := s.deps.Configs.List(r.Context())
	if err != nil {
		s.logger.Error("list configs", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", core.Describe("list configs", err))
		return
	}
	writeJSON(w, http.StatusOK, configListResponse{Configs: names})
}

func (s *Server) handleCreateConfig(w http.ResponseWriter, r *http.Request) {
	var req createConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	name := core.NormalizeName(req.Name)
	if err := s.deps.Configs.Create(r.Context(), name); err != nil {
		s.writeConfigError(w, "create config", name, err)
		return
	}
	s.logger.Info("config created", "config", name)
	writeJSON(w, http.StatusCreated, createConfigRequest{Name: name})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	rec, err := s.deps.Configs.Load(r.Context(), name)
	if err != nil {
		s.writeConfigError(w, "load config", name, err)
		return
	}
	if strings.EqualFold(r.URL.Query().Get("format"), "yaml") {
		data, err := store.EncodeRecord(rec)
		if err != nil {
			s.logger.Error("encode config", "config", name, "err", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to encode config")
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(data)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleSaveConfig(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxConfigBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to read body")
		return
	}

	var rec core.Record
	if strings.Contains(r.Header.Get("Content-Type"), "yaml") {
		rec, err = store.DecodeRecord(body)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_yaml", err.Error())
			return
		}
	} else if err := json.Unmarshal(body, &rec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	if err := rec.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_config", err.Error())
		return
	}
	if err := s.deps.Configs.Save(r.Context(), name, rec); err != nil {
		s.writeConfigError(w, "save config", name, err)
		return
	}
	s.logger.Info("config saved", "config", name)
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteConfig(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.deps.Configs.Delete(r.Context(), name); err != nil {
		s.writeConfigError(w, "delete config", name, err)
		return
	}
	s.logger.Info("config deleted", "config", name)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeConfigError(w http.ResponseWriter, op, name string, err error) {
	msg := core.Describe(op, err)
	switch {
	case errors.Is(err, core.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", msg)
	case errors.Is(err, core.ErrNameConflict):
		writeError(w, http.StatusConflict, "conflict", msg)
	case errors.Is(err, core.ErrInvalidName):
		writeError(w, http.StatusBadRequest, "invalid_name", msg)
	case errors.Is(err, core.ErrValidation):
		writeError(w, http.StatusBadRequest, "invalid_config", msg)
	default:
		s.logger.Error(op, "config", name, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", msg)
	}
}
