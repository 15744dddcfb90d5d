package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/cohort/internal/model"
	"github.com/seantiz/cohort/internal/registry"
	"github.com/seantiz/cohort/internal/store"
	"github.com/seantiz/cohort/internal/work"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20 // 1 MB
)

// groupRequest is the JSON body for POST /v1/groups and PUT /v1/groups/current.
type groupRequest struct {
	Name string `json:"name"`
}

type currentResponse struct {
	Name string `json:"name"`
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	if err := s.registry.CreateGroup(req.Name); err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.logger.Info("group created", "group", req.Name)
	s.writeJSON(w, http.StatusCreated, model.GroupSummary{Name: req.Name})
}

func (s *Server) handleGetCurrent(w http.ResponseWriter, _ *http.Request) {
	name, err := s.registry.Current()
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, currentResponse{Name: name})
}

func (s *Server) handleSwitchGroup(w http.ResponseWriter, r *http.Request) {
	var req groupRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	if err := s.registry.SwitchGroup(req.Name); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, currentResponse{Name: req.Name})
}

func (s *Server) handleAddTask(w http.ResponseWriter, r *http.Request) {
	group := chi.URLParam(r, "name")

	var spec model.TaskSpec
	if !s.decodeBody(w, r, &spec) {
		return
	}

	st, err := s.registry.AddTask(group, spec)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	s.logger.Info("task added", "group", group, "task", st.Name, "kind", st.Kind, "task_id", st.ID)
	s.writeJSON(w, http.StatusCreated, st)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	states, err := s.registry.Status(chi.URLParam(r, "name"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, states)
}

func (s *Server) handleSummary(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.registry.Summary())
}

// decodeBody decodes a size-limited JSON body into v, writing a 400 on failure.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// writeDomainError maps registry, work and store errors to HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrGroupNotFound),
		errors.Is(err, registry.ErrNoGroupSelected),
		errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, registry.ErrGroupExists),
		errors.Is(err, registry.ErrGroupRunning):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, registry.ErrInvalidName),
		errors.Is(err, registry.ErrInvalidTimeout),
		errors.Is(err, work.ErrUnknownKind),
		errors.Is(err, work.ErrInvalidArgument):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// writeJSON writes a JSON response with the given status code. A value that
// cannot be encoded becomes a 500 instead of an empty body.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("encode response", "error", err)
		status = http.StatusInternalServerError
		body = []byte(`{"error":"internal error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(append(body, '\n'))
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
