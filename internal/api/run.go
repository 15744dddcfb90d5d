package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

type asyncRunResponse struct {
	RunID string `json:"run_id"`
	Group string `json:"group"`
}

type cancelResponse struct {
	TokensCancelled int `json:"tokens_cancelled"`
}

// handleRunGroup runs the group and responds with the run record once every
// task has finished. A client that disconnects cancels the run's tasks.
func (s *Server) handleRunGroup(w http.ResponseWriter, r *http.Request) {
	group := chi.URLParam(r, "name")

	// A run may outlast the server write timeout.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Debug("clear write deadline for run", "error", err)
	}

	run, err := s.engine.Run(r.Context(), group)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleRunGroupAsync(w http.ResponseWriter, r *http.Request) {
	group := chi.URLParam(r, "name")

	id, err := s.engine.Start(group)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, asyncRunResponse{RunID: id, Group: group})
}

func (s *Server) handleCancel(w http.ResponseWriter, _ *http.Request) {
	n := s.broadcaster.Broadcast()
	s.writeJSON(w, http.StatusOK, cancelResponse{TokensCancelled: n})
}
