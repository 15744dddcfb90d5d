package api

import (
	"net/http"
)

// statsResponse is the JSON response for GET /v1/stats.
type statsResponse struct {
	Runs           int            `json:"runs"`
	Tasks          int            `json:"tasks"`
	ByStatus       map[string]int `json:"by_status"`
	ByKind         map[string]int `json:"by_kind"`
	AvgRunMS       float64        `json:"avg_run_ms"`
	AvgTaskMS      float64        `json:"avg_task_ms"`
	CancelledRatio float64        `json:"cancelled_ratio"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetRunStats(r.Context())
	if err != nil {
		s.logger.Error("get run stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		Runs:           stats.Runs,
		Tasks:          stats.Tasks,
		ByStatus:       stats.CountByStatus,
		ByKind:         stats.CountByKind,
		AvgRunMS:       stats.AvgRunMS,
		AvgTaskMS:      stats.AvgTaskMS,
		CancelledRatio: stats.CancelledRatio,
	})
}
