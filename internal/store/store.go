package store

import (
	"context"
	"errors"

	"github.com/seantiz/cohort/internal/model"
)

// ErrNotFound is returned when a run is not found.
var ErrNotFound = errors.New("run not found")

// RunStats holds aggregate run statistics.
type RunStats struct {
	Runs           int            `json:"runs"`
	Tasks          int            `json:"tasks"`
	CountByStatus  map[string]int `json:"count_by_status"`
	CountByKind    map[string]int `json:"count_by_kind"`
	AvgRunMS       float64        `json:"avg_run_ms"`
	AvgTaskMS      float64        `json:"avg_task_ms"`
	CancelledRatio float64        `json:"cancelled_ratio"`
}

// Store records finished group runs. The history lives only as long as the
// process.
type Store interface {
	CreateRun(ctx context.Context, r *model.Run) error
	FinishRun(ctx context.Context, r *model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, group string, limit, offset int) ([]*model.Run, int, error)
	GetRunStats(ctx context.Context) (*RunStats, error)
	Close() error
}
