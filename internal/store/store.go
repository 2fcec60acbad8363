package store

import (
	"context"
	"time"

	"github.com/me/blocksched/pkg/model"
)

// Store defines the persistence layer for runs and the threads they retire.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run *model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, opts model.ListOptions) ([]*model.Run, int, error)
	UpdateRunTicks(ctx context.Context, id string, ticks int) error
	FinishRun(ctx context.Context, id string, state model.RunState, ticks int, at time.Time) error

	// Retired threads
	RecordRetired(ctx context.Context, threads []*model.RetiredThread) error
	ListRetired(ctx context.Context, runID string, opts model.ListOptions) ([]*model.RetiredThread, int, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}
