// Package provider defines the run-history storage interface for lakeloader.
package provider

import (
	"context"

	"github.com/dwsmith1983/lakeloader/pkg/types"
)

// RunStore persists workflow runs and per-step attempts. The engine writes
// to it and the upstream sensor reads the latest run of another workflow.
type RunStore interface {
	// Runs
	PutRun(ctx context.Context, run types.RunRecord) error
	// GetRun returns nil when the run does not exist.
	GetRun(ctx context.Context, runID string) (*types.RunRecord, error)
	// LatestRun returns nil when the workflow has never run.
	LatestRun(ctx context.Context, workflow string) (*types.RunRecord, error)
	ListRuns(ctx context.Context, workflow string, limit int) ([]types.RunRecord, error)

	// Step attempts, append-only
	PutStepRun(ctx context.Context, step types.StepRun) error
	ListStepRuns(ctx context.Context, runID string) ([]types.StepRun, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Close()
}
