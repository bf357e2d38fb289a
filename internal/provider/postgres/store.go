package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dwsmith1983/lakeloader/internal/provider"
	"github.com/dwsmith1983/lakeloader/pkg/types"
)

const defaultListLimit = 20

// Store is a Postgres-backed run store.
type Store struct {
	pool *pgxpool.Pool
}

var _ provider.RunStore = (*Store)(nil)

// New creates a new Postgres Store and verifies the connection.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewFromPool wraps an existing pool, typically the warehouse's. Close on
// the returned Store closes the shared pool.
func NewFromPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate runs the schema DDL to create tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schemaDDL)
	if err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// PutRun upserts a run record.
func (s *Store) PutRun(ctx context.Context, run types.RunRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO lakeloader_runs (run_id, workflow, status, started_at, completed_at, failed, blocked, skipped)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (run_id) DO UPDATE SET
			status       = EXCLUDED.status,
			completed_at = EXCLUDED.completed_at,
			failed       = EXCLUDED.failed,
			blocked      = EXCLUDED.blocked,
			skipped      = EXCLUDED.skipped,
			updated_at   = NOW()
	`, run.RunID, run.Workflow, string(run.Status), run.StartedAt, run.CompletedAt,
		nonNil(run.Failed), nonNil(run.Blocked), nonNil(run.Skipped))
	if err != nil {
		return fmt.Errorf("put run %s: %w", run.RunID, err)
	}
	return nil
}

const runColumns = `run_id, workflow, status, started_at, completed_at, failed, blocked, skipped`

// GetRun returns a run by id, or nil when it does not exist.
func (s *Store) GetRun(ctx context.Context, runID string) (*types.RunRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM lakeloader_runs WHERE run_id = $1`, runID)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	return &run, nil
}

// LatestRun returns the most recently started run of a workflow.
func (s *Store) LatestRun(ctx context.Context, workflow string) (*types.RunRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+runColumns+` FROM lakeloader_runs
		WHERE workflow = $1
		ORDER BY started_at DESC, run_id DESC
		LIMIT 1
	`, workflow)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest run %s: %w", workflow, err)
	}
	return &run, nil
}

// ListRuns returns recent runs of a workflow, most recent first.
func (s *Store) ListRuns(ctx context.Context, workflow string, limit int) ([]types.RunRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+runColumns+` FROM lakeloader_runs
		WHERE workflow = $1
		ORDER BY started_at DESC, run_id DESC
		LIMIT $2
	`, workflow, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs %s: %w", workflow, err)
	}
	defer rows.Close()

	var runs []types.RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// PutStepRun appends one step attempt record.
func (s *Store) PutStepRun(ctx context.Context, step types.StepRun) error {
	var errText *string
	if step.Error != "" {
		errText = &step.Error
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO lakeloader_step_runs (run_id, node_id, attempt, status, error, row_count, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, step.RunID, step.NodeID, step.Attempt, string(step.Status), errText, step.Rows, step.StartedAt, step.CompletedAt)
	if err != nil {
		return fmt.Errorf("put step run %s/%s: %w", step.RunID, step.NodeID, err)
	}
	return nil
}

// ListStepRuns returns every recorded attempt of a run in write order.
func (s *Store) ListStepRuns(ctx context.Context, runID string) ([]types.StepRun, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT run_id, node_id, attempt, status, COALESCE(error, ''), row_count, started_at, completed_at
		FROM lakeloader_step_runs
		WHERE run_id = $1
		ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list step runs %s: %w", runID, err)
	}
	defer rows.Close()

	var steps []types.StepRun
	for rows.Next() {
		var sr types.StepRun
		var status string
		if err := rows.Scan(&sr.RunID, &sr.NodeID, &sr.Attempt, &status, &sr.Error,
			&sr.Rows, &sr.StartedAt, &sr.CompletedAt); err != nil {
			return nil, err
		}
		sr.Status = types.StepStatus(status)
		steps = append(steps, sr)
	}
	return steps, rows.Err()
}

func scanRun(row pgx.Row) (types.RunRecord, error) {
	var run types.RunRecord
	var status string
	err := row.Scan(&run.RunID, &run.Workflow, &status, &run.StartedAt, &run.CompletedAt,
		&run.Failed, &run.Blocked, &run.Skipped)
	run.Status = types.RunStatus(status)
	run.Failed = emptyToNil(run.Failed)
	run.Blocked = emptyToNil(run.Blocked)
	run.Skipped = emptyToNil(run.Skipped)
	return run, err
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func emptyToNil(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}
