// Package providertest provides shared conformance tests for provider.RunStore
// implementations. Call RunAll from a test function with a store that starts
// empty.
package providertest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/lakeloader/internal/provider"
	"github.com/dwsmith1983/lakeloader/pkg/types"
)

// RunAll runs the complete run store conformance suite as subtests.
func RunAll(t *testing.T, store provider.RunStore) {
	t.Helper()

	t.Run("RunPutGet", func(t *testing.T) { TestRunPutGet(t, store) })
	t.Run("RunUpsert", func(t *testing.T) { TestRunUpsert(t, store) })
	t.Run("LatestRun", func(t *testing.T) { TestLatestRun(t, store) })
	t.Run("ListRuns", func(t *testing.T) { TestListRuns(t, store) })
	t.Run("StepRunsAppendOnly", func(t *testing.T) { TestStepRunsAppendOnly(t, store) })
	t.Run("ConcurrentStepRuns", func(t *testing.T) { TestConcurrentStepRuns(t, store) })
	t.Run("Ping", func(t *testing.T) { require.NoError(t, store.Ping(context.Background())) })
}

// TestRunPutGet verifies put, get and the nil not-found result.
func TestRunPutGet(t *testing.T, store provider.RunStore) {
	ctx := context.Background()
	started := time.Now().UTC().Truncate(time.Microsecond)

	require.NoError(t, store.PutRun(ctx, types.RunRecord{
		RunID: "ct-get", Workflow: "ct-get-wf", Status: types.RunRunning, StartedAt: started,
	}))

	got, err := store.GetRun(ctx, "ct-get")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "ct-get-wf", got.Workflow)
	assert.Equal(t, types.RunRunning, got.Status)
	assert.True(t, started.Equal(got.StartedAt))
	assert.Nil(t, got.CompletedAt)

	missing, err := store.GetRun(ctx, "ct-nonexistent")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

// TestRunUpsert verifies a second PutRun replaces the first.
func TestRunUpsert(t *testing.T, store provider.RunStore) {
	ctx := context.Background()
	started := time.Now().UTC().Truncate(time.Microsecond)

	run := types.RunRecord{RunID: "ct-upsert", Workflow: "ct-upsert-wf", Status: types.RunRunning, StartedAt: started}
	require.NoError(t, store.PutRun(ctx, run))

	done := started.Add(time.Minute)
	run.Status = types.RunFailed
	run.CompletedAt = &done
	run.Failed = []string{"orders_append_to_datalake"}
	run.Blocked = []string{"all_migrations_complete"}
	require.NoError(t, store.PutRun(ctx, run))

	got, err := store.GetRun(ctx, "ct-upsert")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, types.RunFailed, got.Status)
	assert.Equal(t, []string{"orders_append_to_datalake"}, got.Failed)
	assert.Equal(t, []string{"all_migrations_complete"}, got.Blocked)
	assert.Empty(t, got.Skipped)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, done.Equal(*got.CompletedAt))

	runs, err := store.ListRuns(ctx, "ct-upsert-wf", 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1, "upsert must not duplicate the run")
}

// TestLatestRun verifies the nil result for an unknown workflow and that the
// newest run wins.
func TestLatestRun(t *testing.T, store provider.RunStore) {
	ctx := context.Background()

	latest, err := store.LatestRun(ctx, "ct-latest-wf")
	require.NoError(t, err)
	assert.Nil(t, latest)

	base := time.Now().UTC().Truncate(time.Microsecond)
	for i, status := range []types.RunStatus{types.RunSucceeded, types.RunFailed} {
		require.NoError(t, store.PutRun(ctx, types.RunRecord{
			RunID:     fmt.Sprintf("ct-latest-%d", i),
			Workflow:  "ct-latest-wf",
			Status:    status,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	latest, err = store.LatestRun(ctx, "ct-latest-wf")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "ct-latest-1", latest.RunID)
	assert.Equal(t, types.RunFailed, latest.Status)
}

// TestListRuns verifies newest-first ordering, the limit and workflow isolation.
func TestListRuns(t *testing.T, store provider.RunStore) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.PutRun(ctx, types.RunRecord{
			RunID:     fmt.Sprintf("ct-list-%d", i),
			Workflow:  "ct-list-wf",
			Status:    types.RunSucceeded,
			StartedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, store.PutRun(ctx, types.RunRecord{
		RunID: "ct-list-other", Workflow: "ct-list-other-wf", Status: types.RunSucceeded, StartedAt: base,
	}))

	runs, err := store.ListRuns(ctx, "ct-list-wf", 3)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "ct-list-4", runs[0].RunID)
	assert.Equal(t, "ct-list-3", runs[1].RunID)
	assert.Equal(t, "ct-list-2", runs[2].RunID)

	runs, err = store.ListRuns(ctx, "ct-list-wf", 100)
	require.NoError(t, err)
	assert.Len(t, runs, 5)

	runs, err = store.ListRuns(ctx, "ct-list-none", 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

// TestStepRunsAppendOnly verifies every attempt is kept in insertion order.
func TestStepRunsAppendOnly(t *testing.T, store provider.RunStore) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	attempts := []types.StepRun{
		{RunID: "ct-steps", NodeID: "orders_migrate_to_postgres", Attempt: 1, Status: types.StepRunning, StartedAt: now},
		{RunID: "ct-steps", NodeID: "orders_migrate_to_postgres", Attempt: 1, Status: types.StepFailed, Error: "boom", StartedAt: now, CompletedAt: &now},
		{RunID: "ct-steps", NodeID: "orders_migrate_to_postgres", Attempt: 2, Status: types.StepSucceeded, Rows: 3, StartedAt: now, CompletedAt: &now},
	}
	for _, a := range attempts {
		require.NoError(t, store.PutStepRun(ctx, a))
	}

	steps, err := store.ListStepRuns(ctx, "ct-steps")
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, types.StepRunning, steps[0].Status)
	assert.Equal(t, "boom", steps[1].Error)
	assert.Equal(t, 2, steps[2].Attempt)
	assert.Equal(t, int64(3), steps[2].Rows)

	none, err := store.ListStepRuns(ctx, "ct-steps-none")
	require.NoError(t, err)
	assert.Empty(t, none)
}

// TestConcurrentStepRuns verifies sibling chains can record attempts at the
// same time without losing any.
func TestConcurrentStepRuns(t *testing.T, store provider.RunStore) {
	ctx := context.Background()
	const writers = 10

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- store.PutStepRun(ctx, types.StepRun{
				RunID:     "ct-concurrent",
				NodeID:    fmt.Sprintf("t%d_append_to_datalake", i),
				Attempt:   1,
				Status:    types.StepSucceeded,
				StartedAt: time.Now().UTC(),
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	steps, err := store.ListStepRuns(ctx, "ct-concurrent")
	require.NoError(t, err)
	assert.Len(t, steps, writers)
}
