package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/dwsmith1983/lakeloader/pkg/types"
)

// WaitFor polls check every 10ms until it returns true or timeout is reached.
func WaitFor(t *testing.T, timeout time.Duration, check func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for condition: %s", msg)
}

// WaitForRunStatus polls until the workflow's latest run has the given status.
func WaitForRunStatus(t *testing.T, prov *MockProvider, workflow string, status types.RunStatus, timeout time.Duration) types.RunRecord {
	t.Helper()
	var run types.RunRecord
	WaitFor(t, timeout, func() bool {
		latest, err := prov.LatestRun(context.Background(), workflow)
		if err != nil || latest == nil {
			return false
		}
		run = *latest
		return run.Status == status
	}, "run with status "+string(status)+" for "+workflow)
	return run
}

// StepStatuses collapses a run's step attempts to the final status per node.
func StepStatuses(t *testing.T, prov *MockProvider, runID string) map[string]types.StepStatus {
	t.Helper()
	steps, err := prov.ListStepRuns(context.Background(), runID)
	if err != nil {
		t.Fatalf("listing step runs: %v", err)
	}
	out := make(map[string]types.StepStatus, len(steps))
	for _, s := range steps {
		out[s.NodeID] = s.Status
	}
	return out
}
