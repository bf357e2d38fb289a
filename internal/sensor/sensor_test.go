package sensor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/lakeloader/internal/testutil"
	"github.com/dwsmith1983/lakeloader/pkg/types"
)

func putRun(t *testing.T, prov *testutil.MockProvider, id string, status types.RunStatus) {
	t.Helper()
	now := time.Now()
	require.NoError(t, prov.PutRun(context.Background(), types.RunRecord{
		RunID:       id,
		Workflow:    "mongo_to_postgres",
		Status:      status,
		StartedAt:   now,
		CompletedAt: &now,
	}))
}

func TestCheck_NeverRun(t *testing.T) {
	res, err := NewGate(testutil.NewMockProvider(), 0, 0).Check(context.Background(), "mongo_to_postgres")
	require.NoError(t, err)
	assert.False(t, res.Ready)
	assert.Contains(t, res.Reason, "never run")
}

func TestCheck_Succeeded(t *testing.T) {
	prov := testutil.NewMockProvider()
	putRun(t, prov, "run-1", types.RunSucceeded)

	res, err := NewGate(prov, 0, 0).Check(context.Background(), "mongo_to_postgres")
	require.NoError(t, err)
	assert.True(t, res.Ready)
	assert.Equal(t, "run-1", res.RunID)
	assert.NotNil(t, res.CompletedAt)
}

func TestCheck_LatestRunFailed(t *testing.T) {
	prov := testutil.NewMockProvider()
	putRun(t, prov, "run-1", types.RunSucceeded)
	putRun(t, prov, "run-2", types.RunFailed)

	res, err := NewGate(prov, 0, 0).Check(context.Background(), "mongo_to_postgres")
	require.NoError(t, err)
	assert.False(t, res.Ready)
	assert.Contains(t, res.Reason, "FAILED")
}

func TestWait_BecomesReady(t *testing.T) {
	prov := testutil.NewMockProvider()
	putRun(t, prov, "run-1", types.RunRunning)

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = prov.PutRun(context.Background(), types.RunRecord{RunID: "run-1", Workflow: "mongo_to_postgres", Status: types.RunSucceeded})
	}()

	res, err := NewGate(prov, 10*time.Millisecond, 5*time.Second).Wait(context.Background(), "mongo_to_postgres")
	require.NoError(t, err)
	assert.True(t, res.Ready)
}

func TestWait_Timeout(t *testing.T) {
	prov := testutil.NewMockProvider()
	putRun(t, prov, "run-1", types.RunRunning)

	_, err := NewGate(prov, 10*time.Millisecond, 50*time.Millisecond).Wait(context.Background(), "mongo_to_postgres")
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Contains(t, err.Error(), "RUNNING")
}

func TestWait_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewGate(testutil.NewMockProvider(), time.Hour, time.Hour).Wait(ctx, "mongo_to_postgres")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProbe_ChecksOnce(t *testing.T) {
	prov := testutil.NewMockProvider()
	probe := Probe{Gate: NewGate(prov, time.Hour, time.Hour)}

	start := time.Now()
	_, err := probe.Wait(context.Background(), "mongo_to_postgres")
	assert.ErrorIs(t, err, ErrNotReady)
	assert.Less(t, time.Since(start), time.Second)

	putRun(t, prov, "run-1", types.RunSucceeded)
	res, err := probe.Wait(context.Background(), "mongo_to_postgres")
	require.NoError(t, err)
	assert.Equal(t, "run-1", res.RunID)
}
