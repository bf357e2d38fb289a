package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dwsmith1983/lakeloader/internal/testutil"
	"github.com/dwsmith1983/lakeloader/pkg/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fanGraph builds start -> {a1 -> a2, b1 -> b2} -> join.
func fanGraph() *types.PipelineGraph {
	node := func(id string, kind types.StepKind) types.Node { return types.Node{ID: id, Kind: kind} }
	return &types.PipelineGraph{
		Name: "cleansers",
		Nodes: []types.Node{
			node("start", types.StepBarrier),
			node("a1", types.StepMigrate),
			node("a2", types.StepAppend),
			node("b1", types.StepMigrate),
			node("b2", types.StepAppend),
			node("join", types.StepBarrier),
		},
		Edges: []types.Edge{
			{From: "start", To: "a1"}, {From: "a1", To: "a2"}, {From: "a2", To: "join"},
			{From: "start", To: "b1"}, {From: "b1", To: "b2"}, {From: "b2", To: "join"},
		},
	}
}

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) step(id string, err error) StepFunc {
	return func(context.Context) (int64, error) {
		r.mu.Lock()
		r.calls = append(r.calls, id)
		r.mu.Unlock()
		return 1, err
	}
}

func (r *recorder) count(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c == id {
			n++
		}
	}
	return n
}

func okSteps(rec *recorder, g *types.PipelineGraph) map[string]StepFunc {
	steps := make(map[string]StepFunc, len(g.Nodes))
	for _, n := range g.Nodes {
		steps[n.ID] = rec.step(n.ID, nil)
	}
	return steps
}

func noBackoff(attempts int) Options {
	return Options{Retry: types.RetryPolicy{MaxAttempts: attempts}}
}

func TestExecute_AllSucceed(t *testing.T) {
	prov := testutil.NewMockProvider()
	rec := &recorder{}
	g := fanGraph()

	run, err := New(prov, nil).Execute(context.Background(), g, okSteps(rec, g), noBackoff(1))
	require.NoError(t, err)
	assert.Equal(t, types.RunSucceeded, run.Status)
	assert.NotEmpty(t, run.RunID)
	assert.NotNil(t, run.CompletedAt)
	assert.Empty(t, run.Failed)

	assert.Equal(t, "start", rec.calls[0])
	assert.Equal(t, "join", rec.calls[len(rec.calls)-1])

	for id, status := range testutil.StepStatuses(t, prov, run.RunID) {
		assert.Equal(t, types.StepSucceeded, status, id)
	}
	latest, err := prov.LatestRun(context.Background(), "cleansers")
	require.NoError(t, err)
	assert.Equal(t, types.RunSucceeded, latest.Status)
}

func TestExecute_FailureIsolatedToChain(t *testing.T) {
	prov := testutil.NewMockProvider()
	rec := &recorder{}
	g := fanGraph()
	steps := okSteps(rec, g)
	steps["a1"] = rec.step("a1", errors.New("source unavailable"))

	var alerts []types.Alert
	var mu sync.Mutex
	eng := New(prov, func(_ context.Context, a types.Alert) {
		mu.Lock()
		alerts = append(alerts, a)
		mu.Unlock()
	})

	run, err := eng.Execute(context.Background(), g, steps, noBackoff(1))
	require.NoError(t, err)
	assert.Equal(t, types.RunFailed, run.Status)
	assert.Equal(t, []string{"a1"}, run.Failed)
	assert.Equal(t, []string{"a2", "join"}, run.Blocked)

	statuses := testutil.StepStatuses(t, prov, run.RunID)
	assert.Equal(t, types.StepFailed, statuses["a1"])
	assert.Equal(t, types.StepUpstreamFailed, statuses["a2"])
	assert.Equal(t, types.StepSucceeded, statuses["b1"])
	assert.Equal(t, types.StepSucceeded, statuses["b2"])
	assert.Equal(t, types.StepUpstreamFailed, statuses["join"])
	assert.Zero(t, rec.count("join"))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, alerts, 2)
	assert.Equal(t, "a1", alerts[0].NodeID)
	assert.Equal(t, "run_failed", alerts[1].Category)
}

func TestExecute_RetriesTransientFailure(t *testing.T) {
	prov := testutil.NewMockProvider()
	g := fanGraph()
	rec := &recorder{}
	steps := okSteps(rec, g)

	var attempts int32
	steps["b2"] = func(context.Context) (int64, error) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return 0, errors.New("deadlock detected")
		}
		return 7, nil
	}

	run, err := New(prov, nil).Execute(context.Background(), g, steps, noBackoff(3))
	require.NoError(t, err)
	assert.Equal(t, types.RunSucceeded, run.Status)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))

	stepRuns, err := prov.ListStepRuns(context.Background(), run.RunID)
	require.NoError(t, err)
	var b2 []types.StepRun
	for _, s := range stepRuns {
		if s.NodeID == "b2" && s.Status != types.StepRunning {
			b2 = append(b2, s)
		}
	}
	require.Len(t, b2, 3)
	assert.Equal(t, types.StepFailed, b2[0].Status)
	assert.Equal(t, types.StepSucceeded, b2[2].Status)
	assert.Equal(t, 3, b2[2].Attempt)
	assert.Equal(t, int64(7), b2[2].Rows)
}

func TestExecute_ConfigurationErrorNotRetried(t *testing.T) {
	prov := testutil.NewMockProvider()
	g := fanGraph()
	rec := &recorder{}
	steps := okSteps(rec, g)
	steps["a1"] = rec.step("a1", &types.ConfigurationError{Field: "aggregation_query", Reason: "unparseable"})

	run, err := New(prov, nil).Execute(context.Background(), g, steps, noBackoff(5))
	require.NoError(t, err)
	assert.Equal(t, types.RunFailed, run.Status)
	assert.Equal(t, 1, rec.count("a1"))
}

func TestExecute_SkipUnblocksJoin(t *testing.T) {
	prov := testutil.NewMockProvider()
	g := fanGraph()
	rec := &recorder{}
	steps := okSteps(rec, g)
	steps["a1"] = rec.step("a1", errors.New("broken"))

	opts := noBackoff(1)
	opts.Skip = []string{"a1", "a2"}
	run, err := New(prov, nil).Execute(context.Background(), g, steps, opts)
	require.NoError(t, err)
	assert.Equal(t, types.RunSucceeded, run.Status)
	assert.Equal(t, []string{"a1", "a2"}, run.Skipped)
	assert.Zero(t, rec.count("a1"))
	assert.Equal(t, 1, rec.count("join"))
}

func TestExecute_Cancellation(t *testing.T) {
	prov := testutil.NewMockProvider()
	g := fanGraph()
	rec := &recorder{}
	steps := okSteps(rec, g)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	started := make(chan struct{})
	block := func(ctx context.Context) (int64, error) {
		started <- struct{}{}
		<-ctx.Done()
		return 0, ctx.Err()
	}
	steps["a1"] = block
	steps["b1"] = block

	go func() {
		<-started
		<-started
		cancel()
	}()

	run, err := New(prov, nil).Execute(ctx, g, steps, noBackoff(3))
	require.NoError(t, err)
	assert.Equal(t, types.RunCancelled, run.Status)

	statuses := testutil.StepStatuses(t, prov, run.RunID)
	assert.Equal(t, types.StepSucceeded, statuses["start"])
	assert.Equal(t, types.StepCancelled, statuses["a1"])
	assert.Equal(t, types.StepCancelled, statuses["a2"])
	assert.Equal(t, types.StepCancelled, statuses["join"])
	assert.Zero(t, rec.count("a2"))

	latest, err := prov.LatestRun(context.Background(), "cleansers")
	require.NoError(t, err)
	assert.Equal(t, types.RunCancelled, latest.Status)
}

func TestExecute_CancelInterruptsBackoff(t *testing.T) {
	prov := testutil.NewMockProvider()
	g := fanGraph()
	rec := &recorder{}
	steps := okSteps(rec, g)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	failed := make(chan struct{}, 1)
	steps["a1"] = func(context.Context) (int64, error) {
		failed <- struct{}{}
		return 0, errors.New("timeout")
	}
	go func() {
		<-failed
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	opts := Options{Retry: types.RetryPolicy{MaxAttempts: 3, BackoffSeconds: 3600}}
	start := time.Now()
	run, err := New(prov, nil).Execute(ctx, g, steps, opts)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, types.RunCancelled, run.Status)
	assert.Equal(t, 0, rec.count("a2"))
	assert.Equal(t, types.StepCancelled, testutil.StepStatuses(t, prov, run.RunID)["a1"])
}

func TestExecute_MaxParallel(t *testing.T) {
	prov := testutil.NewMockProvider()
	g := &types.PipelineGraph{Name: "wide"}
	steps := make(map[string]StepFunc)
	var current, peak int32
	for _, id := range []string{"n1", "n2", "n3", "n4", "n5", "n6"} {
		g.Nodes = append(g.Nodes, types.Node{ID: id})
		steps[id] = func(context.Context) (int64, error) {
			n := atomic.AddInt32(&current, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			atomic.AddInt32(&current, -1)
			return 0, nil
		}
	}

	opts := noBackoff(1)
	opts.MaxParallel = 2
	run, err := New(prov, nil).Execute(context.Background(), g, steps, opts)
	require.NoError(t, err)
	assert.Equal(t, types.RunSucceeded, run.Status)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestExecute_PanicBecomesFailure(t *testing.T) {
	prov := testutil.NewMockProvider()
	g := fanGraph()
	steps := okSteps(&recorder{}, g)
	steps["b1"] = func(context.Context) (int64, error) { panic("boom") }

	run, err := New(prov, nil).Execute(context.Background(), g, steps, noBackoff(1))
	require.NoError(t, err)
	assert.Equal(t, []string{"b1"}, run.Failed)
}

func TestExecute_InvalidInput(t *testing.T) {
	prov := testutil.NewMockProvider()
	eng := New(prov, nil)

	cyclic := &types.PipelineGraph{
		Name:  "loop",
		Nodes: []types.Node{{ID: "x"}, {ID: "y"}},
		Edges: []types.Edge{{From: "x", To: "y"}, {From: "y", To: "x"}},
	}
	_, err := eng.Execute(context.Background(), cyclic, map[string]StepFunc{}, noBackoff(1))
	assert.ErrorContains(t, err, "cycle")

	g := fanGraph()
	steps := okSteps(&recorder{}, g)
	delete(steps, "b2")
	_, err = eng.Execute(context.Background(), g, steps, noBackoff(1))
	assert.ErrorContains(t, err, `no step bound to node "b2"`)
}

func TestRunNode(t *testing.T) {
	prov := testutil.NewMockProvider()
	g := fanGraph()
	rec := &recorder{}
	steps := okSteps(rec, g)
	steps["b1"] = rec.step("b1", errors.New("nope"))
	eng := New(prov, nil)

	step, err := eng.RunNode(context.Background(), g, steps, "exec-1", "a1")
	require.NoError(t, err)
	assert.Equal(t, types.StepSucceeded, step.Status)
	assert.Equal(t, int64(1), step.Rows)

	step, err = eng.RunNode(context.Background(), g, steps, "exec-1", "b1")
	assert.Error(t, err)
	assert.Equal(t, types.StepFailed, step.Status)

	_, err = eng.RunNode(context.Background(), g, steps, "exec-1", "zzz")
	assert.ErrorIs(t, err, ErrStepNotFound)

	stepRuns, _ := prov.ListStepRuns(context.Background(), "exec-1")
	assert.Len(t, stepRuns, 2)
}

func TestBeginFinishRun_Succeeded(t *testing.T) {
	ctx := context.Background()
	prov := testutil.NewMockProvider()
	g := fanGraph()
	steps := okSteps(&recorder{}, g)
	eng := New(prov, nil)

	require.NoError(t, eng.BeginRun(ctx, g, "exec-1"))
	first, err := prov.GetRun(ctx, "exec-1")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, types.RunRunning, first.Status)

	// A second begin keeps the original start time.
	require.NoError(t, eng.BeginRun(ctx, g, "exec-1"))
	again, _ := prov.GetRun(ctx, "exec-1")
	assert.Equal(t, first.StartedAt, again.StartedAt)

	order, err := g.TopologicalOrder()
	require.NoError(t, err)
	for _, id := range order {
		_, err := eng.RunNode(ctx, g, steps, "exec-1", id)
		require.NoError(t, err)
	}

	done, err := eng.FinishRun(ctx, g, "exec-1", types.RunSucceeded)
	require.NoError(t, err)
	assert.Equal(t, types.RunSucceeded, done.Status)
	assert.NotNil(t, done.CompletedAt)
	assert.Empty(t, done.Failed)
	assert.Empty(t, done.Blocked)

	latest, err := prov.LatestRun(ctx, "cleansers")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "exec-1", latest.RunID)
	assert.Equal(t, types.RunSucceeded, latest.Status)
}

func TestFinishRun_FailedReportsFailedAndBlocked(t *testing.T) {
	ctx := context.Background()
	prov := testutil.NewMockProvider()
	g := fanGraph()
	rec := &recorder{}
	steps := okSteps(rec, g)
	steps["b1"] = rec.step("b1", errors.New("nope"))
	var alerts []types.Alert
	eng := New(prov, func(_ context.Context, a types.Alert) { alerts = append(alerts, a) })

	require.NoError(t, eng.BeginRun(ctx, g, "exec-2"))
	for _, id := range []string{"start", "a1", "a2", "b1"} {
		_, _ = eng.RunNode(ctx, g, steps, "exec-2", id)
	}

	done, err := eng.FinishRun(ctx, g, "exec-2", types.RunFailed)
	require.NoError(t, err)
	assert.Equal(t, types.RunFailed, done.Status)
	assert.Equal(t, []string{"b1"}, done.Failed)
	assert.Equal(t, []string{"b2", "join"}, done.Blocked)
	require.Len(t, alerts, 1)
	assert.Equal(t, "run_failed", alerts[0].Category)
}

func TestFinishRun_RetriedStepCountsLastAttempt(t *testing.T) {
	ctx := context.Background()
	prov := testutil.NewMockProvider()
	g := fanGraph()
	calls := 0
	steps := okSteps(&recorder{}, g)
	steps["a1"] = func(context.Context) (int64, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("transient")
		}
		return 1, nil
	}
	eng := New(prov, nil)

	_, err := eng.RunNode(ctx, g, steps, "exec-3", "a1")
	require.Error(t, err)
	_, err = eng.RunNode(ctx, g, steps, "exec-3", "a1")
	require.NoError(t, err)

	done, err := eng.FinishRun(ctx, g, "exec-3", types.RunSucceeded)
	require.NoError(t, err)
	assert.Empty(t, done.Failed)
}

func TestFinishRun_RejectsNonTerminalStatus(t *testing.T) {
	eng := New(testutil.NewMockProvider(), nil)
	_, err := eng.FinishRun(context.Background(), fanGraph(), "exec-4", types.RunRunning)
	assert.Error(t, err)
}
