// Package engine executes a PipelineGraph: each node runs once its
// predecessors have succeeded, with bounded parallelism and retries.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/dwsmith1983/lakeloader/internal/lifecycle"
	"github.com/dwsmith1983/lakeloader/internal/metrics"
	"github.com/dwsmith1983/lakeloader/internal/provider"
	"github.com/dwsmith1983/lakeloader/pkg/types"
)

const instrumentationName = "github.com/dwsmith1983/lakeloader/internal/engine"

// StepFunc runs one node and returns the number of rows it touched.
type StepFunc func(ctx context.Context) (int64, error)

// Options control a single Execute call.
type Options struct {
	// MaxParallel bounds concurrently running steps. Zero means unbounded.
	MaxParallel int
	Retry       types.RetryPolicy
	// Skip lists nodes to mark SKIPPED without running them.
	Skip []string
}

// Engine runs pipeline graphs and records every attempt.
type Engine struct {
	store    provider.RunStore
	alertFn  func(context.Context, types.Alert)
	logger   *slog.Logger
	tracer   trace.Tracer
	duration metric.Float64Histogram
}

// New creates a new Engine. alertFn may be nil.
func New(store provider.RunStore, alertFn func(context.Context, types.Alert)) *Engine {
	e := &Engine{
		store:   store,
		alertFn: alertFn,
		logger:  slog.Default(),
		tracer:  otel.Tracer(instrumentationName),
	}
	hist, err := otel.Meter(instrumentationName).Float64Histogram("lakeloader.step.duration",
		metric.WithDescription("Duration of one step attempt"),
		metric.WithUnit("s"))
	if err != nil {
		e.logger.Warn("creating step duration histogram", "error", err)
	}
	e.duration = hist
	return e
}

// SetLogger replaces the logger.
func (e *Engine) SetLogger(logger *slog.Logger) { e.logger = logger }

type outcome struct {
	id     string
	status types.StepStatus
}

// run holds the mutable state of one Execute call. It is only touched by the
// coordinating goroutine.
type run struct {
	record    types.RunRecord
	graph     *types.PipelineGraph
	status    map[string]types.StepStatus
	remaining map[string]int
	skip      map[string]bool
}

// Execute runs graph to completion and returns the run record. The error is
// non-nil only when the graph or step table is unusable; step failures are
// reported through the record's status.
func (e *Engine) Execute(ctx context.Context, graph *types.PipelineGraph, steps map[string]StepFunc, opts Options) (*types.RunRecord, error) {
	order, err := graph.TopologicalOrder()
	if err != nil {
		return nil, fmt.Errorf("invalid graph: %w", err)
	}
	for _, id := range order {
		if steps[id] == nil {
			return nil, fmt.Errorf("no step bound to node %q", id)
		}
	}
	if opts.Retry.MaxAttempts < 1 {
		opts.Retry.MaxAttempts = 1
	}

	r := &run{
		record: types.RunRecord{
			RunID:     ulid.Make().String(),
			Workflow:  graph.Name,
			Status:    types.RunRunning,
			StartedAt: time.Now().UTC(),
		},
		graph:     graph,
		status:    make(map[string]types.StepStatus, len(order)),
		remaining: make(map[string]int, len(order)),
		skip:      make(map[string]bool, len(opts.Skip)),
	}
	for _, id := range opts.Skip {
		r.skip[id] = true
	}
	for _, id := range order {
		r.status[id] = types.StepPending
		r.remaining[id] = len(graph.Predecessors(id))
	}
	e.putRun(ctx, r.record)
	e.logger.Info("run started", "workflow", graph.Name, "runId", r.record.RunID, "nodes", len(order))

	g := new(errgroup.Group)
	if opts.MaxParallel > 0 {
		g.SetLimit(opts.MaxParallel)
	}
	done := make(chan outcome, len(order))
	inFlight := 0

	launch := func(id string) {
		inFlight++
		e.set(r, id, types.StepRunning)
		fn, rec := steps[id], r.record
		g.Go(func() error {
			done <- outcome{id: id, status: e.runStep(ctx, rec, id, fn, opts.Retry)}
			return nil
		})
	}

	var ready []string
	for _, id := range order {
		if r.remaining[id] == 0 {
			ready = append(ready, id)
		}
	}
	for len(ready) > 0 || inFlight > 0 {
		for len(ready) > 0 {
			id := ready[0]
			ready = ready[1:]
			if start := e.decide(ctx, r, id); start {
				launch(id)
			} else {
				ready = append(ready, r.release(id)...)
			}
		}
		if inFlight == 0 {
			break
		}
		o := <-done
		inFlight--
		e.set(r, o.id, o.status)
		ready = append(ready, r.release(o.id)...)
	}
	_ = g.Wait()

	e.finish(ctx, r, order)
	return &r.record, nil
}

// decide settles a node whose predecessors are all terminal. It returns true
// when the node should run; otherwise it records the node's final status.
func (e *Engine) decide(ctx context.Context, r *run, id string) bool {
	var blocked bool
	for _, p := range r.graph.Predecessors(id) {
		if !lifecycle.Unblocks(r.status[p]) {
			blocked = true
			break
		}
	}

	var final types.StepStatus
	switch {
	case ctx.Err() != nil:
		final = types.StepCancelled
	case blocked:
		final = types.StepUpstreamFailed
	case r.skip[id]:
		final = types.StepSkipped
	default:
		return true
	}

	e.set(r, id, final)
	now := time.Now().UTC()
	e.putStepRun(ctx, types.StepRun{
		RunID:       r.record.RunID,
		NodeID:      id,
		Status:      final,
		StartedAt:   now,
		CompletedAt: &now,
	})
	if final != types.StepCancelled {
		e.logger.Info("step not run", "runId", r.record.RunID, "node", id, "status", final)
	}
	return false
}

// set moves a node to status, logging transitions the step FSM rejects.
func (e *Engine) set(r *run, id string, status types.StepStatus) {
	if err := lifecycle.Transition(r.status[id], status); err != nil {
		e.logger.Error("unexpected step transition", "runId", r.record.RunID, "node", id, "error", err)
	}
	r.status[id] = status
}

// release returns the successors of id that now have every predecessor settled.
func (r *run) release(id string) []string {
	var out []string
	for _, s := range r.graph.Successors(id) {
		r.remaining[s]--
		if r.remaining[s] == 0 {
			out = append(out, s)
		}
	}
	return out
}

// runStep executes fn with retries and returns its terminal status.
func (e *Engine) runStep(ctx context.Context, rec types.RunRecord, id string, fn StepFunc, policy types.RetryPolicy) types.StepStatus {
	for attempt := 1; ; attempt++ {
		started := time.Now().UTC()
		e.putStepRun(ctx, types.StepRun{RunID: rec.RunID, NodeID: id, Attempt: attempt, Status: types.StepRunning, StartedAt: started})

		rows, err := e.attempt(ctx, rec, id, attempt, fn)

		completed := time.Now().UTC()
		step := types.StepRun{RunID: rec.RunID, NodeID: id, Attempt: attempt, Rows: rows, StartedAt: started, CompletedAt: &completed}

		switch {
		case err == nil:
			step.Status = types.StepSucceeded
			e.putStepRun(ctx, step)
			metrics.StepsSucceeded.Add(1)
			e.logger.Info("step succeeded", "runId", rec.RunID, "node", id, "attempt", attempt, "rows", rows,
				"duration", completed.Sub(started).String())
			return types.StepSucceeded

		case ctx.Err() != nil:
			step.Status = types.StepCancelled
			step.Error = err.Error()
			e.putStepRun(ctx, step)
			e.logger.Warn("step cancelled", "runId", rec.RunID, "node", id, "attempt", attempt, "error", err)
			return types.StepCancelled

		case shouldRetry(policy, attempt, err):
			step.Status = types.StepFailed
			step.Error = err.Error()
			e.putStepRun(ctx, step)
			metrics.StepsRetried.Add(1)
			wait := CalculateBackoff(policy, attempt)
			e.logger.Warn("step failed, retrying", "runId", rec.RunID, "node", id, "attempt", attempt,
				"backoff", wait.String(), "error", err)
			if serr := sleep(ctx, wait); serr != nil {
				step.Status = types.StepCancelled
				e.putStepRun(ctx, step)
				return types.StepCancelled
			}

		default:
			step.Status = types.StepFailed
			step.Error = err.Error()
			e.putStepRun(ctx, step)
			metrics.StepsFailed.Add(1)
			e.logger.Error("step failed", "runId", rec.RunID, "node", id, "attempt", attempt, "error", err)
			e.fireAlert(ctx, types.Alert{
				Level:    types.AlertLevelError,
				Category: "step_failed",
				Workflow: rec.Workflow,
				NodeID:   id,
				Message:  fmt.Sprintf("step %s failed after %d attempt(s): %v", id, attempt, err),
				Details:  map[string]interface{}{"runId": rec.RunID, "retryable": types.IsRetryable(err)},
			})
			return types.StepFailed
		}
	}
}

// attempt runs fn once inside a span and records its duration.
func (e *Engine) attempt(ctx context.Context, rec types.RunRecord, id string, n int, fn StepFunc) (rows int64, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("workflow", rec.Workflow),
		attribute.String("node", id),
		attribute.Int("attempt", n),
	}
	ctx, span := e.tracer.Start(ctx, "lakeloader.step", trace.WithAttributes(attrs...))
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("step panicked: %v", r)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Int64("rows", rows))
		span.End()
		if e.duration != nil {
			e.duration.Record(ctx, time.Since(start).Seconds(),
				metric.WithAttributes(attribute.String("node", id), attribute.Bool("ok", err == nil)))
		}
	}()
	return fn(ctx)
}

func (e *Engine) finish(ctx context.Context, r *run, order []string) {
	var failed, blocked, skipped []string
	cancelled := false
	for _, id := range order {
		switch r.status[id] {
		case types.StepFailed:
			failed = append(failed, id)
		case types.StepUpstreamFailed:
			blocked = append(blocked, id)
		case types.StepCancelled:
			blocked = append(blocked, id)
			cancelled = true
		case types.StepSkipped:
			skipped = append(skipped, id)
		}
	}

	now := time.Now().UTC()
	r.record.CompletedAt = &now
	r.record.Failed, r.record.Blocked, r.record.Skipped = failed, blocked, skipped
	switch {
	case len(failed) == 0 && len(blocked) == 0:
		r.record.Status = types.RunSucceeded
	case cancelled && len(failed) == 0:
		r.record.Status = types.RunCancelled
	default:
		r.record.Status = types.RunFailed
	}
	metrics.RunsCompleted.Add(1)

	// The run must be recorded even when the caller's context was cancelled.
	e.putRun(context.WithoutCancel(ctx), r.record)
	e.logger.Info("run finished", "workflow", r.record.Workflow, "runId", r.record.RunID, "status", r.record.Status,
		"failed", failed, "blocked", len(blocked), "skipped", skipped)

	if r.record.Status == types.RunFailed {
		e.fireAlert(ctx, types.Alert{
			Level:    types.AlertLevelError,
			Category: "run_failed",
			Workflow: r.record.Workflow,
			Message:  fmt.Sprintf("run %s failed: %d step(s) failed, %d blocked", r.record.RunID, len(failed), len(blocked)),
			Details:  map[string]interface{}{"failed": failed},
		})
	}
}

func (e *Engine) putRun(ctx context.Context, rec types.RunRecord) {
	if err := e.store.PutRun(ctx, rec); err != nil {
		e.logger.Error("recording run", "runId", rec.RunID, "error", err)
	}
}

func (e *Engine) putStepRun(ctx context.Context, step types.StepRun) {
	if err := e.store.PutStepRun(context.WithoutCancel(ctx), step); err != nil {
		e.logger.Error("recording step run", "runId", step.RunID, "node", step.NodeID, "error", err)
	}
}

func (e *Engine) fireAlert(ctx context.Context, alert types.Alert) {
	if e.alertFn != nil {
		e.alertFn(context.WithoutCancel(ctx), alert)
	}
}

// ErrStepNotFound is returned by RunNode for an unknown node id.
var ErrStepNotFound = errors.New("step not found")

// RunNode executes exactly one node outside of a full run, as a step Lambda
// does, with no retries. Retrying is left to the caller.
func (e *Engine) RunNode(ctx context.Context, graph *types.PipelineGraph, steps map[string]StepFunc, runID, id string) (types.StepRun, error) {
	if _, ok := graph.Node(id); !ok {
		return types.StepRun{}, fmt.Errorf("%w: %q", ErrStepNotFound, id)
	}
	fn := steps[id]
	if fn == nil {
		return types.StepRun{}, fmt.Errorf("%w: no step bound to %q", ErrStepNotFound, id)
	}
	rec := types.RunRecord{RunID: runID, Workflow: graph.Name}
	started := time.Now().UTC()
	rows, err := e.attempt(ctx, rec, id, 1, fn)
	completed := time.Now().UTC()

	step := types.StepRun{RunID: runID, NodeID: id, Attempt: 1, Rows: rows, StartedAt: started, CompletedAt: &completed, Status: types.StepSucceeded}
	if err != nil {
		step.Status = types.StepFailed
		step.Error = err.Error()
		metrics.StepsFailed.Add(1)
	} else {
		metrics.StepsSucceeded.Add(1)
	}
	e.putStepRun(ctx, step)
	return step, err
}

// BeginRun records runID as RUNNING unless it is already recorded. It lets an
// external orchestrator that calls RunNode node by node own a run record.
func (e *Engine) BeginRun(ctx context.Context, graph *types.PipelineGraph, runID string) error {
	existing, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("reading run %s: %w", runID, err)
	}
	if existing != nil {
		return nil
	}
	rec := types.RunRecord{RunID: runID, Workflow: graph.Name, Status: types.RunRunning, StartedAt: time.Now().UTC()}
	if err := e.store.PutRun(ctx, rec); err != nil {
		return fmt.Errorf("recording run %s: %w", runID, err)
	}
	e.logger.Info("run started", "workflow", graph.Name, "runId", runID)
	return nil
}

// FinishRun closes a run driven through RunNode. The orchestrator decides the
// status; failed nodes are read back from the last recorded attempt of each
// node, and on failure nodes that never ran are reported as blocked.
func (e *Engine) FinishRun(ctx context.Context, graph *types.PipelineGraph, runID string, status types.RunStatus) (*types.RunRecord, error) {
	if status != types.RunSucceeded && status != types.RunFailed {
		return nil, fmt.Errorf("cannot finish run %s as %q", runID, status)
	}
	rec, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("reading run %s: %w", runID, err)
	}
	if rec == nil {
		rec = &types.RunRecord{RunID: runID, Workflow: graph.Name, StartedAt: time.Now().UTC()}
	}
	steps, err := e.store.ListStepRuns(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("reading steps of run %s: %w", runID, err)
	}
	last := make(map[string]types.StepStatus, len(steps))
	for _, s := range steps {
		last[s.NodeID] = s.Status
	}

	var failed, blocked []string
	for _, n := range graph.Nodes {
		st, ran := last[n.ID]
		switch {
		case st == types.StepFailed:
			failed = append(failed, n.ID)
		case !ran && status == types.RunFailed:
			blocked = append(blocked, n.ID)
		}
	}

	now := time.Now().UTC()
	rec.Status = status
	rec.CompletedAt = &now
	rec.Failed, rec.Blocked = failed, blocked
	if err := e.store.PutRun(ctx, *rec); err != nil {
		return nil, fmt.Errorf("recording run %s: %w", runID, err)
	}
	metrics.RunsCompleted.Add(1)
	e.logger.Info("run finished", "workflow", rec.Workflow, "runId", runID, "status", status,
		"failed", failed, "blocked", len(blocked))

	if status == types.RunFailed {
		e.fireAlert(ctx, types.Alert{
			Level:    types.AlertLevelError,
			Category: "run_failed",
			Workflow: rec.Workflow,
			Message:  fmt.Sprintf("run %s failed: %d step(s) failed, %d blocked", runID, len(failed), len(blocked)),
			Details:  map[string]interface{}{"failed": failed},
		})
	}
	return rec, nil
}
