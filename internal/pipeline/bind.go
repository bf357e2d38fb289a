package pipeline

import (
	"context"
	"fmt"

	"github.com/dwsmith1983/lakeloader/internal/engine"
	"github.com/dwsmith1983/lakeloader/internal/lifecycle"
	"github.com/dwsmith1983/lakeloader/internal/sensor"
	"github.com/dwsmith1983/lakeloader/pkg/types"
)

// SchemaManager creates warehouse namespaces and drops staging tables.
type SchemaManager interface {
	EnsureSchema(ctx context.Context, schema string) error
	DropTableIfExists(ctx context.Context, ref types.TableRef) error
}

// StagingLoader populates a staging table.
type StagingLoader interface {
	Load(ctx context.Context, spec types.MigrationSpec) (int64, error)
}

// TableLifecycle maintains destination structure and statistics.
type TableLifecycle interface {
	Analyze(ctx context.Context, ref types.TableRef) error
	EnsureTableExists(ctx context.Context, source, destination types.TableRef) error
	ReconcileColumns(ctx context.Context, source, destination types.TableRef) (lifecycle.Reconciliation, error)
}

// AppendCommitter moves staged rows into a destination.
type AppendCommitter interface {
	Append(ctx context.Context, source, destination types.TableRef) (int64, error)
}

// UpstreamGate blocks until another workflow has succeeded.
type UpstreamGate interface {
	Wait(ctx context.Context, workflow string) (sensor.Result, error)
}

// Deps are the operations graph nodes are bound to. Gate and Reports are
// only required when the graph has sensor or report nodes.
type Deps struct {
	Warehouse SchemaManager
	Loader    StagingLoader
	Tables    TableLifecycle
	Committer AppendCommitter
	Gate      UpstreamGate
	Reports   ReportRunner
	Specs     []types.MigrationSpec
	// ReportSpecs resolve report node ids back to their definitions.
	ReportSpecs []types.ReportSpec
}

// Bind maps every node of graph to the operation its kind calls for.
func Bind(graph *types.PipelineGraph, deps Deps) (map[string]engine.StepFunc, error) {
	specs := make(map[string]types.MigrationSpec, len(deps.Specs))
	for _, s := range deps.Specs {
		specs[s.TaskName] = s
	}
	reports := make(map[string]types.ReportSpec, len(deps.ReportSpecs))
	for _, r := range deps.ReportSpecs {
		reports[r.ID] = r
	}

	steps := make(map[string]engine.StepFunc, len(graph.Nodes))
	for _, n := range graph.Nodes {
		fn, err := bindNode(n, deps, specs, reports)
		if err != nil {
			return nil, fmt.Errorf("binding node %s: %w", n.ID, err)
		}
		steps[n.ID] = fn
	}
	return steps, nil
}

func bindNode(n types.Node, deps Deps, specs map[string]types.MigrationSpec, reports map[string]types.ReportSpec) (engine.StepFunc, error) {
	switch n.Kind {
	case types.StepBarrier:
		return func(context.Context) (int64, error) { return 0, nil }, nil

	case types.StepSensor:
		if deps.Gate == nil {
			return nil, fmt.Errorf("no upstream gate configured")
		}
		return func(ctx context.Context) (int64, error) {
			_, err := deps.Gate.Wait(ctx, n.Upstream)
			return 0, err
		}, nil

	case types.StepEnsureSchema:
		return func(ctx context.Context) (int64, error) {
			return 0, deps.Warehouse.EnsureSchema(ctx, n.Schema)
		}, nil

	case types.StepDropTransient:
		return func(ctx context.Context) (int64, error) {
			if err := deps.Warehouse.DropTableIfExists(ctx, n.Table); err != nil {
				return 0, &types.LifecycleError{Op: "drop table", Table: n.Table, Err: err}
			}
			return 0, nil
		}, nil

	case types.StepMigrate:
		spec, ok := specs[n.TaskName]
		if !ok {
			return nil, fmt.Errorf("no migration spec for task %q", n.TaskName)
		}
		return func(ctx context.Context) (int64, error) {
			return deps.Loader.Load(ctx, spec)
		}, nil

	case types.StepAnalyzeTransient, types.StepAnalyzeDatalake:
		return func(ctx context.Context) (int64, error) {
			return 0, deps.Tables.Analyze(ctx, n.Table)
		}, nil

	case types.StepEnsureTable:
		return func(ctx context.Context) (int64, error) {
			return 0, deps.Tables.EnsureTableExists(ctx, n.Source, n.Table)
		}, nil

	case types.StepReconcileColumns:
		return func(ctx context.Context) (int64, error) {
			rec, err := deps.Tables.ReconcileColumns(ctx, n.Source, n.Table)
			return int64(len(rec.Added)), err
		}, nil

	case types.StepAppend:
		return func(ctx context.Context) (int64, error) {
			return deps.Committer.Append(ctx, n.Source, n.Table)
		}, nil

	case types.StepReport:
		if deps.Reports == nil {
			return nil, fmt.Errorf("no report runner configured")
		}
		report, ok := reports[n.Report]
		if !ok {
			report = types.ReportSpec{ID: n.Report}
		}
		return func(ctx context.Context) (int64, error) {
			return 0, deps.Reports.Run(ctx, report)
		}, nil

	default:
		return nil, fmt.Errorf("unknown step kind %q", n.Kind)
	}
}
