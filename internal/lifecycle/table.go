package lifecycle

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dwsmith1983/lakeloader/internal/metrics"
	"github.com/dwsmith1983/lakeloader/internal/warehouse"
	"github.com/dwsmith1983/lakeloader/pkg/types"
)

// Drift is a shared column whose type differs between staging and destination.
type Drift struct {
	Column          string `json:"column"`
	SourceType      string `json:"sourceType"`
	DestinationType string `json:"destinationType"`
}

// Reconciliation reports what ReconcileColumns changed or found.
type Reconciliation struct {
	Added []types.Column `json:"added,omitempty"`
	Drift []Drift        `json:"drift,omitempty"`
}

// Tables manages destination table structure and statistics.
type Tables struct {
	warehouse warehouse.Warehouse
	notify    func(context.Context, types.Alert)
	logger    *slog.Logger
}

// New creates a table lifecycle manager.
func New(wh warehouse.Warehouse) *Tables {
	return &Tables{warehouse: wh, logger: slog.Default()}
}

// SetLogger replaces the logger.
func (t *Tables) SetLogger(logger *slog.Logger) { t.logger = logger }

// SetNotifier sets the callback that receives type drift warnings.
func (t *Tables) SetNotifier(fn func(context.Context, types.Alert)) { t.notify = fn }

// Analyze refreshes planner statistics for ref.
func (t *Tables) Analyze(ctx context.Context, ref types.TableRef) error {
	if err := t.warehouse.Analyze(ctx, ref); err != nil {
		return &types.LifecycleError{Op: "analyze", Table: ref, Err: err}
	}
	return nil
}

// EnsureTableExists creates destination with the structure of source when it
// is absent. An existing destination is left alone.
func (t *Tables) EnsureTableExists(ctx context.Context, source, destination types.TableRef) error {
	src, err := t.describe(ctx, source)
	if err != nil {
		return err
	}
	if src == nil {
		return &types.LifecycleError{Op: "ensure table", Table: source, Err: fmt.Errorf("source table does not exist")}
	}

	dst, err := t.describe(ctx, destination)
	if err != nil {
		return err
	}
	if dst != nil {
		return nil
	}

	cols := make([]types.Column, len(src.Columns))
	for i, c := range src.Columns {
		cols[i] = types.Column{Name: c.Name, Type: c.Type, Nullable: true}
	}
	if err := t.warehouse.CreateTable(ctx, destination, cols); err != nil {
		return &types.LifecycleError{Op: "create table", Table: destination, Err: err}
	}
	t.logger.Info("created destination table", "table", destination.String(), "columns", len(cols))
	return nil
}

// ReconcileColumns adds every column of source missing from destination.
// Shared columns with different types are reported, never altered.
func (t *Tables) ReconcileColumns(ctx context.Context, source, destination types.TableRef) (Reconciliation, error) {
	var rec Reconciliation

	src, err := t.describe(ctx, source)
	if err != nil {
		return rec, err
	}
	if src == nil {
		return rec, &types.LifecycleError{Op: "reconcile columns", Table: source, Err: fmt.Errorf("source table does not exist")}
	}
	dst, err := t.describe(ctx, destination)
	if err != nil {
		return rec, err
	}
	if dst == nil {
		return rec, &types.LifecycleError{Op: "reconcile columns", Table: destination, Err: fmt.Errorf("destination table does not exist")}
	}

	for _, c := range src.Columns {
		existing, ok := dst.Column(c.Name)
		if !ok {
			rec.Added = append(rec.Added, types.Column{Name: c.Name, Type: c.Type, Nullable: true})
			continue
		}
		if existing.Type != c.Type {
			rec.Drift = append(rec.Drift, Drift{Column: c.Name, SourceType: c.Type, DestinationType: existing.Type})
		}
	}

	if len(rec.Added) > 0 {
		if err := t.warehouse.AddColumns(ctx, destination, rec.Added); err != nil {
			return Reconciliation{Drift: rec.Drift}, &types.LifecycleError{Op: "add columns", Table: destination, Err: err}
		}
		metrics.ColumnsAdded.Add(int64(len(rec.Added)))
		t.logger.Info("added columns", "table", destination.String(), "columns", columnNames(rec.Added))
	}
	if len(rec.Drift) > 0 {
		t.reportDrift(ctx, destination, rec.Drift)
	}
	return rec, nil
}

func (t *Tables) reportDrift(ctx context.Context, destination types.TableRef, drift []Drift) {
	metrics.TypeDriftDetected.Add(int64(len(drift)))
	details := make(map[string]interface{}, len(drift))
	for _, d := range drift {
		t.logger.Warn("column type drift", "table", destination.String(), "column", d.Column,
			"sourceType", d.SourceType, "destinationType", d.DestinationType)
		details[d.Column] = d.SourceType + " -> " + d.DestinationType
	}
	if t.notify != nil {
		t.notify(ctx, types.Alert{
			Level:    types.AlertLevelWarning,
			Category: "type_drift",
			Message:  fmt.Sprintf("%d column(s) of %s changed type upstream", len(drift), destination),
			Details:  details,
		})
	}
}

func (t *Tables) describe(ctx context.Context, ref types.TableRef) (*types.TableDescriptor, error) {
	d, err := t.warehouse.DescribeTable(ctx, ref)
	if err != nil {
		return nil, &types.LifecycleError{Op: "describe table", Table: ref, Err: err}
	}
	return d, nil
}

func columnNames(cols []types.Column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name
	}
	return out
}
