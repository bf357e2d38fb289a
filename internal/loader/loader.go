// Package loader implements the staging load: aggregate, reshape, validate
// and bulk copy one migration's documents into its transient table.
package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/dwsmith1983/lakeloader/internal/metrics"
	"github.com/dwsmith1983/lakeloader/internal/schemacheck"
	"github.com/dwsmith1983/lakeloader/internal/source"
	"github.com/dwsmith1983/lakeloader/internal/transform"
	"github.com/dwsmith1983/lakeloader/internal/warehouse"
	"github.com/dwsmith1983/lakeloader/pkg/types"
)

// ErrTooManyRecords is returned when a load exceeds the configured ceiling.
var ErrTooManyRecords = errors.New("record ceiling exceeded")

// Loader populates staging tables.
type Loader struct {
	source     source.Source
	warehouse  warehouse.Warehouse
	schemas    *schemacheck.Registry
	maxRecords int
	logger     *slog.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithMaxRecords caps the number of transformed records held in memory.
// Zero means unlimited.
func WithMaxRecords(n int) Option {
	return func(l *Loader) { l.maxRecords = n }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) { l.logger = logger }
}

// New creates a Loader.
func New(src source.Source, wh warehouse.Warehouse, schemas *schemacheck.Registry, opts ...Option) *Loader {
	l := &Loader{source: src, warehouse: wh, schemas: schemas, logger: slog.Default()}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Load rebuilds the staging table for spec from the current source data and
// returns the number of rows written. Nothing is written unless every record
// converts and validates.
func (l *Loader) Load(ctx context.Context, spec types.MigrationSpec) (int64, error) {
	pipeline, err := source.ParsePipeline(spec.AggregationQuery)
	if err != nil {
		return 0, &types.ConfigurationError{Source: spec.TaskName, Field: "aggregation_query", Reason: "unparseable", Err: err}
	}

	var preop source.Preoperation
	var preopOpts map[string]interface{}
	if spec.Preoperation != nil {
		p, ok := source.LookupPreoperation(spec.Preoperation.Name)
		if !ok {
			return 0, &types.ConfigurationError{Source: spec.TaskName, Field: "preoperation", Reason: fmt.Sprintf("unknown preoperation %q", spec.Preoperation.Name)}
		}
		preop, preopOpts = p, spec.Preoperation.Options
		if preop.Query != nil {
			if pipeline, err = preop.Query(pipeline, preopOpts); err != nil {
				return 0, fmt.Errorf("preoperation %s: %w", spec.Preoperation.Name, err)
			}
		}
	}

	schema, err := l.schemas.Get(spec.SchemaDefinition)
	if err != nil {
		return 0, &types.ConfigurationError{Source: spec.TaskName, Field: "jsonschema", Reason: "unresolvable", Err: err}
	}

	records, err := l.collect(ctx, spec, pipeline, preop, preopOpts, schema)
	if err != nil {
		return 0, err
	}

	staging := spec.Staging()
	columns := InferColumns(records)

	// Rebuild from scratch so a retried load never stacks rows on a previous attempt.
	if err := l.warehouse.DropTableIfExists(ctx, staging); err != nil {
		return 0, &types.LifecycleError{Op: "drop table", Table: staging, Err: err}
	}
	if err := l.warehouse.CreateTable(ctx, staging, columns); err != nil {
		return 0, &types.LifecycleError{Op: "create table", Table: staging, Err: err}
	}
	n, err := l.warehouse.CopyRows(ctx, staging, columns, Rows(records, columns))
	if err != nil {
		return 0, fmt.Errorf("copying into %s: %w", staging, err)
	}

	metrics.RowsStaged.Add(n)
	l.logger.Info("staged records", "task", spec.TaskName, "table", staging.String(), "rows", n, "columns", len(columns))
	return n, nil
}

func (l *Loader) collect(ctx context.Context, spec types.MigrationSpec, pipeline []bson.D, preop source.Preoperation,
	preopOpts map[string]interface{}, schema *jsonschema.Schema) ([]source.Record, error) {
	cur, err := l.source.Aggregate(ctx, spec.SourceCollection, pipeline)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := cur.Close(ctx); cerr != nil {
			l.logger.Warn("closing cursor", "task", spec.TaskName, "error", cerr)
		}
	}()

	var out []source.Record
	for idx := 0; cur.Next(ctx); idx++ {
		doc, err := cur.Record()
		if err != nil {
			return nil, fmt.Errorf("reading document %d: %w", idx, err)
		}
		if preop.Record != nil {
			if doc, err = preop.Record(doc, preopOpts); err != nil {
				return nil, fmt.Errorf("preoperation %s on document %d: %w", spec.Preoperation.Name, idx, err)
			}
		}

		for _, rec := range transform.Unwind(doc, spec.Unwind) {
			label := recordLabel(len(out), rec)
			rec = transform.Select(rec, spec.Selection)
			if err := transform.Convert(rec, spec.Conversions, label); err != nil {
				return nil, err
			}
			if err := schemacheck.Validate(schema, rec, label); err != nil {
				return nil, err
			}
			out = append(out, rec)
			if l.maxRecords > 0 && len(out) > l.maxRecords {
				return nil, fmt.Errorf("%s: %w (%d)", spec.TaskName, ErrTooManyRecords, l.maxRecords)
			}
		}
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s: %w", spec.SourceCollection, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func recordLabel(idx int, rec source.Record) string {
	if id := rec.ID(); id != "" {
		return strconv.Itoa(idx) + " (_id=" + id + ")"
	}
	return strconv.Itoa(idx)
}
