// Package committer appends a staging table's rows onto its destination.
package committer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dwsmith1983/lakeloader/internal/metrics"
	"github.com/dwsmith1983/lakeloader/internal/warehouse"
	"github.com/dwsmith1983/lakeloader/pkg/types"
)

// Committer moves staged rows into destination tables.
type Committer struct {
	warehouse warehouse.Warehouse
	logger    *slog.Logger
}

// New creates a Committer.
func New(wh warehouse.Warehouse) *Committer {
	return &Committer{warehouse: wh, logger: slog.Default()}
}

// SetLogger replaces the logger.
func (c *Committer) SetLogger(logger *slog.Logger) { c.logger = logger }

// Append inserts every row of source into destination in one transaction,
// listing only the staging columns so columns the destination gained earlier
// stay NULL. Rows are not deduplicated.
func (c *Committer) Append(ctx context.Context, source, destination types.TableRef) (int64, error) {
	desc, err := c.warehouse.DescribeTable(ctx, source)
	if err != nil {
		return 0, &types.AppendError{Source: source, Destination: destination, Err: fmt.Errorf("describing source: %w", err)}
	}
	if desc == nil {
		return 0, &types.AppendError{Source: source, Destination: destination, Err: fmt.Errorf("source table does not exist")}
	}

	n, err := c.warehouse.AppendTable(ctx, source, destination, desc.ColumnNames())
	if err != nil {
		return 0, &types.AppendError{Source: source, Destination: destination, Err: err}
	}

	metrics.RowsAppended.Add(n)
	c.logger.Info("appended rows", "source", source.String(), "table", destination.String(), "rows", n)
	return n, nil
}
