// Package warehouse defines the boundary to the relational warehouse that
// holds staging and destination tables.
package warehouse

import (
	"context"

	"github.com/dwsmith1983/lakeloader/pkg/types"
)

// Column types produced by inference. They match the names the warehouse
// reports back when a table is described, so drift checks compare equal.
const (
	TypeText      = "text"
	TypeBigint    = "bigint"
	TypeDouble    = "double precision"
	TypeNumeric   = "numeric"
	TypeBoolean   = "boolean"
	TypeTimestamp = "timestamp with time zone"
	TypeJSONB     = "jsonb"
)

// Warehouse is the set of DDL, DML and statistics operations the load steps
// need. Each call is transactional on its own.
type Warehouse interface {
	Ping(ctx context.Context) error
	EnsureSchema(ctx context.Context, schema string) error
	// DescribeTable returns nil when the table does not exist.
	DescribeTable(ctx context.Context, ref types.TableRef) (*types.TableDescriptor, error)
	CreateTable(ctx context.Context, ref types.TableRef, columns []types.Column) error
	// AddColumns adds every column in one transaction.
	AddColumns(ctx context.Context, ref types.TableRef, columns []types.Column) error
	DropTableIfExists(ctx context.Context, ref types.TableRef) error
	Analyze(ctx context.Context, ref types.TableRef) error
	// CopyRows bulk loads rows whose values are ordered like columns.
	CopyRows(ctx context.Context, ref types.TableRef, columns []types.Column, rows [][]interface{}) (int64, error)
	// AppendTable inserts every row of src into dst in one transaction.
	AppendTable(ctx context.Context, src, dst types.TableRef, columns []string) (int64, error)
	Close()
}
