// Package postgres implements the warehouse boundary on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dwsmith1983/lakeloader/internal/warehouse"
	"github.com/dwsmith1983/lakeloader/pkg/types"
)

// Warehouse is a pgxpool-backed warehouse.
type Warehouse struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ warehouse.Warehouse = (*Warehouse)(nil)

// New creates a new Postgres warehouse and verifies the connection.
func New(ctx context.Context, dsn string) (*Warehouse, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return &Warehouse{pool: pool, logger: slog.Default()}, nil
}

// SetLogger replaces the default logger.
func (w *Warehouse) SetLogger(l *slog.Logger) { w.logger = l }

// Pool exposes the connection pool for callers that share it.
func (w *Warehouse) Pool() *pgxpool.Pool { return w.pool }

// Ping checks connectivity.
func (w *Warehouse) Ping(ctx context.Context) error {
	return w.pool.Ping(ctx)
}

// Close closes the connection pool.
func (w *Warehouse) Close() {
	w.pool.Close()
}

// EnsureSchema creates the schema when absent.
func (w *Warehouse) EnsureSchema(ctx context.Context, schema string) error {
	_, err := w.pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{schema}.Sanitize())
	return describe("create schema", err)
}

// DescribeTable reads column structure and the planner's row estimate.
func (w *Warehouse) DescribeTable(ctx context.Context, ref types.TableRef) (*types.TableDescriptor, error) {
	var estimate float32
	err := w.pool.QueryRow(ctx, `
		SELECT c.reltuples
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = $1 AND c.relname = $2 AND c.relkind IN ('r', 'p')
	`, ref.Schema, ref.Name).Scan(&estimate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, describe("describe table", err)
	}

	rows, err := w.pool.Query(ctx, `
		SELECT column_name, data_type, is_nullable = 'YES'
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position
	`, ref.Schema, ref.Name)
	if err != nil {
		return nil, describe("describe columns", err)
	}
	defer rows.Close()

	desc := &types.TableDescriptor{Ref: ref}
	if estimate > 0 {
		desc.RowEstimate = int64(estimate)
	}
	for rows.Next() {
		var c types.Column
		if err := rows.Scan(&c.Name, &c.Type, &c.Nullable); err != nil {
			return nil, err
		}
		desc.Columns = append(desc.Columns, c)
	}
	return desc, describe("describe columns", rows.Err())
}

// CreateTable creates the table if it does not already exist.
func (w *Warehouse) CreateTable(ctx context.Context, ref types.TableRef, columns []types.Column) error {
	defs := make([]string, len(columns))
	for i, c := range columns {
		defs[i] = columnDef(c)
	}
	sql := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", fqn(ref), strings.Join(defs, ", "))
	_, err := w.pool.Exec(ctx, sql)
	return describe("create table", err)
}

// AddColumns adds all columns in a single transaction. Added columns are
// nullable so existing rows read NULL.
func (w *Warehouse) AddColumns(ctx context.Context, ref types.TableRef, columns []types.Column) error {
	if len(columns) == 0 {
		return nil
	}
	err := pgx.BeginFunc(ctx, w.pool, func(tx pgx.Tx) error {
		for _, c := range columns {
			sql := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s NULL", fqn(ref), ident(c.Name), c.Type)
			if _, err := tx.Exec(ctx, sql); err != nil {
				return fmt.Errorf("column %s: %w", c.Name, err)
			}
		}
		return nil
	})
	return describe("add columns", err)
}

// DropTableIfExists drops the table when present.
func (w *Warehouse) DropTableIfExists(ctx context.Context, ref types.TableRef) error {
	_, err := w.pool.Exec(ctx, "DROP TABLE IF EXISTS "+fqn(ref))
	return describe("drop table", err)
}

// Analyze refreshes planner statistics.
func (w *Warehouse) Analyze(ctx context.Context, ref types.TableRef) error {
	_, err := w.pool.Exec(ctx, "ANALYZE "+fqn(ref))
	return describe("analyze", err)
}

// CopyRows coerces each value to its column type and bulk loads with COPY.
func (w *Warehouse) CopyRows(ctx context.Context, ref types.TableRef, columns []types.Column, rows [][]interface{}) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	names := make([]string, len(columns))
	for i, c := range columns {
		names[i] = c.Name
	}
	coerced := make([][]interface{}, len(rows))
	for i, row := range rows {
		out := make([]interface{}, len(row))
		for j, v := range row {
			cv, err := Coerce(v, columns[j].Type)
			if err != nil {
				return 0, fmt.Errorf("row %d column %s: %w", i, columns[j].Name, err)
			}
			out[j] = cv
		}
		coerced[i] = out
	}

	n, err := w.pool.CopyFrom(ctx, pgx.Identifier{ref.Schema, ref.Name}, names, pgx.CopyFromRows(coerced))
	if err != nil {
		return 0, describe("copy", err)
	}
	w.logger.Debug("copied rows", "table", ref.String(), "rows", n)
	return n, nil
}

// ExecScript runs a SQL script. Without arguments pgx uses the simple
// protocol, so the script may hold several statements.
func (w *Warehouse) ExecScript(ctx context.Context, script string) error {
	_, err := w.pool.Exec(ctx, script)
	return describe("exec script", err)
}

// AppendTable runs INSERT ... SELECT inside one transaction.
func (w *Warehouse) AppendTable(ctx context.Context, src, dst types.TableRef, columns []string) (int64, error) {
	cols := make([]string, len(columns))
	for i, c := range columns {
		cols[i] = ident(c)
	}
	list := strings.Join(cols, ", ")
	sql := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s", fqn(dst), list, list, fqn(src))

	var affected int64
	err := pgx.BeginFunc(ctx, w.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, sql)
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, describe("append", err)
	}
	return affected, nil
}

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func fqn(ref types.TableRef) string {
	if ref.Schema == "" {
		return ident(ref.Name)
	}
	return pgx.Identifier{ref.Schema, ref.Name}.Sanitize()
}

func columnDef(c types.Column) string {
	null := "NULL"
	if !c.Nullable {
		null = "NOT NULL"
	}
	return fmt.Sprintf("%s %s %s", ident(c.Name), c.Type, null)
}

// describe wraps err with its operation and surfaces server-side detail.
func describe(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Detail != "" {
		return fmt.Errorf("%s: %w (%s)", op, err, pgErr.Detail)
	}
	return fmt.Errorf("%s: %w", op, err)
}
