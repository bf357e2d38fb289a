package lifecycle

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/lakeloader/internal/testutil"
	"github.com/dwsmith1983/lakeloader/internal/warehouse"
	"github.com/dwsmith1983/lakeloader/pkg/types"
)

var (
	staging     = types.TableRef{Schema: types.TransientSchema, Name: "orders"}
	destination = types.TableRef{Schema: types.PublicSchema, Name: "orders"}
)

func cols(names ...string) []types.Column {
	out := make([]types.Column, len(names))
	for i, n := range names {
		out[i] = types.Column{Name: n, Type: warehouse.TypeText, Nullable: true}
	}
	return out
}

func TestAnalyze(t *testing.T) {
	wh := testutil.NewMockWarehouse()
	tables := New(wh)

	err := tables.Analyze(context.Background(), staging)
	var le *types.LifecycleError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "analyze", le.Op)

	wh.Seed(staging, cols("_id"))
	assert.NoError(t, tables.Analyze(context.Background(), staging))
}

func TestEnsureTableExists_Creates(t *testing.T) {
	wh := testutil.NewMockWarehouse()
	wh.Seed(staging, []types.Column{
		{Name: "_id", Type: warehouse.TypeText},
		{Name: "amount", Type: warehouse.TypeNumeric},
	})

	require.NoError(t, New(wh).EnsureTableExists(context.Background(), staging, destination))

	desc, err := wh.DescribeTable(context.Background(), destination)
	require.NoError(t, err)
	require.NotNil(t, desc)
	assert.Equal(t, []types.Column{
		{Name: "_id", Type: warehouse.TypeText, Nullable: true},
		{Name: "amount", Type: warehouse.TypeNumeric, Nullable: true},
	}, desc.Columns)
}

func TestEnsureTableExists_LeavesExisting(t *testing.T) {
	wh := testutil.NewMockWarehouse()
	wh.Seed(staging, cols("_id", "a", "b"))
	wh.Seed(destination, cols("_id"), map[string]interface{}{"_id": "old"})

	require.NoError(t, New(wh).EnsureTableExists(context.Background(), staging, destination))

	desc, _ := wh.DescribeTable(context.Background(), destination)
	assert.Equal(t, []string{"_id"}, desc.ColumnNames())
	assert.Len(t, wh.Rows(destination), 1)
	assert.NotContains(t, wh.Calls(), "CreateTable public.orders")
}

func TestEnsureTableExists_MissingSource(t *testing.T) {
	err := New(testutil.NewMockWarehouse()).EnsureTableExists(context.Background(), staging, destination)
	var le *types.LifecycleError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, staging, le.Table)
}

func TestReconcileColumns_AddsMissing(t *testing.T) {
	wh := testutil.NewMockWarehouse()
	wh.Seed(staging, cols("a", "b", "c"))
	wh.Seed(destination, cols("a", "b"), map[string]interface{}{"a": "1", "b": "2"})

	rec, err := New(wh).ReconcileColumns(context.Background(), staging, destination)
	require.NoError(t, err)
	assert.Equal(t, cols("c"), rec.Added)
	assert.Empty(t, rec.Drift)

	desc, _ := wh.DescribeTable(context.Background(), destination)
	assert.Equal(t, []string{"a", "b", "c"}, desc.ColumnNames())
	rows := wh.Rows(destination)
	require.Len(t, rows, 1)
	assert.Equal(t, "1", rows[0]["a"])
	assert.Equal(t, "2", rows[0]["b"])
	assert.Nil(t, rows[0]["c"])
}

func TestReconcileColumns_KeepsSourceOrder(t *testing.T) {
	wh := testutil.NewMockWarehouse()
	wh.Seed(staging, cols("z", "a", "m"))
	wh.Seed(destination, cols("a"))

	rec, err := New(wh).ReconcileColumns(context.Background(), staging, destination)
	require.NoError(t, err)
	assert.Equal(t, cols("z", "m"), rec.Added)
}

func TestReconcileColumns_NoChange(t *testing.T) {
	wh := testutil.NewMockWarehouse()
	wh.Seed(staging, cols("a"))
	wh.Seed(destination, cols("a", "legacy"))

	rec, err := New(wh).ReconcileColumns(context.Background(), staging, destination)
	require.NoError(t, err)
	assert.Empty(t, rec.Added)
	assert.NotContains(t, wh.Calls(), "AddColumns public.orders")
}

func TestReconcileColumns_DriftReportedNotCoerced(t *testing.T) {
	wh := testutil.NewMockWarehouse()
	wh.Seed(staging, []types.Column{{Name: "qty", Type: warehouse.TypeText}})
	wh.Seed(destination, []types.Column{{Name: "qty", Type: warehouse.TypeBigint}})

	var alerts []types.Alert
	tables := New(wh)
	tables.SetNotifier(func(_ context.Context, a types.Alert) { alerts = append(alerts, a) })

	rec, err := tables.ReconcileColumns(context.Background(), staging, destination)
	require.NoError(t, err)
	assert.Equal(t, []Drift{{Column: "qty", SourceType: warehouse.TypeText, DestinationType: warehouse.TypeBigint}}, rec.Drift)

	require.Len(t, alerts, 1)
	assert.Equal(t, types.AlertLevelWarning, alerts[0].Level)
	assert.Equal(t, "type_drift", alerts[0].Category)

	desc, _ := wh.DescribeTable(context.Background(), destination)
	assert.Equal(t, warehouse.TypeBigint, desc.Columns[0].Type)
}

func TestReconcileColumns_AddFailure(t *testing.T) {
	wh := testutil.NewMockWarehouse()
	wh.Seed(staging, cols("a", "b"))
	wh.Seed(destination, cols("a"))
	wh.FailNext("AddColumns", errors.New("lock timeout"))

	_, err := New(wh).ReconcileColumns(context.Background(), staging, destination)
	var le *types.LifecycleError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "add columns", le.Op)
	assert.ErrorContains(t, err, "lock timeout")
}

func TestReconcileColumns_MissingDestination(t *testing.T) {
	wh := testutil.NewMockWarehouse()
	wh.Seed(staging, cols("a"))

	_, err := New(wh).ReconcileColumns(context.Background(), staging, destination)
	var le *types.LifecycleError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, destination, le.Table)
}
