package committer

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

func col(name string) types.Column {
	return types.Column{Name: name, Type: warehouse.TypeText, Nullable: true}
}

func TestAppend(t *testing.T) {
	wh := testutil.NewMockWarehouse()
	wh.Seed(staging, []types.Column{col("_id"), col("a")},
		map[string]interface{}{"_id": "1", "a": "x"},
		map[string]interface{}{"_id": "2", "a": "y"},
	)
	wh.Seed(destination, []types.Column{col("_id"), col("a"), col("legacy")},
		map[string]interface{}{"_id": "0", "a": "w", "legacy": "z"},
	)

	n, err := New(wh).Append(context.Background(), staging, destination)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	rows := wh.Rows(destination)
	require.Len(t, rows, 3)
	assert.Nil(t, rows[2]["legacy"])
}

func TestAppend_NotDeduplicating(t *testing.T) {
	wh := testutil.NewMockWarehouse()
	wh.Seed(staging, []types.Column{col("_id")}, map[string]interface{}{"_id": "1"})
	wh.Seed(destination, []types.Column{col("_id")})
	c := New(wh)

	for i := 0; i < 2; i++ {
		_, err := c.Append(context.Background(), staging, destination)
		require.NoError(t, err)
	}
	assert.Len(t, wh.Rows(destination), 2)
}

func TestAppend_Failure(t *testing.T) {
	wh := testutil.NewMockWarehouse()
	wh.Seed(staging, []types.Column{col("_id"), col("new")}, map[string]interface{}{"_id": "1"})
	wh.Seed(destination, []types.Column{col("_id")})

	_, err := New(wh).Append(context.Background(), staging, destination)
	var ae *types.AppendError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, destination, ae.Destination)
	assert.Empty(t, wh.Rows(destination))
	assert.True(t, types.IsRetryable(err))
}

func TestAppend_InjectedFailure(t *testing.T) {
	wh := testutil.NewMockWarehouse()
	wh.Seed(staging, []types.Column{col("_id")})
	wh.Seed(destination, []types.Column{col("_id")})
	wh.FailNext("AppendTable", errors.New("serialization failure"))

	_, err := New(wh).Append(context.Background(), staging, destination)
	assert.ErrorContains(t, err, "serialization failure")
}

func TestAppend_MissingSource(t *testing.T) {
	_, err := New(testutil.NewMockWarehouse()).Append(context.Background(), staging, destination)
	var ae *types.AppendError
	require.ErrorAs(t, err, &ae)
}
