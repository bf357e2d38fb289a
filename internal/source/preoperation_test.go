package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestPreoperationNames(t *testing.T) {
	assert.Equal(t, []string{"flatten", "prepend_stages", "rename"}, PreoperationNames())
	_, ok := LookupPreoperation("explode")
	assert.False(t, ok)
}

func TestFlatten(t *testing.T) {
	p, ok := LookupPreoperation("flatten")
	require.True(t, ok)
	rec := Record{
		"_id":      "1",
		"customer": map[string]interface{}{"name": "Ada", "address": map[string]interface{}{"city": "London"}},
		"items":    []interface{}{map[string]interface{}{"sku": "x"}},
	}

	out, err := p.Record(rec, nil)
	require.NoError(t, err)
	assert.Equal(t, "Ada", out["customer_name"])
	assert.Equal(t, "London", out["customer_address_city"])
	assert.Equal(t, rec["items"], out["items"])

	out, err = p.Record(rec, map[string]interface{}{"separator": ".", "maxDepth": 1})
	require.NoError(t, err)
	assert.Equal(t, "Ada", out["customer.name"])
	assert.Equal(t, map[string]interface{}{"city": "London"}, out["customer.address"])
}

func TestFlattenValidate(t *testing.T) {
	p, _ := LookupPreoperation("flatten")
	assert.NoError(t, p.Validate(nil))
	assert.Error(t, p.Validate(map[string]interface{}{"separator": ""}))
	assert.Error(t, p.Validate(map[string]interface{}{"maxDepth": 0}))
}

func TestPrependStages(t *testing.T) {
	p, _ := LookupPreoperation("prepend_stages")
	base := []bson.D{{{Key: "$project", Value: bson.D{{Key: "amount", Value: 1}}}}}

	out, err := p.Query(base, map[string]interface{}{"stages": `[{"$match": {"deleted": false}}]`})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "$match", out[0][0].Key)
	assert.Equal(t, "$project", out[1][0].Key)

	out, err = p.Query(base, map[string]interface{}{
		"stages": []interface{}{map[string]interface{}{"$limit": 5}},
	})
	require.NoError(t, err)
	assert.Equal(t, "$limit", out[0][0].Key)

	assert.Error(t, p.Validate(map[string]interface{}{}))
}

func TestRename(t *testing.T) {
	p, _ := LookupPreoperation("rename")
	out, err := p.Record(Record{"_id": "1", "amt": 3}, map[string]interface{}{
		"fields": map[string]interface{}{"amt": "amount"},
	})
	require.NoError(t, err)
	assert.Equal(t, Record{"_id": "1", "amount": 3}, out)

	assert.Error(t, p.Validate(map[string]interface{}{"fields": map[string]interface{}{"a": 1}}))
}

func TestRegisterPreoperation(t *testing.T) {
	RegisterPreoperation("noop_test", Preoperation{})
	t.Cleanup(func() {
		preopMu.Lock()
		delete(preoperations, "noop_test")
		preopMu.Unlock()
	})
	_, ok := LookupPreoperation("noop_test")
	assert.True(t, ok)
}
