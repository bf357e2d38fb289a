package source

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/dwsmith1983/lakeloader/pkg/types"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Normalize converts a decoded BSON document into a Record. BSON-specific
// primitives become plain Go scalars so downstream steps never see driver types.
func Normalize(doc bson.M) (Record, error) {
	out := make(Record, len(doc))
	for key, value := range doc {
		if key == types.IdentifierField {
			id, err := idToString(value)
			if err != nil {
				return nil, err
			}
			out[key] = id
			continue
		}
		out[key] = normalizeValue(value)
	}
	return out, nil
}

func normalizeValue(input interface{}) interface{} {
	switch v := input.(type) {
	case nil, primitive.Null, primitive.Undefined, primitive.MinKey, primitive.MaxKey:
		return nil
	case int32:
		return int64(v)
	case int:
		return int64(v)
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil
		}
		return v
	case primitive.ObjectID:
		return v.Hex()
	case primitive.DateTime:
		return v.Time().UTC()
	case primitive.Timestamp:
		return time.Unix(int64(v.T), 0).UTC()
	case primitive.Decimal128:
		if v.IsNaN() || v.IsInf() != 0 {
			return nil
		}
		return types.Numeric(v.String())
	case primitive.Binary:
		return base64.StdEncoding.EncodeToString(v.Data)
	case primitive.Regex:
		return v.String()
	case primitive.Symbol:
		return string(v)
	case primitive.JavaScript:
		return string(v)
	case primitive.DBPointer:
		return v.String()
	case bson.M:
		return normalizeMap(v)
	case map[string]interface{}:
		return normalizeMap(v)
	case bson.D:
		return normalizeMap(v.Map())
	case bson.A:
		return normalizeArray(v)
	case []interface{}:
		return normalizeArray(v)
	}
	return input
}

func normalizeMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeArray(arr []interface{}) []interface{} {
	out := make([]interface{}, len(arr))
	for i, v := range arr {
		out[i] = normalizeValue(v)
	}
	return out
}

func idToString(value interface{}) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case primitive.ObjectID:
		return v.Hex(), nil
	}
	j, err := json.Marshal(normalizeValue(value))
	if err != nil {
		return "", fmt.Errorf("encoding %s: %w", types.IdentifierField, err)
	}
	return string(j), nil
}
