package postgres

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/dwsmith1983/lakeloader/internal/warehouse"
	"github.com/dwsmith1983/lakeloader/pkg/types"
)

// Coerce converts a normalized record value into the Go type pgx encodes for
// the column type. Text columns accept any value in its textual form because
// they are the fallback for mixed-type fields.
func Coerce(v interface{}, colType string) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	switch colType {
	case warehouse.TypeText:
		return asText(v)
	case warehouse.TypeBigint:
		if n, ok := v.(int64); ok {
			return n, nil
		}
	case warehouse.TypeDouble:
		switch n := v.(type) {
		case float64:
			return n, nil
		case int64:
			return float64(n), nil
		}
	case warehouse.TypeNumeric:
		var text string
		switch n := v.(type) {
		case types.Numeric:
			text = string(n)
		case int64:
			text = strconv.FormatInt(n, 10)
		case float64:
			text = strconv.FormatFloat(n, 'f', -1, 64)
		default:
			return nil, fmt.Errorf("cannot store %T as numeric", v)
		}
		var num pgtype.Numeric
		if err := num.ScanScientific(text); err != nil {
			return nil, err
		}
		return num, nil
	case warehouse.TypeBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case warehouse.TypeTimestamp:
		if t, ok := v.(time.Time); ok {
			return t, nil
		}
	case warehouse.TypeJSONB:
		return v, nil
	default:
		return v, nil
	}
	return nil, fmt.Errorf("cannot store %T as %s", v, colType)
}

func asText(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case types.Numeric:
		return string(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(x), nil
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano), nil
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return nil, fmt.Errorf("encoding %T as text: %w", v, err)
		}
		return string(b), nil
	}
}
