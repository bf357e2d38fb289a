package loader

import (
	"sort"
	"time"

	"github.com/dwsmith1983/lakeloader/internal/source"
	"github.com/dwsmith1983/lakeloader/internal/warehouse"
	"github.com/dwsmith1983/lakeloader/pkg/types"
)

// InferColumns derives a nullable column per field seen across all records.
// The identifier comes first, then the rest by name. A field that is null in
// every record is text.
func InferColumns(records []source.Record) []types.Column {
	seen := map[string]string{types.IdentifierField: ""}
	for _, rec := range records {
		for k, v := range rec {
			seen[k] = widen(seen[k], typeOf(v))
		}
	}

	names := make([]string, 0, len(seen))
	for k := range seen {
		if k != types.IdentifierField {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	names = append([]string{types.IdentifierField}, names...)

	cols := make([]types.Column, len(names))
	for i, n := range names {
		t := seen[n]
		if t == "" {
			t = warehouse.TypeText
		}
		cols[i] = types.Column{Name: n, Type: t, Nullable: true}
	}
	return cols
}

// typeOf maps a normalized value to its column type; "" means null.
func typeOf(v interface{}) string {
	switch v.(type) {
	case nil:
		return ""
	case string:
		return warehouse.TypeText
	case int64:
		return warehouse.TypeBigint
	case float64:
		return warehouse.TypeDouble
	case types.Numeric:
		return warehouse.TypeNumeric
	case bool:
		return warehouse.TypeBoolean
	case time.Time:
		return warehouse.TypeTimestamp
	case map[string]interface{}, []interface{}:
		return warehouse.TypeJSONB
	default:
		return warehouse.TypeText
	}
}

var numericRank = map[string]int{
	warehouse.TypeBigint:  1,
	warehouse.TypeDouble:  2,
	warehouse.TypeNumeric: 3,
}

// widen merges two observed types. Numbers widen toward numeric; any other
// disagreement falls back to text.
func widen(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "" || a == b:
		return a
	}
	ra, aNum := numericRank[a]
	rb, bNum := numericRank[b]
	if aNum && bNum {
		if ra > rb {
			return a
		}
		return b
	}
	return warehouse.TypeText
}

// Rows lays records out in column order.
func Rows(records []source.Record, columns []types.Column) [][]interface{} {
	rows := make([][]interface{}, len(records))
	for i, rec := range records {
		row := make([]interface{}, len(columns))
		for j, c := range columns {
			row[j] = rec[c.Name]
		}
		rows[i] = row
	}
	return rows
}
