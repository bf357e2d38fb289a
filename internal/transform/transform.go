// Package transform reshapes normalized documents into warehouse rows:
// unwinding arrays, selecting fields and casting values.
package transform

import (
	"github.com/dwsmith1983/lakeloader/internal/source"
	"github.com/dwsmith1983/lakeloader/pkg/types"
)

// Unwind explodes the array at field into one record per element, copying
// every other field. An absent, null or empty array yields no records. A
// non-array value passes the record through unchanged.
func Unwind(rec source.Record, field string) []source.Record {
	if field == "" {
		return []source.Record{rec}
	}
	v, ok := rec[field]
	if !ok || v == nil {
		return nil
	}
	arr, ok := v.([]interface{})
	if !ok {
		return []source.Record{rec}
	}
	out := make([]source.Record, 0, len(arr))
	for _, elem := range arr {
		r := rec.Clone()
		r[field] = elem
		out = append(out, r)
	}
	return out
}

// Select applies a field selection. Preserve always keeps the identifier and
// discard never removes it.
func Select(rec source.Record, sel types.FieldSelection) source.Record {
	switch sel.Mode {
	case types.SelectPreserve:
		out := make(source.Record, len(sel.Fields)+1)
		for k, v := range rec {
			if k == types.IdentifierField || sel.Has(k) {
				out[k] = v
			}
		}
		return out
	case types.SelectDiscard:
		out := make(source.Record, len(rec))
		for k, v := range rec {
			if k != types.IdentifierField && sel.Has(k) {
				continue
			}
			out[k] = v
		}
		return out
	default:
		return rec
	}
}
