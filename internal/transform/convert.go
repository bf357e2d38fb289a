package transform

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/dwsmith1983/lakeloader/internal/source"
	"github.com/dwsmith1983/lakeloader/pkg/types"
	"github.com/jackc/pgx/v5/pgtype"
)

// Convert applies the conversions in order, mutating rec. Absent and null
// fields are left alone. label identifies the record in errors.
func Convert(rec source.Record, conversions []types.Conversion, label string) error {
	for _, c := range conversions {
		v, ok := rec[c.Field]
		if !ok || v == nil {
			continue
		}
		out, err := ConvertValue(v, c.Target)
		if err != nil {
			return &types.ConversionError{Record: label, Field: c.Field, TargetType: c.Target, Value: v, Err: err}
		}
		rec[c.Field] = out
	}
	return nil
}

// ConvertValue casts a single normalized value to the target type.
func ConvertValue(v interface{}, target types.ConvertType) (interface{}, error) {
	switch target {
	case types.ConvertString:
		return toString(v)
	case types.ConvertInteger:
		return toInt64(v)
	case types.ConvertFloat:
		return toFloat64(v)
	case types.ConvertNumeric:
		return toNumeric(v)
	case types.ConvertBoolean:
		return toBool(v)
	case types.ConvertTimestamp:
		return toTime(v)
	case types.ConvertDate:
		// The calendar day is taken in the value's own offset.
		t, err := parseTime(v)
		if err != nil {
			return nil, err
		}
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
	default:
		return nil, fmt.Errorf("unsupported target type %q", target)
	}
}

func toString(v interface{}) (interface{}, error) {
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
	case map[string]interface{}, []interface{}:
		b, err := json.Marshal(x)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	default:
		return fmt.Sprint(x), nil
	}
}

func toInt64(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case float64:
		// 1<<63 is exact as a float64, unlike math.MaxInt64.
		if x != math.Trunc(x) || x >= 1<<63 || x < -(1<<63) {
			return nil, fmt.Errorf("%v is not an integer", x)
		}
		return int64(x), nil
	case bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not an integer", x)
		}
		return n, nil
	case types.Numeric:
		var n pgtype.Numeric
		if err := n.Scan(string(x)); err != nil {
			return nil, err
		}
		i, err := n.Int64Value()
		if err != nil {
			return nil, err
		}
		return i.Int64, nil
	default:
		return nil, fmt.Errorf("cannot convert %T to integer", v)
	}
}

func toFloat64(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case int64:
		return float64(x), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%q is not a finite number", x)
		}
		return f, nil
	case types.Numeric:
		return strconv.ParseFloat(string(x), 64)
	default:
		return nil, fmt.Errorf("cannot convert %T to float", v)
	}
}

// toNumeric validates a decimal literal and returns its canonical text.
func toNumeric(v interface{}) (interface{}, error) {
	var text string
	switch x := v.(type) {
	case types.Numeric:
		text = string(x)
	case string:
		text = strings.TrimSpace(x)
	case int64:
		text = strconv.FormatInt(x, 10)
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, fmt.Errorf("%v is not a finite number", x)
		}
		text = strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return nil, fmt.Errorf("cannot convert %T to numeric", v)
	}
	return ParseNumeric(text)
}

// ParseNumeric validates a decimal literal. NaN and infinities are rejected
// because they have no JSON representation.
func ParseNumeric(text string) (types.Numeric, error) {
	var n pgtype.Numeric
	if err := n.ScanScientific(text); err != nil {
		return "", fmt.Errorf("%q is not a decimal number", text)
	}
	if n.NaN || n.InfinityModifier != pgtype.Finite {
		return "", fmt.Errorf("%q is not a finite decimal", text)
	}
	canonical, err := n.Value()
	if err != nil {
		return "", err
	}
	s, _ := canonical.(string)
	return types.Numeric(s), nil
}

func toBool(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case int64:
		if x == 0 || x == 1 {
			return x == 1, nil
		}
	case float64:
		if x == 0 || x == 1 {
			return x == 1, nil
		}
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "true", "t", "yes", "y", "1":
			return true, nil
		case "false", "f", "no", "n", "0":
			return false, nil
		}
	}
	return nil, fmt.Errorf("%v is not a boolean", v)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// toTime accepts timestamps, RFC3339 or zone-less date-time strings (read as
// UTC) and numbers as epoch milliseconds.
func toTime(v interface{}) (time.Time, error) {
	t, err := parseTime(v)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// parseTime is toTime without normalizing to UTC.
func parseTime(v interface{}) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x, nil
	case int64:
		return time.UnixMilli(x).UTC(), nil
	case float64:
		return time.UnixMilli(int64(x)).UTC(), nil
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("%q is not a recognised timestamp", x)
	default:
		return time.Time{}, fmt.Errorf("cannot convert %T to timestamp", v)
	}
}
