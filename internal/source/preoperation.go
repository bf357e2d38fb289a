package source

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
)

// Preoperation is a named transform applied before records are unwound and
// filtered. Query may rewrite the aggregation pipeline; Record may reshape
// each normalized document. Either hook may be nil.
type Preoperation struct {
	Validate func(options map[string]interface{}) error
	Query    func(pipeline []bson.D, options map[string]interface{}) ([]bson.D, error)
	Record   func(rec Record, options map[string]interface{}) (Record, error)
}

var (
	preopMu       sync.RWMutex
	preoperations = map[string]Preoperation{
		"flatten":        {Validate: validateFlatten, Record: flattenRecord},
		"prepend_stages": {Validate: validatePrepend, Query: prependStages},
		"rename":         {Validate: validateRename, Record: renameFields},
	}
)

// RegisterPreoperation adds or replaces a named preoperation.
func RegisterPreoperation(name string, p Preoperation) {
	preopMu.Lock()
	defer preopMu.Unlock()
	preoperations[name] = p
}

// LookupPreoperation returns the named preoperation.
func LookupPreoperation(name string) (Preoperation, bool) {
	preopMu.RLock()
	defer preopMu.RUnlock()
	p, ok := preoperations[name]
	return p, ok
}

// PreoperationNames lists the registered names in sorted order.
func PreoperationNames() []string {
	preopMu.RLock()
	defer preopMu.RUnlock()
	names := make([]string, 0, len(preoperations))
	for n := range preoperations {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func validateFlatten(options map[string]interface{}) error {
	if v, ok := options["separator"]; ok {
		if s, ok := v.(string); !ok || s == "" {
			return fmt.Errorf("separator must be a non-empty string")
		}
	}
	if v, ok := options["maxDepth"]; ok {
		if d, ok := optionInt(v); !ok || d < 1 {
			return fmt.Errorf("maxDepth must be a positive integer")
		}
	}
	return nil
}

// flattenRecord lifts nested objects into parent_child keys. Arrays are left
// intact so a later unwind can still explode them.
func flattenRecord(rec Record, options map[string]interface{}) (Record, error) {
	sep := "_"
	if s, ok := options["separator"].(string); ok && s != "" {
		sep = s
	}
	maxDepth := 0
	if v, ok := options["maxDepth"]; ok {
		maxDepth, _ = optionInt(v)
	}

	out := make(Record, len(rec))
	var walk func(prefix string, m map[string]interface{}, depth int)
	walk = func(prefix string, m map[string]interface{}, depth int) {
		for k, v := range m {
			key := k
			if prefix != "" {
				key = prefix + sep + k
			}
			if nested, ok := v.(map[string]interface{}); ok && (maxDepth == 0 || depth < maxDepth) {
				walk(key, nested, depth+1)
				continue
			}
			out[key] = v
		}
	}
	walk("", rec, 0)
	return out, nil
}

func validatePrepend(options map[string]interface{}) error {
	_, err := prependStages(nil, options)
	return err
}

func prependStages(pipeline []bson.D, options map[string]interface{}) ([]bson.D, error) {
	raw, ok := options["stages"]
	if !ok {
		return nil, fmt.Errorf("config missing: stages")
	}
	var text string
	switch v := raw.(type) {
	case string:
		text = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encoding stages: %w", err)
		}
		text = string(b)
	}
	var wrapper struct {
		Pipeline []bson.D `bson:"pipeline"`
	}
	if err := bson.UnmarshalExtJSON([]byte(`{"pipeline": `+text+`}`), false, &wrapper); err != nil {
		return nil, fmt.Errorf("parsing stages: %w", err)
	}
	return append(wrapper.Pipeline, pipeline...), nil
}

func validateRename(options map[string]interface{}) error {
	_, err := renameMap(options)
	return err
}

func renameFields(rec Record, options map[string]interface{}) (Record, error) {
	fields, err := renameMap(options)
	if err != nil {
		return nil, err
	}
	out := make(Record, len(rec))
	for k, v := range rec {
		if to, ok := fields[k]; ok {
			out[to] = v
			continue
		}
		out[k] = v
	}
	return out, nil
}

func renameMap(options map[string]interface{}) (map[string]string, error) {
	raw, ok := options["fields"].(map[string]interface{})
	if !ok || len(raw) == 0 {
		return nil, fmt.Errorf("config invalid: fields must be a non-empty mapping")
	}
	out := make(map[string]string, len(raw))
	for from, v := range raw {
		to, ok := v.(string)
		if !ok || to == "" {
			return nil, fmt.Errorf("config invalid: fields.%s must be a non-empty string", from)
		}
		out[from] = to
	}
	return out, nil
}

// optionInt coerces a YAML or JSON number to int.
func optionInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), n == float64(int(n))
	default:
		return 0, false
	}
}
