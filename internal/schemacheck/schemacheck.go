// Package schemacheck validates transformed records against JSON Schema
// definitions resolved from the configured schema directories.
package schemacheck

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/dwsmith1983/lakeloader/pkg/types"
)

// Registry resolves schema identifiers to compiled schemas and caches them.
// It is safe for concurrent use by sibling chains.
type Registry struct {
	dirs []string

	mu       sync.Mutex
	compiled map[string]*jsonschema.Schema
}

// NewRegistry creates a registry searching dirs in order.
func NewRegistry(dirs ...string) *Registry {
	return &Registry{dirs: dirs, compiled: make(map[string]*jsonschema.Schema)}
}

// Resolve returns the file path for a schema identifier.
func (r *Registry) Resolve(id string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("schema identifier is empty")
	}
	if filepath.IsAbs(id) {
		if _, err := os.Stat(id); err != nil {
			return "", fmt.Errorf("schema %s: %w", id, err)
		}
		return id, nil
	}
	for _, dir := range r.dirs {
		path := filepath.Join(dir, id)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("schema %q not found in %v", id, r.dirs)
}

// Get compiles the identified schema on first use.
func (r *Registry) Get(id string) (*jsonschema.Schema, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.compiled[id]; ok {
		return s, nil
	}
	path, err := r.Resolve(id)
	if err != nil {
		return nil, err
	}
	s, err := jsonschema.NewCompiler().Compile(path)
	if err != nil {
		return nil, fmt.Errorf("compiling schema %s: %w", path, err)
	}
	r.compiled[id] = s
	return s, nil
}

// Validate checks one record. Records are round-tripped through JSON so the
// validator sees the same shapes a JSON document would have.
func Validate(schema *jsonschema.Schema, record interface{}, label string) error {
	doc, err := toJSONValue(record)
	if err != nil {
		return &types.SchemaValidationError{Record: label, Constraint: "encoding", Err: err}
	}
	if err := schema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			leaf := deepest(ve)
			return &types.SchemaValidationError{
				Record:     label,
				Constraint: leaf.KeywordLocation,
				Err:        fmt.Errorf("%s at %q", leaf.Message, leaf.InstanceLocation),
			}
		}
		return &types.SchemaValidationError{Record: label, Constraint: "unknown", Err: err}
	}
	return nil
}

func deepest(ve *jsonschema.ValidationError) *jsonschema.ValidationError {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	return ve
}

func toJSONValue(v interface{}) (interface{}, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out interface{}
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
