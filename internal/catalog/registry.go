package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dwsmith1983/lakeloader/pkg/types"
)

// Registry accumulates migration specs loaded from YAML files. Each file
// holds a list of definitions.
type Registry struct {
	specs  []types.MigrationSpec
	origin map[string]string // destination_table or task_name -> file
}

// NewRegistry creates a new empty catalog registry.
func NewRegistry() *Registry {
	return &Registry{origin: make(map[string]string)}
}

// LoadDir loads all YAML catalog files from a directory in lexical order.
func (r *Registry) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading catalog dir %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		if err := r.LoadFile(filepath.Join(dir, name)); err != nil {
			return err
		}
	}
	return nil
}

// LoadFile loads a single catalog YAML file. Unknown keys are rejected.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading catalog file: %w", err)
	}

	defs, err := decode(data)
	if err != nil {
		return &types.ConfigurationError{Source: path, Reason: "invalid YAML", Err: err}
	}

	specs, err := Load(defs, path)
	if err != nil {
		return err
	}
	return r.add(specs, path)
}

// Specs returns the validated specs in load order.
func (r *Registry) Specs() []types.MigrationSpec {
	out := make([]types.MigrationSpec, len(r.specs))
	copy(out, r.specs)
	return out
}

// add appends specs after checking uniqueness against earlier files.
func (r *Registry) add(specs []types.MigrationSpec, path string) error {
	var errs []error
	for _, s := range specs {
		for _, key := range []struct{ kind, value string }{{"task_name", s.TaskName}, {"destination_table", s.DestinationTable}} {
			k := key.kind + "=" + key.value
			if prev, dup := r.origin[k]; dup {
				errs = append(errs, &types.ConfigurationError{
					Source: path,
					Field:  s.TaskName + "." + key.kind,
					Reason: fmt.Sprintf("%q already defined in %s", key.value, prev),
				})
			}
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	for _, s := range specs {
		r.origin["task_name="+s.TaskName] = path
		r.origin["destination_table="+s.DestinationTable] = path
	}
	r.specs = append(r.specs, specs...)
	return nil
}

func decode(data []byte) ([]types.MigrationDefinition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var defs []types.MigrationDefinition
	if err := dec.Decode(&defs); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	return defs, nil
}
