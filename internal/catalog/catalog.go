// Package catalog loads and validates migration definitions.
package catalog

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/dwsmith1983/lakeloader/internal/source"
	"github.com/dwsmith1983/lakeloader/pkg/types"
)

// Postgres truncates identifiers beyond this length.
const maxIdentifierLength = 63

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Load validates definitions and returns them as specs in input order. Every
// problem is reported, joined into one error of *types.ConfigurationError values.
func Load(defs []types.MigrationDefinition, src string) ([]types.MigrationSpec, error) {
	var errs []error
	fail := func(field, reason string, err error) {
		errs = append(errs, &types.ConfigurationError{Source: src, Field: field, Reason: reason, Err: err})
	}

	specs := make([]types.MigrationSpec, 0, len(defs))
	tasks := make(map[string]int, len(defs))
	tables := make(map[string]int, len(defs))

	for i, def := range defs {
		label := def.TaskName
		if label == "" {
			label = fmt.Sprintf("[%d]", i)
		}
		field := func(name string) string { return label + "." + name }

		spec, problems := validate(def, field)
		for _, p := range problems {
			fail(p.field, p.reason, p.err)
		}

		if def.TaskName != "" {
			if prev, dup := tasks[def.TaskName]; dup {
				fail(field("task_name"), fmt.Sprintf("duplicates definition [%d]", prev), nil)
			} else {
				tasks[def.TaskName] = i
			}
		}
		if def.DestinationTable != "" {
			if prev, dup := tables[def.DestinationTable]; dup {
				fail(field("destination_table"), fmt.Sprintf("%q already used by definition [%d]", def.DestinationTable, prev), nil)
			} else {
				tables[def.DestinationTable] = i
			}
		}
		specs = append(specs, spec)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return specs, nil
}

type problem struct {
	field  string
	reason string
	err    error
}

func validate(def types.MigrationDefinition, field func(string) string) (types.MigrationSpec, []problem) {
	var out []problem
	add := func(name, reason string, err error) {
		out = append(out, problem{field: field(name), reason: reason, err: err})
	}

	required := []struct {
		name  string
		value string
	}{
		{"task_name", def.TaskName},
		{"source_collection", def.SourceCollection},
		{"aggregation_query", string(def.AggregationQuery)},
		{"destination_table", def.DestinationTable},
		{"jsonschema", def.JSONSchema},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			add(r.name, "is required", nil)
		}
	}

	for _, id := range []struct {
		name  string
		value string
	}{{"task_name", def.TaskName}, {"destination_table", def.DestinationTable}} {
		if id.value == "" {
			continue
		}
		if !identifierPattern.MatchString(id.value) {
			add(id.name, fmt.Sprintf("%q must contain only letters, digits and underscores", id.value), nil)
		} else if len(id.value) > maxIdentifierLength {
			add(id.name, fmt.Sprintf("%q exceeds %d characters", id.value, maxIdentifierLength), nil)
		}
	}

	if def.AggregationQuery != "" {
		if _, err := source.ParsePipeline(def.AggregationQuery); err != nil {
			add("aggregation_query", "is not a valid aggregation pipeline", err)
		}
	}

	spec := types.MigrationSpec{
		TaskName:         def.TaskName,
		SourceCollection: def.SourceCollection,
		AggregationQuery: def.AggregationQuery,
		DestinationTable: def.DestinationTable,
		SchemaDefinition: def.JSONSchema,
		Unwind:           def.Unwind,
		Selection:        types.SelectAllFields(),
		Preoperation:     def.Preoperation,
	}

	switch {
	case len(def.PreserveFields) > 0 && len(def.DiscardFields) > 0:
		add("preserve_fields", "cannot be combined with discard_fields", nil)
	case len(def.PreserveFields) > 0:
		spec.Selection = types.PreserveOnly(def.PreserveFields...)
	case len(def.DiscardFields) > 0:
		if containsString(def.DiscardFields, types.IdentifierField) {
			add("discard_fields", "cannot discard the "+types.IdentifierField+" field", nil)
		}
		spec.Selection = types.DiscardOnly(def.DiscardFields...)
	}

	for i, cf := range def.ConvertFields {
		name := fmt.Sprintf("convert_fields[%d]", i)
		if cf.Field == "" {
			add(name+".field", "is required", nil)
		}
		target, ok := types.ParseConvertType(strings.ToLower(strings.TrimSpace(cf.TargetType)))
		if !ok {
			add(name+".target_type", fmt.Sprintf("unknown target type %q", cf.TargetType), nil)
			continue
		}
		spec.Conversions = append(spec.Conversions, types.Conversion{Field: cf.Field, Target: target})
	}

	if def.Preoperation != nil {
		p, ok := source.LookupPreoperation(def.Preoperation.Name)
		switch {
		case !ok:
			add("preoperation.name", fmt.Sprintf("unknown preoperation %q (known: %s)",
				def.Preoperation.Name, strings.Join(source.PreoperationNames(), ", ")), nil)
		case p.Validate != nil:
			if err := p.Validate(def.Preoperation.Options); err != nil {
				add("preoperation.options", "are invalid", err)
			}
		}
	}

	return spec, out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
