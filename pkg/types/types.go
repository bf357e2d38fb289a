package types

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// MigrationDefinition is one raw catalog entry as written in YAML. It is
// validated and normalized into a MigrationSpec by the catalog.
type MigrationDefinition struct {
	TaskName         string           `yaml:"task_name" json:"task_name"`
	SourceCollection string           `yaml:"source_collection" json:"source_collection"`
	AggregationQuery AggregationQuery `yaml:"aggregation_query" json:"aggregation_query"`
	DestinationTable string           `yaml:"destination_table" json:"destination_table"`
	JSONSchema       string           `yaml:"jsonschema" json:"jsonschema"`
	Unwind           string           `yaml:"unwind,omitempty" json:"unwind,omitempty"`
	PreserveFields   []string         `yaml:"preserve_fields,omitempty" json:"preserve_fields,omitempty"`
	DiscardFields    []string         `yaml:"discard_fields,omitempty" json:"discard_fields,omitempty"`
	ConvertFields    []ConvertField   `yaml:"convert_fields,omitempty" json:"convert_fields,omitempty"`
	Preoperation     *Preoperation    `yaml:"preoperation,omitempty" json:"preoperation,omitempty"`
}

// ConvertField casts one field to a scalar type after extraction.
type ConvertField struct {
	Field      string `yaml:"field" json:"field"`
	TargetType string `yaml:"target_type" json:"target_type"`
}

// Preoperation names a registered transform applied to the query and its results.
type Preoperation struct {
	Name    string                 `yaml:"name" json:"name"`
	Options map[string]interface{} `yaml:"options,omitempty" json:"options,omitempty"`
}

// FieldSelection decides which fields survive extraction. It is resolved once
// at catalog load so exclusivity never needs rechecking.
type FieldSelection struct {
	Mode   SelectionMode       `json:"mode"`
	Fields map[string]struct{} `json:"-"`
}

// SelectAllFields keeps every field.
func SelectAllFields() FieldSelection { return FieldSelection{Mode: SelectAll} }

// PreserveOnly keeps only the named fields (plus the identifier).
func PreserveOnly(fields ...string) FieldSelection {
	return FieldSelection{Mode: SelectPreserve, Fields: fieldSet(fields)}
}

// DiscardOnly drops the named fields and keeps the rest.
func DiscardOnly(fields ...string) FieldSelection {
	return FieldSelection{Mode: SelectDiscard, Fields: fieldSet(fields)}
}

// Has reports whether the field is named in the selection set.
func (s FieldSelection) Has(field string) bool {
	_, ok := s.Fields[field]
	return ok
}

// Names returns the selection set in sorted order.
func (s FieldSelection) Names() []string {
	out := make([]string, 0, len(s.Fields))
	for f := range s.Fields {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func fieldSet(fields []string) map[string]struct{} {
	m := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		m[f] = struct{}{}
	}
	return m
}

// Conversion is a validated convert_fields entry.
type Conversion struct {
	Field  string      `json:"field"`
	Target ConvertType `json:"target"`
}

// MigrationSpec is a validated source→destination migration.
type MigrationSpec struct {
	TaskName         string           `json:"taskName"`
	SourceCollection string           `json:"sourceCollection"`
	AggregationQuery AggregationQuery `json:"aggregationQuery"`
	DestinationTable string           `json:"destinationTable"`
	SchemaDefinition string           `json:"schemaDefinition"`
	Unwind           string           `json:"unwind,omitempty"`
	Selection        FieldSelection   `json:"selection"`
	Conversions      []Conversion     `json:"conversions,omitempty"`
	Preoperation     *Preoperation    `json:"preoperation,omitempty"`
}

// Staging returns the transient table this spec loads into.
func (s MigrationSpec) Staging() TableRef {
	return TableRef{Schema: TransientSchema, Name: s.DestinationTable}
}

// Destination returns the permanent table this spec appends to.
func (s MigrationSpec) Destination() TableRef {
	return TableRef{Schema: PublicSchema, Name: s.DestinationTable}
}

// AggregationQuery is a MongoDB aggregation pipeline kept as a canonical JSON
// array. YAML may supply it either as an Extended JSON string or as a sequence
// of stage mappings.
type AggregationQuery string

// UnmarshalYAML accepts a JSON string or a YAML sequence.
func (q *AggregationQuery) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*q = AggregationQuery(strings.TrimSpace(node.Value))
		return nil
	case yaml.SequenceNode:
		var stages []interface{}
		if err := node.Decode(&stages); err != nil {
			return err
		}
		b, err := json.Marshal(stages)
		if err != nil {
			return fmt.Errorf("encoding aggregation stages: %w", err)
		}
		*q = AggregationQuery(b)
		return nil
	default:
		return fmt.Errorf("aggregation_query must be a string or a sequence, line %d", node.Line)
	}
}

// TableRef names a table within a schema.
type TableRef struct {
	Schema string `json:"schema"`
	Name   string `json:"name"`
}

// String renders the ref as schema.name, unquoted.
func (r TableRef) String() string {
	if r.Schema == "" {
		return r.Name
	}
	return r.Schema + "." + r.Name
}

// IsZero reports whether the ref is unset.
func (r TableRef) IsZero() bool { return r.Name == "" }

// Column is one warehouse column.
type Column struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

// TableDescriptor is the runtime view of a warehouse table.
type TableDescriptor struct {
	Ref         TableRef `json:"ref"`
	Columns     []Column `json:"columns"`
	RowEstimate int64    `json:"rowEstimate"`
}

// Column returns the named column, if present.
func (d *TableDescriptor) Column(name string) (Column, bool) {
	for _, c := range d.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnNames returns column names in table order.
func (d *TableDescriptor) ColumnNames() []string {
	out := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		out[i] = c.Name
	}
	return out
}

// Numeric is an arbitrary-precision decimal kept in its canonical text form.
// It only ever holds finite decimal literals, so it marshals as a bare JSON number.
type Numeric string

// MarshalJSON emits the decimal without quoting.
func (n Numeric) MarshalJSON() ([]byte, error) {
	if n == "" {
		return []byte("null"), nil
	}
	return []byte(n), nil
}

// ReportSpec is an opaque downstream report gated by the join barrier.
type ReportSpec struct {
	ID   string `yaml:"id" json:"id"`
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
}
