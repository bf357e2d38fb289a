package types

import (
	"errors"
	"fmt"
)

// ConfigurationError reports a bad or ambiguous migration definition. It is
// fatal and always raised before any graph executes.
type ConfigurationError struct {
	Source string // file or catalog name
	Field  string // offending key, or the task name for cross-definition checks
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	msg := e.Reason
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.Source != "" {
		msg = e.Source + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return "configuration error: " + msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ConversionError reports a convert_fields cast that could not be applied.
type ConversionError struct {
	Record     string // record index or _id
	Field      string
	TargetType ConvertType
	Value      interface{}
	Err        error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("record %s: converting field %q value %v to %s: %v", e.Record, e.Field, e.Value, e.TargetType, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// SchemaValidationError reports a record that violates its JSON Schema.
type SchemaValidationError struct {
	Record     string
	Constraint string // keyword location of the violated constraint
	Err        error
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("record %s violates %s: %v", e.Record, e.Constraint, e.Err)
}

func (e *SchemaValidationError) Unwrap() error { return e.Err }

// LifecycleError wraps a failed DDL or statistics operation.
type LifecycleError struct {
	Op    string
	Table TableRef
	Err   error
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Table, e.Err)
}

func (e *LifecycleError) Unwrap() error { return e.Err }

// AppendError wraps a failed commit of staged rows.
type AppendError struct {
	Source      TableRef
	Destination TableRef
	Err         error
}

func (e *AppendError) Error() string {
	return fmt.Sprintf("appending %s into %s: %v", e.Source, e.Destination, e.Err)
}

func (e *AppendError) Unwrap() error { return e.Err }

// IsRetryable reports whether a failed step may succeed if attempted again.
// Configuration problems never fix themselves.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var cfgErr *ConfigurationError
	return !errors.As(err, &cfgErr)
}
